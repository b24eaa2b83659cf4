package aarch64

import "breenix-go/arch"

// elfMachine is EM_AARCH64.
const elfMachine = 183

// Backend is the AArch64 capability bundle.
type Backend struct{}

func (Backend) Name() string                 { return "aarch64" }
func (Backend) Format() arch.PageTableFormat { return Format{} }
func (Backend) ElfMachine() uint16           { return elfMachine }
func (Backend) NewTimer() arch.Timer         { return NewGenericTimer() }

func (Backend) NewInterruptController() arch.InterruptController { return NewGic() }

func (Backend) NewInterruptFrame(regs *arch.Regs, priv arch.Privilege) arch.InterruptFrame {
	return NewTrapFrame(regs, priv)
}

func (Backend) NewSyscallFrame(regs *arch.Regs) arch.SyscallFrame {
	return NewSyscallFrame(regs)
}

// SetCallArgs loads the AAPCS64 argument registers.
func (Backend) SetCallArgs(regs *arch.Regs, args ...uint64) {
	for i, v := range args {
		if i > 7 {
			break
		}
		regs.GP[X0+i] = v
	}
}

func (Backend) CalleeSaved() []int { return CalleeSaved }
