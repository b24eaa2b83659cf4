package x8664

import "breenix-go/arch"

// elfMachine is EM_X86_64.
const elfMachine = 62

// Backend is the x86_64 capability bundle.
type Backend struct{}

func (Backend) Name() string                 { return "x86_64" }
func (Backend) Format() arch.PageTableFormat { return Format{} }
func (Backend) ElfMachine() uint16           { return elfMachine }
func (Backend) NewTimer() arch.Timer         { return NewTsc() }

func (Backend) NewInterruptController() arch.InterruptController { return NewPic() }

func (Backend) NewInterruptFrame(regs *arch.Regs, priv arch.Privilege) arch.InterruptFrame {
	return NewTrapFrame(regs, priv)
}

func (Backend) NewSyscallFrame(regs *arch.Regs) arch.SyscallFrame {
	return NewSyscallFrame(regs)
}

// SetCallArgs loads the System V integer argument registers.
func (Backend) SetCallArgs(regs *arch.Regs, args ...uint64) {
	order := [...]int{RDI, RSI, RDX, RCX, R8, R9}
	for i, v := range args {
		if i >= len(order) {
			break
		}
		regs.GP[order[i]] = v
	}
}

func (Backend) CalleeSaved() []int { return CalleeSaved }
