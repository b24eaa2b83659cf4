package x8664

import "breenix-go/arch"

// General-register indexes into arch.Regs.GP.
const (
	RAX = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// CalleeSaved are the registers the System V ABI requires a callee to
// preserve. The signal-return register preservation property is
// checked over this set.
var CalleeSaved = []int{RBX, RBP, R12, R13, R14, R15}

// TrapFrame is the state pushed at interrupt/exception entry, plus the
// error code and faulting address for exceptions that carry them.
type TrapFrame struct {
	regs *arch.Regs
	priv arch.Privilege

	// Vector is the interrupt vector number.
	Vector uint8
	// ErrCode is the pushed error code, if the vector has one.
	ErrCode uint64
	// FaultAddr is CR2 for page faults.
	FaultAddr uint64
}

// NewTrapFrame wraps a register image captured at the given level.
func NewTrapFrame(regs *arch.Regs, priv arch.Privilege) *TrapFrame {
	return &TrapFrame{regs: regs, priv: priv}
}

func (f *TrapFrame) InstructionPointer() uint64        { return f.regs.IP }
func (f *TrapFrame) StackPointer() uint64              { return f.regs.SP }
func (f *TrapFrame) SetInstructionPointer(addr uint64) { f.regs.IP = addr }
func (f *TrapFrame) SetStackPointer(addr uint64)       { f.regs.SP = addr }
func (f *TrapFrame) PrivilegeLevel() arch.Privilege    { return f.priv }
func (f *TrapFrame) Registers() *arch.Regs             { return f.regs }

// SyscallFrame reads the x86_64 syscall ABI out of a register image:
// RAX is the number, RDI/RSI/RDX/R10/R8/R9 the arguments, RAX the
// return value.
type SyscallFrame struct {
	regs *arch.Regs
}

// NewSyscallFrame wraps regs with the syscall ABI.
func NewSyscallFrame(regs *arch.Regs) *SyscallFrame {
	return &SyscallFrame{regs: regs}
}

var syscallArgRegs = [6]int{RDI, RSI, RDX, R10, R8, R9}

func (f *SyscallFrame) Number() uint64 { return f.regs.GP[RAX] }

func (f *SyscallFrame) SetNumber(num uint64) { f.regs.GP[RAX] = num }

func (f *SyscallFrame) Arg(i int) uint64 {
	if i < 0 || i >= len(syscallArgRegs) {
		return 0
	}
	return f.regs.GP[syscallArgRegs[i]]
}

func (f *SyscallFrame) SetArg(i int, v uint64) {
	if i >= 0 && i < len(syscallArgRegs) {
		f.regs.GP[syscallArgRegs[i]] = v
	}
}

func (f *SyscallFrame) SetReturn(v int64) { f.regs.GP[RAX] = uint64(v) }
func (f *SyscallFrame) Return() int64     { return int64(f.regs.GP[RAX]) }

func (f *SyscallFrame) Registers() *arch.Regs { return f.regs }
