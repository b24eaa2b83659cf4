// Package percpu holds the per-CPU record: current thread and process,
// kernel stack top, the nested preempt_count, and need_resched. On
// hardware this record is reached through GS / TPIDR_EL1; here it is
// the CPU's identity object.
package percpu

import (
	"fmt"

	"breenix-go/arch"
)

// preempt_count layout: preemption-disable depth in the low byte, a
// softirq nesting byte above it, a hardirq nesting byte above that,
// and the NMI flag at bit 26.
const (
	PreemptMask = 0x0000_00ff

	SoftirqOffset = 0x0000_0100
	SoftirqMask   = 0x0000_ff00

	HardirqOffset = 0x0001_0000
	HardirqMask   = 0x00ff_0000

	NmiFlag = 0x0400_0000
)

// Cpu is one CPU's private record.
type Cpu struct {
	id             uint32
	currentThread  any
	currentProcess any
	kernelStackTop uint64

	preemptCount uint32
	needResched  bool

	// reschedule runs when PreemptEnable drops the count to zero with
	// need_resched set outside interrupt context. The scheduler
	// installs it.
	reschedule func()
}

// NewCpu returns the record for the CPU with the given id.
func NewCpu(id uint32) *Cpu { return &Cpu{id: id} }

// CpuID returns this CPU's id.
func (c *Cpu) CpuID() uint32 { return c.id }

// CurrentThread returns the running thread, or nil before the
// scheduler has started.
func (c *Cpu) CurrentThread() any { return c.currentThread }

// SetCurrentThread installs the running thread pointer. Callers hold
// the scheduler critical section.
func (c *Cpu) SetCurrentThread(t any) { c.currentThread = t }

// CurrentProcess returns the process the running thread belongs to.
func (c *Cpu) CurrentProcess() any { return c.currentProcess }

// SetCurrentProcess installs the current process pointer.
func (c *Cpu) SetCurrentProcess(p any) { c.currentProcess = p }

// KernelStackTop returns the stack the CPU switches to on a trap from
// user mode (TSS RSP0 / SP_EL1).
func (c *Cpu) KernelStackTop() uint64 { return c.kernelStackTop }

// SetKernelStackTop installs the trap stack top.
func (c *Cpu) SetKernelStackTop(addr uint64) { c.kernelStackTop = addr }

// SetRescheduleHook installs the scheduler's preemption entry point.
func (c *Cpu) SetRescheduleHook(fn func()) { c.reschedule = fn }

// PreemptCount returns the raw nested count.
func (c *Cpu) PreemptCount() uint32 { return c.preemptCount }

// PreemptDisable raises the preemption-disable depth.
func (c *Cpu) PreemptDisable() {
	c.preemptCount++
	if c.preemptCount&PreemptMask == 0 {
		panic("preempt_disable: low-byte overflow")
	}
}

// PreemptEnable lowers the preemption-disable depth. Dropping the
// whole count to zero with need_resched set, outside interrupt
// context, enters the scheduler.
func (c *Cpu) PreemptEnable() {
	if c.preemptCount&PreemptMask == 0 {
		panic("preempt_enable: unbalanced with preempt_disable")
	}
	c.preemptCount--
	if c.preemptCount == 0 && c.needResched && c.reschedule != nil {
		c.reschedule()
	}
}

// IrqEnter marks hardirq entry; pairs with IrqExit.
func (c *Cpu) IrqEnter() {
	c.preemptCount += HardirqOffset
	if c.preemptCount&HardirqMask == 0 {
		panic("irq_enter: hardirq nesting overflow")
	}
}

// IrqExit marks hardirq exit.
func (c *Cpu) IrqExit() {
	if c.preemptCount&HardirqMask == 0 {
		panic("irq_exit: unbalanced with irq_enter")
	}
	c.preemptCount -= HardirqOffset
}

// SoftirqEnter marks softirq entry; pairs with SoftirqExit.
func (c *Cpu) SoftirqEnter() {
	c.preemptCount += SoftirqOffset
	if c.preemptCount&SoftirqMask == 0 {
		panic("softirq_enter: softirq nesting overflow")
	}
}

// SoftirqExit marks softirq exit.
func (c *Cpu) SoftirqExit() {
	if c.preemptCount&SoftirqMask == 0 {
		panic("softirq_exit: unbalanced with softirq_enter")
	}
	c.preemptCount -= SoftirqOffset
}

// NmiEnter sets the NMI flag.
func (c *Cpu) NmiEnter() {
	if c.preemptCount&NmiFlag != 0 {
		panic("nmi_enter: nested NMI")
	}
	c.preemptCount |= NmiFlag
}

// NmiExit clears the NMI flag.
func (c *Cpu) NmiExit() {
	if c.preemptCount&NmiFlag == 0 {
		panic("nmi_exit: unbalanced with nmi_enter")
	}
	c.preemptCount &^= NmiFlag
}

// InInterrupt reports whether any interrupt-context field is non-zero.
func (c *Cpu) InInterrupt() bool {
	return c.preemptCount&(SoftirqMask|HardirqMask|NmiFlag) != 0
}

// InHardirq reports hardirq context.
func (c *Cpu) InHardirq() bool { return c.preemptCount&HardirqMask != 0 }

// InSoftirq reports softirq context.
func (c *Cpu) InSoftirq() bool { return c.preemptCount&SoftirqMask != 0 }

// InNmi reports NMI context.
func (c *Cpu) InNmi() bool { return c.preemptCount&NmiFlag != 0 }

// CanSchedule reports whether voluntary rescheduling is allowed: the
// whole count must be zero.
func (c *Cpu) CanSchedule() bool { return c.preemptCount == 0 }

// NeedResched reads the reschedule-requested flag.
func (c *Cpu) NeedResched() bool { return c.needResched }

// SetNeedResched sets or clears the reschedule-requested flag.
func (c *Cpu) SetNeedResched(v bool) { c.needResched = v }

func (c *Cpu) String() string {
	return fmt.Sprintf("cpu%d preempt_count=%#x need_resched=%v", c.id, c.preemptCount, c.needResched)
}

var _ arch.PerCpuOps = (*Cpu)(nil)
