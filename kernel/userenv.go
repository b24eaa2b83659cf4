package kernel

import (
	"errors"

	"breenix-go/paging"
	"breenix-go/proc"
	"breenix-go/signal"
	"breenix-go/syscall"
	"breenix-go/task"
)

// Env is the userspace execution environment: the register file and
// the only road to memory and the kernel a program has. Every
// operation passes a trap boundary, so timer ticks, preemption, and
// signal delivery interleave with the program the way they would on
// hardware.
type Env struct {
	m *Machine
	p *proc.Process
	t *task.Thread

	// restorer is the libc-style sigreturn trampoline this image
	// registered (installed into dispositions via SA_RESTORER).
	restorer uint64

	// scratch is a lazily mmap'd user page for syscall out-parameters.
	scratch uint64
}

func (m *Machine) newEnv(p *proc.Process) *Env {
	e := &Env{m: m, p: p, t: p.MainThread}
	e.restorer = p.RegisterText(func(env *Env) {
		env.rawSyscall(false, syscall.SysSigreturn)
	})
	return e
}

// Pid returns the process id without a syscall (tests use Getpid for
// the real thing).
func (e *Env) Pid() int { return e.p.Pid }

// Reg reads a general register; SetReg writes one. The signal
// register-preservation tests drive these directly.
func (e *Env) Reg(i int) uint64     { return e.t.Regs.GP[i] }
func (e *Env) SetReg(i int, v uint64) { e.t.Regs.GP[i] = v }

// CallArg reads an argument register of the in-progress handler
// invocation (argument 0 is the signal number).
func (e *Env) CallArg(i int) uint64 {
	return e.m.Backend.NewSyscallFrame(&e.t.Regs).Arg(i)
}

// fatalSegv terminates the process on an unresolvable fault. Does not
// return.
func (e *Env) fatalSegv() {
	e.m.Core.Exit(e.p, proc.SignalStatus(signal.SIGSEGV))
}

// resolve retries a user memory access until it succeeds or the
// process dies.
func (e *Env) resolve(op func() error) {
	for {
		err := op()
		if err == nil {
			return
		}
		var pf *paging.PageFault
		if !errors.As(err, &pf) {
			e.fatalSegv()
		}
		if ferr := e.m.Core.HandlePageFault(e.p, pf); ferr != nil {
			e.fatalSegv()
		}
	}
}

// checkpoint is the trap boundary every user operation passes: time is
// charged and serviced, preemption honoured, and deliverable signals
// delivered (running their handlers to completion).
func (e *Env) checkpoint() {
	saved := e.t.Regs.IP
	e.m.userStep()
	e.m.serviceTicks()
	e.m.Sched.PreemptPoint()
	e.m.Core.DeliverSignals(e.t)
	e.runRedirected(saved)
}

// runRedirected executes user code until control returns to resumeIP:
// signal delivery points the instruction pointer at a handler; a
// handler's plain return pops the restorer address the kernel pushed;
// the restorer's sigreturn restores the interrupted context.
func (e *Env) runRedirected(resumeIP uint64) {
	for e.t.Regs.IP != resumeIP {
		ip := e.t.Regs.IP
		fn, _ := e.p.TextFn(ip).(func(*Env))
		if fn == nil {
			e.fatalSegv()
		}
		fn(e)
		if e.t.Regs.IP == ip {
			// Emulated ret: pop the return address.
			ra := e.load64(e.t.Regs.SP)
			e.t.Regs.SP += 8
			e.t.Regs.IP = ra
		}
	}
}

// rawSyscall loads the ABI registers, traps, dispatches, and walks the
// return-to-user path. sigreturn passes redirect=false: the context it
// installs belongs to an outer frame, whose own redirect loop finishes
// the job.
func (e *Env) rawSyscall(redirect bool, num uint64, args ...uint64) int64 {
	fr := e.m.Backend.NewSyscallFrame(&e.t.Regs)
	fr.SetNumber(num)
	for i := range args {
		fr.SetArg(i, args[i])
	}

	saved := e.t.Regs.IP
	e.m.userStep()
	e.m.Table.Dispatch(fr)
	e.m.serviceTicks()
	e.m.Sched.PreemptPoint()
	e.m.Core.DeliverSignals(e.t)
	if redirect {
		e.runRedirected(saved)
	}
	return fr.Return()
}

// Syscall issues a system call by number.
func (e *Env) Syscall(num uint64, args ...uint64) int64 {
	return e.rawSyscall(true, num, args...)
}

// load64 reads user memory, resolving faults.
func (e *Env) load64(addr uint64) uint64 {
	var v uint64
	e.resolve(func() error {
		got, err := e.m.Mmu.ReadU64(addr)
		v = got
		return err
	})
	return v
}

// Load64 reads a quadword of process memory as user code would.
func (e *Env) Load64(addr uint64) uint64 {
	v := e.load64(addr)
	e.checkpoint()
	return v
}

// Store64 writes a quadword of process memory as user code would; a
// write to a cow-marked page takes the copy-on-write fault here.
func (e *Env) Store64(addr, v uint64) {
	e.resolve(func() error { return e.m.Mmu.WriteU64(addr, v) })
	e.checkpoint()
}

// LoadBytes copies out of process memory.
func (e *Env) LoadBytes(addr uint64, n int) []byte {
	buf := make([]byte, n)
	e.resolve(func() error { return e.m.Mmu.CopyIn(addr, buf) })
	e.checkpoint()
	return buf
}

// StoreBytes copies into process memory.
func (e *Env) StoreBytes(addr uint64, data []byte) {
	e.resolve(func() error { return e.m.Mmu.CopyOut(addr, data) })
	e.checkpoint()
}

// Work burns n steps of cpu time without touching memory.
func (e *Env) Work(n int) {
	for i := 0; i < n; i++ {
		e.checkpoint()
	}
}

// scratchAddr returns (mapping on first use) the scratch page.
func (e *Env) scratchAddr() uint64 {
	if e.scratch == 0 {
		ret := e.rawSyscall(true, syscall.SysMmap, 0, paging.UserStackInit, proc.ProtRead|proc.ProtWrite,
			proc.MapAnonymous|proc.MapPrivate)
		if ret < 0 {
			e.fatalSegv()
		}
		e.scratch = uint64(ret)
	}
	return e.scratch
}

// pushString writes s NUL-terminated into the scratch page at off and
// returns its address.
func (e *Env) pushString(off uint64, s string) uint64 {
	addr := e.scratchAddr() + off
	e.StoreBytes(addr, append([]byte(s), 0))
	return addr
}
