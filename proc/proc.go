// Package proc implements the process core: process control blocks,
// the process table, file-descriptor tables, fork and exec, demand
// paging and copy-on-write, exit and waitpid, and signal sending and
// delivery.
package proc

import (
	"fmt"
	"log/slog"
	"sync"

	"breenix-go/arch"
	"breenix-go/fs"
	"breenix-go/ktime"
	"breenix-go/mem"
	"breenix-go/paging"
	"breenix-go/signal"
	"breenix-go/task"
	"breenix-go/tty"
)

// Life is a process's lifecycle state.
type Life int

const (
	// Alive means at least one thread can run.
	Alive Life = iota
	// Stopped means suspended by job control (SIGSTOP/SIGTSTP).
	Stopped
	// Zombie means exited, awaiting reap by the parent.
	Zombie
)

func (l Life) String() string {
	switch l {
	case Alive:
		return "alive"
	case Stopped:
		return "stopped"
	case Zombie:
		return "zombie"
	default:
		return "invalid"
	}
}

// Mapping is one anonymous mmap region.
type Mapping struct {
	Start uint64
	End   uint64
	Flags arch.PageFlags
}

// Process is the process control block.
type Process struct {
	Pid  int
	Ppid int
	Pgid int
	Sid  int

	Parent   *Process
	Children []*Process

	// Space is the address-space root; nil after teardown.
	Space *paging.AddressSpace
	// MainThread is the process's single thread.
	MainThread *task.Thread

	Fds *FdTable

	// Sig is the process-level signal state; ThreadSig the main
	// thread's mask and pending set.
	Sig       *signal.ProcessState
	ThreadSig signal.ThreadState
	// SuspendMask, when non-nil, is the mask to restore after a
	// sigsuspend-interrupting delivery completes.
	SuspendMask *signal.Set

	// Heap break: [BrkStart, Brk) is demand paged.
	BrkStart uint64
	Brk      uint64
	// Mappings are the anonymous mmap regions.
	Mappings []Mapping
	// MmapNext is the next free mmap address.
	MmapNext uint64

	Life       Life
	ExitStatus int
	// StopReported marks a WUNTRACED-visible stop already consumed.
	StopReported bool

	// ChildWaitQ is where this process sleeps in waitpid.
	ChildWaitQ task.WaitQueue
	// StopQ is where the process's own thread sleeps while Stopped.
	StopQ task.WaitQueue
	// SigWaitQ is where sigsuspend sleeps.
	SigWaitQ task.WaitQueue

	// Continuation is the program code the process's thread runs,
	// kernel-opaque (the boot layer's program type).
	Continuation any
	// ForkCont stages the child's continuation across the fork
	// syscall.
	ForkCont any

	// Tty is the controlling terminal, if any.
	Tty *tty.Tty

	Itimer ktime.ITimer

	// Text maps program-counter values to program code, the loader's
	// symbol table for signal handlers and restorers. Values are
	// kernel-opaque.
	Text map[uint64]any
	// NextTextAddr hands out synthetic text addresses.
	NextTextAddr uint64

	// ExecPath is the image the process is running, for logs and the
	// program registry.
	ExecPath string
}

// TextFn resolves a program-counter value.
func (p *Process) TextFn(addr uint64) any { return p.Text[addr] }

// RegisterText binds fn at a fresh synthetic text address.
func (p *Process) RegisterText(fn any) uint64 {
	addr := p.NextTextAddr
	p.NextTextAddr += 16
	p.Text[addr] = fn
	return addr
}

func (p *Process) String() string {
	return fmt.Sprintf("pid %d (%s) %s", p.Pid, p.ExecPath, p.Life)
}

// Table is the process table. Its lock is the one the CoW fallback
// path must not wait on: delivery paths hold it while touching user
// memory, and the fault handler try-acquires it.
type Table struct {
	Mu      sync.Mutex
	procs   map[int]*Process
	nextPid int
	Init    *Process
}

// NewTable returns an empty table; pids start at 1.
func NewTable() *Table {
	return &Table{procs: make(map[int]*Process)}
}

// AllocPid hands out the next pid.
func (t *Table) AllocPid() int {
	t.nextPid++
	return t.nextPid
}

// Insert adds a process.
func (t *Table) Insert(p *Process) { t.procs[p.Pid] = p }

// Remove deletes a reaped process.
func (t *Table) Remove(pid int) { delete(t.procs, pid) }

// Lookup finds a live or zombie process by pid.
func (t *Table) Lookup(pid int) *Process { return t.procs[pid] }

// Count returns the number of table entries.
func (t *Table) Count() int { return len(t.procs) }

// ForEach visits every process.
func (t *Table) ForEach(fn func(*Process)) {
	for _, p := range t.procs {
		fn(p)
	}
}

// Core bundles the kernel objects the process operations need: the
// scheduler, physical memory, the paging engine, and collaborators.
// It is passed explicitly instead of living behind globals.
type Core struct {
	Sched   *task.Scheduler
	Phys    *mem.Physical
	Backend arch.Backend
	Mmu     *paging.Mmu
	Master  *paging.AddressSpace
	Stacks  *paging.StackAllocator
	Table   *Table
	Clock   *ktime.Clock
	Fs      *fs.MemFs
	Console *tty.Tty
	Log     *slog.Logger

	// SpawnUserThread creates and enqueues the thread for a new
	// process, running its Continuation. The boot layer installs it.
	SpawnUserThread func(p *Process) *task.Thread
	// OnInitExit fires when the init process exits; the machine shuts
	// down on it.
	OnInitExit func()
}

// Current returns the process of the running thread, or nil for
// kthreads.
func (c *Core) Current() *Process {
	p, _ := c.Sched.Current().Proc.(*Process)
	return p
}

// ExitUnwind unwinds a thread whose process has terminated; the thread
// entry wrapper catches it and parks the thread in the scheduler.
type ExitUnwind struct{ Status int }

// ExecSwitch unwinds a thread that successfully exec'd; the wrapper
// restarts it on the new image's program.
type ExecSwitch struct{ Path string }
