package proc

import (
	kerrors "breenix-go/errors"
	"breenix-go/logging"
	"breenix-go/signal"
	"breenix-go/task"
)

// waitpid options.
const (
	WNoHang    = 1
	WUntraced  = 2
)

// Exit terminates the process: descriptors close, every user frame's
// share count drops, page tables free, children re-parent to init, the
// parent gets SIGCHLD and any waitpid sleeper wakes. The PCB stays as
// a zombie holding the status until the parent consumes it.
//
// When p is the calling process (the usual case), Exit unwinds the
// thread with ExitUnwind and does not return.
func (c *Core) Exit(p *Process, status int) {
	c.Table.Mu.Lock()

	p.Life = Zombie
	p.ExitStatus = status

	p.Fds.CloseAll()

	current := c.Current() == p
	if p.Space != nil {
		if current {
			// The active root is about to be freed; run on the master
			// tables from here on.
			c.Mmu.SetRoot(c.Master.Root())
		}
		p.Space.TearDownUser()
		p.Space.Release()
		p.Space = nil
	}

	if p.MainThread != nil && p.MainThread.KernelStackTop != 0 {
		c.Stacks.Free(p.MainThread.KernelStackTop)
		p.MainThread.KernelStackTop = 0
	}

	// Orphans go to init; init inherits the duty to reap them.
	init := c.Table.Init
	for _, ch := range p.Children {
		ch.Parent = init
		ch.Ppid = init.Pid
		if init != nil {
			init.Children = append(init.Children, ch)
		}
	}
	p.Children = nil

	parent := p.Parent
	c.Table.Mu.Unlock()

	logging.Debug("exit", "pid", p.Pid, "status", status)

	if parent != nil {
		c.SendSignal(parent, signal.SIGCHLD)
		parent.ChildWaitQ.WakeAll(c.Sched)
	}

	if init != nil && p == init && c.OnInitExit != nil {
		c.OnInitExit()
	}

	if current {
		panic(ExitUnwind{Status: status})
	}
	// Another process's teardown (fatal signal while off-CPU): drop
	// the thread from the queue; its goroutine unwinds at its next
	// scheduling point.
	c.Sched.Remove(p.MainThread)
}

// Wait implements waitpid: pid > 0 selects one child, -1 any child,
// 0 the caller's process group, < -1 the group -pid. WNOHANG polls;
// WUNTRACED also reports job-control stops.
func (c *Core) Wait(p *Process, pid int, options int) (int, int, error) {
	for {
		c.Table.Mu.Lock()

		anyMatch := false
		var ready *Process
		for _, ch := range p.Children {
			if !waitMatches(p, ch, pid) {
				continue
			}
			anyMatch = true
			if ch.Life == Zombie {
				ready = ch
				break
			}
			if options&WUntraced != 0 && ch.Life == Stopped && !ch.StopReported {
				ready = ch
				break
			}
		}

		if ready != nil {
			if ready.Life == Zombie {
				c.reapLocked(p, ready)
				status := ready.ExitStatus
				c.Table.Mu.Unlock()
				return ready.Pid, status, nil
			}
			ready.StopReported = true
			status := ready.ExitStatus
			c.Table.Mu.Unlock()
			return ready.Pid, status, nil
		}

		c.Table.Mu.Unlock()

		if !anyMatch {
			return 0, 0, kerrors.Wrap(kerrors.ECHILD, kerrors.ErrNotFound, "waitpid")
		}
		if options&WNoHang != 0 {
			return 0, 0, nil
		}
		if c.SignalPending(p.MainThread) {
			return 0, 0, kerrors.EINTR
		}
		p.ChildWaitQ.Wait(c.Sched, task.BlockedOnSignal)
	}
}

func waitMatches(parent, child *Process, pid int) bool {
	switch {
	case pid > 0:
		return child.Pid == pid
	case pid == -1:
		return true
	case pid == 0:
		return child.Pgid == parent.Pgid
	default:
		return child.Pgid == -pid
	}
}

// reapLocked removes a zombie from the table and the parent's child
// list. The table lock is held.
func (c *Core) reapLocked(parent, zombie *Process) {
	for i, ch := range parent.Children {
		if ch == zombie {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	c.Table.Remove(zombie.Pid)
}
