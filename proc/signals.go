package proc

import (
	kerrors "breenix-go/errors"
	"breenix-go/logging"
	"breenix-go/signal"
	"breenix-go/task"
)

// SendSignal marks sig pending on the target process. If the target's
// thread has the signal unblocked it lands on the thread's pending
// set; otherwise it waits at the process level until some thread
// unblocks it. An interruptibly blocked thread wakes.
func (c *Core) SendSignal(target *Process, sig int) error {
	if !signal.Valid(sig) {
		return kerrors.Wrap(kerrors.ErrBadSignal, kerrors.ErrInvalidArgument, "send_signal")
	}
	if target.Life == Zombie {
		return kerrors.ESRCH
	}

	c.Table.Mu.Lock()
	// SIGCONT resumes a stopped process at send time, before (and
	// regardless of) delivery.
	if sig == signal.SIGCONT && target.Life == Stopped {
		target.Life = Alive
		target.StopQ.WakeAll(c.Sched)
	}
	if !target.ThreadSig.Blocked.Has(sig) {
		target.ThreadSig.Pending.Add(sig)
	} else {
		target.Sig.Pending.Add(sig)
	}
	c.Table.Mu.Unlock()

	c.Sched.WakeSignal(target.MainThread)
	target.SigWaitQ.WakeAll(c.Sched)
	logging.Debug("signal sent", "pid", target.Pid, "sig", signal.Name(sig))
	return nil
}

// Kill implements the kill syscall's target resolution: pid > 0 is one
// process, pid == 0 the caller's group, pid < -1 the group -pid.
// sig == 0 probes existence only.
func (c *Core) Kill(caller *Process, pid int, sig int) error {
	if sig != 0 && !signal.Valid(sig) {
		return kerrors.EINVAL
	}

	var targets []*Process
	switch {
	case pid > 0:
		t := c.Table.Lookup(pid)
		if t == nil || t.Life == Zombie {
			return kerrors.ESRCH
		}
		targets = []*Process{t}
	case pid == 0, pid < -1:
		pgid := caller.Pgid
		if pid < -1 {
			pgid = -pid
		}
		c.Table.ForEach(func(p *Process) {
			if p.Pgid == pgid && p.Life != Zombie {
				targets = append(targets, p)
			}
		})
		if len(targets) == 0 {
			return kerrors.ESRCH
		}
	default: // pid == -1: everything except init
		c.Table.ForEach(func(p *Process) {
			if p != c.Table.Init && p.Life != Zombie {
				targets = append(targets, p)
			}
		})
		if len(targets) == 0 {
			return kerrors.ESRCH
		}
	}

	if sig == 0 {
		return nil
	}
	for _, t := range targets {
		if err := c.SendSignal(t, sig); err != nil {
			return err
		}
	}
	return nil
}

// SignalPending is the blocking-path interrupt check: it reports
// whether the thread has a deliverable signal that would actually do
// something. Ignored pending signals are discarded on the way.
func (c *Core) SignalPending(t *task.Thread) bool {
	p, _ := t.Proc.(*Process)
	if p == nil {
		return false
	}
	return c.pruneIgnored(p) != 0
}

// pruneIgnored drops deliverable signals whose action is to ignore and
// returns the first deliverable signal that is not ignored, without
// removing it.
func (c *Core) pruneIgnored(p *Process) int {
	for {
		sig, fromThread := signal.NextDeliverable(&p.ThreadSig, p.Sig)
		if sig == 0 {
			return 0
		}
		act := p.Sig.ActionFor(sig)
		ignored := act.IsIgnore() ||
			(act.IsDefault() && signal.DefaultActionFor(sig) == signal.ActIgnore)
		if !ignored || !signal.Catchable(sig) {
			return sig
		}
		if fromThread {
			p.ThreadSig.Pending.Remove(sig)
		} else {
			p.Sig.Pending.Remove(sig)
		}
	}
}

// DeliverSignals runs on the return-to-user path of the current
// thread: it takes the lowest deliverable signal (thread-pending
// first), drops ignored ones, runs default actions, and for a user
// handler builds the signal frame on the user stack and redirects the
// return context into the handler.
func (c *Core) DeliverSignals(t *task.Thread) {
	p, _ := t.Proc.(*Process)
	if p == nil {
		return
	}

	for {
		c.Table.Mu.Lock()
		sig, fromThread := signal.NextDeliverable(&p.ThreadSig, p.Sig)
		if sig == 0 {
			// Nothing left; a sigsuspend whose deliveries are all done
			// gets its previous mask back.
			if p.SuspendMask != nil {
				p.ThreadSig.Blocked = *p.SuspendMask
				p.SuspendMask = nil
			}
			c.Table.Mu.Unlock()
			return
		}
		if fromThread {
			p.ThreadSig.Pending.Remove(sig)
		} else {
			p.Sig.Pending.Remove(sig)
		}

		act := p.Sig.ActionFor(sig)

		if act.IsHandler() && signal.Catchable(sig) {
			err := c.pushHandlerFrame(p, t, sig, act)
			c.Table.Mu.Unlock()
			if err != nil {
				// The disposition has no restorer, or the frame could
				// not be written even through the direct path; the
				// process dies, the kernel does not.
				logging.Error("signal frame delivery failed", "pid", p.Pid,
					"sig", signal.Name(sig), "error", err)
				c.Exit(p, SignalStatus(signal.SIGSEGV))
			}
			return
		}
		c.Table.Mu.Unlock()

		if act.IsIgnore() {
			continue
		}
		switch signal.DefaultActionFor(sig) {
		case signal.ActTerminate:
			c.Exit(p, SignalStatus(sig))
		case signal.ActStop:
			c.stopProcess(p, sig)
		case signal.ActContinue, signal.ActIgnore:
			// Continue already happened at send time; nothing to do.
		}
	}
}

// pushHandlerFrame writes the signal frame below the current user
// stack pointer and redirects the thread into the handler. The caller
// holds the process-table lock, which is exactly why a CoW fault here
// must take the direct page-table path.
//
// Frame on the stack, growing down: the saved context frame, then the
// restorer address as the handler's return address, so a plain return
// enters the restorer and the restorer issues sigreturn. Without a
// user-supplied restorer (SA_RESTORER) a handler cannot safely return,
// so delivery refuses the handler and the process takes SIGSEGV.
func (c *Core) pushHandlerFrame(p *Process, t *task.Thread, sig int, act signal.Action) error {
	if act.Flags&signal.SaRestorer == 0 || act.Restorer == 0 {
		return kerrors.New(kerrors.ErrInvalidState, "signal_deliver", "disposition has no restorer")
	}

	savedMask := p.ThreadSig.Blocked
	if p.SuspendMask != nil {
		savedMask = *p.SuspendMask
		p.SuspendMask = nil
	}

	frame := signal.EncodeFrame(&t.Regs, savedMask, sig)

	frameAddr := (t.Regs.SP - signal.FrameSize) &^ uint64(signal.FrameAlign-1)
	if err := c.CopyOutUser(p, frameAddr, frame); err != nil {
		return err
	}

	retSlot := frameAddr - 8
	var ret [8]byte
	for i := 0; i < 8; i++ {
		ret[i] = byte(act.Restorer >> (8 * i))
	}
	if err := c.CopyOutUser(p, retSlot, ret[:]); err != nil {
		return err
	}

	if act.Flags&signal.SaNodefer == 0 {
		p.ThreadSig.Blocked.Add(sig)
	}
	p.ThreadSig.Blocked |= signal.SanitizeMask(act.Mask)

	t.Regs.SP = retSlot
	t.Regs.IP = act.Handler
	args := []uint64{uint64(sig)}
	if act.Flags&signal.SaSiginfo != 0 {
		// siginfo and ucontext pointers; stub values point at the
		// saved frame.
		args = append(args, frameAddr, frameAddr)
	}
	c.Backend.SetCallArgs(&t.Regs, args...)

	logging.Debug("signal delivered", "pid", p.Pid, "sig", signal.Name(sig),
		"handler", logging.Hex(act.Handler))
	return nil
}

// Sigreturn restores the context saved at delivery: the full register
// image, the blocked mask, and the interrupted instruction pointer.
// It never returns to the restorer.
func (c *Core) Sigreturn(p *Process, t *task.Thread) error {
	buf := make([]byte, signal.FrameSize)
	if err := c.CopyInUser(p, t.Regs.SP, buf); err != nil {
		return err
	}
	regs, mask, sig := signal.DecodeFrame(buf)
	t.Regs = regs
	p.ThreadSig.Blocked = signal.SanitizeMask(mask)
	logging.Debug("sigreturn", "pid", p.Pid, "sig", signal.Name(sig))
	return nil
}

// stopProcess implements the stop default action: the process parks
// until SIGCONT flips it back to Alive. The parent is woken so a
// WUNTRACED waitpid can observe the stop.
func (c *Core) stopProcess(p *Process, sig int) {
	c.Table.Mu.Lock()
	p.Life = Stopped
	p.ExitStatus = StopStatus(sig)
	p.StopReported = false
	parent := p.Parent
	c.Table.Mu.Unlock()

	if parent != nil {
		parent.ChildWaitQ.WakeAll(c.Sched)
	}

	for p.Life == Stopped {
		p.StopQ.Wait(c.Sched, task.BlockedOnSignal)
	}
}

// Sigsuspend installs mask, waits for a signal that would act, and
// arranges for the previous mask to come back after that signal's
// delivery completes. It always reports the interrupted error.
func (c *Core) Sigsuspend(p *Process, mask signal.Set) error {
	old := p.ThreadSig.Blocked
	p.SuspendMask = &old
	p.ThreadSig.Blocked = signal.SanitizeMask(mask)

	for c.pruneIgnored(p) == 0 {
		p.SigWaitQ.Wait(c.Sched, task.BlockedOnSignal)
	}
	return kerrors.EINTR
}
