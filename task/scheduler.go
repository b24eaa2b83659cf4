package task

import (
	"breenix-go/arch"
	"breenix-go/logging"
	"breenix-go/percpu"
)

// Scheduler owns the ready queue and the current-thread transition
// rules. Only the scheduler moves threads between Running and Ready;
// blocking syscalls move Running to Blocked*; wakers move Blocked* to
// Ready; exit moves anything to Terminated.
type Scheduler struct {
	cpu     *percpu.Cpu
	runq    runQueue
	current *Thread
	idle    *Thread
	nextTid uint64

	// onSwitch runs on every context switch with the incoming thread,
	// under the raised preempt count. The kernel hooks address-space
	// switching here.
	onSwitch func(next *Thread)

	// kthreads maps tid to kthread handle for CurrentKthread.
	kthreads map[uint64]*KThread
}

// NewScheduler builds a scheduler for the CPU and installs its
// preemption hook.
func NewScheduler(cpu *percpu.Cpu) *Scheduler {
	s := &Scheduler{cpu: cpu, kthreads: make(map[uint64]*KThread)}
	cpu.SetRescheduleHook(s.Schedule)
	return s
}

// Cpu returns the CPU this scheduler drives.
func (s *Scheduler) Cpu() *percpu.Cpu { return s.cpu }

// SetSwitchHook installs the context-switch callback.
func (s *Scheduler) SetSwitchHook(fn func(next *Thread)) { s.onSwitch = fn }

// Current returns the running thread.
func (s *Scheduler) Current() *Thread { return s.current }

// HasRunnable reports whether the ready queue is non-empty.
func (s *Scheduler) HasRunnable() bool { return s.runq.len() > 0 }

// Bootstrap adopts the calling goroutine as a running kernel thread.
// It becomes the idle thread once the machine is up.
func (s *Scheduler) Bootstrap(name string) *Thread {
	s.nextTid++
	t := &Thread{
		Tid:       s.nextTid,
		Name:      name,
		Privilege: arch.PrivKernel,
		state:     Running,
		baton:     make(chan struct{}, 1),
		started:   true,
	}
	s.current = t
	s.cpu.SetCurrentThread(t)
	return t
}

// SetIdle marks t as the idle thread: it is never placed on the ready
// queue and is picked only when the queue is empty.
func (s *Scheduler) SetIdle(t *Thread) { s.idle = t }

// Spawn creates a Ready thread running entry on its own goroutine.
func (s *Scheduler) Spawn(name string, priv arch.Privilege, entry func()) *Thread {
	s.nextTid++
	t := &Thread{
		Tid:       s.nextTid,
		Name:      name,
		Privilege: priv,
		state:     Ready,
		baton:     make(chan struct{}, 1),
		entry:     entry,
	}
	t.started = true
	go func() {
		<-t.baton
		// The switcher left the preempt count raised across the
		// handoff; release it before running the body.
		s.cpu.PreemptEnable()
		t.entry()
		s.ExitCurrent()
	}()
	s.runq.push(t)
	logging.Debug("thread spawned", "tid", t.Tid, "name", name, "priv", priv.String())
	return t
}

// pickNext pops the ready-queue head, falling back to the idle thread.
// Returns nil only when the queue is empty and no idle thread exists.
func (s *Scheduler) pickNext() *Thread {
	if t := s.runq.pop(); t != nil {
		return t
	}
	return s.idle
}

// Schedule is the single scheduling point: it re-enqueues the outgoing
// thread if it is still Running, picks the next thread round-robin,
// and context-switches. Must be called with the preempt count at zero.
func (s *Scheduler) Schedule() {
	if !s.cpu.CanSchedule() {
		panic("schedule: called with preempt_count non-zero")
	}
	s.cpu.PreemptDisable()
	s.cpu.SetNeedResched(false)

	prev := s.current
	if prev.state == Running && prev != s.idle {
		prev.state = Ready
		s.runq.push(prev)
	}

	next := s.pickNext()
	if next == prev {
		prev.state = Running
		s.cpu.PreemptEnable()
		return
	}
	if next == nil {
		panic("schedule: all threads blocked and no idle thread")
	}

	s.switchTo(prev, next)
	// Resumed later: the thread that switched us back in left the
	// count raised.
	s.cpu.PreemptEnable()
}

// switchTo performs the context switch. The caller holds the raised
// preempt count; the incoming thread releases it.
func (s *Scheduler) switchTo(prev, next *Thread) {
	next.state = Running
	s.current = next
	s.cpu.SetCurrentThread(next)
	s.cpu.SetKernelStackTop(next.KernelStackTop)
	if s.onSwitch != nil {
		s.onSwitch(next)
	}
	next.baton <- struct{}{}
	if prev.state == Terminated {
		return
	}
	<-prev.baton
}

// Yield is the voluntary scheduling point.
func (s *Scheduler) Yield() {
	s.Schedule()
}

// PreemptPoint reschedules if the tick asked for it and the context
// allows. Trap-return and cooperative kernel loops call it.
func (s *Scheduler) PreemptPoint() {
	if s.cpu.NeedResched() && s.cpu.CanSchedule() {
		s.Schedule()
	}
}

// Block transitions the current thread into state (Blocked or
// BlockedOnSignal) and switches away. The thread resumes when a waker
// moves it back to Ready and the scheduler picks it.
func (s *Scheduler) Block(state State) {
	if state != Blocked && state != BlockedOnSignal {
		panic("block: state must be a blocked state")
	}
	s.current.state = state
	s.Schedule()
}

// Wake moves a blocked thread to Ready and enqueues it. Waking a
// thread that is not blocked is a no-op (the unpark-before-park race
// resolves through the caller's flag, not here).
func (s *Scheduler) Wake(t *Thread) bool {
	if t.state != Blocked && t.state != BlockedOnSignal {
		return false
	}
	t.state = Ready
	s.runq.push(t)
	if s.current == s.idle {
		s.cpu.SetNeedResched(true)
	}
	return true
}

// WakeSignal wakes a thread only if it blocked interruptibly; signal
// delivery uses it.
func (s *Scheduler) WakeSignal(t *Thread) bool {
	if t.state != BlockedOnSignal {
		return false
	}
	return s.Wake(t)
}

// ExitCurrent terminates the running thread and switches away for
// good. It does not return.
func (s *Scheduler) ExitCurrent() {
	s.cpu.PreemptDisable()
	prev := s.current
	prev.state = Terminated

	next := s.pickNext()
	if next == nil {
		panic("exit: no runnable thread and no idle thread")
	}
	s.switchTo(prev, next)
	// switchTo returned immediately because prev is Terminated; this
	// goroutine now unwinds. The incoming thread releases the count.
}

// Remove drops a Ready thread from the queue (fatal-signal teardown of
// secondary threads).
func (s *Scheduler) Remove(t *Thread) {
	if t.state == Ready {
		s.runq.remove(t)
	}
	t.state = Terminated
}
