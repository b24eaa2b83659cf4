package task

import (
	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/logging"
)

// KThread is the handle to a kernel thread. The stop/park/join
// contract: Stop asks the thread to finish (it polls ShouldStop), Park
// sleeps the calling kthread until Unpark, Join waits for the exit
// code.
type KThread struct {
	thread *Thread
	sched  *Scheduler
	name   string

	shouldStop bool
	parked     bool
	exited     bool
	exitCode   int

	joiners WaitQueue
}

// kthreadExit carries an early exit code through the unwinder.
type kthreadExit struct{ code int }

// KthreadRun creates and immediately starts a kernel thread running fn.
// fn's return value becomes the exit code.
func KthreadRun(s *Scheduler, fn func(*KThread) int, name string) *KThread {
	k := &KThread{sched: s, name: name}

	// The registry insert and the spawn are one critical section: the
	// new thread looks itself up on first run.
	s.cpu.PreemptDisable()
	k.thread = s.Spawn(name, arch.PrivKernel, func() {
		defer k.finish()
		k.exitCode = k.run(fn)
	})
	s.kthreads[k.thread.Tid] = k
	s.cpu.PreemptEnable()

	return k
}

func (k *KThread) run(fn func(*KThread) int) (code int) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(kthreadExit); ok {
				code = e.code
				return
			}
			panic(r)
		}
	}()
	return fn(k)
}

func (k *KThread) finish() {
	k.exited = true
	delete(k.sched.kthreads, k.thread.Tid)
	k.joiners.WakeAll(k.sched)
	logging.Debug("kthread exited", "name", k.name, "code", k.exitCode)
}

// CurrentKthread returns the handle of the running kernel thread, or
// nil if the current thread is not a registered kthread.
func CurrentKthread(s *Scheduler) *KThread {
	return s.kthreads[s.Current().Tid]
}

// Thread returns the underlying thread control block.
func (k *KThread) Thread() *Thread { return k.thread }

// ShouldStop reports whether Stop has been called; the thread body
// polls it.
func (k *KThread) ShouldStop() bool { return k.shouldStop }

// Stop asks the thread to finish and unparks it if sleeping.
// Returns an error if the thread has already exited or was already
// asked to stop.
func (k *KThread) Stop() error {
	if k.exited {
		return kerrors.New(kerrors.ErrInvalidState, "kthread_stop", "thread already exited")
	}
	if k.shouldStop {
		return kerrors.New(kerrors.ErrInvalidState, "kthread_stop", "stop already requested")
	}
	k.shouldStop = true
	if k.parked {
		k.Unpark()
	}
	return nil
}

// Park sleeps the calling kthread until Unpark. The parked flag is
// re-checked inside the scheduler critical section, so an Unpark that
// lands between the flag set and the block commits does not strand the
// thread (the unpark-before-park race).
func (k *KThread) Park() {
	if k.sched.Current() != k.thread {
		panic("kthread_park: called from a different thread")
	}
	k.parked = true
	for k.parked {
		k.sched.cpu.PreemptDisable()
		if !k.parked {
			k.sched.cpu.PreemptEnable()
			return
		}
		k.thread.state = Blocked
		k.sched.cpu.PreemptEnable()
		k.sched.Schedule()
	}
}

// Unpark wakes a parked kthread.
func (k *KThread) Unpark() {
	k.parked = false
	k.sched.Wake(k.thread)
}

// Join blocks until the thread exits and returns its exit code.
func (k *KThread) Join() int {
	for !k.exited {
		k.joiners.Wait(k.sched, Blocked)
	}
	return k.exitCode
}

// Exit terminates the calling kthread immediately with code.
func (k *KThread) Exit(code int) {
	if k.sched.Current() != k.thread {
		panic("kthread_exit: called from a different thread")
	}
	panic(kthreadExit{code: code})
}
