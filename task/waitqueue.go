package task

// WaitQueue is a FIFO of threads blocked on one condition. Pipes,
// sockets, waitpid and the TTY input path all sleep on one.
type WaitQueue struct {
	waiters []*Thread
}

// Wait blocks the current thread on the queue in the given state and
// switches away. The caller re-checks its condition on resume: wakeups
// are not tied to the condition becoming true for this thread.
func (w *WaitQueue) Wait(s *Scheduler, state State) {
	w.waiters = append(w.waiters, s.Current())
	s.Block(state)
}

// remove drops t from the waiter list.
func (w *WaitQueue) remove(t *Thread) {
	for i, cur := range w.waiters {
		if cur == t {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return
		}
	}
}

// WakeOne wakes the head waiter. Returns false on an empty queue.
func (w *WaitQueue) WakeOne(s *Scheduler) bool {
	for len(w.waiters) > 0 {
		t := w.waiters[0]
		w.waiters = w.waiters[1:]
		if s.Wake(t) {
			return true
		}
	}
	return false
}

// WakeAll wakes every waiter.
func (w *WaitQueue) WakeAll(s *Scheduler) int {
	n := 0
	for len(w.waiters) > 0 {
		t := w.waiters[0]
		w.waiters = w.waiters[1:]
		if s.Wake(t) {
			n++
		}
	}
	return n
}

// Cancel removes t without waking it.
func (w *WaitQueue) Cancel(t *Thread) { w.remove(t) }

// Empty reports whether no thread is waiting.
func (w *WaitQueue) Empty() bool { return len(w.waiters) == 0 }
