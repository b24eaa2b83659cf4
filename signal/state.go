package signal

// ProcessState is the per-process half of the signal model: one
// disposition per signal plus the process-level pending set, which
// holds signals waiting for any thread to unblock them.
type ProcessState struct {
	Actions [NumSignals]Action
	Pending Set
}

// ThreadState is the per-thread half: the blocked mask and the
// thread-pending set.
type ThreadState struct {
	Blocked Set
	Pending Set
}

// NewProcessState returns a state with every disposition at default.
func NewProcessState() *ProcessState { return &ProcessState{} }

// SetAction installs a disposition. The caller has validated the
// signal number and catchability.
func (ps *ProcessState) SetAction(sig int, a Action) {
	ps.Actions[sig] = a
	ps.Actions[sig].Mask = SanitizeMask(ps.Actions[sig].Mask)
}

// ActionFor returns the disposition for sig.
func (ps *ProcessState) ActionFor(sig int) Action { return ps.Actions[sig] }

// CloneForFork copies dispositions and the pending sets into a child's
// state: the child's initial thread inherits the calling thread's mask
// and pending set.
func (ps *ProcessState) CloneForFork() *ProcessState {
	child := &ProcessState{Pending: ps.Pending}
	child.Actions = ps.Actions
	return child
}

// ResetForExec applies the exec rules in place: user handlers fall
// back to default, ignore stays ignore, pending signals survive.
func (ps *ProcessState) ResetForExec() {
	for sig := 1; sig < NumSignals; sig++ {
		if ps.Actions[sig].IsHandler() {
			ps.Actions[sig] = Action{}
		}
	}
}

// NextDeliverable selects the signal to deliver: the lowest-numbered
// pending signal not blocked by the thread, taken from the thread's
// pending set first, then the process set. Returns 0 when nothing is
// deliverable.
func NextDeliverable(ts *ThreadState, ps *ProcessState) (sig int, fromThread bool) {
	if sig := (ts.Pending &^ ts.Blocked).Lowest(); sig != 0 {
		return sig, true
	}
	if sig := (ps.Pending &^ ts.Blocked).Lowest(); sig != 0 {
		return sig, false
	}
	return 0, false
}

// HasDeliverable reports whether a deliverable signal exists.
func HasDeliverable(ts *ThreadState, ps *ProcessState) bool {
	sig, _ := NextDeliverable(ts, ps)
	return sig != 0
}
