package task

import (
	"errors"
	"testing"

	kerrors "breenix-go/errors"
)

func TestKthreadRunAndJoin(t *testing.T) {
	s := newTestSched()

	k := KthreadRun(s, func(k *KThread) int {
		return 42
	}, "worker")

	if code := k.Join(); code != 42 {
		t.Fatalf("Join = %d, want 42", code)
	}
	if k.Thread().State() != Terminated {
		t.Error("joined kthread should be terminated")
	}
}

func TestKthreadStop(t *testing.T) {
	s := newTestSched()

	iterations := 0
	k := KthreadRun(s, func(k *KThread) int {
		for !k.ShouldStop() {
			iterations++
			s.Yield()
		}
		return 0
	}, "poller")

	s.Yield()
	s.Yield()
	if iterations == 0 {
		t.Fatal("kthread made no progress")
	}

	if err := k.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := k.Stop(); !errors.Is(err, kerrors.New(kerrors.ErrInvalidState, "", "")) {
		t.Errorf("second Stop = %v, want invalid-state error", err)
	}

	k.Join()
	if err := k.Stop(); err == nil {
		t.Error("Stop after exit should fail")
	}
}

func TestKthreadParkUnpark(t *testing.T) {
	s := newTestSched()

	phase := 0
	k := KthreadRun(s, func(k *KThread) int {
		phase = 1
		k.Park()
		phase = 2
		return 0
	}, "parker")

	s.Yield()
	if phase != 1 {
		t.Fatalf("phase = %d, want 1 (parked)", phase)
	}
	if k.Thread().State() != Blocked {
		t.Fatalf("parked thread state = %v, want Blocked", k.Thread().State())
	}

	s.Yield()
	if phase != 1 {
		t.Fatal("parked thread must not run until unparked")
	}

	k.Unpark()
	s.Yield()
	if phase != 2 {
		t.Fatalf("phase = %d, want 2 after unpark", phase)
	}
	k.Join()
}

func TestKthreadParkCycles(t *testing.T) {
	s := newTestSched()

	wakeups := 0
	k := KthreadRun(s, func(k *KThread) int {
		for !k.ShouldStop() {
			k.Park()
			wakeups++
		}
		return wakeups
	}, "cycler")

	s.Yield()
	for i := 0; i < 3; i++ {
		k.Unpark()
		s.Yield()
	}
	if wakeups != 3 {
		t.Fatalf("wakeups = %d, want 3 (park must re-arm each cycle)", wakeups)
	}

	if err := k.Stop(); err != nil {
		t.Fatal(err)
	}
	if code := k.Join(); code != 4 {
		t.Fatalf("Join = %d, want 4 (stop unparks one final cycle)", code)
	}
}

func TestKthreadExit(t *testing.T) {
	s := newTestSched()

	k := KthreadRun(s, func(k *KThread) int {
		k.Exit(99)
		return 0 // unreachable
	}, "early")

	if code := k.Join(); code != 99 {
		t.Fatalf("Join = %d, want 99 from kthread_exit", code)
	}
}

func TestCurrentKthread(t *testing.T) {
	s := newTestSched()

	var self *KThread
	k := KthreadRun(s, func(k *KThread) int {
		self = CurrentKthread(s)
		return 0
	}, "identify")
	k.Join()

	if self != k {
		t.Error("CurrentKthread inside the thread should return its own handle")
	}
	if CurrentKthread(s) != nil {
		t.Error("CurrentKthread outside any kthread should be nil")
	}
}

func TestStopUnparksSleeper(t *testing.T) {
	s := newTestSched()

	k := KthreadRun(s, func(k *KThread) int {
		for !k.ShouldStop() {
			k.Park()
		}
		return 1
	}, "sleeper")

	s.Yield()
	if k.Thread().State() != Blocked {
		t.Fatal("sleeper should be parked")
	}

	if err := k.Stop(); err != nil {
		t.Fatal(err)
	}
	if code := k.Join(); code != 1 {
		t.Fatalf("Join = %d, want 1", code)
	}
}
