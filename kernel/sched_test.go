package kernel

import (
	"testing"

	"breenix-go/proc"
	"breenix-go/task"
)

func TestKthreadFairnessUnderTicks(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	// Three cpu-bound kthreads run under the timer stream driven by a
	// user process burning time. Round-robin must keep all three
	// moving.
	counts := [3]int{}
	var handles []*task.KThread
	for i := 0; i < 3; i++ {
		i := i
		handles = append(handles, task.KthreadRun(m.Sched, func(k *task.KThread) int {
			for !k.ShouldStop() {
				counts[i]++
				// A cpu-bound kernel thread still passes scheduling
				// points; the tick's need_resched takes effect there.
				m.Sched.PreemptPoint()
				m.Sched.Yield()
			}
			return 0
		}, "spinner"))
	}

	runAsInit(t, m, func(e *Env) {
		e.Work(300)
		// Wind the spinners down before exiting, or they would keep
		// trading the CPU among themselves.
		for _, k := range handles {
			k.Stop()
			k.Join()
		}
		e.Exit(0)
	})

	for i, c := range counts {
		if c == 0 {
			t.Errorf("spinner %d starved", i)
		}
	}
	min, max := counts[0], counts[0]
	for _, c := range counts[1:] {
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	if min*4 < max {
		t.Errorf("unfair progress: counts %v", counts)
	}
}

func TestPreemptionInterleavesProcesses(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	var trace []int
	runAsInit(t, m, func(e *Env) {
		pid := e.Fork(func(child *Env) {
			for i := 0; i < 30; i++ {
				trace = append(trace, 2)
				child.Work(1)
			}
			child.Exit(0)
		})

		for i := 0; i < 30; i++ {
			trace = append(trace, 1)
			e.Work(1)
		}
		e.Waitpid(int(pid), 0)
		e.Exit(0)
	})

	// The timer must have interleaved the two cpu-bound processes:
	// neither runs to completion in one unbroken stretch.
	switches := 0
	for i := 1; i < len(trace); i++ {
		if trace[i] != trace[i-1] {
			switches++
		}
	}
	if switches < 2 {
		t.Errorf("trace %v shows %d interleavings; preemption is not working", trace, switches)
	}
}

func TestZombieUntilReaped(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		pid := e.Fork(func(child *Env) { child.Exit(9) })

		// Let the child die; it must stay visible as a zombie.
		e.Work(20)
		zp := m.Core.Table.Lookup(int(pid))
		if zp == nil || zp.Life != proc.Zombie {
			t.Errorf("child not a zombie before reap: %v", zp)
		}

		got, st := e.Waitpid(int(pid), 0)
		if got != pid || proc.WEXITSTATUS(st) != 9 {
			t.Errorf("waitpid = %d status %#x", got, st)
		}
		if m.Core.Table.Lookup(int(pid)) != nil {
			t.Error("zombie still in the table after reap")
		}
		e.Exit(0)
	})
}

func TestOrphansReparentToInit(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		// The middle process forks a grandchild and exits; the
		// grandchild becomes init's child and init can reap it.
		mid := e.Fork(func(middle *Env) {
			middle.Fork(func(grand *Env) {
				grand.Work(30)
				grand.Exit(7)
			})
			middle.Exit(0)
		})

		_, st := e.Waitpid(int(mid), 0)
		if proc.WEXITSTATUS(st) != 0 {
			t.Errorf("middle status = %#x", st)
		}

		// Reap the orphan.
		got, st := e.Waitpid(-1, 0)
		if got <= 0 || proc.WEXITSTATUS(st) != 7 {
			t.Errorf("orphan reap = %d status %#x, want exit 7", got, st)
		}
		e.Exit(0)
	})
}
