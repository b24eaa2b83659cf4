package kernel

import (
	"testing"

	kerrors "breenix-go/errors"
	"breenix-go/proc"
	"breenix-go/signal"
)

func TestSignalRoundTrip(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		ran := false
		if ret := e.Sigaction(signal.SIGUSR1, func(h *Env, sig int) {
			if sig != signal.SIGUSR1 {
				t.Errorf("handler got sig %d", sig)
			}
			ran = true
		}, 0); ret != 0 {
			t.Errorf("sigaction = %d", ret)
			e.Exit(1)
		}

		if ret := e.Kill(int(e.Getpid()), signal.SIGUSR1); ret != 0 {
			t.Errorf("kill = %d", ret)
			e.Exit(1)
		}
		e.YieldSys()

		if !ran {
			t.Error("handler never ran")
			e.Exit(1)
		}
		e.Exit(0)
	})
}

func TestSignalRegisterPreservation(t *testing.T) {
	for _, archName := range []string{"x86_64", "aarch64"} {
		t.Run(archName, func(t *testing.T) {
			m, _ := bootTest(t, archName)

			runAsInit(t, m, func(e *Env) {
				saved := e.m.Backend.CalleeSaved()

				e.Sigaction(signal.SIGUSR1, func(h *Env, sig int) {
					// Clobber every callee-saved register.
					for _, r := range saved {
						h.SetReg(r, 0xbad0bad0bad0bad0)
					}
				}, 0)

				// Distinct sentinels per register.
				for i, r := range saved {
					e.SetReg(r, 0x1111111100000000+uint64(i))
				}

				e.Kill(int(e.Getpid()), signal.SIGUSR1)
				e.YieldSys()

				for i, r := range saved {
					want := 0x1111111100000000 + uint64(i)
					if got := e.Reg(r); got != want {
						t.Errorf("callee-saved reg %d = %#x after sigreturn, want %#x", r, got, want)
					}
				}
				e.Exit(0)
			})
		})
	}
}

func TestSignalDeliveryOnCowStack(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	status := runAsInit(t, m, func(e *Env) {
		// Touch the stack so it is mapped, then fork: the stack is now
		// cow-shared, and the child's signal frame write must fault
		// while the process-table lock is held.
		e.Store64(e.t.Regs.SP-512, 0x5a5a)

		pid := e.Fork(func(child *Env) {
			ran := false
			child.Sigaction(signal.SIGUSR1, func(h *Env, sig int) {
				// The handler writes both stack and static memory.
				h.Store64(h.t.Regs.SP-256, 0x1234)
				h.Store64(0x60_0000, 0x5678)
				ran = true
			}, 0)
			child.Kill(int(child.Getpid()), signal.SIGUSR1)
			child.YieldSys()
			if !ran {
				child.Exit(1)
			}
			if child.Load64(0x60_0000) != 0x5678 {
				child.Exit(2)
			}
			child.Exit(0)
		})

		_, st := e.Waitpid(int(pid), 0)
		if !proc.WIFEXITED(st) || proc.WEXITSTATUS(st) != 0 {
			t.Errorf("child status = %#x; delivery on a cow stack must not deadlock", st)
			e.Exit(1)
		}
		e.Exit(0)
	})

	if proc.WEXITSTATUS(status) != 0 {
		t.Fatalf("status = %#x", status)
	}
}

func TestSigprocmaskAndPending(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		count := 0
		e.Sigaction(signal.SIGUSR1, func(h *Env, sig int) { count++ }, 0)

		var mask signal.Set
		mask.Add(signal.SIGUSR1)
		if _, ret := e.Sigprocmask(signal.Block, mask); ret != 0 {
			t.Errorf("sigprocmask = %d", ret)
			e.Exit(1)
		}

		e.Kill(int(e.Getpid()), signal.SIGUSR1)
		e.Work(5)
		if count != 0 {
			t.Error("blocked signal was delivered")
		}

		// Unblock: the pending signal arrives now.
		old, _ := e.Sigprocmask(signal.Unblock, mask)
		if !old.Has(signal.SIGUSR1) {
			t.Error("old mask missing the blocked signal")
		}
		e.Work(2)
		if count != 1 {
			t.Errorf("handler ran %d times after unblock, want 1", count)
		}

		// SIGKILL/SIGSTOP cannot be blocked.
		var bad signal.Set
		bad.Add(signal.SIGKILL)
		e.Sigprocmask(signal.Block, bad)
		got, _ := e.Sigprocmask(signal.Block, 0)
		if got.Has(signal.SIGKILL) {
			t.Error("SIGKILL entered the blocked mask")
		}
		e.Exit(0)
	})
}

func TestUncatchableSignals(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		for _, sig := range []int{signal.SIGKILL, signal.SIGSTOP} {
			if ret := e.Sigaction(sig, func(*Env, int) {}, 0); ret != kerrors.EINVAL.Ret() {
				t.Errorf("sigaction(%s) = %d, want -EINVAL", signal.Name(sig), ret)
			}
		}
		e.Exit(0)
	})
}

func TestDefaultTerminationRecordsSignal(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		pid := e.Fork(func(child *Env) {
			child.Work(1000) // killed long before this finishes
			child.Exit(0)
		})

		e.Kill(int(pid), signal.SIGTERM)
		got, st := e.Waitpid(int(pid), 0)
		if got != pid {
			t.Errorf("waitpid = %d", got)
		}
		if !proc.WIFSIGNALED(st) || proc.WTERMSIG(st) != signal.SIGTERM {
			t.Errorf("status = %#x, want SIGTERM death", st)
		}
		e.Exit(0)
	})
}

func TestIgnoredSignalDropped(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		e.SigactionSpecial(signal.SIGUSR2, signal.HandlerIgnore)
		e.Kill(int(e.Getpid()), signal.SIGUSR2)
		e.Work(5)
		// Still alive: the ignored signal had no effect.
		e.Exit(0)
	})
}

func TestSigsuspend(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		delivered := false
		e.Sigaction(signal.SIGUSR1, func(h *Env, sig int) { delivered = true }, 0)

		// Block SIGUSR1, then make it pending from a child.
		var mask signal.Set
		mask.Add(signal.SIGUSR1)
		e.Sigprocmask(signal.Block, mask)

		parent := int(e.Getpid())
		pid := e.Fork(func(child *Env) {
			child.Work(5)
			child.Kill(parent, signal.SIGUSR1)
			child.Exit(0)
		})

		// Suspend with an empty mask: the pending SIGUSR1 becomes
		// deliverable, runs the handler, and sigsuspend reports EINTR.
		if ret := e.Sigsuspend(0); ret != kerrors.EINTR.Ret() {
			t.Errorf("sigsuspend = %d, want -EINTR", ret)
		}
		if !delivered {
			t.Error("handler did not run during sigsuspend")
		}

		// The previous mask (SIGUSR1 blocked) is back.
		cur, _ := e.Sigprocmask(signal.Block, 0)
		if !cur.Has(signal.SIGUSR1) {
			t.Error("sigsuspend did not restore the previous mask")
		}

		e.Waitpid(int(pid), 0)
		e.Exit(0)
	})
}

func TestForkSignalInheritance(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		handled := false
		e.Sigaction(signal.SIGUSR1, func(h *Env, sig int) { handled = true }, 0)
		e.SigactionSpecial(signal.SIGINT, signal.HandlerIgnore)

		pid := e.Fork(func(child *Env) {
			// Dispositions carried over: the handler runs, the ignore
			// holds.
			child.Kill(int(child.Getpid()), signal.SIGINT)
			child.Kill(int(child.Getpid()), signal.SIGUSR1)
			child.YieldSys()
			if !handled {
				child.Exit(1)
			}
			child.Exit(0)
		})

		_, st := e.Waitpid(int(pid), 0)
		if proc.WEXITSTATUS(st) != 0 {
			t.Errorf("child status = %#x", st)
		}
		e.Exit(0)
	})
}

func TestBlockedReadInterruptedBySignal(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		rfd, _, _ := e.Pipe()

		parent := int(e.Getpid())
		pid := e.Fork(func(child *Env) {
			child.Work(10)
			child.Kill(parent, signal.SIGUSR1)
			child.Exit(0)
		})

		e.Sigaction(signal.SIGUSR1, func(*Env, int) {}, 0)
		// The read blocks on the empty pipe until the signal arrives.
		_, ret := e.ReadFd(rfd, 4)
		if ret != kerrors.EINTR.Ret() {
			t.Errorf("interrupted read = %d, want -EINTR", ret)
		}

		e.Waitpid(int(pid), 0)
		e.Exit(0)
	})
}
