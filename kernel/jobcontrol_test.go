package kernel

import (
	"testing"

	kerrors "breenix-go/errors"
	"breenix-go/proc"
	"breenix-go/signal"
)

func TestProcessGroupsAndSessions(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		pid := int(e.Getpid())

		// setpgid(0,0) makes the caller a group leader.
		if ret := e.Setpgid(0, 0); ret != 0 {
			t.Errorf("setpgid = %d", ret)
			e.Exit(1)
		}
		if got := e.Getpgid(0); got != int64(pid) {
			t.Errorf("getpgid(0) = %d, want %d", got, pid)
		}
		if e.Getpgrp() != e.Getpgid(0) {
			t.Error("getpgrp and getpgid(0) disagree")
		}

		// A group leader may not setsid.
		if ret := e.Setsid(); ret != kerrors.EPERM.Ret() {
			t.Errorf("setsid as leader = %d, want -EPERM", ret)
		}

		childOk := false
		cpid := e.Fork(func(child *Env) {
			// The child inherited pgid and sid.
			if child.Getpgid(0) != int64(pid) || child.Getsid(0) != 1 {
				child.Exit(1)
			}
			// Not a leader: setsid succeeds and collapses ids.
			me := int(child.Getpid())
			if got := child.Setsid(); got != int64(me) {
				child.Exit(2)
			}
			if child.Getpgid(0) != int64(me) || child.Getsid(0) != int64(me) {
				child.Exit(3)
			}
			childOk = true
			child.Exit(0)
		})

		_, st := e.Waitpid(int(cpid), 0)
		if proc.WEXITSTATUS(st) != 0 || !childOk {
			t.Errorf("session child failed with status %#x", st)
		}

		// The controlling terminal reports a valid foreground group.
		if fg := e.Tcgetpgrp(0); fg <= 0 {
			t.Errorf("tcgetpgrp(0) = %d, want a valid pgid", fg)
		}
		e.Exit(0)
	})
}

func TestTcsetpgrpAndIoctl(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		pid := int(e.Getpid())
		if ret := e.Tcsetpgrp(0, pid); ret != 0 {
			t.Errorf("tcsetpgrp = %d", ret)
			e.Exit(1)
		}
		if got := e.Tcgetpgrp(0); got != int64(pid) {
			t.Errorf("tcgetpgrp = %d, want %d", got, pid)
		}

		// TIOCGPGRP through ioctl writes the group via the pointer.
		addr := e.scratchAddr() + 4000
		if ret := e.Ioctl(0, 0x540f, addr); ret != 0 {
			t.Errorf("ioctl TIOCGPGRP = %d", ret)
			e.Exit(1)
		}
		got := e.LoadBytes(addr, 4)
		if int(got[0]) != pid {
			t.Errorf("TIOCGPGRP wrote %v, want pgid %d", got, pid)
		}

		// ioctl on a non-tty is ENOTTY.
		rfd, _, _ := e.Pipe()
		if ret := e.Ioctl(rfd, 0x540f, addr); ret != kerrors.ENOTTY.Ret() {
			t.Errorf("ioctl on pipe = %d, want -ENOTTY", ret)
		}
		e.Exit(0)
	})
}

func TestJobControlStopContinue(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	status := runAsInit(t, m, func(e *Env) {
		if ret := e.Setpgid(0, 0); ret != 0 {
			t.Errorf("setpgid = %d", ret)
			e.Exit(1)
		}

		pid := e.Fork(func(child *Env) {
			child.Kill(int(child.Getpid()), signal.SIGSTOP)
			// Resumes here after SIGCONT.
			child.Exit(42)
		})

		// WUNTRACED reports the stop.
		got, st := e.Waitpid(int(pid), proc.WUntraced)
		if got != pid {
			t.Errorf("waitpid = %d, want %d", got, pid)
			e.Exit(1)
		}
		if !proc.WIFSTOPPED(st) || proc.WSTOPSIG(st) != signal.SIGSTOP {
			t.Errorf("status = %#x, want stopped by SIGSTOP", st)
			e.Exit(1)
		}

		// Continue and reap; the exit code survives the ring.
		if ret := e.Kill(int(pid), signal.SIGCONT); ret != 0 {
			t.Errorf("kill SIGCONT = %d", ret)
			e.Exit(1)
		}
		got, st = e.Waitpid(int(pid), proc.WUntraced)
		if got != pid || !proc.WIFEXITED(st) || proc.WEXITSTATUS(st) != 42 {
			t.Errorf("post-continue waitpid = %d status %#x, want exit 42", got, st)
			e.Exit(1)
		}
		e.Exit(0)
	})

	if proc.WEXITSTATUS(status) != 0 {
		t.Fatalf("init status = %#x", status)
	}
}

func TestExecResetsDispositionsAndCloexec(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	// Helper image the child execs into: verifies the post-exec state.
	if err := m.RegisterProgram("/bin/exec_check", m.NewImage("exec_check"), func(e *Env) {
		// User handler reset to default, ignore preserved.
		addr := e.scratchAddr() + 3900
		if ret := e.Syscall(13, uint64(signal.SIGUSR2), 0, addr); ret != 0 {
			e.Exit(10)
		}
		if e.Load64(addr) != signal.HandlerDefault {
			e.Exit(11)
		}
		if ret := e.Syscall(13, uint64(signal.SIGINT), 0, addr); ret != 0 {
			e.Exit(12)
		}
		if e.Load64(addr) != signal.HandlerIgnore {
			e.Exit(13)
		}

		// fd 4 (plain) survived, fd 5 (cloexec) did not.
		if n := e.WriteString(4, "x"); n != 1 {
			e.Exit(14)
		}
		if ret := e.Close(5); ret != kerrors.EBADF.Ret() {
			e.Exit(15)
		}
		e.Exit(0)
	}); err != nil {
		t.Fatal(err)
	}

	runAsInit(t, m, func(e *Env) {
		pid := e.Fork(func(child *Env) {
			child.Sigaction(signal.SIGUSR2, func(*Env, int) {}, 0)
			child.SigactionSpecial(signal.SIGINT, signal.HandlerIgnore)

			// The pipe lands at fds 3 (read) and 4 (write); fd 5 is a
			// close-on-exec duplicate of the write end.
			rfd, wfd, _ := child.Pipe()
			if rfd != 3 || wfd != 4 {
				child.Exit(19)
			}
			if ret := child.Fcntl(wfd, proc.FDupfdCloexec, 5); ret != 5 {
				child.Exit(20)
			}

			child.Execv("/bin/exec_check", []string{"exec_check"})
			child.Exit(21)
		})

		_, st := e.Waitpid(int(pid), 0)
		if !proc.WIFEXITED(st) || proc.WEXITSTATUS(st) != 0 {
			t.Errorf("exec_check exited %#x, want 0", st)
		}
		e.Exit(0)
	})
}
