package kernel

import (
	"bytes"
	"strings"
	"testing"

	kerrors "breenix-go/errors"
	"breenix-go/proc"
)

// bootTest brings up a machine for one test.
func bootTest(t *testing.T, archName string) (*Machine, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	m, err := Boot(Config{
		Arch:       archName,
		MemoryMiB:  16,
		TickHz:     1000,
		SliceTicks: 10,
		ConsoleOut: &console,
	}, BootInfo{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := m.InstallCoreutils(); err != nil {
		t.Fatal(err)
	}
	return m, &console
}

// runAsInit runs prog as pid 1 until the machine halts, returning
// init's wait status.
func runAsInit(t *testing.T, m *Machine, prog Program) int {
	t.Helper()
	if err := m.RegisterProgram("/bin/test_init", m.NewImage("test_init"), prog); err != nil {
		t.Fatal(err)
	}
	p, err := m.StartInit("/bin/test_init", []string{"test_init"})
	if err != nil {
		t.Fatalf("StartInit: %v", err)
	}
	m.Run()
	return p.ExitStatus
}

func TestBootHelloWorld(t *testing.T) {
	for _, archName := range []string{"x86_64", "aarch64"} {
		t.Run(archName, func(t *testing.T) {
			m, console := bootTest(t, archName)

			status := runAsInit(t, m, func(e *Env) {
				e.WriteString(1, "Hello from userspace!\n")
				e.Exit(0)
			})

			if !proc.WIFEXITED(status) || proc.WEXITSTATUS(status) != 0 {
				t.Fatalf("init status = %#x, want clean exit", status)
			}
			if !strings.Contains(console.String(), "Hello from userspace!") {
				t.Errorf("console output %q missing greeting", console.String())
			}
		})
	}
}

func TestPipeWriteThenRead(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	status := runAsInit(t, m, func(e *Env) {
		rfd, wfd, errno := e.Pipe()
		if errno != 0 {
			t.Errorf("pipe = %d", errno)
			e.Exit(1)
		}
		if n := e.WriteString(wfd, "Hello"); n != 5 {
			t.Errorf("write = %d, want 5", n)
			e.Exit(1)
		}
		buf, n := e.ReadFd(rfd, 5)
		if n != 5 || buf != "Hello" {
			t.Errorf("read = %q (%d), want Hello", buf, n)
			e.Exit(1)
		}
		e.Exit(0)
	})

	if proc.WEXITSTATUS(status) != 0 {
		t.Fatalf("status = %#x", status)
	}
}

func TestForkExecWait(t *testing.T) {
	m, console := bootTest(t, "x86_64")

	status := runAsInit(t, m, func(e *Env) {
		pid := e.Fork(func(child *Env) {
			child.Execv("/bin/hello_world", []string{"hello_world"})
			child.Exit(127) // exec must not return on success
		})
		if pid <= 0 {
			t.Errorf("fork = %d", pid)
			e.Exit(1)
		}

		got, st := e.Waitpid(int(pid), 0)
		if got != pid {
			t.Errorf("waitpid = %d, want %d", got, pid)
			e.Exit(1)
		}
		if !proc.WIFEXITED(st) || proc.WEXITSTATUS(st) != 0 {
			t.Errorf("child status = %#x, want clean exit", st)
			e.Exit(1)
		}
		e.Exit(0)
	})

	if proc.WEXITSTATUS(status) != 0 {
		t.Fatalf("init status = %#x", status)
	}
	if !strings.Contains(console.String(), "Hello from userspace!") {
		t.Error("exec'd child never reached the console")
	}
}

func TestForkReturnsZeroInChild(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	status := runAsInit(t, m, func(e *Env) {
		childSawZero := false
		pid := e.Fork(func(child *Env) {
			// The child's frame reads zero.
			if child.m.Backend.NewSyscallFrame(&child.t.Regs).Return() == 0 {
				childSawZero = true
			}
			child.Exit(0)
		})
		e.Waitpid(int(pid), 0)
		if !childSawZero {
			t.Error("child did not observe a zero fork return")
			e.Exit(1)
		}
		e.Exit(0)
	})
	if proc.WEXITSTATUS(status) != 0 {
		t.Fatalf("status = %#x", status)
	}
}

func TestWaitpidErrors(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		// No children at all.
		if ret, _ := e.Waitpid(-1, 0); ret != kerrors.ECHILD.Ret() {
			t.Errorf("waitpid with no children = %d, want ECHILD", ret)
		}

		// WNOHANG with a live child returns zero.
		pid := e.Fork(func(child *Env) {
			child.Work(50)
			child.Exit(3)
		})
		if ret, _ := e.Waitpid(int(pid), proc.WNoHang); ret != 0 {
			t.Errorf("WNOHANG before exit = %d, want 0", ret)
		}

		got, st := e.Waitpid(int(pid), 0)
		if got != pid || proc.WEXITSTATUS(st) != 3 {
			t.Errorf("waitpid = %d status %#x, want pid %d exit 3", got, st, pid)
		}

		// The zombie is gone now.
		if ret, _ := e.Waitpid(int(pid), 0); ret != kerrors.ECHILD.Ret() {
			t.Errorf("second waitpid = %d, want ECHILD", ret)
		}
		e.Exit(0)
	})
}

func TestSyscallErrnoConvention(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		if ret := e.Syscall(9999); ret != kerrors.ENOSYS.Ret() {
			t.Errorf("unknown syscall = %d, want -ENOSYS", ret)
		}
		if ret := e.Close(42); ret != kerrors.EBADF.Ret() {
			t.Errorf("close(42) = %d, want -EBADF", ret)
		}
		if ret := e.Kill(9999, 15); ret != kerrors.ESRCH.Ret() {
			t.Errorf("kill(9999) = %d, want -ESRCH", ret)
		}
		if ret := e.Kill(1, 99); ret != kerrors.EINVAL.Ret() {
			t.Errorf("kill bad signal = %d, want -EINVAL", ret)
		}
		// Signal zero probes existence only.
		if ret := e.Kill(1, 0); ret != 0 {
			t.Errorf("kill(self, 0) = %d, want 0", ret)
		}
		e.Exit(0)
	})
}

func TestClockMonotonic(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		a := e.ClockNs()
		e.Work(10)
		b := e.ClockNs()
		if b <= a {
			t.Errorf("clock did not advance: %d then %d", a, b)
		}
		e.Exit(0)
	})
}
