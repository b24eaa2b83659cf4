package kernel

import (
	"fmt"

	"breenix-go/proc"
)

// InstallCoreutils registers the built-in userspace programs: a
// hello-world, and a demo init that exercises pipes, fork/exec and
// waitpid on the console.
func (m *Machine) InstallCoreutils() error {
	if err := m.RegisterProgram("/bin/hello_world", m.NewImage("hello_world"), func(e *Env) {
		e.WriteString(1, "Hello from userspace!\n")
		e.Exit(0)
	}); err != nil {
		return err
	}

	return m.RegisterProgram("/bin/init", m.NewImage("init"), func(e *Env) {
		e.WriteString(1, "breenix init: pid 1 up\n")

		// Pipe round trip.
		rfd, wfd, errno := e.Pipe()
		if errno != 0 {
			e.WriteString(1, "init: pipe failed\n")
			e.Exit(1)
		}
		e.WriteString(wfd, "ping")
		if msg, _ := e.ReadFd(rfd, 4); msg != "ping" {
			e.WriteString(1, "init: pipe round trip failed\n")
			e.Exit(1)
		}

		// Fork a child that execs hello_world.
		pid := e.Fork(func(child *Env) {
			child.Execv("/bin/hello_world", []string{"hello_world"})
			child.Exit(127)
		})
		if pid < 0 {
			e.WriteString(1, "init: fork failed\n")
			e.Exit(1)
		}

		got, status := e.Waitpid(int(pid), 0)
		if got == pid && proc.WIFEXITED(status) {
			e.WriteString(1, fmt.Sprintf("init: child %d exited %d\n", pid, proc.WEXITSTATUS(status)))
		}

		e.Close(rfd)
		e.Close(wfd)
		e.WriteString(1, "init: done\n")
		e.Exit(0)
	})
}
