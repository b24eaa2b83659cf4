// Package tty provides the kernel console TTY object: the controlling
// terminal file descriptors 0/1/2 reference, carrying the foreground
// process group for job control. The line discipline and PTY
// multiplexer are external collaborators; this object is the contract
// surface they and the job-control syscalls share.
package tty

import (
	"io"

	kerrors "breenix-go/errors"
	"breenix-go/fs"
	"breenix-go/ipc"
	"breenix-go/task"
)

// ioctl numbers understood by the TTY.
const (
	TiocGPgrp = 0x540f // TIOCGPGRP
	TiocSPgrp = 0x5410 // TIOCSPGRP
)

// Tty is the console terminal.
type Tty struct {
	sched *task.Scheduler
	intr  ipc.SignalChecker

	// out receives everything written to the terminal (the console
	// bridge, or a capture buffer in tests).
	out io.Writer

	input []byte
	readQ task.WaitQueue

	fgPgid int
	closed bool
}

// New builds a console TTY writing output to out.
func New(s *task.Scheduler, intr ipc.SignalChecker, out io.Writer) *Tty {
	return &Tty{sched: s, intr: intr, out: out, fgPgid: 1}
}

// ForegroundPgid returns the foreground process group.
func (t *Tty) ForegroundPgid() int { return t.fgPgid }

// SetForegroundPgid installs the foreground process group.
func (t *Tty) SetForegroundPgid(pgid int) { t.fgPgid = pgid }

// PushInput queues bytes as if typed; blocked readers wake.
func (t *Tty) PushInput(data []byte) {
	t.input = append(t.input, data...)
	t.readQ.WakeAll(t.sched)
}

func (t *Tty) Stat() fs.FileInfo { return fs.FileInfo{Type: fs.TypeTty, Name: "console"} }

// Read returns queued input, blocking while empty. The background-read
// SIGTTIN policy is enforced by the syscall layer, which knows the
// caller's process group.
func (t *Tty) Read(buf []byte, _ uint64, nonblock bool) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		if len(t.input) > 0 {
			n := copy(buf, t.input)
			t.input = t.input[n:]
			return n, nil
		}
		if t.closed {
			return 0, nil
		}
		if nonblock {
			return 0, kerrors.EAGAIN
		}
		if t.intr != nil && t.intr(t.sched.Current()) {
			return 0, kerrors.EINTR
		}
		t.readQ.Wait(t.sched, task.BlockedOnSignal)
	}
}

// Write sends bytes to the console.
func (t *Tty) Write(data []byte, _ uint64, _ bool) (int, error) {
	if t.out == nil {
		return len(data), nil
	}
	return t.out.Write(data)
}

// Close marks hangup; readers drain and see EOF.
func (t *Tty) Close() error {
	t.closed = true
	t.readQ.WakeAll(t.sched)
	return nil
}

// Ioctl implements the terminal controls that do not need user-memory
// access; TIOCGPGRP's pointer write happens in the syscall layer using
// the returned value.
func (t *Tty) Ioctl(cmd, arg uint64) (int64, error) {
	switch cmd {
	case TiocGPgrp:
		return int64(t.fgPgid), nil
	case TiocSPgrp:
		t.fgPgid = int(arg)
		return 0, nil
	default:
		return 0, kerrors.ENOTTY
	}
}

func (t *Tty) PollIn() bool  { return len(t.input) > 0 || t.closed }
func (t *Tty) PollOut() bool { return true }
func (t *Tty) PollHup() bool { return t.closed }
