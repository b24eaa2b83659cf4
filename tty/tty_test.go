package tty

import (
	"bytes"
	"errors"
	"testing"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/percpu"
	"breenix-go/task"
)

func newSched() *task.Scheduler {
	s := task.NewScheduler(percpu.NewCpu(0))
	s.Bootstrap("test-main")
	return s
}

func TestWriteGoesToConsole(t *testing.T) {
	s := newSched()
	var out bytes.Buffer
	tt := New(s, nil, &out)

	n, err := tt.Write([]byte("hello\n"), 0, false)
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if out.String() != "hello\n" {
		t.Errorf("console saw %q", out.String())
	}
}

func TestReadBlocksUntilInput(t *testing.T) {
	s := newSched()
	tt := New(s, nil, nil)

	if _, err := tt.Read(make([]byte, 4), 0, true); !errors.Is(err, kerrors.EAGAIN) {
		t.Errorf("non-blocking empty read = %v, want EAGAIN", err)
	}

	var got string
	s.Spawn("reader", arch.PrivKernel, func() {
		buf := make([]byte, 8)
		n, _ := tt.Read(buf, 0, false)
		got = string(buf[:n])
	})
	s.Yield()
	if got != "" {
		t.Fatal("reader returned without input")
	}

	tt.PushInput([]byte("ls\n"))
	s.Yield()
	if got != "ls\n" {
		t.Fatalf("read = %q, want ls\\n", got)
	}
}

func TestForegroundPgidIoctl(t *testing.T) {
	s := newSched()
	tt := New(s, nil, nil)

	if _, err := tt.Ioctl(0xdead, 0); !errors.Is(err, kerrors.ENOTTY) {
		t.Errorf("unknown ioctl = %v, want ENOTTY", err)
	}

	if _, err := tt.Ioctl(TiocSPgrp, 42); err != nil {
		t.Fatal(err)
	}
	v, err := tt.Ioctl(TiocGPgrp, 0)
	if err != nil || v != 42 {
		t.Fatalf("TIOCGPGRP = %d, %v, want 42", v, err)
	}
	if tt.ForegroundPgid() != 42 {
		t.Error("ForegroundPgid out of sync with ioctl")
	}
}

func TestCloseMeansEof(t *testing.T) {
	s := newSched()
	tt := New(s, nil, nil)

	tt.PushInput([]byte("x"))
	tt.Close()

	buf := make([]byte, 4)
	if n, _ := tt.Read(buf, 0, false); n != 1 {
		t.Fatal("queued input should drain after close")
	}
	if n, err := tt.Read(buf, 0, false); n != 0 || err != nil {
		t.Fatalf("read after close = %d, %v, want EOF", n, err)
	}
	if !tt.PollHup() {
		t.Error("closed tty should report hup")
	}
}
