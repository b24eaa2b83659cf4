package kernel

import (
	"testing"

	kerrors "breenix-go/errors"
	"breenix-go/fs"
	"breenix-go/ipc"
	"breenix-go/proc"
	"breenix-go/signal"
)

func TestPipeNonblockSemantics(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		rfd, wfd, errno := e.Pipe2(fs.ONonblock)
		if errno != 0 {
			t.Errorf("pipe2 = %d", errno)
			e.Exit(1)
		}

		// Empty: non-blocking read is EAGAIN.
		if _, ret := e.ReadFd(rfd, 4); ret != kerrors.EAGAIN.Ret() {
			t.Errorf("read empty = %d, want -EAGAIN", ret)
		}

		// Fill the 64 KiB buffer; the next write is EAGAIN.
		chunk := string(make([]byte, 1024))
		for i := 0; i < ipc.PipeCapacity/1024; i++ {
			if n := e.WriteString(wfd, chunk); n != 1024 {
				t.Errorf("fill write %d = %d", i, n)
				e.Exit(1)
			}
		}
		if n := e.WriteString(wfd, "x"); n != kerrors.EAGAIN.Ret() {
			t.Errorf("write full = %d, want -EAGAIN", n)
		}
		e.Exit(0)
	})
}

func TestFcntlNonblockToggle(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		rfd, _, _ := e.Pipe()

		// A blocking pipe flipped to O_NONBLOCK behaves identically to
		// pipe2(O_NONBLOCK).
		if ret := e.Fcntl(rfd, proc.FSetfl, fs.ONonblock); ret != 0 {
			t.Errorf("F_SETFL = %d", ret)
			e.Exit(1)
		}
		if fl := e.Fcntl(rfd, proc.FGetfl, 0); fl&fs.ONonblock == 0 {
			t.Error("F_GETFL lost O_NONBLOCK")
		}
		if _, ret := e.ReadFd(rfd, 4); ret != kerrors.EAGAIN.Ret() {
			t.Errorf("read after F_SETFL = %d, want -EAGAIN", ret)
		}

		// And back.
		e.Fcntl(rfd, proc.FSetfl, 0)
		if fl := e.Fcntl(rfd, proc.FGetfl, 0); fl&fs.ONonblock != 0 {
			t.Error("clearing O_NONBLOCK failed")
		}
		e.Exit(0)
	})
}

func TestPipe2Cloexec(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		rfd, wfd, errno := e.Pipe2(fs.OCloexec)
		if errno != 0 {
			t.Errorf("pipe2 = %d", errno)
			e.Exit(1)
		}
		for _, fd := range []int{rfd, wfd} {
			if got := e.Fcntl(fd, proc.FGetfd, 0); got != proc.FdCloexec {
				t.Errorf("fd %d F_GETFD = %d, want FD_CLOEXEC", fd, got)
			}
		}

		// F_SETFD clears it.
		e.Fcntl(rfd, proc.FSetfd, 0)
		if got := e.Fcntl(rfd, proc.FGetfd, 0); got != 0 {
			t.Error("F_SETFD failed to clear FD_CLOEXEC")
		}
		e.Exit(0)
	})
}

func TestDupSemantics(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		rfd, wfd, _ := e.Pipe()

		// dup returns the lowest free descriptor.
		d := e.Dup(wfd)
		if d != int64(wfd)+1 {
			t.Errorf("dup = %d, want %d", d, wfd+1)
		}

		// Writes through either descriptor reach the same pipe.
		e.WriteString(wfd, "ab")
		e.WriteString(int(d), "cd")
		got, _ := e.ReadFd(rfd, 4)
		if got != "abcd" {
			t.Errorf("read = %q, want abcd", got)
		}

		// dup2 onto an occupied slot closes it first.
		if ret := e.Dup2(rfd, int(d)); ret != d {
			t.Errorf("dup2 = %d", ret)
		}
		e.WriteString(wfd, "ef")
		got, _ = e.ReadFd(int(d), 2)
		if got != "ef" {
			t.Errorf("read through dup2'd fd = %q", got)
		}

		// F_DUPFD honours the minimum.
		if ret := e.Fcntl(rfd, proc.FDupfd, 10); ret != 10 {
			t.Errorf("F_DUPFD(10) = %d, want 10", ret)
		}
		if got := e.Fcntl(10, proc.FGetfd, 0); got != 0 {
			t.Error("F_DUPFD must not set FD_CLOEXEC")
		}
		if ret := e.Fcntl(rfd, proc.FDupfdCloexec, 10); ret != 11 {
			t.Errorf("F_DUPFD_CLOEXEC(10) = %d, want 11", ret)
		}
		if got := e.Fcntl(11, proc.FGetfd, 0); got != proc.FdCloexec {
			t.Error("F_DUPFD_CLOEXEC must set FD_CLOEXEC")
		}
		e.Exit(0)
	})
}

func TestForkInheritsFdsAndPipeBytes(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		rfd, wfd, _ := e.Pipe()

		// Bytes written before the fork are readable by the child.
		e.WriteString(wfd, "pre-fork")

		pid := e.Fork(func(child *Env) {
			got, _ := child.ReadFd(rfd, 8)
			if got != "pre-fork" {
				child.Exit(1)
			}
			child.Exit(0)
		})

		_, st := e.Waitpid(int(pid), 0)
		if proc.WEXITSTATUS(st) != 0 {
			t.Errorf("child status = %#x; pre-fork pipe bytes lost", st)
		}
		e.Exit(0)
	})
}

func TestSharedOffsetAcrossFork(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		fd := int(e.Open("/etc/data", fs.ORdwr|fs.OCreat))
		if fd < 0 {
			t.Errorf("open O_CREAT = %d", fd)
			e.Exit(1)
		}
		e.WriteString(fd, "0123456789")

		rd := int(e.Open("/etc/data", fs.ORdonly))
		pid := e.Fork(func(child *Env) {
			// The child's read moves the shared offset.
			child.ReadFd(rd, 4)
			child.Exit(0)
		})
		e.Waitpid(int(pid), 0)

		got, _ := e.ReadFd(rd, 4)
		if got != "4567" {
			t.Errorf("parent read %q after child's 4 bytes, want 4567 (shared offset)", got)
		}
		e.Exit(0)
	})
}

func TestGetdentsAndOpenPolicy(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		// Opening a regular file with O_DIRECTORY fails ENOTDIR.
		if ret := e.Open("/bin/hello_world", fs.ORdonly|fs.ODirectory); ret != kerrors.ENOTDIR.Ret() {
			t.Errorf("open O_DIRECTORY on file = %d, want -ENOTDIR", ret)
		}

		// getdents on a regular-file fd fails ENOTDIR.
		fd := int(e.Open("/bin/hello_world", fs.ORdonly))
		if fd < 0 {
			t.Errorf("open = %d", fd)
			e.Exit(1)
		}
		if _, ret := e.Getdents64(fd, 4096); ret != kerrors.ENOTDIR.Ret() {
			t.Errorf("getdents on file = %d, want -ENOTDIR", ret)
		}

		// getdents on a bad fd fails EBADF.
		if _, ret := e.Getdents64(55, 4096); ret != kerrors.EBADF.Ret() {
			t.Errorf("getdents on bad fd = %d, want -EBADF", ret)
		}

		// And on a real directory it produces records.
		dfd := int(e.Open("/bin", fs.ORdonly|fs.ODirectory))
		buf, n := e.Getdents64(dfd, 4096)
		if n <= 0 || len(buf) == 0 {
			t.Errorf("getdents on /bin = %d", n)
		}
		e.Exit(0)
	})
}

func TestDevfsNodes(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		nullFd := int(e.Open("/dev/null", fs.ORdwr))
		if n := e.WriteString(nullFd, "vanish"); n != 6 {
			t.Errorf("/dev/null write = %d", n)
		}
		if s, n := e.ReadFd(nullFd, 4); n != 0 || s != "" {
			t.Errorf("/dev/null read = %q (%d), want EOF", s, n)
		}

		zeroFd := int(e.Open("/dev/zero", fs.ORdonly))
		s, n := e.ReadFd(zeroFd, 4)
		if n != 4 || s != "\x00\x00\x00\x00" {
			t.Errorf("/dev/zero read = %q (%d)", s, n)
		}
		e.Exit(0)
	})
}

func TestSigpipeOnClosedReader(t *testing.T) {
	m, _ := bootTest(t, "x86_64")

	runAsInit(t, m, func(e *Env) {
		rfd, wfd, _ := e.Pipe()
		e.Close(rfd)

		// SIGPIPE's default would kill us; ignore it and check EPIPE.
		e.SigactionSpecial(signal.SIGPIPE, signal.HandlerIgnore)
		if n := e.WriteString(wfd, "x"); n != kerrors.EPIPE.Ret() {
			t.Errorf("write to closed pipe = %d, want -EPIPE", n)
		}
		e.Exit(0)
	})
}
