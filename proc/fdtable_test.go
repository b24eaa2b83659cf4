package proc

import (
	"errors"
	"testing"

	kerrors "breenix-go/errors"
	"breenix-go/fs"
)

// countingFile tracks Close calls.
type countingFile struct {
	closed int
}

func (f *countingFile) Stat() fs.FileInfo                      { return fs.FileInfo{Type: fs.TypeRegular} }
func (f *countingFile) Read([]byte, uint64, bool) (int, error)  { return 0, nil }
func (f *countingFile) Write(d []byte, _ uint64, _ bool) (int, error) { return len(d), nil }
func (f *countingFile) Close() error {
	f.closed++
	return nil
}

func TestFdTableInstallGetClose(t *testing.T) {
	tbl := NewFdTable()
	file := &countingFile{}

	fd, err := tbl.Install(NewDescription(file, 0), false)
	if err != nil || fd != 0 {
		t.Fatalf("Install = %d, %v, want fd 0", fd, err)
	}

	if _, err := tbl.Get(fd); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Get(17); !errors.Is(err, kerrors.EBADF) {
		t.Errorf("Get(17) = %v, want EBADF", err)
	}

	if err := tbl.Close(fd); err != nil {
		t.Fatal(err)
	}
	if file.closed != 1 {
		t.Errorf("file closed %d times, want 1", file.closed)
	}
	if err := tbl.Close(fd); !errors.Is(err, kerrors.EBADF) {
		t.Error("double close should be EBADF")
	}
}

func TestFdTableDupSharesDescription(t *testing.T) {
	tbl := NewFdTable()
	file := &countingFile{}
	desc := NewDescription(file, 0)
	fd, _ := tbl.Install(desc, false)

	dup, err := tbl.Dup(fd, 0, false)
	if err != nil || dup != 1 {
		t.Fatalf("Dup = %d, %v, want 1", dup, err)
	}

	// Advancing the offset through one fd is visible through the
	// other.
	d1, _ := tbl.Get(fd)
	d1.Offset = 42
	d2, _ := tbl.Get(dup)
	if d2.Offset != 42 {
		t.Error("dup'd descriptors must share the offset")
	}

	// The file closes only with the last reference.
	tbl.Close(fd)
	if file.closed != 0 {
		t.Error("file closed while a duplicate was open")
	}
	tbl.Close(dup)
	if file.closed != 1 {
		t.Error("file not closed with the last reference")
	}
}

func TestFdTableDupMinimumAndExhaustion(t *testing.T) {
	tbl := NewFdTable()
	fd, _ := tbl.Install(NewDescription(&countingFile{}, 0), false)

	got, err := tbl.Dup(fd, 10, true)
	if err != nil || got != 10 {
		t.Fatalf("Dup(min 10) = %d, %v", got, err)
	}
	cl, _ := tbl.Cloexec(got)
	if !cl {
		t.Error("cloexec dup lost the flag")
	}

	// Fill the table; the next allocation reports the limit.
	for {
		if _, err := tbl.Dup(fd, 0, false); err != nil {
			if kerrors.ErrnoFromError(err) != kerrors.EMFILE {
				t.Errorf("exhaustion errno = %v, want EMFILE", kerrors.ErrnoFromError(err))
			}
			break
		}
	}
}

func TestFdTableCloneAndExec(t *testing.T) {
	tbl := NewFdTable()
	plain := &countingFile{}
	secret := &countingFile{}
	pfd, _ := tbl.Install(NewDescription(plain, 0), false)
	sfd, _ := tbl.Install(NewDescription(secret, 0), true)

	clone := tbl.CloneForFork()
	if _, err := clone.Get(pfd); err != nil {
		t.Error("clone lost a descriptor")
	}
	cl, _ := clone.Cloexec(sfd)
	if !cl {
		t.Error("clone lost a cloexec flag")
	}

	clone.CloseExec()
	if _, err := clone.Get(sfd); !errors.Is(err, kerrors.EBADF) {
		t.Error("cloexec descriptor survived exec")
	}
	if _, err := clone.Get(pfd); err != nil {
		t.Error("plain descriptor lost across exec")
	}
	// The original table is untouched.
	if _, err := tbl.Get(sfd); err != nil {
		t.Error("CloseExec on the clone leaked into the parent")
	}

	clone.CloseAll()
	tbl.CloseAll()
	if plain.closed != 1 || secret.closed != 1 {
		t.Errorf("files closed plain=%d secret=%d, want exactly once", plain.closed, secret.closed)
	}
}

func TestWaitStatusEncoding(t *testing.T) {
	tests := []struct {
		name   string
		status int
		exited bool
		sig    bool
		stop   bool
	}{
		{"clean exit", ExitStatus(0), true, false, false},
		{"exit 42", ExitStatus(42), true, false, false},
		{"sigsegv", SignalStatus(11), false, true, false},
		{"stopped", StopStatus(19), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if WIFEXITED(tt.status) != tt.exited {
				t.Errorf("WIFEXITED = %v", WIFEXITED(tt.status))
			}
			if WIFSIGNALED(tt.status) != tt.sig {
				t.Errorf("WIFSIGNALED = %v", WIFSIGNALED(tt.status))
			}
			if WIFSTOPPED(tt.status) != tt.stop {
				t.Errorf("WIFSTOPPED = %v", WIFSTOPPED(tt.status))
			}
		})
	}

	if WEXITSTATUS(ExitStatus(42)) != 42 {
		t.Error("exit code round trip failed")
	}
	if WTERMSIG(SignalStatus(11)) != 11 {
		t.Error("term signal round trip failed")
	}
	if WSTOPSIG(StopStatus(19)) != 19 {
		t.Error("stop signal round trip failed")
	}
}
