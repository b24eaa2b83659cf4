package proc

import (
	kerrors "breenix-go/errors"
	"breenix-go/fs"
)

// MaxFds bounds the per-process descriptor table.
const MaxFds = 64

// fcntl commands.
const (
	FDupfd        = 0
	FGetfd        = 1
	FSetfd        = 2
	FGetfl        = 3
	FSetfl        = 4
	FDupfdCloexec = 1030

	FdCloexec = 1
)

// Description is an open file description: the kernel object plus the
// shared offset and status flags. dup'd and forked descriptors share
// one description, which is how a pre-fork write moves the offset the
// child reads at.
type Description struct {
	File   fs.File
	Offset uint64
	// Flags holds the access mode and status flags (O_NONBLOCK,
	// O_APPEND).
	Flags uint64
	refs  int
}

// Nonblock reports O_NONBLOCK.
func (d *Description) Nonblock() bool { return d.Flags&fs.ONonblock != 0 }

// Positional reports whether the file object consumes the shared
// offset.
func (d *Description) Positional() bool {
	t := d.File.Stat().Type
	return t == fs.TypeRegular || t == fs.TypeDirectory
}

type fdEntry struct {
	desc    *Description
	cloexec bool
}

// FdTable is the per-process descriptor table: an ordered mapping from
// small integers to descriptions.
type FdTable struct {
	entries [MaxFds]*fdEntry
}

// NewFdTable returns an empty table.
func NewFdTable() *FdTable { return &FdTable{} }

// NewDescription wraps a file object; the initial descriptor reference
// is counted.
func NewDescription(file fs.File, flags uint64) *Description {
	return &Description{File: file, Flags: flags, refs: 1}
}

// lowestFree finds the first unused fd at or above min.
func (t *FdTable) lowestFree(min int) (int, error) {
	if min < 0 {
		return 0, kerrors.EINVAL
	}
	for fd := min; fd < MaxFds; fd++ {
		if t.entries[fd] == nil {
			return fd, nil
		}
	}
	return 0, kerrors.Wrap(kerrors.ErrFdTableFull, kerrors.ErrResourceLimit, "fd_alloc")
}

// Install places desc at the lowest free fd.
func (t *FdTable) Install(desc *Description, cloexec bool) (int, error) {
	fd, err := t.lowestFree(0)
	if err != nil {
		return 0, err
	}
	t.entries[fd] = &fdEntry{desc: desc, cloexec: cloexec}
	return fd, nil
}

// Get resolves fd to its description.
func (t *FdTable) Get(fd int) (*Description, error) {
	if fd < 0 || fd >= MaxFds || t.entries[fd] == nil {
		return nil, kerrors.EBADF
	}
	return t.entries[fd].desc, nil
}

// Cloexec reads the close-on-exec flag.
func (t *FdTable) Cloexec(fd int) (bool, error) {
	if fd < 0 || fd >= MaxFds || t.entries[fd] == nil {
		return false, kerrors.EBADF
	}
	return t.entries[fd].cloexec, nil
}

// SetCloexec writes the close-on-exec flag.
func (t *FdTable) SetCloexec(fd int, v bool) error {
	if fd < 0 || fd >= MaxFds || t.entries[fd] == nil {
		return kerrors.EBADF
	}
	t.entries[fd].cloexec = v
	return nil
}

// Dup duplicates fd at the lowest free descriptor at or above minfd.
// The duplicate shares the description; close-on-exec is per-fd and
// set only when requested.
func (t *FdTable) Dup(fd, minfd int, cloexec bool) (int, error) {
	e := t.entry(fd)
	if e == nil {
		return 0, kerrors.EBADF
	}
	newFd, err := t.lowestFree(minfd)
	if err != nil {
		return 0, err
	}
	e.desc.refs++
	t.entries[newFd] = &fdEntry{desc: e.desc, cloexec: cloexec}
	return newFd, nil
}

// Dup2 places the duplicate at newFd, closing any existing entry
// there. dup2 onto itself is a no-op returning newFd.
func (t *FdTable) Dup2(oldFd, newFd int) (int, error) {
	e := t.entry(oldFd)
	if e == nil {
		return 0, kerrors.EBADF
	}
	if newFd < 0 || newFd >= MaxFds {
		return 0, kerrors.EBADF
	}
	if newFd == oldFd {
		return newFd, nil
	}
	if t.entries[newFd] != nil {
		t.Close(newFd)
	}
	e.desc.refs++
	t.entries[newFd] = &fdEntry{desc: e.desc}
	return newFd, nil
}

// Close removes fd; the description's file closes with its last
// reference.
func (t *FdTable) Close(fd int) error {
	e := t.entry(fd)
	if e == nil {
		return kerrors.EBADF
	}
	t.entries[fd] = nil
	e.desc.refs--
	if e.desc.refs == 0 {
		return e.desc.File.Close()
	}
	return nil
}

// CloneForFork shares every description with the child; close-on-exec
// flags copy as values.
func (t *FdTable) CloneForFork() *FdTable {
	clone := NewFdTable()
	for fd, e := range t.entries {
		if e == nil {
			continue
		}
		e.desc.refs++
		clone.entries[fd] = &fdEntry{desc: e.desc, cloexec: e.cloexec}
	}
	return clone
}

// CloseExec closes every close-on-exec entry; exec calls it.
func (t *FdTable) CloseExec() {
	for fd, e := range t.entries {
		if e != nil && e.cloexec {
			t.Close(fd)
		}
	}
}

// CloseAll releases the whole table; exit calls it.
func (t *FdTable) CloseAll() {
	for fd, e := range t.entries {
		if e != nil {
			t.Close(fd)
		}
	}
}

func (t *FdTable) entry(fd int) *fdEntry {
	if fd < 0 || fd >= MaxFds {
		return nil
	}
	return t.entries[fd]
}
