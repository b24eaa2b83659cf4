package errors

import (
	"errors"
	"fmt"
)

// Errno is a POSIX error number. Syscalls return -Errno on failure.
type Errno int

// POSIX errno values used by the kernel.
const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	ESRCH        Errno = 3
	EINTR        Errno = 4
	EBADF        Errno = 9
	ECHILD       Errno = 10
	EAGAIN       Errno = 11
	ENOMEM       Errno = 12
	EACCES       Errno = 13
	EFAULT       Errno = 14
	EEXIST       Errno = 17
	ENOTDIR      Errno = 20
	EISDIR       Errno = 21
	EINVAL       Errno = 22
	EMFILE       Errno = 24
	ENOTTY       Errno = 25
	ESPIPE       Errno = 29
	EPIPE        Errno = 32
	ENOSYS       Errno = 38
	ENOTSOCK     Errno = 88
	EOPNOTSUPP   Errno = 95
	EADDRINUSE   Errno = 98
	ECONNREFUSED Errno = 111
	ENOTCONN     Errno = 107
	ENOEXEC      Errno = 8
)

// errnoNames maps errno values to their symbolic names.
var errnoNames = map[Errno]string{
	EPERM:        "EPERM",
	ENOENT:       "ENOENT",
	ESRCH:        "ESRCH",
	EINTR:        "EINTR",
	ENOEXEC:      "ENOEXEC",
	EBADF:        "EBADF",
	ECHILD:       "ECHILD",
	EAGAIN:       "EAGAIN",
	ENOMEM:       "ENOMEM",
	EACCES:       "EACCES",
	EFAULT:       "EFAULT",
	EEXIST:       "EEXIST",
	ENOTDIR:      "ENOTDIR",
	EISDIR:       "EISDIR",
	EINVAL:       "EINVAL",
	EMFILE:       "EMFILE",
	ENOTTY:       "ENOTTY",
	ESPIPE:       "ESPIPE",
	EPIPE:        "EPIPE",
	ENOSYS:       "ENOSYS",
	ENOTSOCK:     "ENOTSOCK",
	EOPNOTSUPP:   "EOPNOTSUPP",
	EADDRINUSE:   "EADDRINUSE",
	ENOTCONN:     "ENOTCONN",
	ECONNREFUSED: "ECONNREFUSED",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Ret returns the syscall return value for this errno (negative).
func (e Errno) Ret() int64 {
	return -int64(e)
}

// ErrnoOf extracts the Errno encoded in a negative syscall return
// value, or 0 if ret indicates success.
func ErrnoOf(ret int64) Errno {
	if ret >= 0 {
		return 0
	}
	return Errno(-ret)
}

// ErrnoFromError maps a kernel error to the errno reported to
// userspace. Errno values pass through; KernelErrors map by kind;
// anything else is EINVAL.
func ErrnoFromError(err error) Errno {
	if err == nil {
		return 0
	}
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch KindOf(err) {
	case ErrNotFound:
		return ENOENT
	case ErrInvalidArgument:
		return EINVAL
	case ErrPermission:
		return EACCES
	case ErrFault:
		return EFAULT
	case ErrNoMemory:
		return ENOMEM
	case ErrResourceLimit:
		return EMFILE
	case ErrWouldBlock:
		return EAGAIN
	case ErrInterrupted:
		return EINTR
	case ErrNotSupported:
		return ENOSYS
	default:
		return EINVAL
	}
}
