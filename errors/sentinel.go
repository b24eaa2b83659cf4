// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Process and thread lifecycle errors.
var (
	// ErrProcessNotFound indicates the target process does not exist.
	ErrProcessNotFound = &KernelError{
		Kind:   ErrNotFound,
		Detail: "process not found",
	}

	// ErrThreadNotFound indicates the target thread does not exist.
	ErrThreadNotFound = &KernelError{
		Kind:   ErrNotFound,
		Detail: "thread not found",
	}

	// ErrNotAChild indicates waitpid targeted a process that is not a
	// child of the caller.
	ErrNotAChild = &KernelError{
		Kind:   ErrInvalidState,
		Detail: "not a child of the calling process",
	}

	// ErrAlreadyLeader indicates setsid was called by a group leader.
	ErrAlreadyLeader = &KernelError{
		Kind:   ErrPermission,
		Detail: "process is already a group leader",
	}
)

// Memory errors.
var (
	// ErrFrameExhausted indicates the physical frame pool is empty.
	ErrFrameExhausted = &KernelError{
		Kind:   ErrNoMemory,
		Detail: "physical frame pool exhausted",
	}

	// ErrNotMapped indicates a page has no present leaf entry.
	ErrNotMapped = &KernelError{
		Kind:   ErrFault,
		Detail: "page not mapped",
	}

	// ErrAlreadyMapped indicates map_page hit a present leaf.
	ErrAlreadyMapped = &KernelError{
		Kind:   ErrInvalidState,
		Detail: "page already mapped",
	}

	// ErrUnmappedRegion indicates a user address outside any declared mapping.
	ErrUnmappedRegion = &KernelError{
		Kind:   ErrFault,
		Detail: "address outside any mapped region",
	}
)

// File descriptor errors.
var (
	// ErrBadFd indicates the fd number has no entry in the table.
	ErrBadFd = &KernelError{
		Kind:   ErrInvalidArgument,
		Detail: "bad file descriptor",
	}

	// ErrFdTableFull indicates the fd table has no free slot.
	ErrFdTableFull = &KernelError{
		Kind:   ErrResourceLimit,
		Detail: "file descriptor table full",
	}
)

// Signal errors.
var (
	// ErrBadSignal indicates a signal number outside 1..31.
	ErrBadSignal = &KernelError{
		Kind:   ErrInvalidArgument,
		Detail: "invalid signal number",
	}

	// ErrUncatchable indicates an attempt to change the disposition of
	// SIGKILL or SIGSTOP.
	ErrUncatchable = &KernelError{
		Kind:   ErrInvalidArgument,
		Detail: "signal cannot be caught, blocked, or ignored",
	}
)

// Executable format errors.
var (
	// ErrNotElf indicates the image does not carry the ELF magic.
	ErrNotElf = &KernelError{
		Kind:   ErrInvalidArgument,
		Detail: "not an ELF image",
	}

	// ErrBadElf indicates a malformed or unsupported ELF image.
	ErrBadElf = &KernelError{
		Kind:   ErrInvalidArgument,
		Detail: "unsupported ELF image",
	}

	// ErrDynamicElf indicates the image requires an interpreter.
	ErrDynamicElf = &KernelError{
		Kind:   ErrNotSupported,
		Detail: "dynamically linked executables are not supported",
	}
)
