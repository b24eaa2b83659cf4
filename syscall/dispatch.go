package syscall

import (
	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/logging"
)

// Handler executes one system call against its frame and returns the
// result in the negative-errno convention.
type Handler func(fr arch.SyscallFrame) int64

// Table is the numeric dispatch table.
type Table struct {
	handlers map[uint64]Handler
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[uint64]Handler)}
}

// Register binds a handler to a syscall number.
func (t *Table) Register(num uint64, h Handler) {
	if _, dup := t.handlers[num]; dup {
		panic("syscall: duplicate handler for " + Name(num))
	}
	t.handlers[num] = h
}

// Dispatch routes the frame to its handler and writes the return
// value. Unknown numbers yield ENOSYS.
func (t *Table) Dispatch(fr arch.SyscallFrame) {
	num := fr.Number()
	h, ok := t.handlers[num]
	if !ok {
		logging.Debug("unknown syscall", "num", num)
		fr.SetReturn(kerrors.ENOSYS.Ret())
		return
	}
	fr.SetReturn(h(fr))
}

// Errno converts a handler error to its return value; success values
// pass through a separate path.
func Errno(err error) int64 {
	return kerrors.ErrnoFromError(err).Ret()
}
