// Package console bridges the emulated machine's serial/TTY output to
// the host terminal. It is the host-side half of the serial log
// transport collaborator: the kernel writes bytes, the bridge gets
// them onto the operator's screen.
package console

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"breenix-go/logging"
)

// Console is the host-terminal endpoint.
type Console struct {
	out    *os.File
	isTerm bool
	rows   int
	cols   int
}

// New attaches to the given host file (normally os.Stdout). When the
// file is a terminal, the window size is captured for the framebuffer
// collaborator's text geometry.
func New(out *os.File) *Console {
	c := &Console{out: out}
	c.isTerm = term.IsTerminal(int(out.Fd()))
	if c.isTerm {
		if ws, err := unix.IoctlGetWinsize(int(out.Fd()), unix.TIOCGWINSZ); err == nil {
			c.rows, c.cols = int(ws.Row), int(ws.Col)
		} else {
			logging.Debug("console winsize unavailable", "error", err)
		}
	}
	return c
}

// Stdout attaches to the process's standard output.
func Stdout() *Console { return New(os.Stdout) }

// Write forwards kernel console output to the host.
func (c *Console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// IsTerminal reports whether the host side is an interactive terminal.
func (c *Console) IsTerminal() bool { return c.isTerm }

// Size returns the host terminal geometry (0,0 when not a terminal).
func (c *Console) Size() (rows, cols int) { return c.rows, c.cols }

// RawInput puts the host terminal into raw mode and returns a restore
// function, so the interactive shell sees keystrokes unbuffered. On a
// non-terminal it is a no-op.
func (c *Console) RawInput(in *os.File) (restore func(), err error) {
	if !term.IsTerminal(int(in.Fd())) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(int(in.Fd()))
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(int(in.Fd()), state) }, nil
}

var _ io.Writer = (*Console)(nil)
