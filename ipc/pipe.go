// Package ipc implements in-kernel byte channels: the anonymous pipe
// with its ring buffer and blocking semantics.
package ipc

import (
	kerrors "breenix-go/errors"
	"breenix-go/fs"
	"breenix-go/task"
)

// PipeCapacity is the ring size: a write blocks (or EAGAINs) once this
// much is buffered.
const PipeCapacity = 64 << 10

// SignalChecker reports whether the thread has a deliverable signal;
// blocking paths poll it after every wakeup to return EINTR. The
// kernel installs the real checker at boot.
type SignalChecker func(t *task.Thread) bool

// Pipe is the shared channel both ends reference.
type Pipe struct {
	sched *task.Scheduler
	intr  SignalChecker

	buf   [PipeCapacity]byte
	start int
	count int

	readers int
	writers int

	readQ  task.WaitQueue
	writeQ task.WaitQueue
}

// NewPipe builds a pipe and returns its two ends.
func NewPipe(s *task.Scheduler, intr SignalChecker) (*ReadEnd, *WriteEnd) {
	p := &Pipe{sched: s, intr: intr, readers: 1, writers: 1}
	return &ReadEnd{p: p}, &WriteEnd{p: p}
}

func (p *Pipe) space() int { return PipeCapacity - p.count }

func (p *Pipe) popInto(buf []byte) int {
	n := 0
	for n < len(buf) && p.count > 0 {
		buf[n] = p.buf[p.start]
		p.start = (p.start + 1) % PipeCapacity
		p.count--
		n++
	}
	return n
}

func (p *Pipe) pushFrom(data []byte) int {
	n := 0
	for n < len(data) && p.count < PipeCapacity {
		p.buf[(p.start+p.count)%PipeCapacity] = data[n]
		p.count++
		n++
	}
	return n
}

func (p *Pipe) interrupted() bool {
	return p.intr != nil && p.intr(p.sched.Current())
}

func (p *Pipe) read(buf []byte, nonblock bool) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		if p.count > 0 {
			n := p.popInto(buf)
			p.writeQ.WakeAll(p.sched)
			return n, nil
		}
		if p.writers == 0 {
			return 0, nil // EOF
		}
		if nonblock {
			return 0, kerrors.EAGAIN
		}
		if p.interrupted() {
			return 0, kerrors.EINTR
		}
		p.readQ.Wait(p.sched, task.BlockedOnSignal)
	}
}

func (p *Pipe) write(data []byte, nonblock bool) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	written := 0
	for written < len(data) {
		if p.readers == 0 {
			if written > 0 {
				return written, nil
			}
			return 0, kerrors.EPIPE
		}
		if p.space() > 0 {
			n := p.pushFrom(data[written:])
			written += n
			p.readQ.WakeAll(p.sched)
			continue
		}
		if nonblock {
			if written > 0 {
				return written, nil
			}
			return 0, kerrors.EAGAIN
		}
		if p.interrupted() {
			if written > 0 {
				return written, nil
			}
			return 0, kerrors.EINTR
		}
		p.writeQ.Wait(p.sched, task.BlockedOnSignal)
	}
	return written, nil
}

// Buffered reports bytes waiting to be read.
func (p *Pipe) Buffered() int { return p.count }

// ReadEnd is the reading file object.
type ReadEnd struct {
	p *Pipe
}

func (r *ReadEnd) Stat() fs.FileInfo { return fs.FileInfo{Type: fs.TypePipe, Name: "pipe:r"} }

func (r *ReadEnd) Read(buf []byte, _ uint64, nonblock bool) (int, error) {
	return r.p.read(buf, nonblock)
}

func (r *ReadEnd) Write([]byte, uint64, bool) (int, error) {
	return 0, kerrors.EBADF
}

// Close drops the read side; blocked writers wake and see EPIPE.
func (r *ReadEnd) Close() error {
	r.p.readers--
	if r.p.readers == 0 {
		r.p.writeQ.WakeAll(r.p.sched)
	}
	return nil
}

func (r *ReadEnd) PollIn() bool  { return r.p.count > 0 || r.p.writers == 0 }
func (r *ReadEnd) PollOut() bool { return false }
func (r *ReadEnd) PollHup() bool { return r.p.writers == 0 }

// WriteEnd is the writing file object.
type WriteEnd struct {
	p *Pipe
}

func (w *WriteEnd) Stat() fs.FileInfo { return fs.FileInfo{Type: fs.TypePipe, Name: "pipe:w"} }

func (w *WriteEnd) Read([]byte, uint64, bool) (int, error) {
	return 0, kerrors.EBADF
}

func (w *WriteEnd) Write(data []byte, _ uint64, nonblock bool) (int, error) {
	return w.p.write(data, nonblock)
}

// Close drops the write side; blocked readers wake and see EOF.
func (w *WriteEnd) Close() error {
	w.p.writers--
	if w.p.writers == 0 {
		w.p.readQ.WakeAll(w.p.sched)
	}
	return nil
}

func (w *WriteEnd) PollIn() bool  { return false }
func (w *WriteEnd) PollOut() bool { return w.p.space() > 0 || w.p.readers == 0 }
func (w *WriteEnd) PollHup() bool { return w.p.readers == 0 }
