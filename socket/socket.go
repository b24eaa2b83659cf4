// Package socket implements in-kernel local sockets: stream sockets
// with the bind/listen/accept/connect handshake and datagram sockets
// with sendto/recvfrom, over a name-indexed namespace. The network
// stack proper (Ethernet/ARP/IPv4) is an external collaborator; these
// sockets are the kernel-side objects file descriptors reference.
package socket

import (
	kerrors "breenix-go/errors"
	"breenix-go/fs"
	"breenix-go/ipc"
	"breenix-go/task"
)

// Socket types.
const (
	Stream = 1 // SOCK_STREAM
	Dgram  = 2 // SOCK_DGRAM
)

// Shutdown directions.
const (
	ShutRd   = 0
	ShutWr   = 1
	ShutRdWr = 2
)

// Namespace is the bound-address table sockets rendezvous through.
type Namespace struct {
	sched *task.Scheduler
	intr  ipc.SignalChecker
	bound map[string]*Socket
}

// NewNamespace builds an empty socket namespace.
func NewNamespace(s *task.Scheduler, intr ipc.SignalChecker) *Namespace {
	return &Namespace{sched: s, intr: intr, bound: make(map[string]*Socket)}
}

// datagram is one queued dgram with its source address.
type datagram struct {
	from string
	data []byte
}

// Socket is one endpoint. It implements fs.File and fs.Pollable.
type Socket struct {
	ns   *Namespace
	typ  int
	addr string

	// stream state
	listening bool
	backlog   int
	pending   []*Socket
	acceptQ   task.WaitQueue
	connectQ  task.WaitQueue
	accepted  bool
	refused   bool
	peerGone  bool

	// connected-stream plumbing: rx is this side's inbound pipe, tx
	// the peer's.
	rx *ipc.ReadEnd
	tx *ipc.WriteEnd

	// dgram state
	dgrams []datagram
	recvQ  task.WaitQueue
}

// New creates an unbound socket of the given type.
func (ns *Namespace) New(typ int) (*Socket, error) {
	if typ != Stream && typ != Dgram {
		return nil, kerrors.EINVAL
	}
	return &Socket{ns: ns, typ: typ}, nil
}

// Bind claims addr for this socket.
func (s *Socket) Bind(addr string) error {
	if addr == "" {
		return kerrors.EINVAL
	}
	if s.addr != "" {
		return kerrors.EINVAL
	}
	if _, taken := s.ns.bound[addr]; taken {
		return kerrors.EADDRINUSE
	}
	s.ns.bound[addr] = s
	s.addr = addr
	return nil
}

// Listen marks a bound stream socket as accepting.
func (s *Socket) Listen(backlog int) error {
	if s.typ != Stream {
		return kerrors.EOPNOTSUPP
	}
	if s.addr == "" {
		return kerrors.EINVAL
	}
	if backlog < 1 {
		backlog = 1
	}
	s.listening = true
	s.backlog = backlog
	return nil
}

// Connect dials a listening socket and blocks until accepted.
func (s *Socket) Connect(addr string, nonblock bool) error {
	if s.typ != Stream {
		// A dgram connect would only set a default destination; not
		// part of this surface.
		return kerrors.EOPNOTSUPP
	}
	if s.rx != nil {
		return kerrors.EINVAL
	}
	target, ok := s.ns.bound[addr]
	if !ok || !target.listening {
		return kerrors.ECONNREFUSED
	}
	if len(target.pending) >= target.backlog {
		return kerrors.ECONNREFUSED
	}

	target.pending = append(target.pending, s)
	target.acceptQ.WakeAll(s.ns.sched)

	for !s.accepted && !s.refused {
		if nonblock {
			return kerrors.EAGAIN
		}
		if s.ns.intr != nil && s.ns.intr(s.ns.sched.Current()) {
			return kerrors.EINTR
		}
		s.connectQ.Wait(s.ns.sched, task.BlockedOnSignal)
	}
	if s.refused {
		return kerrors.ECONNREFUSED
	}
	return nil
}

// Accept takes one pending connection and returns the kernel-side
// endpoint wired to the client.
func (s *Socket) Accept(nonblock bool) (*Socket, error) {
	if s.typ != Stream || !s.listening {
		return nil, kerrors.EINVAL
	}
	for len(s.pending) == 0 {
		if nonblock {
			return nil, kerrors.EAGAIN
		}
		if s.ns.intr != nil && s.ns.intr(s.ns.sched.Current()) {
			return nil, kerrors.EINTR
		}
		s.acceptQ.Wait(s.ns.sched, task.BlockedOnSignal)
	}

	client := s.pending[0]
	s.pending = s.pending[1:]

	server := &Socket{ns: s.ns, typ: Stream}
	// Two pipes, cross-wired.
	c2sR, c2sW := ipc.NewPipe(s.ns.sched, s.ns.intr)
	s2cR, s2cW := ipc.NewPipe(s.ns.sched, s.ns.intr)
	client.rx, client.tx = s2cR, c2sW
	server.rx, server.tx = c2sR, s2cW

	client.accepted = true
	client.connectQ.WakeAll(s.ns.sched)
	return server, nil
}

// Send writes to the peer. ENOTCONN before the handshake completes.
func (s *Socket) Send(data []byte, nonblock bool) (int, error) {
	if s.typ != Stream {
		return 0, kerrors.EOPNOTSUPP
	}
	if s.tx == nil {
		return 0, kerrors.ENOTCONN
	}
	return s.tx.Write(data, 0, nonblock)
}

// Recv reads from the peer; 0 at orderly shutdown.
func (s *Socket) Recv(buf []byte, nonblock bool) (int, error) {
	if s.typ != Stream {
		return 0, kerrors.EOPNOTSUPP
	}
	if s.rx == nil {
		return 0, kerrors.ENOTCONN
	}
	return s.rx.Read(buf, 0, nonblock)
}

// SendTo queues a datagram on the socket bound to addr.
func (s *Socket) SendTo(addr string, data []byte) (int, error) {
	if s.typ != Dgram {
		return 0, kerrors.EOPNOTSUPP
	}
	target, ok := s.ns.bound[addr]
	if !ok || target.typ != Dgram {
		return 0, kerrors.ECONNREFUSED
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	target.dgrams = append(target.dgrams, datagram{from: s.addr, data: msg})
	target.recvQ.WakeAll(s.ns.sched)
	return len(data), nil
}

// RecvFrom dequeues one datagram, blocking while empty.
func (s *Socket) RecvFrom(buf []byte, nonblock bool) (int, string, error) {
	if s.typ != Dgram {
		return 0, "", kerrors.EOPNOTSUPP
	}
	for len(s.dgrams) == 0 {
		if nonblock {
			return 0, "", kerrors.EAGAIN
		}
		if s.ns.intr != nil && s.ns.intr(s.ns.sched.Current()) {
			return 0, "", kerrors.EINTR
		}
		s.recvQ.Wait(s.ns.sched, task.BlockedOnSignal)
	}
	d := s.dgrams[0]
	s.dgrams = s.dgrams[1:]
	n := copy(buf, d.data)
	return n, d.from, nil
}

// Shutdown closes one or both directions of a connected stream.
func (s *Socket) Shutdown(how int) error {
	if s.typ != Stream || s.rx == nil {
		return kerrors.ENOTCONN
	}
	switch how {
	case ShutRd:
		s.rx.Close()
		s.rx = nil
	case ShutWr:
		s.tx.Close()
		s.tx = nil
	case ShutRdWr:
		s.rx.Close()
		s.tx.Close()
		s.rx, s.tx = nil, nil
	default:
		return kerrors.EINVAL
	}
	return nil
}

// fs.File implementation: read/write map to recv/send for streams.

func (s *Socket) Stat() fs.FileInfo { return fs.FileInfo{Type: fs.TypeSocket, Name: s.addr} }

func (s *Socket) Read(buf []byte, _ uint64, nonblock bool) (int, error) {
	return s.Recv(buf, nonblock)
}

func (s *Socket) Write(data []byte, _ uint64, nonblock bool) (int, error) {
	return s.Send(data, nonblock)
}

// Close releases the address and tears down any connection.
func (s *Socket) Close() error {
	if s.addr != "" {
		delete(s.ns.bound, s.addr)
		s.addr = ""
	}
	s.listening = false
	for _, p := range s.pending {
		p.refused = true
		p.connectQ.WakeAll(s.ns.sched)
	}
	s.pending = nil
	if s.rx != nil {
		s.rx.Close()
		s.rx = nil
	}
	if s.tx != nil {
		s.tx.Close()
		s.tx = nil
	}
	return nil
}

func (s *Socket) PollIn() bool {
	switch s.typ {
	case Stream:
		if s.listening {
			return len(s.pending) > 0
		}
		return s.rx != nil && s.rx.PollIn()
	case Dgram:
		return len(s.dgrams) > 0
	}
	return false
}

func (s *Socket) PollOut() bool {
	if s.typ == Stream {
		return s.tx != nil && s.tx.PollOut()
	}
	return true
}

func (s *Socket) PollHup() bool {
	return s.typ == Stream && s.rx != nil && s.rx.PollHup()
}
