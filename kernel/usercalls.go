package kernel

import (
	"encoding/binary"

	"breenix-go/ktime"
	"breenix-go/proc"
	"breenix-go/signal"
	"breenix-go/syscall"
)

// Userspace library: thin wrappers over the syscall ABI, the way
// libbreenix wraps the raw traps for its programs.

// Exit terminates the process; it does not return.
func (e *Env) Exit(code int) {
	e.Syscall(syscall.SysExit, uint64(code))
	panic("exit returned")
}

// Fork duplicates the process. The child's execution continues in
// child (its registers a copy of the caller's, its memory cow-shared);
// the parent gets the child pid, the child's frame reads zero.
func (e *Env) Fork(child Program) int64 {
	e.p.ForkCont = child
	return e.Syscall(syscall.SysFork)
}

// Execv replaces the image; on success it does not return.
func (e *Env) Execv(path string, argv []string) int64 {
	pathAddr := e.pushString(0, path)

	// argv: packed strings then a NULL-terminated pointer vector.
	off := uint64(256)
	ptrs := make([]uint64, 0, len(argv)+1)
	for _, a := range argv {
		ptrs = append(ptrs, e.pushString(off, a))
		off += uint64(len(a)) + 1
	}
	ptrs = append(ptrs, 0)

	vecAddr := e.scratchAddr() + 2048
	vec := make([]byte, 8*len(ptrs))
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(vec[i*8:], p)
	}
	e.StoreBytes(vecAddr, vec)

	return e.Syscall(syscall.SysExecv, pathAddr, vecAddr, 0)
}

// Waitpid waits for a child; returns the reaped pid and its status.
func (e *Env) Waitpid(pid int, options int) (int64, int) {
	statusAddr := e.scratchAddr() + 3072
	ret := e.Syscall(syscall.SysWaitpid, uint64(pid), statusAddr, uint64(options))
	if ret <= 0 {
		return ret, 0
	}
	return ret, int(e.Load64(statusAddr))
}

func (e *Env) Getpid() int64  { return e.Syscall(syscall.SysGetpid) }
func (e *Env) Getppid() int64 { return e.Syscall(syscall.SysGetppid) }
func (e *Env) YieldSys() int64 {
	return e.Syscall(syscall.SysYield)
}

func (e *Env) Setpgid(pid, pgid int) int64 {
	return e.Syscall(syscall.SysSetpgid, uint64(pid), uint64(pgid))
}
func (e *Env) Getpgid(pid int) int64 { return e.Syscall(syscall.SysGetpgid, uint64(pid)) }
func (e *Env) Getpgrp() int64        { return e.Syscall(syscall.SysGetpgrp) }
func (e *Env) Setsid() int64         { return e.Syscall(syscall.SysSetsid) }
func (e *Env) Getsid(pid int) int64  { return e.Syscall(syscall.SysGetsid, uint64(pid)) }

func (e *Env) Tcgetpgrp(fd int) int64 { return e.Syscall(syscall.SysTcgetpgrp, uint64(fd)) }
func (e *Env) Tcsetpgrp(fd, pgid int) int64 {
	return e.Syscall(syscall.SysTcsetpgrp, uint64(fd), uint64(pgid))
}

// Sbrk grows the heap by n bytes and returns the old break.
func (e *Env) Sbrk(n uint64) uint64 {
	old := uint64(e.Syscall(syscall.SysBrk, 0))
	if n != 0 {
		e.Syscall(syscall.SysBrk, old+n)
	}
	return old
}

func (e *Env) Brk(addr uint64) int64 { return e.Syscall(syscall.SysBrk, addr) }

func (e *Env) Mmap(length, prot, flags uint64) int64 {
	return e.Syscall(syscall.SysMmap, 0, length, prot, flags)
}

func (e *Env) Munmap(addr, length uint64) int64 {
	return e.Syscall(syscall.SysMunmap, addr, length)
}

func (e *Env) Mprotect(addr, length, prot uint64) int64 {
	return e.Syscall(syscall.SysMprotect, addr, length, prot)
}

// WriteString writes s to fd through a user buffer.
func (e *Env) WriteString(fd int, s string) int64 {
	addr := e.scratchAddr() + 1024
	e.StoreBytes(addr, []byte(s))
	return e.Syscall(syscall.SysWrite, uint64(fd), addr, uint64(len(s)))
}

// ReadFd reads up to n bytes from fd.
func (e *Env) ReadFd(fd int, n int) (string, int64) {
	addr := e.scratchAddr() + 1536
	ret := e.Syscall(syscall.SysRead, uint64(fd), addr, uint64(n))
	if ret <= 0 {
		return "", ret
	}
	return string(e.LoadBytes(addr, int(ret))), ret
}

func (e *Env) Open(path string, flags uint64) int64 {
	return e.Syscall(syscall.SysOpen, e.pushString(512, path), flags)
}

func (e *Env) Close(fd int) int64 { return e.Syscall(syscall.SysClose, uint64(fd)) }

func (e *Env) Dup(fd int) int64 { return e.Syscall(syscall.SysDup, uint64(fd)) }

func (e *Env) Dup2(oldFd, newFd int) int64 {
	return e.Syscall(syscall.SysDup2, uint64(oldFd), uint64(newFd))
}

func (e *Env) Fcntl(fd int, cmd uint64, arg uint64) int64 {
	return e.Syscall(syscall.SysFcntl, uint64(fd), cmd, arg)
}

func (e *Env) Ioctl(fd int, cmd uint64, argAddr uint64) int64 {
	return e.Syscall(syscall.SysIoctl, uint64(fd), cmd, argAddr)
}

// Getdents64 fills the scratch page and returns the raw records.
func (e *Env) Getdents64(fd int, n int) ([]byte, int64) {
	addr := e.scratchAddr() + 2560
	ret := e.Syscall(syscall.SysGetdents64, uint64(fd), addr, uint64(n))
	if ret <= 0 {
		return nil, ret
	}
	return e.LoadBytes(addr, int(ret)), ret
}

// Pipe returns the two pipe fds.
func (e *Env) Pipe() (int, int, int64) {
	return e.pipeCommon(syscall.SysPipe, 0)
}

// Pipe2 passes O_CLOEXEC / O_NONBLOCK through.
func (e *Env) Pipe2(flags uint64) (int, int, int64) {
	return e.pipeCommon(syscall.SysPipe2, flags)
}

func (e *Env) pipeCommon(num uint64, flags uint64) (int, int, int64) {
	addr := e.scratchAddr() + 3584
	var ret int64
	if num == syscall.SysPipe {
		ret = e.Syscall(num, addr)
	} else {
		ret = e.Syscall(num, addr, flags)
	}
	if ret < 0 {
		return 0, 0, ret
	}
	pair := e.LoadBytes(addr, 8)
	return int(binary.LittleEndian.Uint32(pair)), int(binary.LittleEndian.Uint32(pair[4:])), 0
}

func (e *Env) Kill(pid, sig int) int64 {
	return e.Syscall(syscall.SysKill, uint64(pid), uint64(sig))
}

// Sigaction installs handler for sig. A nil handler installs SIG_DFL;
// SigactionSpecial sets default or ignore directly. Returns the syscall
// result; the restorer is supplied automatically (SA_RESTORER).
func (e *Env) Sigaction(sig int, handler func(*Env, int), flags uint64) int64 {
	var handlerAddr uint64
	if handler != nil {
		handlerAddr = e.p.RegisterText(func(env *Env) {
			handler(env, int(env.CallArg(0)))
		})
	}
	return e.sigactionRaw(sig, handlerAddr, flags, 0)
}

// SigactionSpecial installs SIG_DFL (0) or SIG_IGN (1).
func (e *Env) SigactionSpecial(sig int, special uint64) int64 {
	return e.sigactionRaw(sig, special, 0, 0)
}

func (e *Env) sigactionRaw(sig int, handler, flags uint64, mask signal.Set) int64 {
	addr := e.scratchAddr() + 3200
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:], handler)
	binary.LittleEndian.PutUint64(buf[8:], uint64(mask))
	if handler > signal.HandlerIgnore {
		flags |= signal.SaRestorer
		binary.LittleEndian.PutUint64(buf[16:], flags)
		binary.LittleEndian.PutUint64(buf[24:], e.restorer)
	} else {
		binary.LittleEndian.PutUint64(buf[16:], flags)
	}
	e.StoreBytes(addr, buf)
	return e.Syscall(syscall.SysSigaction, uint64(sig), addr, 0)
}

// Sigprocmask applies how to the mask and returns the old mask.
func (e *Env) Sigprocmask(how int, mask signal.Set) (signal.Set, int64) {
	addr := e.scratchAddr() + 3264
	e.StoreBytes(addr, le64(uint64(mask)))
	oldAddr := addr + 8
	ret := e.Syscall(syscall.SysSigprocmask, uint64(how), addr, oldAddr)
	if ret < 0 {
		return 0, ret
	}
	return signal.Set(e.Load64(oldAddr)), ret
}

// Sigsuspend installs mask and waits for a signal.
func (e *Env) Sigsuspend(mask signal.Set) int64 {
	addr := e.scratchAddr() + 3328
	e.StoreBytes(addr, le64(uint64(mask)))
	return e.Syscall(syscall.SysSigsuspend, addr)
}

// Setitimer arms ITIMER_REAL with microsecond values.
func (e *Env) Setitimer(kind int, valueUs, intervalUs uint64) int64 {
	addr := e.scratchAddr() + 3392
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:], intervalUs)
	binary.LittleEndian.PutUint64(buf[16:], valueUs)
	e.StoreBytes(addr, buf)
	return e.Syscall(syscall.SysSetitimer, uint64(kind), addr, 0)
}

// Getitimer reads back (value, interval) in microseconds.
func (e *Env) Getitimer(kind int) (ktime.ITimer, int64) {
	addr := e.scratchAddr() + 3456
	ret := e.Syscall(syscall.SysGetitimer, uint64(kind), addr)
	if ret < 0 {
		return ktime.ITimer{}, ret
	}
	buf := e.LoadBytes(addr, 32)
	return ktime.ITimer{
		IntervalUs: binary.LittleEndian.Uint64(buf[0:]),
		ValueUs:    binary.LittleEndian.Uint64(buf[16:]),
	}, ret
}

// ClockNs reads the monotonic clock.
func (e *Env) ClockNs() int64 { return e.Syscall(syscall.SysClockGetns) }

// CowStats reads the fault counters.
func (e *Env) CowStats() (proc.CowStats, int64) {
	addr := e.scratchAddr() + 3520
	ret := e.Syscall(syscall.SysCowStats, addr)
	if ret < 0 {
		return proc.CowStats{}, ret
	}
	buf := e.LoadBytes(addr, 32)
	return proc.CowStats{
		Faults:     binary.LittleEndian.Uint64(buf[0:]),
		Copies:     binary.LittleEndian.Uint64(buf[8:]),
		SoleOwner:  binary.LittleEndian.Uint64(buf[16:]),
		DemandZero: binary.LittleEndian.Uint64(buf[24:]),
	}, ret
}

// SimulateOom arms allocation failure after n more frames.
func (e *Env) SimulateOom(n int) int64 {
	return e.Syscall(syscall.SysSimulateOom, uint64(n))
}

// Socket syscalls.

func (e *Env) Socket(typ int) int64 { return e.Syscall(syscall.SysSocket, uint64(typ)) }

func (e *Env) Bind(fd int, addr string) int64 {
	s := e.pushString(640, addr)
	return e.Syscall(syscall.SysBind, uint64(fd), s, uint64(len(addr)))
}

func (e *Env) Listen(fd, backlog int) int64 {
	return e.Syscall(syscall.SysListen, uint64(fd), uint64(backlog))
}

func (e *Env) Accept(fd int) int64 { return e.Syscall(syscall.SysAccept, uint64(fd)) }

func (e *Env) Connect(fd int, addr string) int64 {
	s := e.pushString(704, addr)
	return e.Syscall(syscall.SysConnect, uint64(fd), s, uint64(len(addr)))
}

func (e *Env) Send(fd int, data string) int64 {
	addr := e.scratchAddr() + 768
	e.StoreBytes(addr, []byte(data))
	return e.Syscall(syscall.SysSend, uint64(fd), addr, uint64(len(data)))
}

func (e *Env) Recv(fd int, n int) (string, int64) {
	addr := e.scratchAddr() + 896
	ret := e.Syscall(syscall.SysRecv, uint64(fd), addr, uint64(n))
	if ret <= 0 {
		return "", ret
	}
	return string(e.LoadBytes(addr, int(ret))), ret
}

func (e *Env) Shutdown(fd, how int) int64 {
	return e.Syscall(syscall.SysShutdown, uint64(fd), uint64(how))
}

// Poll polls the fds for the requested events; fds/events/revents are
// packed as pollfd records in the scratch page.
func (e *Env) Poll(fds []int, events []int16, timeoutTicks int) ([]int16, int64) {
	addr := e.scratchAddr() + 3648
	buf := make([]byte, 8*len(fds))
	for i, fd := range fds {
		binary.LittleEndian.PutUint32(buf[i*8:], uint32(fd))
		binary.LittleEndian.PutUint16(buf[i*8+4:], uint16(events[i]))
	}
	e.StoreBytes(addr, buf)
	ret := e.Syscall(syscall.SysPoll, addr, uint64(len(fds)), uint64(timeoutTicks))
	if ret < 0 {
		return nil, ret
	}
	out := e.LoadBytes(addr, len(buf))
	revents := make([]int16, len(fds))
	for i := range fds {
		revents[i] = int16(binary.LittleEndian.Uint16(out[i*8+6:]))
	}
	return revents, ret
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
