package kernel

import (
	"encoding/binary"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/fs"
	"breenix-go/ipc"
	"breenix-go/proc"
	"breenix-go/signal"
	"breenix-go/socket"
	"breenix-go/syscall"
	"breenix-go/tty"
)

// maxIoBytes bounds a single read/write length.
const maxIoBytes = 1 << 20

// maxPathBytes bounds a pathname.
const maxPathBytes = 4096

func ret(err error) int64 { return syscall.Errno(err) }

// registerSyscalls binds every handler into the numeric table.
func (m *Machine) registerSyscalls() {
	t := m.Table

	// Process lifecycle.
	t.Register(syscall.SysFork, m.sysFork)
	t.Register(syscall.SysExecv, m.sysExecv)
	t.Register(syscall.SysExit, m.sysExit)
	t.Register(syscall.SysWaitpid, m.sysWaitpid)
	t.Register(syscall.SysGetpid, func(arch.SyscallFrame) int64 { return int64(m.cur().Pid) })
	t.Register(syscall.SysGetppid, func(arch.SyscallFrame) int64 { return int64(m.cur().Ppid) })
	t.Register(syscall.SysYield, func(arch.SyscallFrame) int64 {
		m.Sched.Yield()
		return 0
	})

	// Groups and sessions.
	t.Register(syscall.SysSetpgid, m.sysSetpgid)
	t.Register(syscall.SysGetpgid, m.sysGetpgid)
	t.Register(syscall.SysGetpgrp, func(arch.SyscallFrame) int64 { return int64(m.cur().Pgid) })
	t.Register(syscall.SysSetsid, m.sysSetsid)
	t.Register(syscall.SysGetsid, m.sysGetsid)
	t.Register(syscall.SysTcgetpgrp, m.sysTcgetpgrp)
	t.Register(syscall.SysTcsetpgrp, m.sysTcsetpgrp)

	// Memory.
	t.Register(syscall.SysBrk, func(fr arch.SyscallFrame) int64 {
		return int64(m.Core.Brk(m.cur(), fr.Arg(0)))
	})
	t.Register(syscall.SysMmap, m.sysMmap)
	t.Register(syscall.SysMunmap, func(fr arch.SyscallFrame) int64 {
		if err := m.Core.Munmap(m.cur(), fr.Arg(0), fr.Arg(1)); err != nil {
			return ret(err)
		}
		return 0
	})
	t.Register(syscall.SysMprotect, func(fr arch.SyscallFrame) int64 {
		if err := m.Core.Mprotect(m.cur(), fr.Arg(0), fr.Arg(1), fr.Arg(2)); err != nil {
			return ret(err)
		}
		return 0
	})
	t.Register(syscall.SysCowStats, m.sysCowStats)
	t.Register(syscall.SysSimulateOom, func(fr arch.SyscallFrame) int64 {
		m.SimulateOomAfter(int(int64(fr.Arg(0))))
		return 0
	})

	// Files and descriptors.
	t.Register(syscall.SysOpen, m.sysOpen)
	t.Register(syscall.SysClose, func(fr arch.SyscallFrame) int64 {
		if err := m.cur().Fds.Close(int(fr.Arg(0))); err != nil {
			return ret(err)
		}
		return 0
	})
	t.Register(syscall.SysRead, m.sysRead)
	t.Register(syscall.SysWrite, m.sysWrite)
	t.Register(syscall.SysDup, func(fr arch.SyscallFrame) int64 {
		fd, err := m.cur().Fds.Dup(int(fr.Arg(0)), 0, false)
		if err != nil {
			return ret(err)
		}
		return int64(fd)
	})
	t.Register(syscall.SysDup2, func(fr arch.SyscallFrame) int64 {
		fd, err := m.cur().Fds.Dup2(int(fr.Arg(0)), int(fr.Arg(1)))
		if err != nil {
			return ret(err)
		}
		return int64(fd)
	})
	t.Register(syscall.SysPipe, func(fr arch.SyscallFrame) int64 {
		return m.pipeCommon(fr.Arg(0), 0)
	})
	t.Register(syscall.SysPipe2, func(fr arch.SyscallFrame) int64 {
		flags := fr.Arg(1)
		if flags&^uint64(fs.OCloexec|fs.ONonblock) != 0 {
			return ret(kerrors.EINVAL)
		}
		return m.pipeCommon(fr.Arg(0), flags)
	})
	t.Register(syscall.SysFcntl, m.sysFcntl)
	t.Register(syscall.SysGetdents64, m.sysGetdents64)
	t.Register(syscall.SysIoctl, m.sysIoctl)
	t.Register(syscall.SysPoll, m.sysPoll)

	// Signals.
	t.Register(syscall.SysKill, func(fr arch.SyscallFrame) int64 {
		if err := m.Core.Kill(m.cur(), int(int64(fr.Arg(0))), int(fr.Arg(1))); err != nil {
			return ret(err)
		}
		return 0
	})
	t.Register(syscall.SysSigaction, m.sysSigaction)
	t.Register(syscall.SysSigprocmask, m.sysSigprocmask)
	t.Register(syscall.SysSigreturn, func(arch.SyscallFrame) int64 {
		p := m.cur()
		if err := m.Core.Sigreturn(p, p.MainThread); err != nil {
			m.Core.Exit(p, proc.SignalStatus(signal.SIGSEGV))
		}
		// The restored frame's return-value slot already holds the
		// interrupted syscall's result; report it unchanged.
		return m.Backend.NewSyscallFrame(&p.MainThread.Regs).Return()
	})
	t.Register(syscall.SysSigsuspend, m.sysSigsuspend)

	// Timers and time.
	t.Register(syscall.SysSetitimer, m.sysSetitimer)
	t.Register(syscall.SysGetitimer, m.sysGetitimer)
	t.Register(syscall.SysClockGetns, func(arch.SyscallFrame) int64 {
		return int64(m.Clock.NowNs())
	})

	// Sockets.
	t.Register(syscall.SysSocket, m.sysSocket)
	t.Register(syscall.SysBind, m.sysBind)
	t.Register(syscall.SysListen, m.sysListen)
	t.Register(syscall.SysAccept, m.sysAccept)
	t.Register(syscall.SysConnect, m.sysConnect)
	t.Register(syscall.SysSend, m.sysSend)
	t.Register(syscall.SysRecv, m.sysRecv)
	t.Register(syscall.SysSendto, m.sysSendto)
	t.Register(syscall.SysRecvfrom, m.sysRecvfrom)
	t.Register(syscall.SysShutdown, m.sysShutdown)
}

// cur returns the calling process; syscalls only run on user threads.
func (m *Machine) cur() *proc.Process {
	p := m.Core.Current()
	if p == nil {
		panic("syscall from a kernel thread")
	}
	return p
}

// Process lifecycle.

func (m *Machine) sysFork(fr arch.SyscallFrame) int64 {
	p := m.cur()
	cont := p.ForkCont
	p.ForkCont = nil
	if cont == nil {
		return ret(kerrors.EINVAL)
	}

	child, err := m.Core.Fork(p, cont)
	if err != nil {
		return ret(err)
	}
	// Two observable results: zero in the child, the pid in the
	// parent.
	m.Backend.NewSyscallFrame(&child.MainThread.Regs).SetReturn(0)
	return int64(child.Pid)
}

func (m *Machine) sysExecv(fr arch.SyscallFrame) int64 {
	p := m.cur()
	path, err := m.Core.ReadUserString(p, fr.Arg(0), maxPathBytes)
	if err != nil {
		return ret(err)
	}
	argv, err := m.readStringVec(p, fr.Arg(1))
	if err != nil {
		return ret(err)
	}
	var envp []string
	if fr.Arg(2) != 0 {
		if envp, err = m.readStringVec(p, fr.Arg(2)); err != nil {
			return ret(err)
		}
	}

	if err := m.Core.Exec(p, path, argv, envp); err != nil {
		return ret(err)
	}
	// Success does not return to the caller: the thread restarts on
	// the new image.
	panic(proc.ExecSwitch{Path: path})
}

func (m *Machine) readStringVec(p *proc.Process, addr uint64) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	for i := 0; i < 64; i++ {
		var ptr [8]byte
		if err := m.Core.CopyInUser(p, addr+uint64(i)*8, ptr[:]); err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint64(ptr[:])
		if v == 0 {
			return out, nil
		}
		s, err := m.Core.ReadUserString(p, v, maxPathBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, kerrors.EINVAL
}

func (m *Machine) sysExit(fr arch.SyscallFrame) int64 {
	p := m.cur()
	m.Core.Exit(p, proc.ExitStatus(int(fr.Arg(0))))
	return 0 // unreachable
}

func (m *Machine) sysWaitpid(fr arch.SyscallFrame) int64 {
	p := m.cur()
	pid, status, err := m.Core.Wait(p, int(int64(fr.Arg(0))), int(fr.Arg(2)))
	if err != nil {
		return ret(err)
	}
	if pid != 0 && fr.Arg(1) != 0 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(status))
		if err := m.Core.CopyOutUser(p, fr.Arg(1), buf[:]); err != nil {
			return ret(err)
		}
	}
	return int64(pid)
}

// Groups and sessions.

func (m *Machine) sysSetpgid(fr arch.SyscallFrame) int64 {
	p := m.cur()
	pid := int(fr.Arg(0))
	pgid := int(fr.Arg(1))
	if pid == 0 {
		pid = p.Pid
	}
	if pgid == 0 {
		pgid = pid
	}
	if pgid < 0 {
		return ret(kerrors.EINVAL)
	}

	target := m.Core.Table.Lookup(pid)
	if target == nil || target.Life == proc.Zombie {
		return ret(kerrors.ESRCH)
	}
	if target != p && target.Ppid != p.Pid {
		return ret(kerrors.ESRCH)
	}
	if target.Sid != p.Sid {
		return ret(kerrors.EPERM)
	}
	target.Pgid = pgid
	return 0
}

func (m *Machine) sysGetpgid(fr arch.SyscallFrame) int64 {
	pid := int(fr.Arg(0))
	if pid == 0 {
		return int64(m.cur().Pgid)
	}
	target := m.Core.Table.Lookup(pid)
	if target == nil {
		return ret(kerrors.ESRCH)
	}
	return int64(target.Pgid)
}

func (m *Machine) sysSetsid(fr arch.SyscallFrame) int64 {
	p := m.cur()
	// A group leader may not detach into a new session.
	if p.Pgid == p.Pid {
		return ret(kerrors.EPERM)
	}
	p.Sid = p.Pid
	p.Pgid = p.Pid
	p.Tty = nil // a new session has no controlling terminal yet
	return int64(p.Sid)
}

func (m *Machine) sysGetsid(fr arch.SyscallFrame) int64 {
	pid := int(fr.Arg(0))
	if pid == 0 {
		return int64(m.cur().Sid)
	}
	target := m.Core.Table.Lookup(pid)
	if target == nil {
		return ret(kerrors.ESRCH)
	}
	return int64(target.Sid)
}

func (m *Machine) sysTcgetpgrp(fr arch.SyscallFrame) int64 {
	p := m.cur()
	term, err := m.termForFd(p, int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	return int64(term.ForegroundPgid())
}

func (m *Machine) sysTcsetpgrp(fr arch.SyscallFrame) int64 {
	p := m.cur()
	term, err := m.termForFd(p, int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	term.SetForegroundPgid(int(fr.Arg(1)))
	return 0
}

func (m *Machine) termForFd(p *proc.Process, fd int) (*tty.Tty, error) {
	desc, err := p.Fds.Get(fd)
	if err != nil {
		return nil, err
	}
	term, okT := desc.File.(*tty.Tty)
	if !okT {
		return nil, kerrors.ENOTTY
	}
	return term, nil
}

// Memory.

func (m *Machine) sysMmap(fr arch.SyscallFrame) int64 {
	addr, err := m.Core.Mmap(m.cur(), fr.Arg(1), fr.Arg(2), fr.Arg(3))
	if err != nil {
		return ret(err)
	}
	return int64(addr)
}

func (m *Machine) sysCowStats(fr arch.SyscallFrame) int64 {
	p := m.cur()
	st := proc.FaultStats()
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:], st.Faults)
	binary.LittleEndian.PutUint64(buf[8:], st.Copies)
	binary.LittleEndian.PutUint64(buf[16:], st.SoleOwner)
	binary.LittleEndian.PutUint64(buf[24:], st.DemandZero)
	if err := m.Core.CopyOutUser(p, fr.Arg(0), buf); err != nil {
		return ret(err)
	}
	return 0
}

// Files.

func (m *Machine) sysOpen(fr arch.SyscallFrame) int64 {
	p := m.cur()
	path, err := m.Core.ReadUserString(p, fr.Arg(0), maxPathBytes)
	if err != nil {
		return ret(err)
	}
	flags := fr.Arg(1)

	file, err := m.Fsys.Open(path, flags)
	if err != nil {
		return ret(err)
	}
	desc := proc.NewDescription(file, flags&^uint64(fs.OCloexec))
	fd, err := p.Fds.Install(desc, flags&fs.OCloexec != 0)
	if err != nil {
		file.Close()
		return ret(err)
	}
	return int64(fd)
}

func (m *Machine) ioBuf(n uint64) ([]byte, error) {
	if n > maxIoBytes {
		n = maxIoBytes
	}
	return make([]byte, n), nil
}

func (m *Machine) sysRead(fr arch.SyscallFrame) int64 {
	p := m.cur()
	desc, err := p.Fds.Get(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}

	// Background reads from the controlling terminal raise SIGTTIN.
	if term, isTty := desc.File.(*tty.Tty); isTty && p.Tty == term &&
		term.ForegroundPgid() != p.Pgid {
		_ = m.Core.Kill(p, -p.Pgid, signal.SIGTTIN)
		return ret(kerrors.EINTR)
	}

	buf, _ := m.ioBuf(fr.Arg(2))
	n, err := desc.File.Read(buf, desc.Offset, desc.Nonblock())
	if err != nil {
		return ret(err)
	}
	if n > 0 {
		if err := m.Core.CopyOutUser(p, fr.Arg(1), buf[:n]); err != nil {
			return ret(err)
		}
		if desc.Positional() {
			desc.Offset += uint64(n)
		}
	}
	return int64(n)
}

func (m *Machine) sysWrite(fr arch.SyscallFrame) int64 {
	p := m.cur()
	desc, err := p.Fds.Get(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	buf, _ := m.ioBuf(fr.Arg(2))
	if err := m.Core.CopyInUser(p, fr.Arg(1), buf); err != nil {
		return ret(err)
	}

	n, werr := desc.File.Write(buf, desc.Offset, desc.Nonblock())
	if werr != nil {
		if kerrors.ErrnoFromError(werr) == kerrors.EPIPE {
			_ = m.Core.SendSignal(p, signal.SIGPIPE)
		}
		return ret(werr)
	}
	if desc.Positional() {
		desc.Offset += uint64(n)
	}
	return int64(n)
}

func (m *Machine) pipeCommon(outAddr uint64, flags uint64) int64 {
	p := m.cur()
	r, w := ipc.NewPipe(m.Sched, m.signalChecker)

	var open uint64
	if flags&fs.ONonblock != 0 {
		open = fs.ONonblock
	}
	cloexec := flags&fs.OCloexec != 0

	rfd, err := p.Fds.Install(proc.NewDescription(r, open), cloexec)
	if err != nil {
		r.Close()
		w.Close()
		return ret(err)
	}
	wfd, err := p.Fds.Install(proc.NewDescription(w, open), cloexec)
	if err != nil {
		p.Fds.Close(rfd)
		w.Close()
		return ret(err)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(rfd))
	binary.LittleEndian.PutUint32(buf[4:], uint32(wfd))
	if err := m.Core.CopyOutUser(p, outAddr, buf[:]); err != nil {
		p.Fds.Close(rfd)
		p.Fds.Close(wfd)
		return ret(err)
	}
	return 0
}

func (m *Machine) sysFcntl(fr arch.SyscallFrame) int64 {
	p := m.cur()
	fd := int(fr.Arg(0))
	desc, err := p.Fds.Get(fd)
	if err != nil {
		return ret(err)
	}

	switch fr.Arg(1) {
	case proc.FGetfd:
		cl, _ := p.Fds.Cloexec(fd)
		if cl {
			return proc.FdCloexec
		}
		return 0
	case proc.FSetfd:
		return zeroOr(p.Fds.SetCloexec(fd, fr.Arg(2)&proc.FdCloexec != 0))
	case proc.FGetfl:
		return int64(desc.Flags)
	case proc.FSetfl:
		// Only O_NONBLOCK is changeable.
		desc.Flags = (desc.Flags &^ uint64(fs.ONonblock)) | (fr.Arg(2) & fs.ONonblock)
		return 0
	case proc.FDupfd:
		nfd, err := p.Fds.Dup(fd, int(fr.Arg(2)), false)
		if err != nil {
			return ret(err)
		}
		return int64(nfd)
	case proc.FDupfdCloexec:
		nfd, err := p.Fds.Dup(fd, int(fr.Arg(2)), true)
		if err != nil {
			return ret(err)
		}
		return int64(nfd)
	default:
		return ret(kerrors.EINVAL)
	}
}

func zeroOr(err error) int64 {
	if err != nil {
		return ret(err)
	}
	return 0
}

func (m *Machine) sysGetdents64(fr arch.SyscallFrame) int64 {
	p := m.cur()
	desc, err := p.Fds.Get(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	dir, isDir := desc.File.(fs.Dir)
	if !isDir {
		return ret(kerrors.ENOTDIR)
	}

	limit := int(fr.Arg(2))
	if limit > maxIoBytes {
		limit = maxIoBytes
	}
	buf, consumed := fs.EncodeDirents(dir.Entries(), int(desc.Offset), limit)
	if consumed == 0 && len(dir.Entries()) > int(desc.Offset) {
		return ret(kerrors.EINVAL) // buffer too small for one record
	}
	if len(buf) > 0 {
		if err := m.Core.CopyOutUser(p, fr.Arg(1), buf); err != nil {
			return ret(err)
		}
	}
	desc.Offset += uint64(consumed)
	return int64(len(buf))
}

func (m *Machine) sysIoctl(fr arch.SyscallFrame) int64 {
	p := m.cur()
	desc, err := p.Fds.Get(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	ctl, can := desc.File.(fs.IoctlFile)
	if !can {
		return ret(kerrors.ENOTTY)
	}

	cmd := fr.Arg(1)
	v, err := ctl.Ioctl(cmd, fr.Arg(2))
	if err != nil {
		return ret(err)
	}
	// TIOCGPGRP writes the group through the pointer argument.
	if cmd == tty.TiocGPgrp && fr.Arg(2) != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		if err := m.Core.CopyOutUser(p, fr.Arg(2), buf[:]); err != nil {
			return ret(err)
		}
		return 0
	}
	return v
}

// poll events.
const (
	pollIn  = 0x1
	pollOut = 0x4
	pollErr = 0x8
	pollHup = 0x10
)

func (m *Machine) sysPoll(fr arch.SyscallFrame) int64 {
	p := m.cur()
	nfds := int(fr.Arg(1))
	if nfds < 0 || nfds > proc.MaxFds {
		return ret(kerrors.EINVAL)
	}
	addr := fr.Arg(0)
	timeout := int(int64(fr.Arg(2)))

	buf := make([]byte, 8*nfds)
	if err := m.Core.CopyInUser(p, addr, buf); err != nil {
		return ret(err)
	}

	type slot struct {
		fd     int
		events uint16
	}
	slots := make([]slot, nfds)
	for i := range slots {
		slots[i].fd = int(int32(binary.LittleEndian.Uint32(buf[i*8:])))
		slots[i].events = binary.LittleEndian.Uint16(buf[i*8+4:])
	}

	waited := 0
	for {
		readyCount := 0
		for i, s := range slots {
			var revents uint16
			desc, err := p.Fds.Get(s.fd)
			if err != nil {
				revents = pollErr
			} else if pl, can := desc.File.(fs.Pollable); can {
				if s.events&pollIn != 0 && pl.PollIn() {
					revents |= pollIn
				}
				if s.events&pollOut != 0 && pl.PollOut() {
					revents |= pollOut
				}
				if pl.PollHup() {
					revents |= pollHup
				}
			} else {
				// Regular files are always ready.
				revents = s.events & (pollIn | pollOut)
			}
			binary.LittleEndian.PutUint16(buf[i*8+6:], revents)
			if revents != 0 {
				readyCount++
			}
		}

		if readyCount > 0 || timeout == 0 || (timeout > 0 && waited >= timeout) {
			if err := m.Core.CopyOutUser(p, addr, buf); err != nil {
				return ret(err)
			}
			return int64(readyCount)
		}
		if m.Core.SignalPending(p.MainThread) {
			return ret(kerrors.EINTR)
		}
		// Sleep one tick and re-scan.
		m.timerInterrupt()
		m.Sched.Yield()
		waited++
	}
}

// Signals.

func (m *Machine) sysSigaction(fr arch.SyscallFrame) int64 {
	p := m.cur()
	sig := int(fr.Arg(0))
	if !signal.Valid(sig) {
		return ret(kerrors.EINVAL)
	}
	if !signal.Catchable(sig) {
		return ret(kerrors.Wrap(kerrors.ErrUncatchable, kerrors.ErrInvalidArgument, "sigaction"))
	}

	// Old action out-parameter.
	if old := fr.Arg(2); old != 0 {
		act := p.Sig.ActionFor(sig)
		buf := make([]byte, 32)
		binary.LittleEndian.PutUint64(buf[0:], act.Handler)
		binary.LittleEndian.PutUint64(buf[8:], uint64(act.Mask))
		binary.LittleEndian.PutUint64(buf[16:], act.Flags)
		binary.LittleEndian.PutUint64(buf[24:], act.Restorer)
		if err := m.Core.CopyOutUser(p, old, buf); err != nil {
			return ret(err)
		}
	}

	if newAct := fr.Arg(1); newAct != 0 {
		buf := make([]byte, 32)
		if err := m.Core.CopyInUser(p, newAct, buf); err != nil {
			return ret(err)
		}
		p.Sig.SetAction(sig, signal.Action{
			Handler:  binary.LittleEndian.Uint64(buf[0:]),
			Mask:     signal.Set(binary.LittleEndian.Uint64(buf[8:])),
			Flags:    binary.LittleEndian.Uint64(buf[16:]),
			Restorer: binary.LittleEndian.Uint64(buf[24:]),
		})
	}
	return 0
}

func (m *Machine) sysSigprocmask(fr arch.SyscallFrame) int64 {
	p := m.cur()
	how := int(fr.Arg(0))

	old := p.ThreadSig.Blocked
	if setAddr := fr.Arg(1); setAddr != 0 {
		var buf [8]byte
		if err := m.Core.CopyInUser(p, setAddr, buf[:]); err != nil {
			return ret(err)
		}
		set := signal.Set(binary.LittleEndian.Uint64(buf[:]))
		switch how {
		case signal.Block:
			p.ThreadSig.Blocked |= signal.SanitizeMask(set)
		case signal.Unblock:
			p.ThreadSig.Blocked &^= set
		case signal.SetMask:
			p.ThreadSig.Blocked = signal.SanitizeMask(set)
		default:
			return ret(kerrors.EINVAL)
		}
	}
	if oldAddr := fr.Arg(2); oldAddr != 0 {
		if err := m.Core.CopyOutUser(p, oldAddr, le64(uint64(old))); err != nil {
			return ret(err)
		}
	}
	return 0
}

func (m *Machine) sysSigsuspend(fr arch.SyscallFrame) int64 {
	p := m.cur()
	var buf [8]byte
	if err := m.Core.CopyInUser(p, fr.Arg(0), buf[:]); err != nil {
		return ret(err)
	}
	return ret(m.Core.Sigsuspend(p, signal.Set(binary.LittleEndian.Uint64(buf[:]))))
}

// Timers.

func (m *Machine) sysSetitimer(fr arch.SyscallFrame) int64 {
	p := m.cur()
	kind := int(fr.Arg(0))
	if kind != 0 {
		return ret(kerrors.ENOSYS)
	}

	if old := fr.Arg(2); old != 0 {
		if err := m.writeItimer(p, old); err != nil {
			return ret(err)
		}
	}
	buf := make([]byte, 32)
	if err := m.Core.CopyInUser(p, fr.Arg(1), buf); err != nil {
		return ret(err)
	}
	interval := binary.LittleEndian.Uint64(buf[0:])
	value := binary.LittleEndian.Uint64(buf[16:])
	p.Itimer.Arm(value, interval)
	return 0
}

func (m *Machine) sysGetitimer(fr arch.SyscallFrame) int64 {
	p := m.cur()
	if int(fr.Arg(0)) != 0 {
		return ret(kerrors.ENOSYS)
	}
	if err := m.writeItimer(p, fr.Arg(1)); err != nil {
		return ret(err)
	}
	return 0
}

func (m *Machine) writeItimer(p *proc.Process, addr uint64) error {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:], p.Itimer.IntervalUs)
	binary.LittleEndian.PutUint64(buf[16:], p.Itimer.ValueUs)
	return m.Core.CopyOutUser(p, addr, buf)
}

// Sockets.

func (m *Machine) socketFor(fd int) (*socket.Socket, *proc.Description, error) {
	desc, err := m.cur().Fds.Get(fd)
	if err != nil {
		return nil, nil, err
	}
	s, isSock := desc.File.(*socket.Socket)
	if !isSock {
		return nil, nil, kerrors.ENOTSOCK
	}
	return s, desc, nil
}

func (m *Machine) sysSocket(fr arch.SyscallFrame) int64 {
	p := m.cur()
	s, err := m.Net.New(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	fd, err := p.Fds.Install(proc.NewDescription(s, fs.ORdwr), false)
	if err != nil {
		s.Close()
		return ret(err)
	}
	return int64(fd)
}

func (m *Machine) readAddr(fr arch.SyscallFrame) (string, error) {
	n := fr.Arg(2)
	if n > maxPathBytes {
		return "", kerrors.EINVAL
	}
	buf := make([]byte, n)
	if err := m.Core.CopyInUser(m.cur(), fr.Arg(1), buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (m *Machine) sysBind(fr arch.SyscallFrame) int64 {
	s, _, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	addr, err := m.readAddr(fr)
	if err != nil {
		return ret(err)
	}
	return zeroOr(s.Bind(addr))
}

func (m *Machine) sysListen(fr arch.SyscallFrame) int64 {
	s, _, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	return zeroOr(s.Listen(int(fr.Arg(1))))
}

func (m *Machine) sysAccept(fr arch.SyscallFrame) int64 {
	p := m.cur()
	s, desc, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	conn, err := s.Accept(desc.Nonblock())
	if err != nil {
		return ret(err)
	}
	fd, err := p.Fds.Install(proc.NewDescription(conn, fs.ORdwr), false)
	if err != nil {
		conn.Close()
		return ret(err)
	}
	return int64(fd)
}

func (m *Machine) sysConnect(fr arch.SyscallFrame) int64 {
	s, desc, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	addr, err := m.readAddr(fr)
	if err != nil {
		return ret(err)
	}
	return zeroOr(s.Connect(addr, desc.Nonblock()))
}

func (m *Machine) sysSend(fr arch.SyscallFrame) int64 {
	p := m.cur()
	s, desc, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	buf, _ := m.ioBuf(fr.Arg(2))
	if err := m.Core.CopyInUser(p, fr.Arg(1), buf); err != nil {
		return ret(err)
	}
	n, err := s.Send(buf, desc.Nonblock())
	if err != nil {
		return ret(err)
	}
	return int64(n)
}

func (m *Machine) sysRecv(fr arch.SyscallFrame) int64 {
	p := m.cur()
	s, desc, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	buf, _ := m.ioBuf(fr.Arg(2))
	n, err := s.Recv(buf, desc.Nonblock())
	if err != nil {
		return ret(err)
	}
	if n > 0 {
		if err := m.Core.CopyOutUser(p, fr.Arg(1), buf[:n]); err != nil {
			return ret(err)
		}
	}
	return int64(n)
}

func (m *Machine) sysSendto(fr arch.SyscallFrame) int64 {
	p := m.cur()
	s, _, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	buf, _ := m.ioBuf(fr.Arg(2))
	if err := m.Core.CopyInUser(p, fr.Arg(1), buf); err != nil {
		return ret(err)
	}
	addrLen := fr.Arg(4)
	if addrLen > maxPathBytes {
		return ret(kerrors.EINVAL)
	}
	addrBuf := make([]byte, addrLen)
	if err := m.Core.CopyInUser(p, fr.Arg(3), addrBuf); err != nil {
		return ret(err)
	}
	n, err := s.SendTo(string(addrBuf), buf)
	if err != nil {
		return ret(err)
	}
	return int64(n)
}

func (m *Machine) sysRecvfrom(fr arch.SyscallFrame) int64 {
	p := m.cur()
	s, desc, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	buf, _ := m.ioBuf(fr.Arg(2))
	n, _, err := s.RecvFrom(buf, desc.Nonblock())
	if err != nil {
		return ret(err)
	}
	if n > 0 {
		if err := m.Core.CopyOutUser(p, fr.Arg(1), buf[:n]); err != nil {
			return ret(err)
		}
	}
	return int64(n)
}

func (m *Machine) sysShutdown(fr arch.SyscallFrame) int64 {
	s, _, err := m.socketFor(int(fr.Arg(0)))
	if err != nil {
		return ret(err)
	}
	return zeroOr(s.Shutdown(int(fr.Arg(1))))
}
