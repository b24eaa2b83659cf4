package proc

import (
	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/logging"
	"breenix-go/mem"
	"breenix-go/paging"
)

// Fork duplicates the calling process: a new PCB and thread, the
// address space shared page-by-page under copy-on-write, the fd table
// shared by description, signal state and group/session identity
// inherited. cont is the program code the child thread runs.
//
// Observable results: the caller's frame gets the child pid, the
// child's frame gets zero; the syscall layer writes both.
func (c *Core) Fork(parent *Process, cont any) (*Process, error) {
	c.Table.Mu.Lock()
	defer c.Table.Mu.Unlock()

	space, err := paging.NewProcessSpace(c.Master)
	if err != nil {
		return nil, kerrors.WrapWithPid(err, kerrors.ErrNoMemory, "fork", parent.Pid)
	}
	if err := paging.VerifyProcessSpace(space, c.Master); err != nil {
		panic(err)
	}

	// The text table is copied, not shared: both sides keep handing
	// out symbol addresses from the same point independently.
	text := make(map[uint64]any, len(parent.Text))
	for addr, fn := range parent.Text {
		text[addr] = fn
	}

	child := &Process{
		Pid:          c.Table.AllocPid(),
		Ppid:         parent.Pid,
		Pgid:         parent.Pgid,
		Sid:          parent.Sid,
		Parent:       parent,
		Space:        space,
		Fds:          parent.Fds.CloneForFork(),
		Sig:          parent.Sig.CloneForFork(),
		ThreadSig:    parent.ThreadSig,
		BrkStart:     parent.BrkStart,
		Brk:          parent.Brk,
		MmapNext:     parent.MmapNext,
		Tty:          parent.Tty,
		Text:         text,
		NextTextAddr: parent.NextTextAddr,
		ExecPath:     parent.ExecPath,
		Continuation: cont,
	}
	child.Mappings = append([]Mapping(nil), parent.Mappings...)

	if err := c.cloneUserPages(parent, child); err != nil {
		space.TearDownUser()
		space.Release()
		return nil, kerrors.WrapWithPid(err, kerrors.ErrNoMemory, "fork", parent.Pid)
	}

	child.MainThread = c.SpawnUserThread(child)
	if child.MainThread == nil {
		space.TearDownUser()
		space.Release()
		child.Fds.CloseAll()
		return nil, kerrors.WrapWithPid(kerrors.ErrFrameExhausted, kerrors.ErrNoMemory, "fork", parent.Pid)
	}
	child.MainThread.Regs = parent.MainThread.Regs

	parent.Children = append(parent.Children, child)
	c.Table.Insert(child)

	logging.Debug("fork", "parent", parent.Pid, "child", child.Pid)
	return child, nil
}

// cloneUserPages installs the parent's user leaves into the child.
// Writable pages (and pages already cow-marked by an earlier fork) are
// shared with the cow-marker set in both parent and child; pure
// read-only pages (text, rodata) are shared as-is without the marker.
// Each child install raises the frame's share count by one, and
// ProtectPage invalidates the parent's TLB entry for every page it
// downgrades.
func (c *Core) cloneUserPages(parent, child *Process) error {
	type entry struct {
		va    uint64
		frame mem.Frame
		flags arch.PageFlags
	}
	var pages []entry
	parent.Space.WalkUser(func(va uint64, frame mem.Frame, flags arch.PageFlags) {
		pages = append(pages, entry{va: va, frame: frame, flags: flags})
	})

	for _, pg := range pages {
		shared := pg.flags
		if pg.flags.Contains(arch.FlagWritable) || pg.flags.Contains(arch.FlagCow) {
			shared = pg.flags.Union(arch.FlagCow)
			if !pg.flags.Contains(arch.FlagCow) {
				if err := parent.Space.ProtectPage(pg.va, shared); err != nil {
					return err
				}
			}
		}
		if err := child.Space.MapPage(pg.va, pg.frame, shared); err != nil {
			return err
		}
	}
	return nil
}
