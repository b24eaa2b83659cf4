package proc

import (
	"breenix-go/arch"
	"breenix-go/elf"
	kerrors "breenix-go/errors"
	"breenix-go/logging"
	"breenix-go/paging"
)

// TextBase is where synthetic text symbols (handlers, restorers) are
// handed out; the range is never mapped, the addresses are only ever
// program-counter values.
const TextBase = 0x10_0000_0000

// Exec replaces the process image. The target is resolved by pathname
// through the filesystem collaborator; every failure is reported
// before anything about the process mutates. On success the old
// address space is gone, close-on-exec descriptors are closed, user
// handlers are reset, and the registers point at the fresh image's
// entry — exec does not return to the old program.
func (c *Core) Exec(p *Process, path string, argv, envp []string) error {
	blob, err := c.Fs.LookupImage(path)
	if err != nil {
		return err
	}
	img, err := elf.Parse(blob, c.Backend.ElfMachine())
	if err != nil {
		return err
	}

	space, err := paging.NewProcessSpace(c.Master)
	if err != nil {
		return kerrors.WrapWithPid(err, kerrors.ErrNoMemory, "exec", p.Pid)
	}
	if err := paging.VerifyProcessSpace(space, c.Master); err != nil {
		panic(err)
	}

	discard := func(e error) error {
		space.TearDownUser()
		space.Release()
		return e
	}

	brk, err := c.loadImage(space, img, blob)
	if err != nil {
		return discard(err)
	}
	sp, err := c.SetupStack(space, argv, envp)
	if err != nil {
		return discard(err)
	}

	// Point of no return: swap the image in.
	old := p.Space
	p.Space = space
	if c.Current() == p {
		c.Mmu.SetRoot(space.Root())
	}
	old.TearDownUser()
	old.Release()

	p.Fds.CloseExec()
	p.Sig.ResetForExec()
	p.BrkStart, p.Brk = brk, brk
	p.Mappings = nil
	p.MmapNext = paging.MmapBase
	p.Text = make(map[uint64]any)
	p.NextTextAddr = TextBase
	p.ExecPath = path

	regs := &p.MainThread.Regs
	*regs = arch.Regs{IP: img.Entry, SP: sp}

	logging.Debug("exec", "pid", p.Pid, "path", path, "entry", logging.Hex(img.Entry))
	return nil
}

// loadImage maps every PT_LOAD segment with flags derived from its
// permissions, copies the file bytes in, and leaves the BSS remainder
// zeroed. Returns the initial heap break: the first page past the
// highest loaded segment.
func (c *Core) loadImage(space *paging.AddressSpace, img *elf.Image, blob []byte) (uint64, error) {
	var brk uint64
	for _, seg := range img.Segments {
		start := paging.PageBase(seg.Vaddr)
		end := seg.Vaddr + seg.Memsz
		if end > brk {
			brk = end
		}

		for va := start; va < end; va += arch.PageSize {
			if _, _, mapped := space.Translate(va); mapped {
				continue
			}
			frame, err := c.Phys.AllocateFrame()
			if err != nil {
				return 0, kerrors.Wrap(err, kerrors.ErrNoMemory, "load_segment")
			}
			c.Phys.ZeroFrame(frame)
			if err := space.MapPage(va, frame, seg.PageFlags()); err != nil {
				c.Phys.DeallocateFrame(frame)
				return 0, err
			}
		}

		if seg.Filesz > 0 {
			data := blob[seg.Offset : seg.Offset+seg.Filesz]
			if err := c.WriteSpace(space, seg.Vaddr, data); err != nil {
				return 0, err
			}
		}
	}
	return paging.PageBase(brk + arch.PageSize - 1), nil
}
