package proc

import (
	"errors"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/paging"
)

// mmap protection bits.
const (
	ProtRead  = 1
	ProtWrite = 2
	ProtExec  = 4
)

// mmap flags; only anonymous private mappings are supported.
const (
	MapPrivate   = 0x02
	MapAnonymous = 0x20
)

// protFlags translates PROT_* bits to mapping flags.
func protFlags(prot uint64) arch.PageFlags {
	flags := arch.FlagPresent | arch.FlagUser
	if prot&ProtWrite != 0 {
		flags |= arch.FlagWritable
	}
	if prot&ProtExec == 0 {
		flags |= arch.FlagNoExecute
	}
	return flags
}

// regionFlags reports whether addr falls in a declared demand-paged
// region (stack growth window, heap, anonymous mmap) and the flags a
// freshly faulted page there gets.
func (p *Process) regionFlags(addr uint64) (arch.PageFlags, bool) {
	if addr >= paging.UserStackTop-paging.UserStackMax && addr < paging.UserStackTop {
		return arch.UserData(), true
	}
	if addr >= p.BrkStart && addr < p.Brk {
		return arch.UserData(), true
	}
	for _, m := range p.Mappings {
		if addr >= m.Start && addr < m.End {
			return m.Flags, true
		}
	}
	return 0, false
}

// CopyOutUser writes into the process's user memory, resolving page
// faults (demand paging and CoW) along the way. The process must be
// the current one: the access goes through the active translation
// unit.
func (c *Core) CopyOutUser(p *Process, va uint64, data []byte) error {
	if !paging.IsUserAddr(va) || !paging.IsUserAddr(va+uint64(len(data))) {
		return kerrors.EFAULT
	}
	for {
		err := c.Mmu.CopyOut(va, data)
		if err == nil {
			return nil
		}
		var pf *paging.PageFault
		if !errors.As(err, &pf) {
			return err
		}
		if ferr := c.HandlePageFault(p, pf); ferr != nil {
			return ferr
		}
	}
}

// CopyInUser reads from the process's user memory with fault
// resolution.
func (c *Core) CopyInUser(p *Process, va uint64, buf []byte) error {
	if !paging.IsUserAddr(va) || !paging.IsUserAddr(va+uint64(len(buf))) {
		return kerrors.EFAULT
	}
	for {
		err := c.Mmu.CopyIn(va, buf)
		if err == nil {
			return nil
		}
		var pf *paging.PageFault
		if !errors.As(err, &pf) {
			return err
		}
		if ferr := c.HandlePageFault(p, pf); ferr != nil {
			return ferr
		}
	}
}

// ReadUserString reads a NUL-terminated string, bounded at max bytes.
func (c *Core) ReadUserString(p *Process, va uint64, max int) (string, error) {
	var out []byte
	for len(out) < max {
		var b [1]byte
		if err := c.CopyInUser(p, va+uint64(len(out)), b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return "", kerrors.EINVAL
}

// Brk implements the heap break: addr zero queries, growth extends the
// demand-paged heap region, shrinking unmaps the abandoned pages.
func (c *Core) Brk(p *Process, addr uint64) uint64 {
	if addr == 0 {
		return p.Brk
	}
	if addr < p.BrkStart || addr >= paging.MmapBase {
		return p.Brk
	}
	if addr < p.Brk {
		for va := paging.PageBase(addr + arch.PageSize - 1); va < p.Brk; va += arch.PageSize {
			if _, _, ok := p.Space.Translate(va); ok {
				_ = p.Space.UnmapPage(va)
			}
		}
	}
	p.Brk = addr
	return p.Brk
}

// Mmap carves an anonymous private region. Only length and prot are
// honoured; a non-zero addr hint is ignored.
func (c *Core) Mmap(p *Process, length, prot, flags uint64) (uint64, error) {
	if length == 0 {
		return 0, kerrors.EINVAL
	}
	if flags&MapAnonymous == 0 || flags&MapPrivate == 0 {
		return 0, kerrors.Wrap(kerrors.ENOSYS, kerrors.ErrNotSupported, "mmap")
	}
	length = (length + arch.PageSize - 1) &^ uint64(arch.PageSize-1)

	start := p.MmapNext
	p.MmapNext += length
	p.Mappings = append(p.Mappings, Mapping{Start: start, End: start + length, Flags: protFlags(prot)})
	return start, nil
}

// Munmap removes a region and any pages faulted into it.
func (c *Core) Munmap(p *Process, addr, length uint64) error {
	if paging.PageOffset(addr) != 0 || length == 0 {
		return kerrors.EINVAL
	}
	length = (length + arch.PageSize - 1) &^ uint64(arch.PageSize-1)
	end := addr + length

	kept := p.Mappings[:0]
	for _, m := range p.Mappings {
		if m.Start >= addr && m.End <= end {
			continue
		}
		kept = append(kept, m)
	}
	p.Mappings = kept

	for va := addr; va < end; va += arch.PageSize {
		if _, _, ok := p.Space.Translate(va); ok {
			_ = p.Space.UnmapPage(va)
		}
	}
	return nil
}

// Mprotect changes a region's protection and rewrites any present
// leaves. A cow-marked page given a writable protection keeps its
// marker: the write permission lands when the fault resolves. A
// read-only protection drops the marker.
func (c *Core) Mprotect(p *Process, addr, length, prot uint64) error {
	if paging.PageOffset(addr) != 0 || length == 0 {
		return kerrors.EINVAL
	}
	length = (length + arch.PageSize - 1) &^ uint64(arch.PageSize-1)
	end := addr + length

	found := false
	for i := range p.Mappings {
		m := &p.Mappings[i]
		if addr >= m.Start && end <= m.End {
			m.Flags = protFlags(prot)
			found = true
			break
		}
	}
	if !found {
		// The heap and stack regions accept mprotect too.
		if _, ok := p.regionFlags(addr); !ok {
			return kerrors.EINVAL
		}
	}

	for va := addr; va < end; va += arch.PageSize {
		_, old, ok := p.Space.Translate(va)
		if !ok {
			continue
		}
		flags := protFlags(prot)
		if old.Contains(arch.FlagCow) && flags.Contains(arch.FlagWritable) {
			flags = flags.Union(arch.FlagCow)
		}
		if err := p.Space.ProtectPage(va, flags); err != nil {
			return err
		}
	}
	return nil
}

// WriteSpace copies data into space at va through the page tables,
// without the TLB or fault handling; every page in the range must be
// mapped. The loader and stack builder use it so exec can populate a
// not-yet-active address space.
func (c *Core) WriteSpace(space *paging.AddressSpace, va uint64, data []byte) error {
	done := 0
	for done < len(data) {
		frame, _, ok := space.Translate(va + uint64(done))
		if !ok {
			return kerrors.ErrNotMapped
		}
		off := paging.PageOffset(va + uint64(done))
		n := copy(c.Phys.FrameBytes(frame)[off:], data[done:])
		done += n
	}
	return nil
}

// SetupStack maps the initial user stack pages in space and writes the
// argument and environment vectors. Returns the initial stack pointer.
//
// Layout, from the top down: the argv/envp strings, then NUL-padded
// alignment, then envp pointers (NULL-terminated), argv pointers
// (NULL-terminated), and argc at the final stack pointer.
func (c *Core) SetupStack(space *paging.AddressSpace, argv, envp []string) (uint64, error) {
	for i := uint64(0); i < paging.UserStackInit/arch.PageSize; i++ {
		va := paging.UserStackTop - (i+1)*arch.PageSize
		frame, err := c.Phys.AllocateFrame()
		if err != nil {
			return 0, kerrors.Wrap(err, kerrors.ErrNoMemory, "setup_stack")
		}
		c.Phys.ZeroFrame(frame)
		if err := space.MapPage(va, frame, arch.UserData()); err != nil {
			c.Phys.DeallocateFrame(frame)
			return 0, err
		}
	}

	sp := uint64(paging.UserStackTop)

	writeBytes := func(data []byte) (uint64, error) {
		sp -= uint64(len(data))
		return sp, c.WriteSpace(space, sp, data)
	}

	strPtrs := func(items []string) ([]uint64, error) {
		ptrs := make([]uint64, 0, len(items)+1)
		for _, s := range items {
			addr, err := writeBytes(append([]byte(s), 0))
			if err != nil {
				return nil, err
			}
			ptrs = append(ptrs, addr)
		}
		return append(ptrs, 0), nil
	}

	envPtrs, err := strPtrs(envp)
	if err != nil {
		return 0, err
	}
	argPtrs, err := strPtrs(argv)
	if err != nil {
		return 0, err
	}

	sp &^= 0xf

	writeVec := func(ptrs []uint64) error {
		for i := len(ptrs) - 1; i >= 0; i-- {
			sp -= 8
			var b [8]byte
			for j := 0; j < 8; j++ {
				b[j] = byte(ptrs[i] >> (8 * j))
			}
			if err := c.WriteSpace(space, sp, b[:]); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeVec(envPtrs); err != nil {
		return 0, err
	}
	if err := writeVec(argPtrs); err != nil {
		return 0, err
	}

	sp -= 8
	var argc [8]byte
	argc[0] = byte(len(argv))
	if err := c.WriteSpace(space, sp, argc[:]); err != nil {
		return 0, err
	}
	return sp, nil
}
