package paging

import (
	"encoding/binary"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/mem"
)

// AddressSpace is one four-level page-table tree. Tables live in
// physical memory; the root frame is what a process's CR3/TTBR0 would
// hold.
type AddressSpace struct {
	phys *mem.Physical
	fmt  arch.PageTableFormat
	tlb  *Tlb
	root mem.Frame
}

// NewAddressSpace allocates an empty root table.
func NewAddressSpace(phys *mem.Physical, format arch.PageTableFormat, tlb *Tlb) (*AddressSpace, error) {
	root, err := phys.AllocateFrame()
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrNoMemory, "new_address_space")
	}
	phys.ZeroFrame(root)
	return &AddressSpace{phys: phys, fmt: format, tlb: tlb, root: root}, nil
}

// NewProcessSpace allocates a root whose kernel half shares the
// master's next-level tables by reference: the upper-half top-level
// entries are copied verbatim, so any structural change to the kernel
// half is observed by every process without copying.
func NewProcessSpace(master *AddressSpace) (*AddressSpace, error) {
	as, err := NewAddressSpace(master.phys, master.fmt, master.tlb)
	if err != nil {
		return nil, err
	}
	src := master.phys.FrameBytes(master.root)
	dst := master.phys.FrameBytes(as.root)
	copy(dst[UserSlots*8:], src[UserSlots*8:])
	return as, nil
}

// FromRoot wraps an existing root frame. The CoW fallback path uses it
// to manipulate the active address space directly through the hardware
// root register without touching the process table.
func FromRoot(phys *mem.Physical, format arch.PageTableFormat, tlb *Tlb, root mem.Frame) *AddressSpace {
	return &AddressSpace{phys: phys, fmt: format, tlb: tlb, root: root}
}

// Root returns the root table's frame.
func (as *AddressSpace) Root() mem.Frame { return as.root }

func (as *AddressSpace) readEntry(table mem.Frame, idx int) uint64 {
	b := as.phys.FrameBytes(table)
	return binary.LittleEndian.Uint64(b[idx*8:])
}

func (as *AddressSpace) writeEntry(table mem.Frame, idx int, desc uint64) {
	b := as.phys.FrameBytes(table)
	binary.LittleEndian.PutUint64(b[idx*8:], desc)
}

// TopEntry reads a top-level descriptor; the contract checks use it.
func (as *AddressSpace) TopEntry(slot int) uint64 { return as.readEntry(as.root, slot) }

// ensureTable returns the next-level table behind table[idx],
// allocating and linking a zeroed one if the slot is empty.
func (as *AddressSpace) ensureTable(table mem.Frame, idx int) (mem.Frame, error) {
	desc := as.readEntry(table, idx)
	if as.fmt.IsPresent(desc) {
		return mem.FrameContaining(as.fmt.NextTable(desc)), nil
	}
	next, err := as.phys.AllocateFrame()
	if err != nil {
		return 0, kerrors.Wrap(err, kerrors.ErrNoMemory, "ensure_table")
	}
	as.phys.ZeroFrame(next)
	as.writeEntry(table, idx, as.fmt.EncodeTable(next.Addr()))
	return next, nil
}

// walkToLeafTable descends to the level-3 table for va. When create is
// false, a missing intermediate returns ErrNotMapped.
func (as *AddressSpace) walkToLeafTable(va uint64, create bool) (mem.Frame, error) {
	table := as.root
	for level := 0; level < arch.PageLevels-1; level++ {
		idx := PageIndex(va, level)
		if create {
			next, err := as.ensureTable(table, idx)
			if err != nil {
				return 0, err
			}
			table = next
			continue
		}
		desc := as.readEntry(table, idx)
		if !as.fmt.IsPresent(desc) {
			return 0, kerrors.ErrNotMapped
		}
		table = mem.FrameContaining(as.fmt.NextTable(desc))
	}
	return table, nil
}

// MapPage installs a leaf mapping va to frame with flags, allocating
// intermediate tables as needed. A user mapping raises the frame's
// share count; the affected TLB entry is invalidated.
func (as *AddressSpace) MapPage(va uint64, frame mem.Frame, flags arch.PageFlags) error {
	leafTable, err := as.walkToLeafTable(va, true)
	if err != nil {
		return err
	}
	idx := PageIndex(va, arch.PageLevels-1)
	if as.fmt.IsPresent(as.readEntry(leafTable, idx)) {
		return kerrors.WrapWithDetail(kerrors.ErrAlreadyMapped, kerrors.ErrInvalidState, "map_page", "")
	}
	as.writeEntry(leafTable, idx, as.fmt.EncodeLeaf(frame.Addr(), flags))
	if flags.Contains(arch.FlagUser) {
		as.phys.IncRef(frame)
	}
	as.tlb.FlushPage(va)
	return nil
}

// UnmapPage clears the leaf for va, lowers the share count of a user
// frame, invalidates the TLB entry, and frees intermediate tables that
// become empty.
func (as *AddressSpace) UnmapPage(va uint64) error {
	var path [arch.PageLevels - 1]mem.Frame
	table := as.root
	for level := 0; level < arch.PageLevels-1; level++ {
		path[level] = table
		desc := as.readEntry(table, PageIndex(va, level))
		if !as.fmt.IsPresent(desc) {
			return kerrors.ErrNotMapped
		}
		table = mem.FrameContaining(as.fmt.NextTable(desc))
	}

	idx := PageIndex(va, arch.PageLevels-1)
	desc := as.readEntry(table, idx)
	if !as.fmt.IsPresent(desc) {
		return kerrors.ErrNotMapped
	}
	frameAddr, flags := as.fmt.DecodeLeaf(desc)
	as.writeEntry(table, idx, 0)
	if flags.Contains(arch.FlagUser) {
		as.phys.DecRef(mem.FrameContaining(frameAddr))
	}
	as.tlb.FlushPage(va)

	// Prune now-empty tables bottom-up. The root is never freed, and a
	// kernel-half top-level entry is never cleared: process roots
	// reference the table behind it by construction.
	for level := arch.PageLevels - 2; level >= 0; level-- {
		if !as.tableEmpty(table) {
			break
		}
		if level == 0 && IsKernelAddr(va) {
			break
		}
		parent := path[level]
		as.writeEntry(parent, PageIndex(va, level), 0)
		as.phys.DeallocateFrame(table)
		table = parent
	}
	return nil
}

func (as *AddressSpace) tableEmpty(table mem.Frame) bool {
	b := as.phys.FrameBytes(table)
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Translate walks the tree for va without consulting the TLB.
func (as *AddressSpace) Translate(va uint64) (mem.Frame, arch.PageFlags, bool) {
	leafTable, err := as.walkToLeafTable(va, false)
	if err != nil {
		return 0, 0, false
	}
	desc := as.readEntry(leafTable, PageIndex(va, arch.PageLevels-1))
	if !as.fmt.IsPresent(desc) {
		return 0, 0, false
	}
	frameAddr, flags := as.fmt.DecodeLeaf(desc)
	return mem.FrameContaining(frameAddr), flags, true
}

// ProtectPage rewrites the leaf flags for va, keeping the frame, and
// invalidates the TLB entry. This is the CoW-marking and mprotect
// primitive; share counts do not change.
func (as *AddressSpace) ProtectPage(va uint64, flags arch.PageFlags) error {
	leafTable, err := as.walkToLeafTable(va, false)
	if err != nil {
		return err
	}
	idx := PageIndex(va, arch.PageLevels-1)
	desc := as.readEntry(leafTable, idx)
	if !as.fmt.IsPresent(desc) {
		return kerrors.ErrNotMapped
	}
	frameAddr, _ := as.fmt.DecodeLeaf(desc)
	as.writeEntry(leafTable, idx, as.fmt.EncodeLeaf(frameAddr, flags))
	as.tlb.FlushPage(va)
	return nil
}

// ReplaceLeaf swaps the frame behind va: the new frame is installed
// with flags and its share count raised, the old frame's count is
// lowered (freeing it at zero). This is the CoW copy commit.
func (as *AddressSpace) ReplaceLeaf(va uint64, newFrame mem.Frame, flags arch.PageFlags) (mem.Frame, error) {
	leafTable, err := as.walkToLeafTable(va, false)
	if err != nil {
		return 0, err
	}
	idx := PageIndex(va, arch.PageLevels-1)
	desc := as.readEntry(leafTable, idx)
	if !as.fmt.IsPresent(desc) {
		return 0, kerrors.ErrNotMapped
	}
	oldAddr, oldFlags := as.fmt.DecodeLeaf(desc)
	oldFrame := mem.FrameContaining(oldAddr)

	if flags.Contains(arch.FlagUser) {
		as.phys.IncRef(newFrame)
	}
	as.writeEntry(leafTable, idx, as.fmt.EncodeLeaf(newFrame.Addr(), flags))
	if oldFlags.Contains(arch.FlagUser) {
		as.phys.DecRef(oldFrame)
	}
	as.tlb.FlushPage(va)
	return oldFrame, nil
}

// WalkUser visits every present leaf in the user half, in address
// order.
func (as *AddressSpace) WalkUser(visit func(va uint64, frame mem.Frame, flags arch.PageFlags)) {
	as.walkUserTable(as.root, 0, 0, visit)
}

func (as *AddressSpace) walkUserTable(table mem.Frame, level int, base uint64, visit func(uint64, mem.Frame, arch.PageFlags)) {
	limit := arch.EntriesPerTable
	if level == 0 {
		limit = UserSlots
	}
	span := uint64(1) << uint(arch.PageShift+arch.IndexBits*(arch.PageLevels-1-level))
	for i := 0; i < limit; i++ {
		desc := as.readEntry(table, i)
		if !as.fmt.IsPresent(desc) {
			continue
		}
		va := base + uint64(i)*span
		if level == arch.PageLevels-1 {
			frameAddr, flags := as.fmt.DecodeLeaf(desc)
			visit(va, mem.FrameContaining(frameAddr), flags)
			continue
		}
		as.walkUserTable(mem.FrameContaining(as.fmt.NextTable(desc)), level+1, va, visit)
	}
}

// TearDownUser releases the whole user half: every mapped user frame's
// share count drops by one, and all user-half intermediate tables are
// freed. The kernel half is untouched.
func (as *AddressSpace) TearDownUser() {
	as.tearDownTable(as.root, 0)
	as.tlb.FlushAll()
}

func (as *AddressSpace) tearDownTable(table mem.Frame, level int) {
	limit := arch.EntriesPerTable
	if level == 0 {
		limit = UserSlots
	}
	for i := 0; i < limit; i++ {
		desc := as.readEntry(table, i)
		if !as.fmt.IsPresent(desc) {
			continue
		}
		if level == arch.PageLevels-1 {
			frameAddr, flags := as.fmt.DecodeLeaf(desc)
			if flags.Contains(arch.FlagUser) {
				as.phys.DecRef(mem.FrameContaining(frameAddr))
			}
		} else {
			next := mem.FrameContaining(as.fmt.NextTable(desc))
			as.tearDownTable(next, level+1)
			as.phys.DeallocateFrame(next)
		}
		as.writeEntry(table, i, 0)
	}
}

// Release frees the root table itself. TearDownUser must have run; the
// kernel half's next-level tables are shared and stay alive.
func (as *AddressSpace) Release() {
	as.phys.DeallocateFrame(as.root)
	as.root = 0
}

// CountUserPages returns the number of present user-half leaves and
// how many of them are cow-marked.
func (as *AddressSpace) CountUserPages() (total, cow uint64) {
	as.WalkUser(func(_ uint64, _ mem.Frame, flags arch.PageFlags) {
		total++
		if flags.Contains(arch.FlagCow) {
			cow++
		}
	})
	return total, cow
}
