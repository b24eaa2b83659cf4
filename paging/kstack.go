package paging

import (
	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/mem"
)

// Kernel stack geometry: 16 KiB of mapped stack below each top, with
// an unmapped guard page separating neighbours.
const (
	KStackPages = 4
	KStackSize  = KStackPages * arch.PageSize
	kStackSlot  = KStackSize + arch.PageSize
)

// StackAllocator carves per-thread kernel stacks out of one of the
// dedicated upper-half regions. Stacks grow down from the returned
// top; the page below each stack stays unmapped as a guard.
type StackAllocator struct {
	phys   *mem.Physical
	master *AddressSpace
	base   uint64
	limit  uint64
	next   uint64
	freed  []uint64
}

// NewStackAllocator serves stacks from [base, limit); master is the
// kernel address space the mappings land in (and, through upper-half
// sharing, every process space).
func NewStackAllocator(phys *mem.Physical, master *AddressSpace, base, limit uint64) *StackAllocator {
	return &StackAllocator{phys: phys, master: master, base: base, limit: limit, next: base}
}

// Allocate maps a fresh kernel stack and returns its top address.
func (sa *StackAllocator) Allocate() (uint64, error) {
	var slot uint64
	if n := len(sa.freed); n > 0 {
		slot = sa.freed[n-1]
		sa.freed = sa.freed[:n-1]
	} else {
		if sa.next+kStackSlot > sa.limit {
			return 0, kerrors.New(kerrors.ErrNoMemory, "kstack_allocate", "stack region exhausted")
		}
		slot = sa.next
		sa.next += kStackSlot
	}

	// slot+0 is the guard page; the stack occupies the pages above it.
	for i := 0; i < KStackPages; i++ {
		frame, err := sa.phys.AllocateFrame()
		if err != nil {
			sa.unmapSlot(slot, i)
			sa.freed = append(sa.freed, slot)
			return 0, kerrors.Wrap(err, kerrors.ErrNoMemory, "kstack_allocate")
		}
		sa.phys.ZeroFrame(frame)
		va := slot + arch.PageSize + uint64(i)*arch.PageSize
		if err := sa.master.MapPage(va, frame, arch.KernelData()); err != nil {
			sa.phys.DeallocateFrame(frame)
			sa.unmapSlot(slot, i)
			sa.freed = append(sa.freed, slot)
			return 0, err
		}
	}
	return slot + kStackSlot, nil
}

// Free unmaps the stack whose top was returned by Allocate and
// releases its frames.
func (sa *StackAllocator) Free(top uint64) {
	slot := top - kStackSlot
	sa.unmapSlot(slot, KStackPages)
	sa.freed = append(sa.freed, slot)
}

func (sa *StackAllocator) unmapSlot(slot uint64, mapped int) {
	for i := 0; i < mapped; i++ {
		va := slot + arch.PageSize + uint64(i)*arch.PageSize
		frame, _, ok := sa.master.Translate(va)
		if !ok {
			continue
		}
		if err := sa.master.UnmapPage(va); err == nil {
			sa.phys.DeallocateFrame(frame)
		}
	}
}

// GuardPage returns the guard page address for a stack top.
func GuardPage(top uint64) uint64 { return top - kStackSlot }
