// Package paging implements the four-level page-table engine: table
// construction and walking inside physical memory, the portable
// flag vocabulary translated through the architecture's descriptor
// codec, the TLB model, and the kernel-layout contract checks.
package paging

import "breenix-go/arch"

// Top-level (level 0) slot assignments. Slots 0..255 are the user
// half; 256..511 are the kernel half, shared by reference between the
// master kernel root and every process root.
const (
	// UserSlots is the number of user-half top-level slots.
	UserSlots = 256

	// PhysMapSlot maps all of physical memory at a fixed offset; the
	// kernel reads and writes page tables and user frames through it.
	PhysMapSlot = 256

	// KernelStackSlot holds every kernel thread stack.
	KernelStackSlot = 402

	// IstStackSlot holds the interrupt-stack-table stacks. It must
	// resolve to a different next-level table than KernelStackSlot;
	// sharing them corrupts stacks on the exception path.
	IstStackSlot = 403
)

// slotBase returns the canonical virtual address of a top-level slot.
func slotBase(slot uint64) uint64 {
	va := slot << 39
	if slot >= UserSlots {
		va |= 0xffff_0000_0000_0000
	}
	return va
}

// Fixed virtual regions derived from the slot assignments.
var (
	// PhysMapBase is the start of the direct physical-memory map.
	PhysMapBase = slotBase(PhysMapSlot)

	// KernelStackBase/KernelStackEnd bound the kernel-stack region.
	KernelStackBase = slotBase(KernelStackSlot)
	KernelStackEnd  = slotBase(KernelStackSlot + 1)

	// IstStackBase/IstStackEnd bound the IST-stack region.
	IstStackBase = slotBase(IstStackSlot)
	IstStackEnd  = slotBase(IstStackSlot + 1)
)

// User-space layout. The load base is where hello-world style images
// link; the stack grows down from UserStackTop with a demand-paged
// growth window; mmap carves from MmapBase upward.
const (
	UserLoadBase  = 0x40_0000
	UserStackTop  = 0x0000_7fff_ffff_0000
	UserStackMax  = 8 << 20
	UserStackInit = 64 << 10
	MmapBase      = 0x0000_7f00_0000_0000
)

// PageIndex returns the table index for va at the given level
// (0 = top).
func PageIndex(va uint64, level int) int {
	shift := uint(arch.PageShift + arch.IndexBits*(arch.PageLevels-1-level))
	return int((va >> shift) & arch.IndexMask)
}

// PageBase masks va down to its page base.
func PageBase(va uint64) uint64 { return va &^ uint64(arch.PageSize-1) }

// PageOffset returns the offset of va inside its page.
func PageOffset(va uint64) uint64 { return va & uint64(arch.PageSize-1) }

// IsUserAddr reports whether va falls in the user half (canonical
// lower half, top-level slots 0..255).
func IsUserAddr(va uint64) bool { return va < 1<<47 }

// IsKernelAddr reports whether va falls in the kernel half.
func IsKernelAddr(va uint64) bool { return !IsUserAddr(va) }
