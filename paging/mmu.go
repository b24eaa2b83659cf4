package paging

import (
	"fmt"

	"breenix-go/arch"
	"breenix-go/mem"
)

// PageFault describes a failed translation or permission check. It is
// the value the trap path hands to the fault handler.
type PageFault struct {
	// Addr is the faulting virtual address.
	Addr uint64
	// Write is true for a store, false for a load.
	Write bool
	// Present is true when a leaf existed but its permissions denied
	// the access (the CoW case), false for a non-present page.
	Present bool
	// Flags is the leaf's flag set when Present.
	Flags arch.PageFlags
}

func (f *PageFault) Error() string {
	kind := "non-present"
	if f.Present {
		kind = "protection"
	}
	op := "read"
	if f.Write {
		op = "write"
	}
	return fmt.Sprintf("page fault: %s %s at %#x", kind, op, f.Addr)
}

// Mmu models the translation unit: the active root register (CR3 /
// TTBR0_EL1) and the TLB in front of the tables. All user-memory
// access goes through it, so permission bits and stale TLB entries
// behave as they would on hardware.
type Mmu struct {
	phys   *mem.Physical
	format arch.PageTableFormat
	tlb    *Tlb
	active mem.Frame
}

// NewMmu builds the translation unit.
func NewMmu(phys *mem.Physical, format arch.PageTableFormat, tlb *Tlb) *Mmu {
	return &Mmu{phys: phys, format: format, tlb: tlb}
}

// Tlb exposes the TLB for flush operations.
func (m *Mmu) Tlb() *Tlb { return m.tlb }

// ReadRoot returns the active root frame.
func (m *Mmu) ReadRoot() mem.Frame { return m.active }

// SetRoot switches the active address space. On weakly-ordered
// architectures the preceding table writes are fenced before the root
// register write; the TLB is flushed of the old space's entries.
func (m *Mmu) SetRoot(root mem.Frame) {
	m.active = root
	m.tlb.FlushAll()
}

// ActiveSpace wraps the active root as an address space. This is the
// direct path the lock-held CoW fallback uses.
func (m *Mmu) ActiveSpace() *AddressSpace {
	return FromRoot(m.phys, m.format, m.tlb, m.active)
}

// translate serves the page translation for va, from the TLB when
// cached, otherwise walking the active tables and filling the TLB.
func (m *Mmu) translate(va uint64) (mem.Frame, arch.PageFlags, bool) {
	if frame, flags, ok := m.tlb.Lookup(va); ok {
		return frame, flags, true
	}
	frame, flags, ok := m.ActiveSpace().Translate(va)
	if !ok {
		return 0, 0, false
	}
	m.tlb.Insert(va, frame, flags)
	return frame, flags, true
}

// Access checks one page access and returns the backing frame.
// User-half addresses must be user accessible; a store needs the
// hardware writable bit. Denial comes back as *PageFault.
func (m *Mmu) Access(va uint64, write bool) (mem.Frame, error) {
	frame, flags, ok := m.translate(va)
	if !ok {
		return 0, &PageFault{Addr: va, Write: write, Present: false}
	}
	if IsUserAddr(va) && !flags.Contains(arch.FlagUser) {
		return 0, &PageFault{Addr: va, Write: write, Present: true, Flags: flags}
	}
	if write && !flags.Contains(arch.FlagWritable) {
		return 0, &PageFault{Addr: va, Write: true, Present: true, Flags: flags}
	}
	return frame, nil
}

// CopyIn reads len(buf) bytes of user memory starting at va. A failed
// page access aborts with *PageFault; the caller resolves and retries.
func (m *Mmu) CopyIn(va uint64, buf []byte) error {
	done := 0
	for done < len(buf) {
		frame, err := m.Access(va+uint64(done), false)
		if err != nil {
			return err
		}
		off := PageOffset(va + uint64(done))
		n := copy(buf[done:], m.phys.FrameBytes(frame)[off:])
		done += n
	}
	return nil
}

// CopyOut writes data into user memory starting at va.
func (m *Mmu) CopyOut(va uint64, data []byte) error {
	done := 0
	for done < len(data) {
		frame, err := m.Access(va+uint64(done), true)
		if err != nil {
			return err
		}
		off := PageOffset(va + uint64(done))
		n := copy(m.phys.FrameBytes(frame)[off:], data[done:])
		done += n
	}
	return nil
}

// ReadU64 reads a little-endian quadword from user memory.
func (m *Mmu) ReadU64(va uint64) (uint64, error) {
	var b [8]byte
	if err := m.CopyIn(va, b[:]); err != nil {
		return 0, err
	}
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56, nil
}

// WriteU64 writes a little-endian quadword to user memory.
func (m *Mmu) WriteU64(va uint64, v uint64) error {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return m.CopyOut(va, b[:])
}
