// Package mem owns physical memory: the frame allocator over the boot
// memory map and the per-frame share-count table that backs
// copy-on-write.
package mem

import (
	"fmt"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/logging"
)

// Frame is a physical frame number. The frame's byte address is
// Frame * arch.PageSize.
type Frame uint64

// Addr returns the physical byte address of the frame.
func (f Frame) Addr() uint64 { return uint64(f) * arch.PageSize }

// FrameContaining returns the frame a physical address falls in.
func FrameContaining(addr uint64) Frame { return Frame(addr / arch.PageSize) }

// Region is one usable-RAM range from the boot memory map.
type Region struct {
	Base uint64
	Size uint64
}

// allocPoison is written over a frame when it is handed out, so a
// caller relying on zeroed frames fails loudly. The allocator contract
// is explicit: frames are not pre-zeroed.
const allocPoison = 0xa5

// Physical is the frame allocator plus the share-count table.
//
// The share count of a frame is exactly the number of present user
// page-table entries, across all address spaces, that map it. A frame
// with share count zero is either free or unreferenced kernel memory
// (page tables, kernel stacks).
type Physical struct {
	arena []byte
	free  []Frame
	refs  []uint32

	totalFrames uint64
	allocated   uint64

	// failAfter < 0 disables injection; otherwise AllocateFrame
	// succeeds failAfter more times and then fails. Drives the OOM
	// resilience tests and the simulate_oom syscall.
	failAfter int
}

// NewPhysical builds the allocator from the boot memory map.
func NewPhysical(memMap []Region) *Physical {
	var top uint64
	for _, r := range memMap {
		if end := r.Base + r.Size; end > top {
			top = end
		}
	}

	p := &Physical{
		arena:     make([]byte, top),
		refs:      make([]uint32, top/arch.PageSize),
		failAfter: -1,
	}

	// Frame 0 stays out of the pool so a zero Frame can mean "none".
	for _, r := range memMap {
		first := (r.Base + arch.PageSize - 1) / arch.PageSize
		last := (r.Base + r.Size) / arch.PageSize
		for n := first; n < last; n++ {
			if n == 0 {
				continue
			}
			p.free = append(p.free, Frame(n))
			p.totalFrames++
		}
	}

	logging.Debug("physical memory initialised",
		"frames", p.totalFrames, "bytes", p.totalFrames*arch.PageSize)
	return p
}

// AllocateFrame hands out a frame from the pool. The frame's bytes are
// not zeroed; callers that need zeroed memory call ZeroFrame.
func (p *Physical) AllocateFrame() (Frame, error) {
	if p.failAfter == 0 {
		return 0, kerrors.Wrap(kerrors.ErrFrameExhausted, kerrors.ErrNoMemory, "allocate_frame")
	}
	if p.failAfter > 0 {
		p.failAfter--
	}
	if len(p.free) == 0 {
		return 0, kerrors.Wrap(kerrors.ErrFrameExhausted, kerrors.ErrNoMemory, "allocate_frame")
	}

	f := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.allocated++

	b := p.FrameBytes(f)
	for i := range b {
		b[i] = allocPoison
	}
	return f, nil
}

// DeallocateFrame returns the frame to the pool. The frame must have a
// zero share count.
func (p *Physical) DeallocateFrame(f Frame) {
	if p.refs[f] != 0 {
		panic(fmt.Sprintf("deallocate_frame: frame %d has share count %d", f, p.refs[f]))
	}
	p.free = append(p.free, f)
	p.allocated--
}

// ZeroFrame clears the frame's bytes.
func (p *Physical) ZeroFrame(f Frame) {
	b := p.FrameBytes(f)
	for i := range b {
		b[i] = 0
	}
}

// IncRef raises the frame's share count by one.
func (p *Physical) IncRef(f Frame) {
	p.refs[f]++
}

// DecRef lowers the frame's share count. Reaching zero releases the
// frame back to the allocator. Returns the remaining count.
func (p *Physical) DecRef(f Frame) uint32 {
	if p.refs[f] == 0 {
		panic(fmt.Sprintf("dec_ref: frame %d share count underflow", f))
	}
	p.refs[f]--
	if p.refs[f] == 0 {
		p.DeallocateFrame(f)
	}
	return p.refs[f]
}

// ShareCount reads the frame's share count.
func (p *Physical) ShareCount(f Frame) uint32 { return p.refs[f] }

// FrameBytes returns the frame's backing bytes.
func (p *Physical) FrameBytes(f Frame) []byte {
	base := f.Addr()
	return p.arena[base : base+arch.PageSize]
}

// Bytes returns length bytes of physical memory at addr. The range
// must not cross the end of the arena.
func (p *Physical) Bytes(addr, length uint64) []byte {
	return p.arena[addr : addr+length]
}

// FreeFrames reports the number of frames left in the pool.
func (p *Physical) FreeFrames() uint64 { return uint64(len(p.free)) }

// TotalFrames reports the pool size at boot.
func (p *Physical) TotalFrames() uint64 { return p.totalFrames }

// AllocatedFrames reports how many frames are currently handed out.
func (p *Physical) AllocatedFrames() uint64 { return p.allocated }

// SetFailAfter arms allocation-failure injection: the next n
// allocations succeed, every one after that fails.
func (p *Physical) SetFailAfter(n int) { p.failAfter = n }

// ClearFailAfter disarms allocation-failure injection.
func (p *Physical) ClearFailAfter() { p.failAfter = -1 }
