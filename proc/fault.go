package proc

import (
	"breenix-go/arch"
	kerrors "breenix-go/errors"
	"breenix-go/logging"
	"breenix-go/paging"
)

// CowStats are the counters the cow_stats syscall reports.
type CowStats struct {
	Faults     uint64
	Copies     uint64
	SoleOwner  uint64
	DemandZero uint64
}

// faultStats accumulates fault-path counters machine-wide.
var faultStats CowStats

// FaultStats returns a snapshot of the fault counters.
func FaultStats() CowStats { return faultStats }

// ResetFaultStats clears the counters (tests).
func ResetFaultStats() { faultStats = CowStats{} }

// HandlePageFault resolves a user page fault against process p. A nil
// return means the access can be retried; an error means the fault is
// genuine and the caller delivers SIGSEGV.
func (c *Core) HandlePageFault(p *Process, f *paging.PageFault) error {
	if !paging.IsUserAddr(f.Addr) {
		return kerrors.EFAULT
	}

	if f.Present {
		if f.Write && f.Flags.Contains(arch.FlagCow) {
			return c.resolveCowFault(p, f.Addr)
		}
		// Present but the permissions genuinely deny the access.
		return kerrors.EFAULT
	}

	return c.resolveDemandFault(p, f.Addr)
}

// resolveDemandFault backs a page of a declared region with a zeroed
// frame.
func (c *Core) resolveDemandFault(p *Process, addr uint64) error {
	flags, ok := p.regionFlags(addr)
	if !ok {
		return kerrors.Wrap(kerrors.ErrUnmappedRegion, kerrors.ErrFault, "page_fault")
	}

	frame, err := c.Phys.AllocateFrame()
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrNoMemory, "demand_page")
	}
	c.Phys.ZeroFrame(frame)
	if err := p.Space.MapPage(paging.PageBase(addr), frame, flags); err != nil {
		c.Phys.DeallocateFrame(frame)
		return err
	}
	faultStats.DemandZero++
	return nil
}

// resolveCowFault handles a write to a cow-marked page.
//
// The ordinary path takes the process-table lock. When the lock is
// already held — signal delivery faulted while writing the signal
// frame to a cow-shared user stack — waiting would deadlock, so the
// handler falls back to manipulating the active address space directly
// through the hardware root register. That fallback is a correctness
// requirement, not an optimisation.
func (c *Core) resolveCowFault(p *Process, addr uint64) error {
	faultStats.Faults++
	addr = paging.PageBase(addr)

	space := p.Space
	if c.Table.Mu.TryLock() {
		defer c.Table.Mu.Unlock()
	} else {
		space = c.Mmu.ActiveSpace()
	}

	frame, flags, ok := space.Translate(addr)
	if !ok || !flags.Contains(arch.FlagCow) {
		// Raced with another resolution; the retry will see the final
		// state.
		return nil
	}

	resolved := flags.Union(arch.FlagWritable).Without(arch.FlagCow)

	// Sole owner: the last reference takes the page back without a
	// copy.
	if c.Phys.ShareCount(frame) == 1 {
		faultStats.SoleOwner++
		return space.ProtectPage(addr, resolved)
	}

	newFrame, err := c.Phys.AllocateFrame()
	if err != nil {
		// Out of frames: the faulting process dies with SIGSEGV; the
		// kernel does not panic.
		return kerrors.Wrap(err, kerrors.ErrNoMemory, "cow_fault")
	}
	copy(c.Phys.FrameBytes(newFrame), c.Phys.FrameBytes(frame))

	if _, err := space.ReplaceLeaf(addr, newFrame, resolved); err != nil {
		c.Phys.DeallocateFrame(newFrame)
		return err
	}
	faultStats.Copies++
	logging.Debug("cow copy", "pid", p.Pid, "addr", logging.Hex(addr))
	return nil
}
