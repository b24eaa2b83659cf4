package paging

import (
	"breenix-go/arch"
	"breenix-go/mem"
)

// tlbEntry caches one translation.
type tlbEntry struct {
	frame mem.Frame
	flags arch.PageFlags
}

// Tlb models the translation lookaside buffer. Translations served
// from it are whatever was cached at fill time: a mapping change that
// forgets to invalidate keeps serving the stale entry, exactly as the
// hardware would.
type Tlb struct {
	entries map[uint64]tlbEntry

	// hit/miss/full-flush counters, read through Stats
	hits    uint64
	misses  uint64
	flushes uint64
}

// NewTlb returns an empty TLB.
func NewTlb() *Tlb {
	return &Tlb{entries: make(map[uint64]tlbEntry)}
}

// Lookup returns the cached translation for the page containing va.
func (t *Tlb) Lookup(va uint64) (mem.Frame, arch.PageFlags, bool) {
	e, ok := t.entries[PageBase(va)]
	if ok {
		t.hits++
		return e.frame, e.flags, true
	}
	t.misses++
	return 0, 0, false
}

// Insert caches a translation for the page containing va.
func (t *Tlb) Insert(va uint64, frame mem.Frame, flags arch.PageFlags) {
	t.entries[PageBase(va)] = tlbEntry{frame: frame, flags: flags}
}

// FlushPage invalidates the entry for the page containing va.
func (t *Tlb) FlushPage(va uint64) {
	delete(t.entries, PageBase(va))
}

// FlushAll invalidates every entry; this is the root-switch path.
func (t *Tlb) FlushAll() {
	clear(t.entries)
	t.flushes++
}

// Stats reports hit/miss/full-flush counts.
func (t *Tlb) Stats() (hits, misses, flushes uint64) {
	return t.hits, t.misses, t.flushes
}
