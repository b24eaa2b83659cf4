package mem

import (
	"errors"
	"testing"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
)

func testPhysical(t *testing.T, frames uint64) *Physical {
	t.Helper()
	// One region starting above frame 0.
	return NewPhysical([]Region{{Base: arch.PageSize, Size: frames * arch.PageSize}})
}

func TestAllocateDeallocate(t *testing.T) {
	p := testPhysical(t, 8)

	if p.TotalFrames() != 8 {
		t.Fatalf("TotalFrames = %d, want 8", p.TotalFrames())
	}

	f, err := p.AllocateFrame()
	if err != nil {
		t.Fatalf("AllocateFrame: %v", err)
	}
	if p.FreeFrames() != 7 {
		t.Errorf("FreeFrames = %d, want 7", p.FreeFrames())
	}
	if p.AllocatedFrames() != 1 {
		t.Errorf("AllocatedFrames = %d, want 1", p.AllocatedFrames())
	}

	p.DeallocateFrame(f)
	if p.FreeFrames() != 8 {
		t.Errorf("FreeFrames after dealloc = %d, want 8", p.FreeFrames())
	}
}

func TestFramesAreNotZeroed(t *testing.T) {
	p := testPhysical(t, 2)

	f, err := p.AllocateFrame()
	if err != nil {
		t.Fatalf("AllocateFrame: %v", err)
	}

	b := p.FrameBytes(f)
	if b[0] == 0 && b[arch.PageSize-1] == 0 {
		t.Error("allocated frame bytes should not be pre-zeroed")
	}

	p.ZeroFrame(f)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %#x after ZeroFrame, want 0", i, v)
		}
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := testPhysical(t, 2)

	if _, err := p.AllocateFrame(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AllocateFrame(); err != nil {
		t.Fatal(err)
	}

	_, err := p.AllocateFrame()
	if !errors.Is(err, kerrors.ErrFrameExhausted) {
		t.Errorf("empty pool error = %v, want ErrFrameExhausted", err)
	}
}

func TestShareCounts(t *testing.T) {
	p := testPhysical(t, 4)

	f, err := p.AllocateFrame()
	if err != nil {
		t.Fatal(err)
	}

	if p.ShareCount(f) != 0 {
		t.Fatalf("fresh frame share count = %d, want 0", p.ShareCount(f))
	}

	p.IncRef(f)
	p.IncRef(f)
	if p.ShareCount(f) != 2 {
		t.Errorf("share count = %d, want 2", p.ShareCount(f))
	}

	if left := p.DecRef(f); left != 1 {
		t.Errorf("DecRef = %d, want 1", left)
	}

	free := p.FreeFrames()
	if left := p.DecRef(f); left != 0 {
		t.Errorf("DecRef = %d, want 0", left)
	}
	if p.FreeFrames() != free+1 {
		t.Error("DecRef reaching zero must release the frame")
	}
}

func TestDecRefUnderflowPanics(t *testing.T) {
	p := testPhysical(t, 2)
	f, _ := p.AllocateFrame()

	defer func() {
		if recover() == nil {
			t.Error("DecRef on zero count should panic")
		}
	}()
	p.DecRef(f)
}

func TestFailInjection(t *testing.T) {
	p := testPhysical(t, 8)

	p.SetFailAfter(2)
	if _, err := p.AllocateFrame(); err != nil {
		t.Fatalf("allocation 1 should succeed: %v", err)
	}
	if _, err := p.AllocateFrame(); err != nil {
		t.Fatalf("allocation 2 should succeed: %v", err)
	}
	if _, err := p.AllocateFrame(); !errors.Is(err, kerrors.ErrFrameExhausted) {
		t.Errorf("allocation 3 error = %v, want ErrFrameExhausted", err)
	}

	p.ClearFailAfter()
	if _, err := p.AllocateFrame(); err != nil {
		t.Errorf("allocation after clearing injection: %v", err)
	}
}

func TestFrameZeroReserved(t *testing.T) {
	p := NewPhysical([]Region{{Base: 0, Size: 4 * arch.PageSize}})

	seen := map[Frame]bool{}
	for {
		f, err := p.AllocateFrame()
		if err != nil {
			break
		}
		if f == 0 {
			t.Fatal("frame 0 must never be allocated")
		}
		seen[f] = true
	}
	if len(seen) != 3 {
		t.Errorf("allocated %d frames from a 4-frame region with frame 0 reserved, want 3", len(seen))
	}
}
