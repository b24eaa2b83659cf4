package paging

import (
	"errors"
	"testing"

	"breenix-go/arch"
	"breenix-go/arch/aarch64"
	"breenix-go/arch/x8664"
	kerrors "breenix-go/errors"
	"breenix-go/mem"
)

type pagingEnv struct {
	phys   *mem.Physical
	tlb    *Tlb
	master *AddressSpace
}

// newEnv builds a physical pool and a master kernel space with the
// phys-map, kernel-stack, and IST slots populated, as boot would.
func newEnv(t *testing.T, format arch.PageTableFormat, frames uint64) *pagingEnv {
	t.Helper()
	phys := mem.NewPhysical([]mem.Region{{Base: arch.PageSize, Size: frames * arch.PageSize}})
	tlb := NewTlb()

	master, err := NewAddressSpace(phys, format, tlb)
	if err != nil {
		t.Fatalf("master space: %v", err)
	}

	// One kernel mapping per reserved region to populate the top slots.
	for _, base := range []uint64{PhysMapBase, KernelStackBase + arch.PageSize, IstStackBase + arch.PageSize} {
		f, err := phys.AllocateFrame()
		if err != nil {
			t.Fatal(err)
		}
		phys.ZeroFrame(f)
		if err := master.MapPage(base, f, arch.KernelData()); err != nil {
			t.Fatalf("seed mapping %#x: %v", base, err)
		}
	}
	return &pagingEnv{phys: phys, tlb: tlb, master: master}
}

func TestMapTranslateUnmap(t *testing.T) {
	for _, format := range []arch.PageTableFormat{x8664.Format{}, aarch64.Format{}} {
		env := newEnv(t, format, 64)
		frame, _ := env.phys.AllocateFrame()

		const va = UserLoadBase
		if err := env.master.MapPage(va, frame, arch.UserData()); err != nil {
			t.Fatalf("MapPage: %v", err)
		}

		got, flags, ok := env.master.Translate(va)
		if !ok || got != frame {
			t.Fatalf("Translate = %v,%v, want frame %v", got, ok, frame)
		}
		if !flags.Contains(arch.FlagUser | arch.FlagWritable) {
			t.Errorf("flags = %v, want user|writable", flags)
		}
		if env.phys.ShareCount(frame) != 1 {
			t.Errorf("share count after user map = %d, want 1", env.phys.ShareCount(frame))
		}

		if err := env.master.MapPage(va, frame, arch.UserData()); !errors.Is(err, kerrors.ErrAlreadyMapped) {
			t.Errorf("double map error = %v, want ErrAlreadyMapped", err)
		}

		if err := env.master.UnmapPage(va); err != nil {
			t.Fatalf("UnmapPage: %v", err)
		}
		if _, _, ok := env.master.Translate(va); ok {
			t.Error("page still translates after unmap")
		}
		if err := env.master.UnmapPage(va); !errors.Is(err, kerrors.ErrNotMapped) {
			t.Errorf("double unmap error = %v, want ErrNotMapped", err)
		}
	}
}

func TestUnmapFreesShareCountAndTables(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 64)
	frame, _ := env.phys.AllocateFrame()

	free := env.phys.FreeFrames()
	const va = uint64(0x1234_5000)
	if err := env.master.MapPage(va, frame, arch.UserData()); err != nil {
		t.Fatal(err)
	}
	// The map consumed three intermediate tables for this address.
	if env.phys.FreeFrames() != free-3 {
		t.Fatalf("free frames after map = %d, want %d", env.phys.FreeFrames(), free-3)
	}

	if err := env.master.UnmapPage(va); err != nil {
		t.Fatal(err)
	}
	// Unmap dropped the user frame's only reference (freeing it) and
	// pruned the three empty tables.
	if env.phys.FreeFrames() != free+1 {
		t.Errorf("free frames after unmap = %d, want %d", env.phys.FreeFrames(), free+1)
	}
	if env.phys.ShareCount(frame) != 0 {
		t.Errorf("share count = %d, want 0", env.phys.ShareCount(frame))
	}
}

func TestProcessSpaceSharesKernelHalf(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 128)

	proc, err := NewProcessSpace(env.master)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyProcessSpace(proc, env.master); err != nil {
		t.Fatalf("fresh process space violates contracts: %v", err)
	}

	// A later structural change below a kernel top-level slot is
	// observed by the process without any copying.
	va := KernelStackBase + 16*arch.PageSize
	f, _ := env.phys.AllocateFrame()
	env.phys.ZeroFrame(f)
	if err := env.master.MapPage(va, f, arch.KernelData()); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := proc.Translate(va); !ok {
		t.Error("kernel mapping added after construction not visible through process root")
	}

	// User mappings stay private.
	uf, _ := env.phys.AllocateFrame()
	if err := proc.MapPage(UserLoadBase, uf, arch.UserData()); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := env.master.Translate(UserLoadBase); ok {
		t.Error("user mapping leaked into the master space")
	}
}

func TestProtectPageAndCowMarking(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 64)
	frame, _ := env.phys.AllocateFrame()

	const va = UserLoadBase
	if err := env.master.MapPage(va, frame, arch.UserData()); err != nil {
		t.Fatal(err)
	}

	cowFlags := arch.UserData() | arch.FlagCow
	if err := env.master.ProtectPage(va, cowFlags); err != nil {
		t.Fatal(err)
	}

	_, flags, _ := env.master.Translate(va)
	if flags.Contains(arch.FlagWritable) {
		t.Error("cow-marked page must not be hardware writable")
	}
	if !flags.Contains(arch.FlagCow) {
		t.Error("cow marker missing")
	}
	if env.phys.ShareCount(frame) != 1 {
		t.Errorf("ProtectPage must not change share counts, got %d", env.phys.ShareCount(frame))
	}
}

func TestReplaceLeaf(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 64)
	oldFrame, _ := env.phys.AllocateFrame()
	newFrame, _ := env.phys.AllocateFrame()

	const va = UserLoadBase
	if err := env.master.MapPage(va, oldFrame, arch.UserData()|arch.FlagCow); err != nil {
		t.Fatal(err)
	}
	env.phys.IncRef(oldFrame) // a second space shares it

	got, err := env.master.ReplaceLeaf(va, newFrame, arch.UserData())
	if err != nil {
		t.Fatal(err)
	}
	if got != oldFrame {
		t.Errorf("ReplaceLeaf returned %v, want %v", got, oldFrame)
	}
	if env.phys.ShareCount(oldFrame) != 1 {
		t.Errorf("old frame share count = %d, want 1", env.phys.ShareCount(oldFrame))
	}
	if env.phys.ShareCount(newFrame) != 1 {
		t.Errorf("new frame share count = %d, want 1", env.phys.ShareCount(newFrame))
	}

	f, flags, _ := env.master.Translate(va)
	if f != newFrame || !flags.Contains(arch.FlagWritable) || flags.Contains(arch.FlagCow) {
		t.Errorf("leaf after replace = %v %v, want new frame writable without cow", f, flags)
	}
}

func TestWalkUserAndTearDown(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 128)
	proc, err := NewProcessSpace(env.master)
	if err != nil {
		t.Fatal(err)
	}

	vas := []uint64{UserLoadBase, UserLoadBase + arch.PageSize, UserStackTop - arch.PageSize}
	for _, va := range vas {
		f, _ := env.phys.AllocateFrame()
		if err := proc.MapPage(va, f, arch.UserData()); err != nil {
			t.Fatal(err)
		}
	}

	var seen []uint64
	proc.WalkUser(func(va uint64, _ mem.Frame, _ arch.PageFlags) {
		seen = append(seen, va)
	})
	if len(seen) != len(vas) {
		t.Fatalf("WalkUser visited %d pages, want %d", len(seen), len(vas))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Error("WalkUser must visit in address order")
		}
	}

	allocated := env.phys.AllocatedFrames()
	proc.TearDownUser()
	if total, _ := proc.CountUserPages(); total != 0 {
		t.Errorf("user pages after teardown = %d, want 0", total)
	}
	if env.phys.AllocatedFrames() >= allocated {
		t.Error("teardown must release user frames and tables")
	}

	// Kernel half survives teardown.
	if err := VerifyKernelCodeMapping(proc); err != nil {
		t.Errorf("kernel half damaged by user teardown: %v", err)
	}
}

func TestTlbServesStaleEntryUntilFlush(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 64)
	mmu := NewMmu(env.phys, x8664.Format{}, env.tlb)
	mmu.SetRoot(env.master.Root())

	frame, _ := env.phys.AllocateFrame()
	const va = UserLoadBase
	if err := env.master.MapPage(va, frame, arch.UserData()); err != nil {
		t.Fatal(err)
	}

	// Prime the TLB.
	if _, err := mmu.Access(va, true); err != nil {
		t.Fatalf("initial access: %v", err)
	}

	// Downgrade the leaf behind the TLB's back.
	leafTable, err := env.master.walkToLeafTable(va, false)
	if err != nil {
		t.Fatal(err)
	}
	idx := PageIndex(va, arch.PageLevels-1)
	env.master.writeEntry(leafTable, idx, x8664.Format{}.EncodeLeaf(frame.Addr(), arch.UserRodata()))

	// The stale writable translation is still served.
	if _, err := mmu.Access(va, true); err != nil {
		t.Fatal("TLB should still serve the stale writable entry")
	}

	env.tlb.FlushPage(va)
	if _, err := mmu.Access(va, true); err == nil {
		t.Fatal("write through read-only leaf should fault after flush")
	}
}

func TestMmuCopyAcrossPages(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 64)
	mmu := NewMmu(env.phys, x8664.Format{}, env.tlb)
	mmu.SetRoot(env.master.Root())

	for i := uint64(0); i < 2; i++ {
		f, _ := env.phys.AllocateFrame()
		env.phys.ZeroFrame(f)
		if err := env.master.MapPage(UserLoadBase+i*arch.PageSize, f, arch.UserData()); err != nil {
			t.Fatal(err)
		}
	}

	va := uint64(UserLoadBase + arch.PageSize - 3)
	data := []byte("straddle")
	if err := mmu.CopyOut(va, data); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	buf := make([]byte, len(data))
	if err := mmu.CopyIn(va, buf); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(buf) != "straddle" {
		t.Errorf("round trip = %q, want straddle", buf)
	}

	if err := mmu.WriteU64(va, 0xdeadbeef00000001); err != nil {
		t.Fatal(err)
	}
	v, err := mmu.ReadU64(va)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef00000001 {
		t.Errorf("ReadU64 = %#x", v)
	}
}

func TestMmuFaults(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 64)
	mmu := NewMmu(env.phys, x8664.Format{}, env.tlb)
	mmu.SetRoot(env.master.Root())

	// Non-present page.
	_, err := mmu.Access(UserLoadBase, false)
	var pf *PageFault
	if !errors.As(err, &pf) || pf.Present {
		t.Fatalf("access to unmapped page = %v, want non-present fault", err)
	}

	// CoW page: present protection fault on write.
	frame, _ := env.phys.AllocateFrame()
	if err := env.master.MapPage(UserLoadBase, frame, arch.UserData()|arch.FlagCow); err != nil {
		t.Fatal(err)
	}
	_, err = mmu.Access(UserLoadBase, true)
	if !errors.As(err, &pf) || !pf.Present || !pf.Flags.Contains(arch.FlagCow) {
		t.Fatalf("write to cow page = %v, want present fault with cow flag", err)
	}
	// Reads still succeed.
	if _, err := mmu.Access(UserLoadBase, false); err != nil {
		t.Errorf("read from cow page: %v", err)
	}
}

func TestContracts(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 128)

	if err := VerifyKernelCodeMapping(env.master); err != nil {
		t.Error(err)
	}
	if err := VerifyKernelIstSeparation(env.master); err != nil {
		t.Error(err)
	}
	if err := VerifyTssRsp0(KernelStackBase + 8*arch.PageSize); err != nil {
		t.Error(err)
	}
	if err := VerifyTssRsp0(IstStackBase + arch.PageSize); err == nil {
		t.Error("RSP0 in the IST region must violate the contract")
	}

	// A space missing the IST slot fails the separation contract.
	bare, err := NewAddressSpace(env.phys, x8664.Format{}, env.tlb)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyKernelIstSeparation(bare); err == nil {
		t.Error("empty space should fail the stack-slot contract")
	}
}

func TestStackAllocator(t *testing.T) {
	env := newEnv(t, x8664.Format{}, 256)
	sa := NewStackAllocator(env.phys, env.master, KernelStackBase+arch.PageSize*64, KernelStackEnd)

	top, err := sa.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyStackMapped(env.master, top-KStackSize, top); err != nil {
		t.Errorf("stack pages not mapped: %v", err)
	}
	if err := VerifyGuardUnmapped(env.master, GuardPage(top)); err != nil {
		t.Errorf("guard page mapped: %v", err)
	}

	top2, err := sa.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if top2 == top {
		t.Error("distinct stacks must not share a slot")
	}

	sa.Free(top)
	if err := VerifyGuardUnmapped(env.master, top-arch.PageSize); err != nil {
		t.Error("freed stack pages should be unmapped")
	}

	top3, err := sa.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if top3 != top {
		t.Errorf("freed slot should be reused: got %#x, want %#x", top3, top)
	}
}
