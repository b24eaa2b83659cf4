package paging

import (
	"fmt"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
)

// Contract checks for the kernel page-table layout. These invariants
// are verified at boot and after every address-space creation; a
// violation is a kernel bug and the caller panics on it.

// VerifyKernelIstSeparation checks that the kernel-stack slot and the
// IST-stack slot are both present and resolve to different next-level
// tables. Sharing one table corrupts stacks on the exception path.
func VerifyKernelIstSeparation(as *AddressSpace) error {
	e1 := as.TopEntry(KernelStackSlot)
	e2 := as.TopEntry(IstStackSlot)

	if !as.fmt.IsPresent(e1) {
		return kerrors.New(kerrors.ErrContract, "verify_kernel_ist_separation",
			fmt.Sprintf("top-level slot %d (kernel stacks) is not present", KernelStackSlot))
	}
	if !as.fmt.IsPresent(e2) {
		return kerrors.New(kerrors.ErrContract, "verify_kernel_ist_separation",
			fmt.Sprintf("top-level slot %d (IST stacks) is not present", IstStackSlot))
	}
	if as.fmt.NextTable(e1) == as.fmt.NextTable(e2) {
		return kerrors.New(kerrors.ErrContract, "verify_kernel_ist_separation",
			fmt.Sprintf("slots %d and %d share next-level table %#x; exception handling would corrupt stacks",
				KernelStackSlot, IstStackSlot, as.fmt.NextTable(e1)))
	}
	return nil
}

// VerifyKernelCodeMapping checks that the physical-map slot the kernel
// runs out of is present.
func VerifyKernelCodeMapping(as *AddressSpace) error {
	e := as.TopEntry(PhysMapSlot)
	if !as.fmt.IsPresent(e) {
		return kerrors.New(kerrors.ErrContract, "verify_kernel_code_mapping",
			fmt.Sprintf("top-level slot %d (physical map) is not present", PhysMapSlot))
	}
	return nil
}

// VerifyKernelInheritance checks that every kernel-half top-level
// entry of the process root references the same next-level table as
// the master root.
func VerifyKernelInheritance(process, master *AddressSpace) error {
	var mismatches []string
	for i := UserSlots; i < arch.EntriesPerTable; i++ {
		me := master.TopEntry(i)
		pe := process.TopEntry(i)
		if !master.fmt.IsPresent(me) {
			continue
		}
		switch {
		case !process.fmt.IsPresent(pe):
			mismatches = append(mismatches, fmt.Sprintf("slot %d missing in process root", i))
		case master.fmt.NextTable(me) != process.fmt.NextTable(pe):
			mismatches = append(mismatches, fmt.Sprintf("slot %d references %#x, master has %#x",
				i, process.fmt.NextTable(pe), master.fmt.NextTable(me)))
		}
	}
	if len(mismatches) != 0 {
		return kerrors.New(kerrors.ErrContract, "verify_kernel_inheritance",
			fmt.Sprintf("%d kernel-half inheritance violations: %s", len(mismatches), mismatches[0]))
	}
	return nil
}

// VerifyTssRsp0 checks that the privilege-0 stack pointer falls inside
// the kernel-stack region.
func VerifyTssRsp0(rsp0 uint64) error {
	if rsp0 <= KernelStackBase || rsp0 > KernelStackEnd {
		return kerrors.New(kerrors.ErrContract, "verify_tss_rsp0",
			fmt.Sprintf("TSS RSP0 %#x outside kernel-stack region (%#x, %#x]", rsp0, KernelStackBase, KernelStackEnd))
	}
	return nil
}

// VerifyStackMapped checks that every page of [base, top) resolves to
// a present leaf in as.
func VerifyStackMapped(as *AddressSpace, base, top uint64) error {
	for va := PageBase(base); va < top; va += arch.PageSize {
		if _, _, ok := as.Translate(va); !ok {
			return kerrors.New(kerrors.ErrContract, "verify_stack_mapped",
				fmt.Sprintf("stack page %#x is not mapped", va))
		}
	}
	return nil
}

// VerifyGuardUnmapped checks that the guard page at va has no present
// leaf, so a stack overflow faults instead of silently corrupting the
// neighbour.
func VerifyGuardUnmapped(as *AddressSpace, va uint64) error {
	if _, _, ok := as.Translate(va); ok {
		return kerrors.New(kerrors.ErrContract, "verify_guard_unmapped",
			fmt.Sprintf("guard page %#x is mapped", va))
	}
	return nil
}

// VerifyProcessSpace runs every contract that applies to a freshly
// constructed process address space.
func VerifyProcessSpace(process, master *AddressSpace) error {
	if err := VerifyKernelCodeMapping(process); err != nil {
		return err
	}
	if err := VerifyKernelIstSeparation(process); err != nil {
		return err
	}
	return VerifyKernelInheritance(process, master)
}
