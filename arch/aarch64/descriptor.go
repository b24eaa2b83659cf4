// Package aarch64 implements the architecture capability set for
// AArch64: 4-level translation tables (TTBR0/TTBR1 split), the generic
// timer's virtual counter, and a GIC-style interrupt controller.
//
// Descriptor attribute bits used here:
//
//	bit 0      valid
//	bit 1      table (L0-L2) / page (L3)
//	bits 2-4   AttrIndx (MAIR index: 0 device, 1 normal)
//	bits 6-7   AP[2:1] access permissions
//	bits 8-9   SH shareability
//	bit 10     AF access flag
//	bit 53     PXN privileged execute never
//	bit 54     UXN user execute never
//	bit 55     software: copy-on-write marker
package aarch64

import "breenix-go/arch"

const (
	descValid = 1 << 0
	descTable = 1 << 1
	descPage  = 1 << 1

	descAttrDevice = 0 << 2
	descAttrNormal = 1 << 2

	descApRwEl1 = 0b00 << 6
	descApRwAll = 0b01 << 6
	descApRoEl1 = 0b10 << 6
	descApRoAll = 0b11 << 6
	descApMask  = 0b11 << 6

	descShInner = 0b11 << 8
	descAf      = 1 << 10

	descPxn = 1 << 53
	descUxn = 1 << 54

	descSwCow = 1 << 55

	descAddrMask = 0x0000_ffff_ffff_f000
)

// Format is the AArch64 descriptor codec.
type Format struct{}

// EncodeLeaf builds an L3 page descriptor. Access permissions fold the
// writable and user flags into AP[2:1]; a cow-marked mapping encodes as
// read-only hardware permission with the software CoW bit set. Kernel
// mappings are always UXN, user mappings always PXN.
func (Format) EncodeLeaf(frameAddr uint64, flags arch.PageFlags) uint64 {
	if !flags.Contains(arch.FlagPresent) {
		return 0
	}
	desc := (frameAddr & descAddrMask) | descValid | descPage | descAf | descShInner

	if flags.Contains(arch.FlagNoCache) {
		desc |= descAttrDevice
	} else {
		desc |= descAttrNormal
	}

	writable := flags.Contains(arch.FlagWritable) && !flags.Contains(arch.FlagCow)
	user := flags.Contains(arch.FlagUser)
	switch {
	case writable && user:
		desc |= descApRwAll
	case writable:
		desc |= descApRwEl1
	case user:
		desc |= descApRoAll
	default:
		desc |= descApRoEl1
	}

	if user {
		desc |= descPxn
		if flags.Contains(arch.FlagNoExecute) {
			desc |= descUxn
		}
	} else {
		desc |= descUxn
		if flags.Contains(arch.FlagNoExecute) {
			desc |= descPxn
		}
	}

	if flags.Contains(arch.FlagCow) {
		desc |= descSwCow
	}
	return desc
}

// EncodeTable builds an L0-L2 table descriptor.
func (Format) EncodeTable(nextAddr uint64) uint64 {
	return (nextAddr & descAddrMask) | descValid | descTable
}

// DecodeLeaf extracts the frame address and the portable flag view.
func (Format) DecodeLeaf(desc uint64) (uint64, arch.PageFlags) {
	if desc&descValid == 0 {
		return desc & descAddrMask, 0
	}
	flags := arch.FlagPresent

	ap := desc & descApMask
	if ap == descApRwEl1 || ap == descApRwAll {
		flags |= arch.FlagWritable
	}
	user := ap == descApRwAll || ap == descApRoAll
	if user {
		flags |= arch.FlagUser
		if desc&descUxn != 0 {
			flags |= arch.FlagNoExecute
		}
	} else if desc&descPxn != 0 {
		flags |= arch.FlagNoExecute
	}

	if desc&(0b111<<2) == descAttrDevice {
		flags |= arch.FlagNoCache
	}
	if desc&descSwCow != 0 {
		flags |= arch.FlagCow
	}
	return desc & descAddrMask, flags
}

// IsPresent reports whether the descriptor is valid.
func (Format) IsPresent(desc uint64) bool { return desc&descValid != 0 }

// NextTable extracts the next-level table address.
func (Format) NextTable(desc uint64) uint64 { return desc & descAddrMask }
