// Package elf parses ELF64 executables for the process loader. Only
// statically linked little-endian executables are accepted; PT_LOAD
// segments are the only ones consumed, with permissions taken from the
// segment flags and the entry point used verbatim.
package elf

import (
	"encoding/binary"

	"breenix-go/arch"
	kerrors "breenix-go/errors"
)

// ELF identification.
var Magic = [4]byte{0x7f, 'E', 'L', 'F'}

const (
	ClassElf64   = 2
	DataLittle   = 1
	TypeExec     = 2
	headerSize   = 64
	phentrySize  = 56
	maxPhEntries = 64
)

// Program header types.
const (
	PtLoad   = 1
	PtInterp = 3
)

// Segment permission flags.
const (
	PfX = 1
	PfW = 2
	PfR = 4
)

// Header is the parsed ELF64 file header.
type Header struct {
	Type    uint16
	Machine uint16
	Entry   uint64
	Phoff   uint64
	Phnum   uint16
}

// Segment is one PT_LOAD program header.
type Segment struct {
	Vaddr  uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64
	Flags  uint32
}

// PageFlags translates the segment permission bits to the portable
// mapping flags. Readable implies present; absent execute permission
// sets no-execute.
func (s Segment) PageFlags() arch.PageFlags {
	flags := arch.FlagPresent | arch.FlagUser
	if s.Flags&PfW != 0 {
		flags |= arch.FlagWritable
	}
	if s.Flags&PfX == 0 {
		flags |= arch.FlagNoExecute
	}
	return flags
}

// Writable reports whether the segment maps writable data.
func (s Segment) Writable() bool { return s.Flags&PfW != 0 }

// Image is a validated executable ready to load.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Parse validates data as an ELF64 executable for the given machine
// and extracts its loadable segments. The validation order follows the
// loader contract: magic, class, endianness, type, machine, then the
// program headers; an interpreter segment rejects the image.
func Parse(data []byte, machine uint16) (*Image, error) {
	if len(data) < headerSize {
		return nil, kerrors.WrapWithDetail(kerrors.ErrNotElf, kerrors.ErrInvalidArgument,
			"elf_parse", "image smaller than the ELF header")
	}
	if data[0] != Magic[0] || data[1] != Magic[1] || data[2] != Magic[2] || data[3] != Magic[3] {
		return nil, kerrors.ErrNotElf
	}
	if data[4] != ClassElf64 {
		return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
			"elf_parse", "not a 64-bit image")
	}
	if data[5] != DataLittle {
		return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
			"elf_parse", "not little-endian")
	}

	hdr := Header{
		Type:    binary.LittleEndian.Uint16(data[16:]),
		Machine: binary.LittleEndian.Uint16(data[18:]),
		Entry:   binary.LittleEndian.Uint64(data[24:]),
		Phoff:   binary.LittleEndian.Uint64(data[32:]),
		Phnum:   binary.LittleEndian.Uint16(data[56:]),
	}

	if hdr.Type != TypeExec {
		return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
			"elf_parse", "not an executable (ET_EXEC) image")
	}
	if hdr.Machine != machine {
		return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
			"elf_parse", "machine does not match this architecture")
	}
	if hdr.Phnum == 0 || hdr.Phnum > maxPhEntries {
		return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
			"elf_parse", "implausible program header count")
	}

	img := &Image{Entry: hdr.Entry}
	for i := 0; i < int(hdr.Phnum); i++ {
		off := hdr.Phoff + uint64(i)*phentrySize
		if off+phentrySize > uint64(len(data)) {
			return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
				"elf_parse", "program header table out of bounds")
		}
		ph := data[off:]
		ptype := binary.LittleEndian.Uint32(ph[0:])
		switch ptype {
		case PtInterp:
			return nil, kerrors.ErrDynamicElf
		case PtLoad:
			seg := Segment{
				Flags:  binary.LittleEndian.Uint32(ph[4:]),
				Offset: binary.LittleEndian.Uint64(ph[8:]),
				Vaddr:  binary.LittleEndian.Uint64(ph[16:]),
				Filesz: binary.LittleEndian.Uint64(ph[32:]),
				Memsz:  binary.LittleEndian.Uint64(ph[40:]),
			}
			if seg.Filesz > seg.Memsz {
				return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
					"elf_parse", "segment file size exceeds memory size")
			}
			if seg.Offset+seg.Filesz > uint64(len(data)) {
				return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
					"elf_parse", "segment data out of bounds")
			}
			img.Segments = append(img.Segments, seg)
		}
	}

	if len(img.Segments) == 0 {
		return nil, kerrors.WrapWithDetail(kerrors.ErrBadElf, kerrors.ErrInvalidArgument,
			"elf_parse", "no loadable segments")
	}
	return img, nil
}
