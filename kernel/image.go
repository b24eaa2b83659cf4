package kernel

import (
	"encoding/binary"

	"breenix-go/elf"
)

// Default image geometry for built-in programs.
const (
	imageTextVaddr = 0x40_0000
	imageDataVaddr = 0x60_0000
	ImageEntry     = 0x40_1000
)

// BuildImage assembles a minimal static ELF64 executable for the given
// machine: one read-execute text segment holding payload (padded to
// the entry point) and one read-write data segment with a BSS tail.
// Built-in programs and tests register these with RegisterProgram.
func BuildImage(machine uint16, payload []byte) []byte {
	type seg struct {
		flags  uint32
		vaddr  uint64
		data   []byte
		memsz  uint64
	}

	text := make([]byte, 0x1000+len(payload))
	copy(text[0x1000:], payload)
	segs := []seg{
		{flags: elf.PfR | elf.PfX, vaddr: imageTextVaddr, data: text, memsz: uint64(len(text))},
		{flags: elf.PfR | elf.PfW, vaddr: imageDataVaddr, data: []byte("breenix"), memsz: 0x2000},
	}

	phoff := uint64(64)
	dataOff := phoff + uint64(len(segs))*56

	hdr := make([]byte, 64)
	copy(hdr, elf.Magic[:])
	hdr[4] = elf.ClassElf64
	hdr[5] = elf.DataLittle
	hdr[6] = 1
	binary.LittleEndian.PutUint16(hdr[16:], elf.TypeExec)
	binary.LittleEndian.PutUint16(hdr[18:], machine)
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	binary.LittleEndian.PutUint64(hdr[24:], ImageEntry)
	binary.LittleEndian.PutUint64(hdr[32:], phoff)
	binary.LittleEndian.PutUint16(hdr[52:], 64)
	binary.LittleEndian.PutUint16(hdr[54:], 56)
	binary.LittleEndian.PutUint16(hdr[56:], uint16(len(segs)))

	blob := append([]byte(nil), hdr...)
	off := dataOff
	for _, s := range segs {
		ph := make([]byte, 56)
		binary.LittleEndian.PutUint32(ph[0:], elf.PtLoad)
		binary.LittleEndian.PutUint32(ph[4:], s.flags)
		binary.LittleEndian.PutUint64(ph[8:], off)
		binary.LittleEndian.PutUint64(ph[16:], s.vaddr)
		binary.LittleEndian.PutUint64(ph[32:], uint64(len(s.data)))
		binary.LittleEndian.PutUint64(ph[40:], s.memsz)
		blob = append(blob, ph...)
		off += uint64(len(s.data))
	}
	for _, s := range segs {
		blob = append(blob, s.data...)
	}
	return blob
}

// NewImage builds an image for this machine's architecture.
func (m *Machine) NewImage(payload string) []byte {
	return BuildImage(m.Backend.ElfMachine(), []byte(payload))
}
