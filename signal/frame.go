package signal

import (
	"encoding/binary"

	"breenix-go/arch"
)

// Signal frame written to the user stack at handler delivery.
//
// Userspace ABI: the kernel pushes, from the adjusted stack pointer
// upward, the restorer return address, then this frame. A plain return
// from the handler therefore enters the restorer, which must issue
// sigreturn; the kernel never injects trampoline code. The restorer
// address comes from sigaction's restorer field (SA_RESTORER).
//
// Frame layout, little-endian quadwords:
//
//	+0    16 general registers
//	+128  instruction pointer
//	+136  stack pointer
//	+144  flags
//	+152  saved blocked mask
//	+160  signal number
const (
	FrameSize = 168
	// FrameAlign keeps the frame's base address 16-byte aligned; the
	// restorer slot, and so the adjusted stack pointer, sits 8 bytes
	// below it.
	FrameAlign = 16
)

// EncodeFrame serialises the interrupted context and the saved mask.
func EncodeFrame(regs *arch.Regs, savedMask Set, sig int) []byte {
	buf := make([]byte, FrameSize)
	for i, v := range regs.GP {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	binary.LittleEndian.PutUint64(buf[128:], regs.IP)
	binary.LittleEndian.PutUint64(buf[136:], regs.SP)
	binary.LittleEndian.PutUint64(buf[144:], regs.Flags)
	binary.LittleEndian.PutUint64(buf[152:], uint64(savedMask))
	binary.LittleEndian.PutUint64(buf[160:], uint64(sig))
	return buf
}

// DecodeFrame restores the context from a frame read back off the user
// stack at sigreturn.
func DecodeFrame(buf []byte) (regs arch.Regs, savedMask Set, sig int) {
	for i := range regs.GP {
		regs.GP[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	regs.IP = binary.LittleEndian.Uint64(buf[128:])
	regs.SP = binary.LittleEndian.Uint64(buf[136:])
	regs.Flags = binary.LittleEndian.Uint64(buf[144:])
	savedMask = Set(binary.LittleEndian.Uint64(buf[152:]))
	sig = int(binary.LittleEndian.Uint64(buf[160:]))
	return regs, savedMask, sig
}
