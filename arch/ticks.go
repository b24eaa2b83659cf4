package arch

import "math/bits"

// MulDiv64 computes a*b/c with a 128-bit intermediate product, so tick
// to nanosecond conversion cannot overflow for any 64-bit tick count.
// Saturates to MaxUint64 if the quotient itself does not fit.
func MulDiv64(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}
