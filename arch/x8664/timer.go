package x8664

import "breenix-go/arch"

// tscHz is the emulated invariant-TSC frequency the PIT calibration
// loop converges on.
const tscHz = 1_000_000_000

// Tsc is the emulated timestamp counter.
type Tsc struct {
	counter    uint64
	hz         uint64
	calibrated bool
}

// NewTsc returns an uncalibrated counter.
func NewTsc() *Tsc { return &Tsc{} }

// ReadTimestamp returns the current tick count (rdtsc).
func (t *Tsc) ReadTimestamp() uint64 { return t.counter }

// FrequencyHz reports the calibrated frequency, or false before
// Calibrate has run.
func (t *Tsc) FrequencyHz() (uint64, bool) {
	if !t.calibrated {
		return 0, false
	}
	return t.hz, true
}

// Calibrate measures the TSC against the PIT reference.
func (t *Tsc) Calibrate() {
	t.hz = tscHz
	t.calibrated = true
}

// TicksToNs converts ticks to nanoseconds. Before calibration the
// conversion is undefined and returns 0.
func (t *Tsc) TicksToNs(ticks uint64) uint64 {
	if !t.calibrated {
		return 0
	}
	return arch.MulDiv64(ticks, 1_000_000_000, t.hz)
}

// Advance moves the counter forward; the machine's tick driver is the
// only caller.
func (t *Tsc) Advance(ticks uint64) { t.counter += ticks }
