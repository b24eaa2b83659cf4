package aarch64

import "breenix-go/arch"

// cntfrqHz is the generic-timer frequency reported by CNTFRQ_EL0 on
// the modelled platform.
const cntfrqHz = 62_500_000

// GenericTimer is the emulated virtual counter (CNTVCT_EL0).
type GenericTimer struct {
	counter    uint64
	hz         uint64
	calibrated bool
}

// NewGenericTimer returns an uncalibrated counter.
func NewGenericTimer() *GenericTimer { return &GenericTimer{} }

// ReadTimestamp returns the current CNTVCT value.
func (t *GenericTimer) ReadTimestamp() uint64 { return t.counter }

// FrequencyHz reports the counter frequency once calibration has read
// CNTFRQ.
func (t *GenericTimer) FrequencyHz() (uint64, bool) {
	if !t.calibrated {
		return 0, false
	}
	return t.hz, true
}

// Calibrate reads CNTFRQ_EL0.
func (t *GenericTimer) Calibrate() {
	t.hz = cntfrqHz
	t.calibrated = true
}

// TicksToNs converts counter ticks to nanoseconds.
func (t *GenericTimer) TicksToNs(ticks uint64) uint64 {
	if !t.calibrated {
		return 0
	}
	return arch.MulDiv64(ticks, 1_000_000_000, t.hz)
}

// Advance moves the counter forward; the machine's tick driver is the
// only caller.
func (t *GenericTimer) Advance(ticks uint64) { t.counter += ticks }
