// Package ktime keeps kernel time: the monotonic clock on top of the
// architecture timestamp counter, the periodic tick, and interval
// timers.
package ktime

import "breenix-go/arch"

// Clock is the kernel's monotonic clock. It calibrates the timestamp
// counter once and converts ticks to nanoseconds on demand; the
// periodic tick advances the counter.
type Clock struct {
	timer        arch.Timer
	tickHz       uint32
	ticksPerTick uint64
	ticks        uint64
}

// NewClock calibrates the counter and derives the per-tick increment
// for the configured tick frequency.
func NewClock(timer arch.Timer, tickHz uint32) *Clock {
	timer.Calibrate()
	hz, ok := timer.FrequencyHz()
	if !ok {
		panic("clock: timestamp counter failed to calibrate")
	}
	return &Clock{
		timer:        timer,
		tickHz:       tickHz,
		ticksPerTick: hz / uint64(tickHz),
	}
}

// TickHz returns the configured tick frequency.
func (c *Clock) TickHz() uint32 { return c.tickHz }

// TickPeriodNs returns the nanoseconds between ticks.
func (c *Clock) TickPeriodNs() uint64 { return 1_000_000_000 / uint64(c.tickHz) }

// NowNs returns monotonic nanoseconds since boot.
func (c *Clock) NowNs() uint64 {
	return c.timer.TicksToNs(c.timer.ReadTimestamp())
}

// Ticks returns the number of periodic ticks since boot.
func (c *Clock) Ticks() uint64 { return c.ticks }

// OnTick advances the counter by one tick period. The tick interrupt
// handler is the only caller.
func (c *Clock) OnTick() {
	c.timer.Advance(c.ticksPerTick)
	c.ticks++
}
