// Package sim provides simulated VTX devices, a passive wire and a manually
// driven clock. The demo mode of vtxd and the package tests run the real
// protocol engines against these instead of a serial port.
package sim

import "time"

// ManualClock is a vtx.Clock that only moves when told to. It keeps a
// 64-bit microsecond base and exposes the wrapping 32-bit counters a
// microcontroller would, so wraparound can be exercised by Set.
// Not safe for concurrent use.
type ManualClock struct {
	us uint64
}

func NewManualClock() *ManualClock { return &ManualClock{} }

func (c *ManualClock) Millis() uint32 { return uint32(c.us / 1000) }
func (c *ManualClock) Micros() uint32 { return uint32(c.us) }

// Advance moves the clock forward by d (truncated to microseconds).
func (c *ManualClock) Advance(d time.Duration) {
	c.us += uint64(d / time.Microsecond)
}

// Set jumps the clock to an absolute microsecond value.
func (c *ManualClock) Set(us uint64) { c.us = us }
