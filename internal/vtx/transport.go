package vtx

import (
	"errors"
	"time"
)

// PinDisabled marks an unused pin in a Mode (e.g. no RX line on TX-only wiring).
const PinDisabled = -1

// ErrNoData is returned by Transport.ReadByte when nothing is buffered.
var ErrNoData = errors.New("vtx: no data available")

// Parity selects the UART parity bit.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// Mode describes the UART framing an engine needs from its transport.
type Mode struct {
	BaudRate int
	DataBits int
	StopBits int // 1 or 2
	Parity   Parity
	TxPin    int
	RxPin    int // PinDisabled for TX-only
}

// Transport is the byte-oriented serial port an engine talks through.
//
// Available and ReadByte must never block. Write may buffer; Flush blocks
// until every written byte has physically left the port.
type Transport interface {
	Configure(mode Mode) error
	Available() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
	Flush() error
}

// Clock is a free-running monotonic counter. Both values wrap at 2^32.
type Clock interface {
	Millis() uint32
	Micros() uint32
}

// Since returns the ticks elapsed from then to now, correct across a
// single counter wraparound.
func Since(now, then uint32) uint32 {
	return now - then
}

// SystemClock derives Millis/Micros from the process monotonic clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock whose counters start at zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func (c *SystemClock) Micros() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}
