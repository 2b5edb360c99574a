package sim

import (
	"sync"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

// link is the host-facing half shared by the simulated devices. Host bytes
// accumulate in `in` until the device decodes a frame; replies are queued
// in `out` and read back by the engine.
type link struct {
	mu     sync.Mutex
	mode   vtx.Mode
	in     []byte
	out    []byte
	frames [][]byte
	stabs  int
}

func (l *link) Configure(mode vtx.Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	return nil
}

func (l *link) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode.RxPin == vtx.PinDisabled {
		return 0
	}
	return len(l.out)
}

func (l *link) ReadByte() (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.out) == 0 || l.mode.RxPin == vtx.PinDisabled {
		return 0, vtx.ErrNoData
	}
	c := l.out[0]
	l.out = l.out[1:]
	return c, nil
}

func (l *link) Flush() error { return nil }

func (l *link) IsConnected() bool { return true }

// Frames returns a copy of every complete host frame the device decoded.
func (l *link) Frames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.frames))
	for i, f := range l.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// StabilizationBytes counts leading 0x00 bytes skipped between frames.
func (l *link) StabilizationBytes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stabs
}

// ClearFrames forgets the decoded frame log.
func (l *link) ClearFrames() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = nil
}

// InjectNoise appends raw bytes to the reply stream.
func (l *link) InjectNoise(b ...byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out, b...)
}

// Mode returns the framing the engine configured.
func (l *link) Mode() vtx.Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// skip drops n leading bytes from the host buffer, counting 0x00 bytes.
func (l *link) skip(n int) {
	for _, c := range l.in[:n] {
		if c == 0x00 {
			l.stabs++
		}
	}
	l.in = l.in[n:]
}
