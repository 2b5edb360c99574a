package sim

import (
	"sync"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

// Wire is a passive vtx.Transport: written bytes are recorded, injected
// bytes are handed back through ReadByte. Nothing answers on its own.
type Wire struct {
	mu         sync.Mutex
	mode       vtx.Mode
	configured bool
	rx         []byte
	tx         []byte
	flushes    int

	// WriteErr, when set, is returned by Write without recording.
	WriteErr error
}

func NewWire() *Wire { return &Wire{} }

func (w *Wire) Configure(mode vtx.Mode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mode = mode
	w.configured = true
	return nil
}

func (w *Wire) Available() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rx)
}

func (w *Wire) ReadByte() (byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.rx) == 0 {
		return 0, vtx.ErrNoData
	}
	c := w.rx[0]
	w.rx = w.rx[1:]
	return c, nil
}

func (w *Wire) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.WriteErr != nil {
		return 0, w.WriteErr
	}
	w.tx = append(w.tx, p...)
	return len(p), nil
}

func (w *Wire) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
	return nil
}

func (w *Wire) IsConnected() bool { return true }

// Inject queues bytes as if the device had sent them.
func (w *Wire) Inject(b ...byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rx = append(w.rx, b...)
}

// Written returns everything written so far.
func (w *Wire) Written() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.tx...)
}

// TakeWritten returns and clears the written bytes.
func (w *Wire) TakeWritten() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.tx
	w.tx = nil
	return out
}

// Mode returns the last configured mode and whether Configure was called.
func (w *Wire) Mode() (vtx.Mode, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode, w.configured
}

// Flushes counts Flush calls.
func (w *Wire) Flushes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushes
}
