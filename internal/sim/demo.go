package sim

import (
	"sync"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

// trampBaudRate is the only rate a TRAMP engine configures.
const trampBaudRate = 9600

type device interface {
	vtx.Transport
	IsConnected() bool
}

// Demo is a link with one simulated VTX per protocol. Configure picks the
// device by baud rate, so switching protocols at runtime finds a device
// that speaks the new one.
type Demo struct {
	SmartAudio *SmartAudioDevice
	Tramp      *TrampDevice

	mu     sync.Mutex
	active device
}

// NewDemo starts with the SmartAudio device of the given version active.
func NewDemo(saVersion int) *Demo {
	d := &Demo{
		SmartAudio: NewSmartAudioDevice(saVersion),
		Tramp:      NewTrampDevice(),
	}
	d.active = d.SmartAudio
	return d
}

func (d *Demo) current() device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Demo) Configure(mode vtx.Mode) error {
	d.mu.Lock()
	if mode.BaudRate == trampBaudRate {
		d.active = d.Tramp
	} else {
		d.active = d.SmartAudio
	}
	dev := d.active
	d.mu.Unlock()
	return dev.Configure(mode)
}

func (d *Demo) Available() int { return d.current().Available() }
func (d *Demo) ReadByte() (byte, error) { return d.current().ReadByte() }
func (d *Demo) Write(p []byte) (int, error) { return d.current().Write(p) }
func (d *Demo) Flush() error { return d.current().Flush() }
func (d *Demo) IsConnected() bool { return d.current().IsConnected() }
