// Package serialport adapts a host UART (go.bug.st/serial) to vtx.Transport.
//
// The engines need a non-blocking Available/ReadByte pair, so a background
// goroutine reads the port and fills a bounded buffer.
package serialport

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

// ErrNotConnected is returned by operations on a closed port.
var ErrNotConnected = errors.New("serialport: not connected")

const (
	rxBufferSize = 1024
	readTimeout  = 50 * time.Millisecond
)

// rawPort is the subset of serial.Port the adapter uses.
type rawPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

type openFunc func(path string, mode *serial.Mode) (rawPort, error)

func openSerial(path string, mode *serial.Mode) (rawPort, error) {
	return serial.Open(path, mode)
}

// Port is a vtx.Transport over a host serial device such as /dev/ttyUSB0.
type Port struct {
	path string
	open openFunc

	mu        sync.Mutex
	port      rawPort
	rx        []byte
	rxEnabled bool
	overruns  int
	stop      chan struct{}
	done      chan struct{}
}

func New(path string) *Port {
	return &Port{path: path, open: openSerial}
}

func (p *Port) Path() string { return p.path }

// Connect opens the device at 9600 8N1. Configure switches the framing
// once an engine knows what it needs.
func (p *Port) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := p.open(p.path, mode)
	if err != nil {
		return fmt.Errorf("serialport: failed to open %s: %w", p.path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("serialport: failed to set timeout: %w", err)
	}
	p.port = port
	p.rx = p.rx[:0]
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.readLoop(port, p.stop, p.done)

	log.Printf("[serial] opened %s", p.path)
	return nil
}

// Configure applies the engine's UART framing. Pin numbers are ignored on
// a host port except that a disabled RX pin discards everything received.
func (p *Port) Configure(m vtx.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return ErrNotConnected
	}

	mode, err := serialMode(m)
	if err != nil {
		return err
	}
	if err := p.port.SetMode(mode); err != nil {
		return fmt.Errorf("serialport: set mode on %s: %w", p.path, err)
	}
	p.port.ResetInputBuffer()
	p.rx = p.rx[:0]
	p.rxEnabled = m.RxPin != vtx.PinDisabled

	log.Printf("[serial] %s configured %d baud %d%s%d (rx=%v)",
		p.path, m.BaudRate, m.DataBits, parityLetter(m.Parity), m.StopBits, p.rxEnabled)
	return nil
}

func serialMode(m vtx.Mode) (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: m.BaudRate, DataBits: m.DataBits}
	switch m.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("serialport: unsupported stop bits %d", m.StopBits)
	}
	switch m.Parity {
	case vtx.NoParity:
		mode.Parity = serial.NoParity
	case vtx.OddParity:
		mode.Parity = serial.OddParity
	case vtx.EvenParity:
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("serialport: unsupported parity %d", m.Parity)
	}
	return mode, nil
}

func parityLetter(p vtx.Parity) string {
	switch p {
	case vtx.OddParity:
		return "O"
	case vtx.EvenParity:
		return "E"
	}
	return "N"
}

func (p *Port) readLoop(port rawPort, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 64)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			log.Printf("[serial] read error on %s: %v", p.path, err)
			p.mu.Lock()
			if p.port == port {
				p.port = nil
			}
			p.mu.Unlock()
			port.Close()
			return
		}
		if n == 0 {
			continue
		}

		p.mu.Lock()
		if p.rxEnabled {
			p.rx = append(p.rx, buf[:n]...)
			if over := len(p.rx) - rxBufferSize; over > 0 {
				p.rx = p.rx[over:]
				p.overruns += over
			}
		}
		p.mu.Unlock()
	}
}

func (p *Port) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

func (p *Port) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rx) == 0 {
		return 0, vtx.ErrNoData
	}
	c := p.rx[0]
	p.rx = p.rx[1:]
	return c, nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return 0, ErrNotConnected
	}
	n, err := port.Write(b)
	if err != nil {
		return n, fmt.Errorf("serialport: write %s: %w", p.path, err)
	}
	return n, nil
}

// Flush blocks until the OS has transmitted everything written.
func (p *Port) Flush() error {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	return port.Drain()
}

func (p *Port) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

// Overruns counts received bytes discarded because nobody read them in time.
func (p *Port) Overruns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overruns
}

// Close stops the reader and closes the device.
func (p *Port) Close() error {
	p.mu.Lock()
	port, stop, done := p.port, p.stop, p.done
	p.port = nil
	p.stop = nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

var _ vtx.Transport = (*Port)(nil)
