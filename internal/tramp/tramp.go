// Package tramp drives an ImmersionRC TRAMP video transmitter.
//
// The engine keeps a desired configuration set by the caller and an
// observed one decoded from status replies, and nudges the device toward
// the desired state one command at a time with a bounded retry budget.
package tramp

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

const (
	BaudRate = 9600

	MinRequestPeriod    = 200 * time.Millisecond
	StatusRequestPeriod = 1 * time.Second
	MaxRetries          = 20
)

const stabilizationByte = 0x00

type status int

const (
	statusOffline status = iota
	statusInit
	statusMonitorFreqPwrPit
	statusMonitorTemp
	statusConfig
)

func (s status) String() string {
	switch s {
	case statusOffline:
		return "offline"
	case statusInit:
		return "init"
	case statusMonitorFreqPwrPit:
		return "monitor"
	case statusMonitorTemp:
		return "monitor-temp"
	case statusConfig:
		return "config"
	}
	return "unknown"
}

// Config is the caller's desired VTX configuration.
type Config struct {
	Frequency uint16 `json:"frequency"`
	Power     uint16 `json:"power"`
	PitMode   bool   `json:"pitMode"`
}

// Observed is the configuration last reported by the device.
type Observed struct {
	Frequency   uint16 `json:"frequency"`
	Power       uint16 `json:"power"`
	PitMode     bool   `json:"pitMode"`
	Control     byte   `json:"control"`
	ActualPower uint16 `json:"actualPower"`
	Temperature int16  `json:"temperature"`
}

// Limits are the tuning range and power ceiling from the reset reply.
type Limits struct {
	MinFrequency uint16 `json:"minFrequency"`
	MaxFrequency uint16 `json:"maxFrequency"`
	MaxPower     uint16 `json:"maxPower"`
}

// Engine implements vtx.Engine for TRAMP.
type Engine struct {
	clock vtx.Clock
	port  vtx.Transport

	status status
	ready  bool
	rx     receiver
	tx     [vtx.TrampFrameSize]byte

	conf    Config
	cur     Observed
	limits  Limits
	retries int

	lastRequest uint32 // µs
	stats       vtx.Counters
}

// New creates an idle engine; Init binds it to a transport.
func New(clock vtx.Clock) *Engine {
	return &Engine{clock: clock, retries: MaxRetries}
}

// Init configures t for 9600 8N1 and starts from the offline state.
func (e *Engine) Init(t vtx.Transport, txPin, rxPin int) error {
	if t == nil {
		return vtx.ErrNoTransport
	}
	mode := vtx.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   vtx.NoParity,
		TxPin:    txPin,
		RxPin:    rxPin,
	}
	if err := t.Configure(mode); err != nil {
		return fmt.Errorf("tramp: configure transport: %w", err)
	}

	*e = Engine{clock: e.clock, port: t, retries: MaxRetries}
	// Backdate so the first Poll sends the reset query straight away.
	e.lastRequest = e.clock.Micros() - us(MinRequestPeriod)

	log.Printf("[tramp] initialized (tx=%d rx=%d, %d baud 8N1)", txPin, rxPin, BaudRate)
	return nil
}

// Poll handles at most one reply and runs one step of the state machine.
func (e *Engine) Poll() {
	if e.port == nil {
		return
	}

	now := e.clock.Micros()
	reply := e.receive()

	switch e.status {
	case statusOffline:
		if reply == CmdReset {
			log.Printf("[tramp] device online: %d-%d MHz, max %d mW",
				e.limits.MinFrequency, e.limits.MaxFrequency, e.limits.MaxPower)
			e.status = statusInit
		} else if e.due(now, MinRequestPeriod) {
			e.query(CmdReset, now)
		}

	case statusInit:
		if reply == CmdStatus {
			e.status = statusMonitorFreqPwrPit
			e.ready = true
			log.Printf("[tramp] ready: %d MHz, %d mW, pit=%v", e.cur.Frequency, e.cur.Power, e.cur.PitMode)
		} else if e.due(now, MinRequestPeriod) {
			e.query(CmdStatus, now)
		}

	case statusMonitorFreqPwrPit:
		configNeeded := false
		if e.retries > 0 && e.due(now, MinRequestPeriod) {
			configNeeded = e.correct()
			if configNeeded {
				e.retries--
				e.lastRequest = now
				e.status = statusConfig
				if e.retries == 0 {
					log.Printf("[tramp] retry budget exhausted, device does not confirm %+v", e.conf)
				}
			} else {
				e.retries = MaxRetries
			}
		}
		if !configNeeded {
			if e.due(now, StatusRequestPeriod) {
				e.query(CmdStatus, now)
			} else if reply == CmdStatus {
				e.query(CmdTemperature, now)
				e.status = statusMonitorTemp
			}
		}

	case statusMonitorTemp:
		if reply == CmdTemperature || e.due(now, MinRequestPeriod) {
			e.status = statusMonitorFreqPwrPit
		}

	case statusConfig:
		if e.due(now, MinRequestPeriod) {
			e.query(CmdStatus, now)
			e.status = statusMonitorFreqPwrPit
		}
	}
}

// correct sends one command for the first desired/observed mismatch.
// Frequency and power are left alone while the device is race-locked.
func (e *Engine) correct() bool {
	locked := e.raceLocked()
	switch {
	case !locked && e.conf.Frequency != e.cur.Frequency:
		e.send(CmdSetFreq, e.conf.Frequency)
	case !locked && e.conf.Power != e.cur.Power:
		e.send(CmdSetPower, e.conf.Power)
	case e.conf.PitMode != e.cur.PitMode:
		e.send(CmdSetActive, activeParam(e.conf.PitMode))
	default:
		return false
	}
	return true
}

func (e *Engine) due(now uint32, period time.Duration) bool {
	return vtx.Since(now, e.lastRequest) >= us(period)
}

func (e *Engine) raceLocked() bool {
	return e.cur.Control&controlRaceLock != 0
}

// IsReady reports whether a status reply has been received since Init.
func (e *Engine) IsReady() bool { return e.ready }

// SetFrequency records mhz as desired and sends it at once unless race-locked.
func (e *Engine) SetFrequency(mhz uint16) error {
	if !vtx.ValidFrequency(mhz) {
		return fmt.Errorf("tramp: %d MHz: %w", mhz, vtx.ErrFrequencyOutOfRange)
	}
	if e.limits.MinFrequency != 0 && (mhz < e.limits.MinFrequency || mhz > e.limits.MaxFrequency) {
		return fmt.Errorf("tramp: %d MHz outside device range %d-%d: %w",
			mhz, e.limits.MinFrequency, e.limits.MaxFrequency, vtx.ErrFrequencyOutOfRange)
	}
	e.conf.Frequency = mhz
	e.retries = MaxRetries
	e.sendCommand(CmdSetFreq, mhz)
	return nil
}

// SetPower records mw as desired and sends it at once unless race-locked.
func (e *Engine) SetPower(mw uint16) error {
	if e.limits.MaxPower != 0 && mw > e.limits.MaxPower {
		return fmt.Errorf("tramp: %d mW above device max %d: %w", mw, e.limits.MaxPower, vtx.ErrPowerOutOfRange)
	}
	e.conf.Power = mw
	e.retries = MaxRetries
	e.sendCommand(CmdSetPower, mw)
	return nil
}

// SetPitMode records the desired pit state and always sends it at once.
func (e *Engine) SetPitMode(on bool) error {
	e.conf.PitMode = on
	e.retries = MaxRetries
	e.sendCommand(CmdSetActive, activeParam(on))
	return nil
}

// activeParam inverts pit mode: the device's "active" flag is 0 in pit.
func activeParam(pit bool) uint16 {
	if pit {
		return 0
	}
	return 1
}

// sendCommand is the caller-initiated path: F and P are silently dropped
// while race-locked.
func (e *Engine) sendCommand(cmd byte, param uint16) {
	if cmd != CmdSetActive && e.raceLocked() {
		return
	}
	if e.port == nil {
		return
	}
	e.send(cmd, param)
	e.lastRequest = e.clock.Micros()
}

func (e *Engine) query(cmd byte, now uint32) {
	e.rx.reset()
	e.send(cmd, 0)
	e.lastRequest = now
}

func (e *Engine) send(cmd byte, param uint16) {
	encode(&e.tx, cmd, param)
	if _, err := e.port.Write([]byte{stabilizationByte}); err != nil {
		e.txFailed(err)
		return
	}
	if _, err := e.port.Write(e.tx[:]); err != nil {
		e.txFailed(err)
		return
	}
	if err := e.port.Flush(); err != nil {
		e.txFailed(err)
		return
	}
	e.stats.PacketsSent++
}

func (e *Engine) txFailed(err error) {
	e.stats.TxErrors++
	log.Printf("[tramp] write failed: %v", err)
}

// receive drains input until one valid reply is handled; later bytes stay
// buffered for the next Poll. Returns the reply code or 0.
func (e *Engine) receive() byte {
	for e.port.Available() > 0 {
		c, err := e.port.ReadByte()
		if err != nil {
			return 0
		}
		if frame, ok := e.rx.feed(c, &e.stats); ok {
			e.stats.PacketsReceived++
			return e.handleResponse(frame)
		}
	}
	return 0
}

func (e *Engine) handleResponse(b []byte) byte {
	le := binary.LittleEndian
	switch b[1] {
	case CmdReset:
		minFreq := le.Uint16(b[2:4])
		if minFreq == 0 {
			return 0
		}
		e.limits = Limits{
			MinFrequency: minFreq,
			MaxFrequency: le.Uint16(b[4:6]),
			MaxPower:     le.Uint16(b[6:8]),
		}
		return CmdReset

	case CmdStatus:
		freq := le.Uint16(b[2:4])
		if freq == 0 {
			return 0
		}
		e.cur.Frequency = freq
		e.cur.Power = le.Uint16(b[4:6])
		e.cur.Control = b[6]
		e.cur.PitMode = b[7] != 0
		e.cur.ActualPower = le.Uint16(b[8:10])
		// Adopt the device's own settings until the caller asks otherwise.
		if e.conf.Frequency == 0 {
			e.conf.Frequency = e.cur.Frequency
		}
		if e.conf.Power == 0 {
			e.conf.Power = e.cur.Power
		}
		return CmdStatus

	case CmdTemperature:
		temp := int16(le.Uint16(b[6:8]))
		if temp == 0 {
			return 0
		}
		e.cur.Temperature = temp
		return CmdTemperature
	}
	return 0
}

func us(d time.Duration) uint32 {
	return uint32(d / time.Microsecond)
}

// Desired returns the configuration the engine is converging toward.
func (e *Engine) Desired() Config { return e.conf }

// Observed returns the last device-reported configuration.
func (e *Engine) Observed() Observed { return e.cur }

// Limits returns the device range, zero until the reset reply arrives.
func (e *Engine) Limits() Limits { return e.limits }

// Retries returns the remaining corrective attempts.
func (e *Engine) Retries() int { return e.retries }

// Stats returns the diagnostic counters.
func (e *Engine) Stats() vtx.Counters { return e.stats }

func (e *Engine) Status() vtx.Status {
	s := vtx.Status{
		Protocol:    vtx.Tramp,
		Ready:       e.ready,
		State:       e.status.String(),
		Frequency:   e.cur.Frequency,
		Power:       e.cur.Power,
		PitMode:     e.cur.PitMode,
		Temperature: e.cur.Temperature,
		RaceLocked:  e.raceLocked(),
		Counters:    e.stats,
	}
	if band, ch, ok := vtx.FrequencyToBandChannel(e.cur.Frequency); ok {
		s.Band, s.Channel = band, ch
	}
	return s
}

var _ vtx.Engine = (*Engine)(nil)
