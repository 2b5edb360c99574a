package vtx

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoTransport is returned by Init when no transport is supplied.
	ErrNoTransport = errors.New("vtx: no transport")
	// ErrNotInitialized is returned when no engine has been constructed yet.
	ErrNotInitialized = errors.New("vtx: not initialized")
	// ErrFrequencyOutOfRange rejects frequencies the device cannot tune.
	ErrFrequencyOutOfRange = errors.New("vtx: frequency out of range")
	// ErrPowerOutOfRange rejects power levels above what the device reports.
	ErrPowerOutOfRange = errors.New("vtx: power out of range")
	// ErrInvalidBandChannel rejects band/channel pairs outside the table.
	ErrInvalidBandChannel = errors.New("vtx: invalid band or channel")
	// ErrPitModeUnsupported is returned when the negotiated protocol
	// version has no pit mode.
	ErrPitModeUnsupported = errors.New("vtx: pit mode not supported by device")
)

// Protocol selects the wire protocol spoken to the VTX.
type Protocol int

const (
	SmartAudio Protocol = iota
	Tramp
)

func (p Protocol) String() string {
	switch p {
	case SmartAudio:
		return "smartaudio"
	case Tramp:
		return "tramp"
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// ParseProtocol accepts "smartaudio" / "sa" and "tramp" (case-insensitive).
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "smartaudio", "sa":
		return SmartAudio, nil
	case "tramp":
		return Tramp, nil
	}
	return 0, fmt.Errorf("vtx: unknown protocol %q", s)
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Engine is the capability set both protocol engines implement.
type Engine interface {
	// Init binds the engine to a transport and configures its framing.
	Init(t Transport, txPin, rxPin int) error
	// Poll drains received bytes and advances timers. Never blocks on input.
	Poll()
	// IsReady reports whether the device handshake has completed.
	IsReady() bool
	SetFrequency(mhz uint16) error
	SetPower(mw uint16) error
	SetPitMode(on bool) error
	// Status snapshots the observed device state and diagnostics.
	Status() Status
}

// Counters are the engine diagnostics. Malformed input is only ever counted.
type Counters struct {
	PacketsSent     uint32 `json:"packetsSent"`
	PacketsReceived uint32 `json:"packetsReceived"`
	CRCErrors       uint32 `json:"crcErrors"`
	BadLength       uint32 `json:"badLength"`
	BadPreamble     uint32 `json:"badPreamble"`
	QueueDrops      uint32 `json:"queueDrops"`
	Retransmits     uint32 `json:"retransmits"`
	Timeouts        uint32 `json:"timeouts"`
	TxErrors        uint32 `json:"txErrors"`
}

// Status is a point-in-time view of an engine.
type Status struct {
	Protocol    Protocol `json:"protocol"`
	Ready       bool     `json:"ready"`
	State       string   `json:"state"`             // engine-specific phase name
	Version     string   `json:"version,omitempty"` // SmartAudio only
	Frequency   uint16   `json:"frequency"`         // MHz, 0 = unknown
	Band        int      `json:"band,omitempty"`
	Channel     int      `json:"channel,omitempty"`
	Power       uint16   `json:"power"` // mW, 0 = unknown
	PitMode     bool     `json:"pitMode"`
	PitFreq     uint16   `json:"pitFrequency,omitempty"`
	Temperature int16    `json:"temperature,omitempty"` // °C, TRAMP only
	RaceLocked  bool     `json:"raceLocked,omitempty"`
	Counters    Counters `json:"counters"`
}
