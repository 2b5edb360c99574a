// Package smartaudio drives a SmartAudio (v1, v2, v2.1) video transmitter.
//
// The engine is single-goroutine: the owner calls Poll on a steady cadence
// (a few milliseconds) and the setters from the same goroutine. Setters only
// enqueue; frames leave the port from Poll, one outstanding at a time.
package smartaudio

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

const (
	// BaudRate is fixed; auto-bauding is not attempted.
	BaudRate = 4800

	DefaultPollInterval   = 150 * time.Millisecond
	DefaultCommandTimeout = 120 * time.Millisecond
	DefaultMaxTransmits   = 4
)

// stabilizationByte precedes every frame so the VTX UART wakes up cleanly.
const stabilizationByte = 0x00

type initPhase int

const (
	phaseStart initPhase = iota
	phaseWaitSettings
	phaseWaitPitFrequency
	phaseDone
)

func (p initPhase) String() string {
	switch p {
	case phaseStart:
		return "start"
	case phaseWaitSettings:
		return "wait-settings"
	case phaseWaitPitFrequency:
		return "wait-pit-frequency"
	case phaseDone:
		return "done"
	}
	return "unknown"
}

// Options tunes the engine timing. Zero values pick the defaults.
type Options struct {
	PollInterval   time.Duration // settings poll period once initialized
	CommandTimeout time.Duration // wait for a reply before retransmitting
	MaxTransmits   int           // attempts per command before it is dropped
	PitOutOfRange  bool          // enter pit mode as "out-range" instead of "in-range"
}

// Engine implements vtx.Engine for SmartAudio.
type Engine struct {
	clock vtx.Clock
	opts  Options

	port   vtx.Transport
	txOnly bool

	phase        initPhase
	version      Version
	settingsSeen bool
	channel      byte // device channel index 0..39
	power        byte // raw power byte as reported
	mode         byte // ModeGet* bits
	freq         uint16
	pitFreq      uint16
	pitFreqSeen  bool

	rx          receiver
	queue       queue
	outstanding byte
	transmits   int
	lastTx      uint32 // ms
	lastCommand uint32 // ms

	stats vtx.Counters
}

// New creates an idle engine; Init binds it to a transport.
func New(clock vtx.Clock, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.MaxTransmits <= 0 {
		opts.MaxTransmits = DefaultMaxTransmits
	}
	return &Engine{clock: clock, opts: opts}
}

// Init configures t for 4800 8N2 and restarts the handshake. With rxPin
// set to vtx.PinDisabled frames are sent without waiting for replies.
func (e *Engine) Init(t vtx.Transport, txPin, rxPin int) error {
	if t == nil {
		return vtx.ErrNoTransport
	}
	mode := vtx.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		StopBits: 2,
		Parity:   vtx.NoParity,
		TxPin:    txPin,
		RxPin:    rxPin,
	}
	if err := t.Configure(mode); err != nil {
		return fmt.Errorf("smartaudio: configure transport: %w", err)
	}

	*e = Engine{clock: e.clock, opts: e.opts}
	e.port = t
	e.txOnly = rxPin == vtx.PinDisabled
	e.lastCommand = e.clock.Millis()

	log.Printf("[smartaudio] initialized (tx=%d rx=%d, %d baud 8N2, tx-only=%v)", txPin, rxPin, BaudRate, e.txOnly)
	return nil
}

// Poll drains received bytes, advances the handshake and sends at most one
// frame.
func (e *Engine) Poll() {
	if e.port == nil {
		return
	}

	for e.port.Available() > 0 {
		c, err := e.port.ReadByte()
		if err != nil {
			break
		}
		if resp, ok := e.rx.feed(c, &e.stats); ok {
			e.handleResponse(resp)
		}
	}

	now := e.clock.Millis()
	e.advanceInit(now)

	switch {
	case e.outstanding != CmdNone:
		if vtx.Since(now, e.lastTx) > e.ms(e.opts.CommandTimeout) {
			e.retransmit(now)
		}
	case e.queue.len() > 0:
		e.sendHead(now)
	case e.phase == phaseDone && vtx.Since(now, e.lastCommand) >= e.ms(e.opts.PollInterval):
		e.getSettings()
		e.sendHead(now)
	}
}

func (e *Engine) advanceInit(now uint32) {
	idle := e.outstanding == CmdNone && e.queue.len() == 0 &&
		vtx.Since(now, e.lastCommand) >= e.ms(e.opts.PollInterval)

	switch e.phase {
	case phaseStart:
		e.getSettings()
		e.phase = phaseWaitSettings

	case phaseWaitSettings:
		switch {
		case e.version >= Version2:
			e.queryPitFrequency()
			e.phase = phaseWaitPitFrequency
		case e.version == Version1:
			e.finishInit()
		case idle:
			e.getSettings()
		}

	case phaseWaitPitFrequency:
		if e.pitFreqSeen {
			e.finishInit()
		} else if idle {
			e.queryPitFrequency()
		}
	}
}

func (e *Engine) finishInit() {
	e.phase = phaseDone
	log.Printf("[smartaudio] ready: version %s, channel %d, %d MHz", e.version, e.channel, e.frequency())
}

// IsReady reports a completed handshake with a known protocol version.
func (e *Engine) IsReady() bool {
	return e.phase == phaseDone && e.version != VersionUnknown
}

// SetFrequency queues a SET_FREQUENCY for mhz (5000-5999).
func (e *Engine) SetFrequency(mhz uint16) error {
	if !vtx.ValidFrequency(mhz) {
		return fmt.Errorf("smartaudio: %d MHz: %w", mhz, vtx.ErrFrequencyOutOfRange)
	}
	e.enqueue(newFrame(CmdSetFrequency, byte(mhz>>8), byte(mhz)))
	return nil
}

// SetPower queues a SET_POWER for the table level nearest below mw,
// encoded for the negotiated version.
func (e *Engine) SetPower(mw uint16) error {
	return e.SetPowerIndex(powerIndex(mw))
}

// SetPowerIndex queues a SET_POWER for a raw table index (0-3).
func (e *Engine) SetPowerIndex(idx int) error {
	if idx < 0 || idx >= len(powerTable) {
		return fmt.Errorf("smartaudio: power index %d: %w", idx, vtx.ErrPowerOutOfRange)
	}
	e.enqueue(newFrame(CmdSetPower, encodePower(e.version, idx)))
	return nil
}

// SetPitMode queues a SET_MODE. Version 1 devices have no pit mode.
func (e *Engine) SetPitMode(on bool) error {
	if e.version < Version2 {
		return fmt.Errorf("smartaudio: %w", vtx.ErrPitModeUnsupported)
	}
	mode := byte(ModeClrPitMode)
	if on {
		mode = ModeSetInRange
		if e.opts.PitOutOfRange {
			mode = ModeSetOutRange
		}
	}
	if e.mode&ModeGetUnlock != 0 {
		mode |= ModeSetUnlock
	}
	e.enqueue(newFrame(CmdSetMode, mode))
	return nil
}

// SetBandAndChannel queues a SET_CHANNEL for a 1-based band (1-5) and
// channel (1-8).
func (e *Engine) SetBandAndChannel(band, channel int) error {
	if !vtx.ValidBandChannel(band, channel) {
		return fmt.Errorf("smartaudio: band %d channel %d: %w", band, channel, vtx.ErrInvalidBandChannel)
	}
	ch := byte((band-vtx.MinBand)*vtx.MaxChannel + (channel - vtx.MinChannel))
	e.enqueue(newFrame(CmdSetChannel, ch))
	return nil
}

func (e *Engine) getSettings() {
	e.enqueue(newFrame(CmdGetSettings))
}

func (e *Engine) queryPitFrequency() {
	e.enqueue(newFrame(CmdSetFrequency, byte(freqGetPit>>8), byte(freqGetPit&0xFF)))
}

func (e *Engine) enqueue(f frame) {
	if !e.queue.push(f) {
		e.stats.QueueDrops++
	}
}

func (e *Engine) sendHead(now uint32) {
	f, ok := e.queue.front()
	if !ok {
		return
	}
	e.transmit(f.bytes(), now)
	if e.txOnly {
		e.queue.pop()
		return
	}
	e.outstanding = f.command()
	e.transmits = 1
}

func (e *Engine) retransmit(now uint32) {
	if e.transmits >= e.opts.MaxTransmits {
		e.stats.Timeouts++
		log.Printf("[smartaudio] no reply to command 0x%02X after %d attempts, dropping", e.outstanding, e.transmits)
		e.queue.pop()
		e.outstanding = CmdNone
		e.transmits = 0
		return
	}
	f, ok := e.queue.front()
	if !ok {
		e.outstanding = CmdNone
		return
	}
	e.stats.Retransmits++
	e.transmits++
	e.transmit(f.bytes(), now)
}

func (e *Engine) transmit(b []byte, now uint32) {
	e.lastTx = now
	e.lastCommand = now
	if _, err := e.port.Write([]byte{stabilizationByte}); err != nil {
		e.txFailed(err)
		return
	}
	if _, err := e.port.Write(b); err != nil {
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
	log.Printf("[smartaudio] write failed: %v", err)
}

func (e *Engine) handleResponse(r response) {
	e.stats.PacketsReceived++

	if e.outstanding != CmdNone &&
		(r.cmd == e.outstanding || (e.outstanding == CmdGetSettings && isSettingsReply(r.cmd))) {
		e.queue.pop()
		e.outstanding = CmdNone
		e.transmits = 0
	}

	switch r.cmd {
	case CmdGetSettings, CmdGetSettingsV2, CmdGetSettingsV21:
		if len(r.payload) < 2 {
			return
		}
		v := Version1
		switch r.cmd {
		case CmdGetSettingsV2:
			v = Version2
		case CmdGetSettingsV21:
			v = Version21
		}
		if v != e.version {
			log.Printf("[smartaudio] device speaks version %s", v)
			e.version = v
		}
		e.settingsSeen = true
		e.channel = r.payload[0]
		e.power = r.payload[1] & powerMask
		if len(r.payload) >= 3 {
			e.mode = r.payload[2]
		}
		if len(r.payload) >= 5 {
			e.freq = binary.BigEndian.Uint16(r.payload[3:5])
		}

	case CmdSetFrequency:
		if len(r.payload) < 2 {
			return
		}
		f := binary.BigEndian.Uint16(r.payload)
		if f&freqGetPit != 0 {
			e.pitFreq = f & freqMask
			e.pitFreqSeen = true
		} else {
			e.freq = f
		}

	case CmdSetPower:
		if len(r.payload) >= 1 && e.version != Version21 {
			e.power = r.payload[0] & powerMask
		}

	case CmdSetChannel:
		if len(r.payload) >= 1 {
			e.channel = r.payload[0]
			e.freq = 0
		}

	case CmdSetMode:
		if len(r.payload) >= 1 {
			e.applyModeEcho(r.payload[0])
		}
	}
}

// applyModeEcho maps the SET_MODE bits a device acknowledged onto the
// reported ModeGet* bits.
func (e *Engine) applyModeEcho(m byte) {
	switch {
	case m&ModeClrPitMode != 0:
		e.mode &^= ModeGetPitMode
	case m&ModeSetInRange != 0:
		e.mode = e.mode&^ModeGetOutRange | ModeGetPitMode | ModeGetInRange
	case m&ModeSetOutRange != 0:
		e.mode = e.mode&^ModeGetInRange | ModeGetPitMode | ModeGetOutRange
	}
	if m&ModeSetUnlock != 0 {
		e.mode |= ModeGetUnlock
	} else {
		e.mode &^= ModeGetUnlock
	}
}

func (e *Engine) ms(d time.Duration) uint32 {
	return uint32(d / time.Millisecond)
}

// frequency prefers a reported frequency and falls back to the channel table.
func (e *Engine) frequency() uint16 {
	if e.freq != 0 {
		return e.freq
	}
	if e.settingsSeen && e.channel < vtx.MaxBand*vtx.MaxChannel {
		return vtx.BandChannelToFrequency(int(e.channel)/vtx.MaxChannel+vtx.MinBand, int(e.channel)%vtx.MaxChannel+vtx.MinChannel)
	}
	return 0
}

// Version returns the negotiated protocol version.
func (e *Engine) Version() Version { return e.version }

// Channel returns the device channel index (0-39) and whether it is known.
func (e *Engine) Channel() (byte, bool) { return e.channel, e.settingsSeen }

// PowerByte returns the raw power byte last reported by the device.
func (e *Engine) PowerByte() (byte, bool) { return e.power, e.settingsSeen }

// Stats returns the diagnostic counters.
func (e *Engine) Stats() vtx.Counters { return e.stats }

// QueueLen returns the number of pending (unsent or unacknowledged) frames.
func (e *Engine) QueueLen() int { return e.queue.len() }

func (e *Engine) Status() vtx.Status {
	s := vtx.Status{
		Protocol:  vtx.SmartAudio,
		Ready:     e.IsReady(),
		State:     e.phase.String(),
		Version:   e.version.String(),
		Frequency: e.frequency(),
		Power:     decodePower(e.version, e.power),
		PitMode:   e.mode&ModeGetPitMode != 0,
		PitFreq:   e.pitFreq,
		Counters:  e.stats,
	}
	if e.settingsSeen && e.channel < vtx.MaxBand*vtx.MaxChannel {
		s.Band = int(e.channel)/vtx.MaxChannel + vtx.MinBand
		s.Channel = int(e.channel)%vtx.MaxChannel + vtx.MinChannel
	}
	return s
}

var _ vtx.Engine = (*Engine)(nil)
