package sim

import (
	"encoding/binary"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

const trampHeader = 0x0F

// TrampDevice emulates an ImmersionRC TRAMP VTX.
type TrampDevice struct {
	link

	Silent     bool
	IgnoreSets bool
	RaceLock   bool

	MinFreq  uint16
	MaxFreq  uint16
	MaxPower uint16

	freq        uint16
	power       uint16
	pit         bool
	temperature int16
}

// NewTrampDevice returns a device on Raceband 1 at 25 mW, range 5600-5950.
func NewTrampDevice() *TrampDevice {
	return &TrampDevice{
		MinFreq:     5600,
		MaxFreq:     5950,
		MaxPower:    600,
		freq:        vtx.BandChannelToFrequency(vtx.BandR, 1),
		power:       25,
		temperature: 31,
	}
}

func (d *TrampDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = append(d.in, p...)
	d.decode()
	return len(p), nil
}

func (d *TrampDevice) decode() {
	for len(d.in) > 0 {
		if d.in[0] != trampHeader {
			d.skip(1)
			continue
		}
		if len(d.in) < vtx.TrampFrameSize {
			return
		}
		frame := d.in[:vtx.TrampFrameSize]
		if frame[vtx.TrampChecksumPos] != vtx.TrampChecksum(frame) || frame[vtx.TrampTermPos] != 0 {
			d.skip(1)
			continue
		}
		d.frames = append(d.frames, append([]byte(nil), frame...))
		d.handle(frame[1], binary.LittleEndian.Uint16(frame[2:4]))
		d.in = d.in[vtx.TrampFrameSize:]
	}
}

func (d *TrampDevice) handle(code byte, param uint16) {
	switch code {
	case 'r':
		d.reply('r', d.MinFreq, d.MaxFreq, d.MaxPower)
	case 'v':
		var control, pit uint16
		if d.RaceLock {
			control = 0x01
		}
		if d.pit {
			pit = 1
		}
		actual := d.power
		if d.pit {
			actual = 1
		}
		// control and pit share one 16-bit slot: low byte control, high byte pit
		d.reply('v', d.freq, d.power, control|pit<<8, actual)
	case 's':
		d.reply('s', 0, 0, uint16(d.temperature))
	case 'F':
		if !d.IgnoreSets && !d.RaceLock {
			d.freq = param
		}
	case 'P':
		if !d.IgnoreSets && !d.RaceLock {
			d.power = param
		}
	case 'I':
		if !d.IgnoreSets {
			d.pit = param == 0
		}
	}
}

func (d *TrampDevice) reply(code byte, words ...uint16) {
	if d.Silent {
		return
	}
	frame := make([]byte, vtx.TrampFrameSize)
	frame[0] = trampHeader
	frame[1] = code
	for i, w := range words {
		binary.LittleEndian.PutUint16(frame[2+2*i:], w)
	}
	frame[vtx.TrampChecksumPos] = vtx.TrampChecksum(frame)
	d.out = append(d.out, frame...)
}

// TrampState is the simulated device's current configuration.
type TrampState struct {
	Frequency   uint16
	Power       uint16
	PitMode     bool
	Temperature int16
}

func (d *TrampDevice) State() TrampState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return TrampState{Frequency: d.freq, Power: d.power, PitMode: d.pit, Temperature: d.temperature}
}

// SetState overrides the device configuration, e.g. to model a change made
// on the VTX buttons.
func (d *TrampDevice) SetState(s TrampState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freq, d.power, d.pit = s.Frequency, s.Power, s.PitMode
	if s.Temperature != 0 {
		d.temperature = s.Temperature
	}
}

// SetRaceLock toggles the race-lock flag under the device lock.
func (d *TrampDevice) SetRaceLock(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RaceLock = on
}

// SetIgnoreSets toggles whether F/P/I commands are applied.
func (d *TrampDevice) SetIgnoreSets(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.IgnoreSets = on
}

// Codes returns the command code of every decoded host frame, in order.
func (d *TrampDevice) Codes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	codes := make([]byte, len(d.frames))
	for i, f := range d.frames {
		codes[i] = f[1]
	}
	return codes
}
