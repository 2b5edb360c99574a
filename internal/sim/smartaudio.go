package sim

import (
	"encoding/binary"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

// SmartAudio wire values as seen from the device side.
const (
	saPreamble1 = 0xAA
	saPreamble2 = 0x55

	saGetSettings = 0x01
	saSetPower    = 0x02
	saSetChannel  = 0x03
	saSetFreq     = 0x04
	saSetMode     = 0x05

	saModeGetFreqMode = 0x01
	saModeGetPitMode  = 0x02
	saModeGetInRange  = 0x04
	saModeGetOutRange = 0x08
	saModeGetUnlock   = 0x10

	saModeSetInRange  = 0x01
	saModeSetOutRange = 0x02
	saModeClrPitMode  = 0x04
	saModeSetUnlock   = 0x08

	saFreqGetPit = 0x4000
	saFreqSetPit = 0x8000
	saFreqMask   = 0x3FFF
)

var (
	saV1Levels = []byte{7, 16, 25, 40}
	saV21DBm   = []byte{14, 23, 27, 29}
)

// SmartAudioDevice emulates a SmartAudio VTX. Version is 1, 2 or 3 (2.1).
type SmartAudioDevice struct {
	link

	Version int
	// Silent drops every request without replying.
	Silent bool
	// IgnoreSets acknowledges set commands without applying them.
	IgnoreSets bool

	channel    byte // 0..39
	powerIndex byte
	freq       uint16
	freqMode   bool
	pitFreq    uint16
	pit        bool
	outRange   bool
	unlocked   bool
}

// NewSmartAudioDevice returns a device parked on Raceband 1 at 25 mW.
func NewSmartAudioDevice(version int) *SmartAudioDevice {
	return &SmartAudioDevice{
		Version:  version,
		channel:  32,
		freq:     vtx.BandChannelToFrequency(vtx.BandR, 1),
		pitFreq:  5584,
		unlocked: true,
	}
}

func (d *SmartAudioDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = append(d.in, p...)
	d.decode()
	return len(p), nil
}

func (d *SmartAudioDevice) decode() {
	for len(d.in) > 0 {
		if d.in[0] != saPreamble1 {
			d.skip(1)
			continue
		}
		if len(d.in) < 4 {
			return
		}
		if d.in[1] != saPreamble2 {
			d.skip(1)
			continue
		}
		n := 4 + int(d.in[3]) + 1
		if len(d.in) < n {
			return
		}
		frame := d.in[:n]
		if vtx.CRC8(frame[:n-1]) != frame[n-1] {
			d.skip(1)
			continue
		}
		d.frames = append(d.frames, append([]byte(nil), frame...))
		d.handle(frame[2]>>1, frame[4:n-1])
		d.in = d.in[n:]
	}
}

func (d *SmartAudioDevice) handle(cmd byte, payload []byte) {
	if d.Silent {
		return
	}
	switch cmd {
	case saGetSettings:
		d.reply(d.settingsCode(), d.settingsPayload()...)

	case saSetPower:
		if len(payload) < 1 {
			return
		}
		if !d.IgnoreSets {
			if idx, ok := d.decodePower(payload[0]); ok {
				d.powerIndex = idx
			}
		}
		d.reply(saSetPower, payload[0], 0x01)

	case saSetChannel:
		if len(payload) < 1 {
			return
		}
		if !d.IgnoreSets && payload[0] < 40 {
			d.channel = payload[0]
			d.freq = vtx.BandChannelToFrequency(int(payload[0])/8+1, int(payload[0])%8+1)
			d.freqMode = false
		}
		d.reply(saSetChannel, payload[0], 0x01)

	case saSetFreq:
		if len(payload) < 2 {
			return
		}
		f := binary.BigEndian.Uint16(payload)
		switch {
		case f&saFreqGetPit != 0:
			d.reply(saSetFreq, byte((d.pitFreq|saFreqGetPit)>>8), byte(d.pitFreq|saFreqGetPit), 0x01)
			return
		case f&saFreqSetPit != 0:
			if !d.IgnoreSets {
				d.pitFreq = f & saFreqMask
			}
		default:
			if !d.IgnoreSets {
				d.freq = f
				d.freqMode = true
			}
		}
		d.reply(saSetFreq, payload[0], payload[1], 0x01)

	case saSetMode:
		if len(payload) < 1 || d.Version < 2 {
			return
		}
		m := payload[0]
		if !d.IgnoreSets {
			switch {
			case m&saModeClrPitMode != 0:
				d.pit = false
			case m&saModeSetInRange != 0:
				d.pit, d.outRange = true, false
			case m&saModeSetOutRange != 0:
				d.pit, d.outRange = true, true
			}
			d.unlocked = m&saModeSetUnlock != 0
		}
		d.reply(saSetMode, m, 0x01)
	}
}

func (d *SmartAudioDevice) settingsCode() byte {
	switch d.Version {
	case 2:
		return 0x09
	case 3:
		return 0x11
	}
	return 0x01
}

func (d *SmartAudioDevice) settingsPayload() []byte {
	var mode byte
	if d.freqMode {
		mode |= saModeGetFreqMode
	}
	if d.pit {
		mode |= saModeGetPitMode
		if d.outRange {
			mode |= saModeGetOutRange
		} else {
			mode |= saModeGetInRange
		}
	}
	if d.unlocked {
		mode |= saModeGetUnlock
	}
	power := d.powerIndex
	if d.Version == 1 {
		power = saV1Levels[d.powerIndex]
	}
	return []byte{d.channel, power, mode, byte(d.freq >> 8), byte(d.freq)}
}

func (d *SmartAudioDevice) decodePower(b byte) (byte, bool) {
	switch d.Version {
	case 1:
		for i, lvl := range saV1Levels {
			if lvl == b {
				return byte(i), true
			}
		}
		return 0, false
	case 3:
		dbm := b &^ 0x80
		for i, v := range saV21DBm {
			if v == dbm {
				return byte(i), true
			}
		}
		return 0, false
	}
	if int(b) < len(saV1Levels) {
		return b, true
	}
	return 0, false
}

func (d *SmartAudioDevice) reply(cmd byte, payload ...byte) {
	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, saPreamble1, saPreamble2, cmd, byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, vtx.CRC8(frame))
	d.out = append(d.out, frame...)
}

// SmartAudioState is the simulated device's current configuration.
type SmartAudioState struct {
	Channel    byte
	PowerIndex byte
	Frequency  uint16
	PitFreq    uint16
	PitMode    bool
	Unlocked   bool
}

// State snapshots the device configuration.
func (d *SmartAudioDevice) State() SmartAudioState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return SmartAudioState{
		Channel:    d.channel,
		PowerIndex: d.powerIndex,
		Frequency:  d.freq,
		PitFreq:    d.pitFreq,
		PitMode:    d.pit,
		Unlocked:   d.unlocked,
	}
}
