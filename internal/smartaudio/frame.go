package smartaudio

import "github.com/shaunagostinho/betavtx/internal/vtx"

const (
	preamble1 = 0xAA
	preamble2 = 0x55

	maxFrameLen   = 21
	headerLen     = 4 // preamble x2, command, length
	maxPayloadLen = maxFrameLen - headerLen - 1
)

// Command ids. Requests go out as id<<1|1; replies carry the bare id.
const (
	CmdNone           = 0x00
	CmdGetSettings    = 0x01
	CmdSetPower       = 0x02
	CmdSetChannel     = 0x03
	CmdSetFrequency   = 0x04
	CmdSetMode        = 0x05
	CmdGetSettingsV2  = 0x09
	CmdGetSettingsV21 = 0x11
)

// Operation mode bits reported in a settings reply.
const (
	ModeGetFreqMode = 0x01
	ModeGetPitMode  = 0x02
	ModeGetInRange  = 0x04
	ModeGetOutRange = 0x08
	ModeGetUnlock   = 0x10
)

// Operation mode bits accepted by SET_MODE.
const (
	ModeSetInRange  = 0x01
	ModeSetOutRange = 0x02
	ModeClrPitMode  = 0x04
	ModeSetUnlock   = 0x08
)

const (
	freqGetPit = 0x4000
	freqMask   = 0x3FFF
	powerMask  = 0x7F
	dBmFlag    = 0x80
)

// frame is one outbound request, stored inline so the queue never allocates.
type frame struct {
	buf [maxFrameLen]byte
	n   uint8
}

// newFrame builds AA 55 id<<1|1 len payload crc.
func newFrame(cmd byte, payload ...byte) frame {
	var f frame
	f.buf[0] = preamble1
	f.buf[1] = preamble2
	f.buf[2] = cmd<<1 | 1
	f.buf[3] = byte(len(payload))
	n := headerLen + copy(f.buf[headerLen:maxFrameLen-1], payload)
	f.buf[n] = vtx.CRC8(f.buf[:n])
	f.n = uint8(n + 1)
	return f
}

func (f frame) bytes() []byte { return f.buf[:f.n] }

// command returns the request id the frame carries.
func (f frame) command() byte { return f.buf[2] >> 1 }

func isSettingsReply(cmd byte) bool {
	return cmd == CmdGetSettings || cmd == CmdGetSettingsV2 || cmd == CmdGetSettingsV21
}
