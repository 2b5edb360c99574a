package tramp

import (
	"encoding/binary"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

const (
	header    = 0x0F
	altHeader = 0x10 // some firmwares answer with 0x10
)

// Command and reply codes.
const (
	CmdReset       = 'r'
	CmdStatus      = 'v'
	CmdTemperature = 's'
	CmdSetFreq     = 'F'
	CmdSetPower    = 'P'
	CmdSetActive   = 'I'
)

const controlRaceLock = 0x01

// encode fills buf with a 16-byte request frame.
func encode(buf *[vtx.TrampFrameSize]byte, cmd byte, param uint16) {
	*buf = [vtx.TrampFrameSize]byte{}
	buf[0] = header
	buf[1] = cmd
	binary.LittleEndian.PutUint16(buf[2:4], param)
	buf[vtx.TrampChecksumPos] = vtx.TrampChecksum(buf[:])
	buf[vtx.TrampTermPos] = 0
}

type rxState int

const (
	waitHeader rxState = iota
	waitCode
	waitData
)

// receiver accumulates one 16-byte reply at a time.
type receiver struct {
	state rxState
	buf   [vtx.TrampFrameSize]byte
	pos   int
}

// feed consumes one byte and returns the frame once 16 bytes with a valid
// checksum and terminator have arrived. The returned slice aliases the
// receiver buffer until the next feed.
func (r *receiver) feed(c byte, stats *vtx.Counters) ([]byte, bool) {
	r.buf[r.pos] = c
	r.pos++

	switch r.state {
	case waitHeader:
		if c == header || c == altHeader {
			r.state = waitCode
		} else {
			r.reset()
		}

	case waitCode:
		if c == CmdReset || c == CmdStatus || c == CmdTemperature {
			r.state = waitData
		} else {
			r.reset()
		}

	case waitData:
		if r.pos < vtx.TrampFrameSize {
			return nil, false
		}
		r.reset()
		if r.buf[vtx.TrampChecksumPos] != vtx.TrampChecksum(r.buf[:]) || r.buf[vtx.TrampTermPos] != 0 {
			stats.CRCErrors++
			return nil, false
		}
		return r.buf[:], true
	}
	return nil, false
}

func (r *receiver) reset() {
	r.state = waitHeader
	r.pos = 0
}
