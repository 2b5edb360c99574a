package smartaudio

import "github.com/shaunagostinho/betavtx/internal/vtx"

type rxState int

const (
	waitPreamble1 rxState = iota
	waitPreamble2
	waitCommand
	waitLength
	waitData
	waitCrc
)

// receiver reassembles reply frames one byte at a time.
type receiver struct {
	state  rxState
	buf    [maxFrameLen]byte
	pos    int
	length int
}

// response is a validated reply: the bare command id and its payload.
// payload aliases the receiver buffer and is only valid until the next feed.
type response struct {
	cmd     byte
	payload []byte
}

// feed consumes one byte and returns a response once a frame with a good
// CRC completes. Framing faults are tallied in stats.
func (r *receiver) feed(c byte, stats *vtx.Counters) (response, bool) {
	switch r.state {
	case waitPreamble1:
		if c == preamble1 {
			r.buf[0] = c
			r.pos = 1
			r.state = waitPreamble2
		}

	case waitPreamble2:
		if c == preamble2 {
			r.buf[r.pos] = c
			r.pos++
			r.state = waitCommand
		} else {
			stats.BadPreamble++
			r.reset()
		}

	case waitCommand:
		r.buf[r.pos] = c
		r.pos++
		r.state = waitLength

	case waitLength:
		r.buf[r.pos] = c
		r.pos++
		r.length = int(c)
		switch {
		case r.length == 0:
			r.state = waitCrc
		case r.length > maxPayloadLen:
			stats.BadLength++
			r.reset()
		default:
			r.state = waitData
		}

	case waitData:
		r.buf[r.pos] = c
		r.pos++
		if r.pos >= headerLen+r.length {
			r.state = waitCrc
		}

	case waitCrc:
		n := r.pos
		r.reset()
		if vtx.CRC8(r.buf[:n]) != c {
			stats.CRCErrors++
			return response{}, false
		}
		return response{cmd: r.buf[2], payload: r.buf[headerLen:n]}, true
	}
	return response{}, false
}

func (r *receiver) reset() {
	r.state = waitPreamble1
	r.pos = 0
	r.length = 0
}
