package tramp

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/betavtx/internal/sim"
	"github.com/shaunagostinho/betavtx/internal/vtx"
)

const tick = 5 * time.Millisecond

func replyFrame(hdr, code byte, words ...uint16) []byte {
	f := make([]byte, vtx.TrampFrameSize)
	f[0] = hdr
	f[1] = code
	for i, w := range words {
		binary.LittleEndian.PutUint16(f[2+2*i:], w)
	}
	f[vtx.TrampChecksumPos] = vtx.TrampChecksum(f)
	return f
}

func runFor(e *Engine, clock *sim.ManualClock, d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += tick {
		e.Poll()
		clock.Advance(tick)
	}
}

func runUntilReady(t *testing.T, e *Engine, clock *sim.ManualClock) {
	for i := 0; i < 200 && !e.IsReady(); i++ {
		e.Poll()
		clock.Advance(tick)
	}
	require.True(t, e.IsReady())
}

func newDeviceEngine(t *testing.T, dev *sim.TrampDevice) (*Engine, *sim.ManualClock) {
	clock := sim.NewManualClock()
	e := New(clock)
	require.NoError(t, e.Init(dev, 16, 17))
	runUntilReady(t, e, clock)
	return e, clock
}

func count(codes []byte, code byte) int {
	n := 0
	for _, c := range codes {
		if c == code {
			n++
		}
	}
	return n
}

func TestEncode(t *testing.T) {
	var buf [vtx.TrampFrameSize]byte
	encode(&buf, CmdSetFreq, 5740)

	want := [vtx.TrampFrameSize]byte{0x0F, 'F', 0x6C, 0x16}
	want[vtx.TrampChecksumPos] = 0xC8
	require.Equal(t, want, buf)

	encode(&buf, CmdStatus, 0)
	require.Equal(t, byte('v'), buf[vtx.TrampChecksumPos])
	require.Zero(t, buf[vtx.TrampTermPos])
}

func TestReceiver(t *testing.T) {
	var stats vtx.Counters
	var r receiver

	feedAll := func(b []byte) (frames [][]byte) {
		for _, c := range b {
			if f, ok := r.feed(c, &stats); ok {
				frames = append(frames, append([]byte(nil), f...))
			}
		}
		return frames
	}

	good := replyFrame(header, CmdStatus, 5658, 25)
	require.Equal(t, [][]byte{good}, feedAll(good))

	// Noise, a header followed by a bad code, then a valid frame.
	got := feedAll(append([]byte{0xFF, 0x00, header, 'x'}, good...))
	require.Equal(t, [][]byte{good}, got)

	alt := replyFrame(altHeader, CmdTemperature, 0, 0, 30)
	require.Equal(t, [][]byte{alt}, feedAll(alt))

	bad := replyFrame(header, CmdStatus, 5658, 25)
	bad[vtx.TrampChecksumPos]++
	require.Empty(t, feedAll(bad))
	require.Equal(t, uint32(1), stats.CRCErrors)

	noTerm := replyFrame(header, CmdStatus, 5658, 25)
	noTerm[vtx.TrampTermPos] = 0x01
	require.Empty(t, feedAll(noTerm))
	require.Equal(t, uint32(2), stats.CRCErrors)

	// Host command codes are never accepted as replies.
	require.Empty(t, feedAll(replyFrame(header, CmdSetFreq, 5740)))

	require.Equal(t, [][]byte{good}, feedAll(good))
}

func TestInit(t *testing.T) {
	clock := sim.NewManualClock()
	e := New(clock)
	require.ErrorIs(t, e.Init(nil, 16, 17), vtx.ErrNoTransport)

	wire := sim.NewWire()
	require.NoError(t, e.Init(wire, 16, 17))
	mode, ok := wire.Mode()
	require.True(t, ok)
	require.Equal(t, vtx.Mode{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: vtx.NoParity, TxPin: 16, RxPin: 17}, mode)
	require.False(t, e.IsReady())

	// First poll asks for the device limits, preceded by the stabilization byte.
	e.Poll()
	var want [vtx.TrampFrameSize]byte
	encode(&want, CmdReset, 0)
	require.Equal(t, append([]byte{0x00}, want[:]...), wire.TakeWritten())
	require.Equal(t, 1, wire.Flushes())

	// No reply: the next query waits the minimum spacing.
	clock.Advance(MinRequestPeriod - tick)
	e.Poll()
	require.Empty(t, wire.TakeWritten())
	clock.Advance(tick)
	e.Poll()
	require.Len(t, wire.TakeWritten(), vtx.TrampFrameSize+1)
	require.Equal(t, "offline", e.Status().State)
}

func TestHandshakeWithDevice(t *testing.T) {
	dev := sim.NewTrampDevice()
	dev.SetState(sim.TrampState{Frequency: 5800, Power: 200})
	e, clock := newDeviceEngine(t, dev)

	require.Equal(t, Limits{MinFrequency: 5600, MaxFrequency: 5950, MaxPower: 600}, e.Limits())
	// Desired state is seeded from the first status reply.
	require.Equal(t, Config{Frequency: 5800, Power: 200}, e.Desired())

	codes := dev.Codes()
	require.Equal(t, []byte{CmdReset, CmdStatus}, codes)
	require.Equal(t, len(codes), dev.StabilizationBytes())

	runFor(e, clock, 1500*time.Millisecond)
	st := e.Status()
	require.True(t, st.Ready)
	require.Equal(t, uint16(5800), st.Frequency)
	require.Equal(t, vtx.BandF, st.Band)
	require.Equal(t, 4, st.Channel)
	require.Equal(t, int16(31), st.Temperature)
	require.False(t, st.RaceLocked)
	require.Zero(t, st.Counters.CRCErrors)
	require.Contains(t, dev.Codes(), byte(CmdTemperature))
}

func TestZeroValuesAreIgnored(t *testing.T) {
	clock := sim.NewManualClock()
	wire := sim.NewWire()
	e := New(clock)
	require.NoError(t, e.Init(wire, 16, 17))

	wire.Inject(replyFrame(header, CmdReset, 0, 5950, 600)...)
	e.Poll()
	require.Equal(t, "offline", e.Status().State)
	require.Zero(t, e.Limits())

	wire.Inject(replyFrame(header, CmdReset, 5600, 5950, 600)...)
	e.Poll()
	require.Equal(t, "init", e.Status().State)

	wire.Inject(replyFrame(header, CmdStatus, 0, 25)...)
	e.Poll()
	require.False(t, e.IsReady())

	wire.Inject(replyFrame(header, CmdStatus, 5658, 25, 0, 25)...)
	e.Poll()
	require.True(t, e.IsReady())

	wire.Inject(replyFrame(header, CmdTemperature, 0, 0, 40)...)
	e.Poll()
	require.Equal(t, int16(40), e.Observed().Temperature)
	wire.Inject(replyFrame(header, CmdTemperature, 0, 0, 0)...)
	e.Poll()
	require.Equal(t, int16(40), e.Observed().Temperature)
}

func TestSetterValidation(t *testing.T) {
	clock := sim.NewManualClock()
	e := New(clock)
	require.NoError(t, e.Init(sim.NewWire(), 16, 17))

	require.ErrorIs(t, e.SetFrequency(4999), vtx.ErrFrequencyOutOfRange)
	require.ErrorIs(t, e.SetFrequency(6000), vtx.ErrFrequencyOutOfRange)
	// Device limits are unknown yet, so any 5 GHz value and power pass.
	require.NoError(t, e.SetFrequency(5980))
	require.NoError(t, e.SetPower(1000))

	e2, _ := newDeviceEngine(t, sim.NewTrampDevice())
	require.ErrorIs(t, e2.SetFrequency(5980), vtx.ErrFrequencyOutOfRange)
	require.ErrorIs(t, e2.SetFrequency(5500), vtx.ErrFrequencyOutOfRange)
	require.ErrorIs(t, e2.SetPower(800), vtx.ErrPowerOutOfRange)
	require.NoError(t, e2.SetPower(600))
}

func TestConvergence(t *testing.T) {
	dev := sim.NewTrampDevice()
	e, clock := newDeviceEngine(t, dev)
	dev.ClearFrames()

	// The device drops the first few attempts.
	dev.SetIgnoreSets(true)
	require.NoError(t, e.SetFrequency(5740))
	require.Equal(t, []byte{CmdSetFreq}, dev.Codes())

	var sendTimes []uint32
	seen := 1
	sendTimes = append(sendTimes, clock.Micros())
	poll := func(d time.Duration) {
		for elapsed := time.Duration(0); elapsed < d; elapsed += tick {
			e.Poll()
			codes := dev.Codes()
			for _, c := range codes[seen:] {
				if c == CmdSetFreq {
					sendTimes = append(sendTimes, clock.Micros())
				}
			}
			seen = len(codes)
			clock.Advance(tick)
		}
	}

	poll(time.Second)
	require.Equal(t, uint16(5658), e.Observed().Frequency)
	require.Greater(t, len(sendTimes), 1)

	dev.SetIgnoreSets(false)
	for i := 0; i < 20 && e.Observed().Frequency != 5740; i++ {
		poll(100 * time.Millisecond)
	}
	require.Equal(t, uint16(5740), e.Observed().Frequency)
	require.Equal(t, uint16(5740), dev.State().Frequency)

	require.LessOrEqual(t, len(sendTimes), 1+MaxRetries)
	for i := 1; i < len(sendTimes); i++ {
		require.GreaterOrEqual(t, vtx.Since(sendTimes[i], sendTimes[i-1]), us(MinRequestPeriod))
	}

	// Once matched, the budget is restored and no further F is sent.
	poll(2 * time.Second)
	require.Equal(t, MaxRetries, e.Retries())
	require.Equal(t, len(sendTimes), count(dev.Codes(), CmdSetFreq))
}

func TestRetryBudgetExhaustion(t *testing.T) {
	dev := sim.NewTrampDevice()
	dev.IgnoreSets = true
	e, clock := newDeviceEngine(t, dev)
	dev.ClearFrames()

	require.NoError(t, e.SetFrequency(5740))
	runFor(e, clock, 20*time.Second)

	require.Zero(t, e.Retries())
	require.Equal(t, 1+MaxRetries, count(dev.Codes(), CmdSetFreq))

	// Status polling carries on after the budget runs out.
	before := count(dev.Codes(), CmdStatus)
	runFor(e, clock, 3*time.Second)
	require.Greater(t, count(dev.Codes(), CmdStatus), before)
	require.Equal(t, 1+MaxRetries, count(dev.Codes(), CmdSetFreq))

	// A new request restores the budget and is sent at once.
	require.NoError(t, e.SetFrequency(5800))
	require.Equal(t, MaxRetries, e.Retries())
	require.Equal(t, 2+MaxRetries, count(dev.Codes(), CmdSetFreq))
}

func TestRaceLock(t *testing.T) {
	dev := sim.NewTrampDevice()
	dev.RaceLock = true
	e, clock := newDeviceEngine(t, dev)
	require.True(t, e.Status().RaceLocked)
	dev.ClearFrames()

	require.NoError(t, e.SetFrequency(5800))
	require.NoError(t, e.SetPower(200))
	require.Empty(t, dev.Codes())
	require.Equal(t, uint16(5800), e.Desired().Frequency)

	require.NoError(t, e.SetPitMode(true))
	require.Equal(t, []byte{CmdSetActive}, dev.Codes())

	runFor(e, clock, 5*time.Second)
	codes := dev.Codes()
	require.Zero(t, count(codes, CmdSetFreq))
	require.Zero(t, count(codes, CmdSetPower))
	require.True(t, e.Observed().PitMode)
	require.Equal(t, uint16(1), e.Observed().ActualPower)
	require.Equal(t, uint16(5658), dev.State().Frequency)

	// Lifting the lock lets the pending frequency through.
	dev.SetRaceLock(false)
	runFor(e, clock, 3*time.Second)
	require.Equal(t, uint16(5800), dev.State().Frequency)
	require.Equal(t, uint16(200), dev.State().Power)
}

func TestPitModeParameter(t *testing.T) {
	clock := sim.NewManualClock()
	wire := sim.NewWire()
	e := New(clock)
	require.NoError(t, e.Init(wire, 16, 17))

	require.NoError(t, e.SetPitMode(true))
	out := wire.TakeWritten()
	require.Len(t, out, vtx.TrampFrameSize+1)
	require.Equal(t, byte(CmdSetActive), out[2])
	require.Equal(t, []byte{0, 0}, out[3:5])

	require.NoError(t, e.SetPitMode(false))
	out = wire.TakeWritten()
	require.Equal(t, []byte{1, 0}, out[3:5])
}

func TestWriteErrorsAreCounted(t *testing.T) {
	clock := sim.NewManualClock()
	wire := sim.NewWire()
	e := New(clock)
	require.NoError(t, e.Init(wire, 16, 17))

	wire.WriteErr = errors.New("unplugged")
	e.Poll()
	require.Equal(t, uint32(1), e.Stats().TxErrors)
	require.Zero(t, e.Stats().PacketsSent)
}

func TestPollSurvivesClockWrap(t *testing.T) {
	clock := sim.NewManualClock()
	clock.Set(1<<32 - 100_000)
	dev := sim.NewTrampDevice()
	e := New(clock)
	require.NoError(t, e.Init(dev, 16, 17))
	runUntilReady(t, e, clock)

	before := count(dev.Codes(), CmdStatus)
	runFor(e, clock, 3*time.Second)
	require.Greater(t, count(dev.Codes(), CmdStatus), before)
}
