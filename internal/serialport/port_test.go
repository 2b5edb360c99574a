package serialport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

type fakePort struct {
	mu      sync.Mutex
	pending []byte
	written []byte
	mode    *serial.Mode
	drains  int
	readErr error
	closed  bool
}

func (f *fakePort) feed(b ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, b...)
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.readErr != nil {
		err := f.readErr
		f.mu.Unlock()
		return 0, err
	}
	if f.closed {
		f.mu.Unlock()
		return 0, errors.New("port closed")
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	f.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return nil
}

func (f *fakePort) SetMode(mode *serial.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func newTestPort(t *testing.T) (*Port, *fakePort) {
	fake := &fakePort{}
	p := New("/dev/ttyTEST")
	p.open = func(path string, mode *serial.Mode) (rawPort, error) {
		require.Equal(t, "/dev/ttyTEST", path)
		fake.mode = mode
		return fake, nil
	}
	require.NoError(t, p.Connect())
	t.Cleanup(func() { p.Close() })
	return p, fake
}

func TestSerialModeMapping(t *testing.T) {
	m, err := serialMode(vtx.Mode{BaudRate: 4800, DataBits: 8, StopBits: 2, Parity: vtx.NoParity})
	require.NoError(t, err)
	require.Equal(t, &serial.Mode{BaudRate: 4800, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.NoParity}, m)

	m, err = serialMode(vtx.Mode{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: vtx.EvenParity})
	require.NoError(t, err)
	require.Equal(t, serial.OneStopBit, m.StopBits)
	require.Equal(t, serial.EvenParity, m.Parity)

	_, err = serialMode(vtx.Mode{BaudRate: 9600, DataBits: 8, StopBits: 3})
	require.Error(t, err)
}

func TestNotConnected(t *testing.T) {
	p := New("/dev/null-vtx")
	require.False(t, p.IsConnected())
	require.ErrorIs(t, p.Configure(vtx.Mode{BaudRate: 9600, DataBits: 8, StopBits: 1}), ErrNotConnected)
	_, err := p.Write([]byte{1})
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, p.Flush(), ErrNotConnected)
	_, err = p.ReadByte()
	require.ErrorIs(t, err, vtx.ErrNoData)
	require.NoError(t, p.Close())
}

func TestOpenFailure(t *testing.T) {
	p := New("/dev/ttyMISSING")
	p.open = func(string, *serial.Mode) (rawPort, error) {
		return nil, errors.New("no such file")
	}
	require.ErrorContains(t, p.Connect(), "/dev/ttyMISSING")
	require.False(t, p.IsConnected())
}

func TestReceiveAndTransmit(t *testing.T) {
	p, fake := newTestPort(t)
	require.True(t, p.IsConnected())

	require.NoError(t, p.Configure(vtx.Mode{BaudRate: 4800, DataBits: 8, StopBits: 2, TxPin: 16, RxPin: 17}))
	fake.mu.Lock()
	require.Equal(t, 4800, fake.mode.BaudRate)
	require.Equal(t, serial.TwoStopBits, fake.mode.StopBits)
	fake.mu.Unlock()

	fake.feed(0xAA, 0x55, 0x01)
	require.Eventually(t, func() bool { return p.Available() == 3 }, time.Second, time.Millisecond)
	for _, want := range []byte{0xAA, 0x55, 0x01} {
		c, err := p.ReadByte()
		require.NoError(t, err)
		require.Equal(t, want, c)
	}
	_, err := p.ReadByte()
	require.ErrorIs(t, err, vtx.ErrNoData)

	n, err := p.Write([]byte{0x00, 0xAA})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, p.Flush())
	fake.mu.Lock()
	require.Equal(t, []byte{0x00, 0xAA}, fake.written)
	require.Equal(t, 1, fake.drains)
	fake.mu.Unlock()
}

func TestTxOnlyDiscardsInput(t *testing.T) {
	p, fake := newTestPort(t)
	require.NoError(t, p.Configure(vtx.Mode{BaudRate: 4800, DataBits: 8, StopBits: 2, RxPin: vtx.PinDisabled}))

	fake.feed(1, 2, 3)
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.pending) == 0
	}, time.Second, time.Millisecond)
	require.Zero(t, p.Available())
}

func TestReadErrorDisconnects(t *testing.T) {
	p, fake := newTestPort(t)
	fake.setReadErr(errors.New("device unplugged"))
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		closed := fake.closed
		fake.mu.Unlock()
		return closed && !p.IsConnected()
	}, time.Second, time.Millisecond)

	// Reconnect opens the device again.
	fake.setReadErr(nil)
	fake.mu.Lock()
	fake.closed = false
	fake.mu.Unlock()
	require.NoError(t, p.Connect())
	require.True(t, p.IsConnected())
}
