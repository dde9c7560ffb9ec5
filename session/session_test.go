package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"go.tigermatt.uk/hil/session"
	"go.tigermatt.uk/hil/session/sessiontest"
)

func openSession(t *testing.T, mode session.Mode, port *sessiontest.Port, opts ...session.Option) *session.Session {
	t.Helper()
	opts = append([]session.Option{session.WithOpener(port.Opener())}, opts...)
	s := session.New("test", mode, opts...)
	require.NoError(t, s.Open("/dev/ttyTEST", 115200, time.Second))
	return s
}

func TestOpenClose(t *testing.T) {
	port := sessiontest.New()
	s := session.New("hil", session.Binary, session.WithOpener(port.Opener()))
	assert.Equal(t, session.Closed, s.State())

	require.NoError(t, s.Open("/dev/ttyUSB1", 115200, 2*time.Second))
	assert.Equal(t, session.Open, s.State())
	assert.Equal(t, "/dev/ttyUSB1", s.Device())
	assert.Equal(t, 115200, s.Baud())
	assert.Equal(t, 2*time.Second, s.Timeout())
	assert.Equal(t, []time.Duration{2 * time.Second}, port.Timeouts())

	require.NoError(t, s.Close())
	assert.Equal(t, session.Closed, s.State())
	assert.True(t, port.Closed())
	assert.NoError(t, s.Close(), "closing twice")
}

func TestOpenDefaultTimeout(t *testing.T) {
	port := sessiontest.New()
	s := session.New("hil", session.Binary, session.WithOpener(port.Opener()))
	require.NoError(t, s.Open("/dev/ttyUSB1", 9600, 0))
	assert.Equal(t, session.DefaultTimeout, s.Timeout())
}

func TestOpenPortUnavailable(t *testing.T) {
	listed := false
	driverErr := &serial.PortError{}
	s := session.New("hil", session.Binary,
		session.WithOpener(func(string, int) (session.Port, error) { return nil, driverErr }),
		session.WithLister(func() ([]session.PortInfo, error) {
			listed = true
			return []session.PortInfo{{Name: "/dev/ttyUSB0"}}, nil
		}),
	)

	err := s.Open("/dev/ttyMISSING", 115200, time.Second)
	assert.ErrorIs(t, err, session.ErrPortUnavailable)

	var openErr *session.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "/dev/ttyMISSING", openErr.Port)

	var portErr *serial.PortError
	assert.ErrorAs(t, err, &portErr)

	assert.True(t, listed, "available ports listed as a diagnostic")
	assert.Equal(t, session.Closed, s.State())
}

func TestNotOpen(t *testing.T) {
	s := session.New("hil", session.Binary)

	_, err := s.Write([]byte{0xAA})
	assert.ErrorIs(t, err, session.ErrNotOpen)

	_, err = s.ReadExact(8, time.Second)
	assert.ErrorIs(t, err, session.ErrNotOpen)

	_, err = s.ReadLine(time.Second)
	assert.ErrorIs(t, err, session.ErrNotOpen)
}

func TestWrite(t *testing.T) {
	port := sessiontest.New()
	var tapped [][]byte
	s := openSession(t, session.Binary, port, session.WithTap(func(dir session.Direction, bs []byte) {
		assert.Equal(t, session.TX, dir)
		tapped = append(tapped, bs)
	}))

	n, err := s.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]byte{{1, 2, 3}}, port.Writes())
	assert.Equal(t, [][]byte{{1, 2, 3}}, tapped)
}

func TestWriteError(t *testing.T) {
	port := sessiontest.New()
	port.WriteErr = errors.New("cable pulled")
	s := openSession(t, session.Binary, port)

	_, err := s.Write([]byte{1})
	assert.ErrorContains(t, err, "cable pulled")
}

func TestReadExact(t *testing.T) {
	port := sessiontest.New([]byte{0xAA, 'O', 0, 0}, []byte{0, 0, 0, 0x55})
	s := openSession(t, session.Binary, port)

	got, err := s.ReadExact(8, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 'O', 0, 0, 0, 0, 0, 0x55}, got)
}

func TestReadExactLeavesSurplus(t *testing.T) {
	port := sessiontest.New([]byte{1, 2, 3, 4, 5, 6})
	s := openSession(t, session.Binary, port)

	got, err := s.ReadExact(4, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	got, err = s.ReadExact(2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, got)
}

func TestReadExactShort(t *testing.T) {
	port := sessiontest.New([]byte{0xAA, 'O', 'O', 0x55})
	s := openSession(t, session.Binary, port)

	got, err := s.ReadExact(8, time.Second)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Equal(t, []byte{0xAA, 'O', 'O', 0x55}, got)
}

func TestReadExactNothing(t *testing.T) {
	s := openSession(t, session.Binary, sessiontest.New())

	got, err := s.ReadExact(8, time.Second)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Empty(t, got)
}

func TestReadExactDriverError(t *testing.T) {
	port := sessiontest.New()
	port.ReadErr = errors.New("device disconnected")
	s := openSession(t, session.Binary, port)

	_, err := s.ReadExact(8, time.Second)
	assert.ErrorContains(t, err, "device disconnected")
	assert.NotErrorIs(t, err, session.ErrTimeout)
}

// The per-read override must never outlive the call, on success or failure.
func TestReadRestoresTimeout(t *testing.T) {
	port := sessiontest.New([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	s := openSession(t, session.Binary, port)

	_, err := s.ReadExact(8, 50*time.Millisecond)
	require.NoError(t, err)
	timeouts := port.Timeouts()
	assert.Equal(t, time.Second, timeouts[len(timeouts)-1])
	assert.LessOrEqual(t, timeouts[1], 50*time.Millisecond)

	_, err = s.ReadExact(8, 50*time.Millisecond)
	require.ErrorIs(t, err, session.ErrTimeout)
	timeouts = port.Timeouts()
	assert.Equal(t, time.Second, timeouts[len(timeouts)-1])

	port.ReadErr = errors.New("boom")
	_, err = s.ReadLine(50 * time.Millisecond)
	require.Error(t, err)
	timeouts = port.Timeouts()
	assert.Equal(t, time.Second, timeouts[len(timeouts)-1])
}

func TestReadLine(t *testing.T) {
	port := sessiontest.New([]byte(`{"type":"resp",`), []byte("\"id\":\"1\"}\r\n{\"next\":1}\n"))
	s := openSession(t, session.Line, port)

	line, err := s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"resp","id":"1"}`, line)

	line, err = s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"next":1}`, line)
}

func TestReadLineTimeout(t *testing.T) {
	port := sessiontest.New([]byte(`{"partial":`))
	s := openSession(t, session.Line, port)

	line, err := s.ReadLine(time.Second)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Equal(t, `{"partial":`, line)

	port.Queue([]byte("{}\n"))
	line, err = s.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "{}", line, "partial line was discarded")
}

func TestReadLineInvalidEncoding(t *testing.T) {
	port := sessiontest.New([]byte{0xFF, 0xFE, '\n'})
	s := openSession(t, session.Line, port)

	line, err := s.ReadLine(time.Second)
	assert.ErrorIs(t, err, session.ErrInvalidEncoding)
	assert.Equal(t, string([]byte{0xFF, 0xFE}), line)
}

func TestReopenClosesPrevious(t *testing.T) {
	first := sessiontest.New()
	second := sessiontest.New()
	ports := []*sessiontest.Port{first, second}
	s := session.New("hil", session.Binary, session.WithOpener(func(string, int) (session.Port, error) {
		p := ports[0]
		ports = ports[1:]
		return p, nil
	}))

	require.NoError(t, s.Open("/dev/a", 9600, time.Second))
	require.NoError(t, s.Open("/dev/b", 9600, time.Second))
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Equal(t, "/dev/b", s.Device())
}

func TestDebugTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	port := sessiontest.New()
	port.OnWrite = func(p *sessiontest.Port, _ []byte) { p.Queue([]byte{0xAA, 'O', 'O', 0x55}) }
	s := openSession(t, session.Binary, port, session.WithLogger(zap.New(core)), session.WithDebug(true))

	_, err := s.Write([]byte{0xAA, 'P', 'S', 'S', 0, 0, 'P', 0x55})
	require.NoError(t, err)
	_, err = s.ReadExact(4, time.Second)
	require.NoError(t, err)

	tx := logs.FilterMessage("TX").AllUntimed()
	require.Len(t, tx, 1)
	assert.Equal(t, "AA 50 53 53 00 00 50 55", tx[0].ContextMap()["bytes"])
	assert.Equal(t, "test", tx[0].ContextMap()["channel"])

	rx := logs.FilterMessage("RX").AllUntimed()
	require.Len(t, rx, 1)
	assert.Equal(t, "AA 4F 4F 55", rx[0].ContextMap()["bytes"])
}

func TestNoTraceWithoutDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	port := sessiontest.New()
	s := openSession(t, session.Binary, port, session.WithLogger(zap.New(core)))

	_, err := s.Write([]byte{1, 2})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("TX").Len())
}

func TestBinaryWriteDiscardsUnread(t *testing.T) {
	port := sessiontest.New([]byte{0xAA, 'O', 'O', 0x55})
	s := openSession(t, session.Binary, port)

	_, err := s.Write([]byte{0xAA, 'P', 'S', 'S', 0, 0, 'P', 0x55})
	require.NoError(t, err)
	assert.Equal(t, 1, port.Resets())

	got, err := s.ReadExact(4, 10*time.Millisecond)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Empty(t, got)
}

func TestLineWriteKeepsUnread(t *testing.T) {
	port := sessiontest.New([]byte("{\"event\":1}\n"))
	s := openSession(t, session.Line, port)

	_, err := s.Write([]byte("{}\n"))
	require.NoError(t, err)
	assert.Zero(t, port.Resets())

	line, err := s.ReadLine(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, `{"event":1}`, line)
}

func TestWriteResetError(t *testing.T) {
	port := sessiontest.New()
	s := openSession(t, session.Binary, port)
	require.NoError(t, port.Close())

	_, err := s.Write([]byte{1})
	assert.ErrorIs(t, err, sessiontest.ErrClosed)
	assert.Empty(t, port.Writes())
}
