// Package session owns one serial connection to a board and performs
// timed reads and writes on it.
//
// A Session is not safe for concurrent use. The binary and line channels
// are separate Sessions and may be driven from different goroutines.
package session

import (
	"bytes"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Port is the part of a serial port a Session needs. go.bug.st/serial's
// Port satisfies it; a zero-byte, nil-error Read means the read timed out.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener acquires a port by device name.
type Opener func(device string, baud int) (Port, error)

// SerialOpener opens device as 8N1.
func SerialOpener(device string, baud int) (Port, error) {
	p, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Mode is the framing a channel speaks.
type Mode int

const (
	Binary Mode = iota
	Line
)

// State of a Session.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Direction of a tapped byte sequence.
type Direction int

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	if d == RX {
		return "RX"
	}
	return "TX"
}

// Tap receives a copy of every byte sequence written or read.
type Tap func(dir Direction, bs []byte)

// DefaultTimeout applies when Open is given a non-positive timeout.
const DefaultTimeout = 5 * time.Second

const lineChunk = 256

// Session is one channel's connection.
type Session struct {
	name   string
	mode   Mode
	opener Opener
	lister Lister
	log    *zap.Logger
	debug  bool
	tap    Tap

	port    Port
	device  string
	baud    int
	timeout time.Duration
	pending []byte
}

type Option func(*Session)

// WithOpener replaces the serial driver, mostly for tests.
func WithOpener(o Opener) Option {
	return func(s *Session) { s.opener = o }
}

// WithLister replaces the port enumerator used for open diagnostics.
func WithLister(l Lister) Option {
	return func(s *Session) { s.lister = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDebug logs every byte sequence sent and received.
func WithDebug(debug bool) Option {
	return func(s *Session) { s.debug = debug }
}

func WithTap(t Tap) Option {
	return func(s *Session) { s.tap = t }
}

// New returns a closed Session. name labels it in logs.
func New(name string, mode Mode, opts ...Option) *Session {
	s := &Session{
		name:   name,
		mode:   mode,
		opener: SerialOpener,
		lister: ListPorts,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("channel", name))
	return s
}

func (s *Session) Name() string { return s.name }

// State reports whether the port is open.
func (s *Session) State() State {
	if s.port == nil {
		return Closed
	}
	return Open
}

func (s *Session) IsOpen() bool { return s.port != nil }

func (s *Session) Device() string { return s.device }

func (s *Session) Baud() int { return s.baud }

func (s *Session) Timeout() time.Duration { return s.timeout }

// Open acquires device. An already open port is closed first. On failure
// the Session stays closed and the available ports are logged.
func (s *Session) Open(device string, baud int, timeout time.Duration) error {
	if err := s.Close(); err != nil {
		s.log.Warn("closing previous port", zap.Error(err))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s.log.Info("opening port", zap.String("device", device), zap.Int("baud", baud))
	p, err := s.opener(device, baud)
	if err != nil {
		s.logAvailablePorts()
		return &OpenError{Port: device, Err: err}
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return &OpenError{Port: device, Err: fmt.Errorf("setting read timeout: %w", err)}
	}

	s.port = p
	s.device = device
	s.baud = baud
	s.timeout = timeout
	s.pending = nil
	return nil
}

// Close releases the port. Closing a closed Session is a no-op.
func (s *Session) Close() error {
	if s.port == nil {
		return nil
	}
	s.log.Info("closing port", zap.String("device", s.device))

	err := s.port.Close()
	s.port = nil
	s.pending = nil
	if err != nil {
		return fmt.Errorf("closing %s: %w", s.device, err)
	}
	return nil
}

// Write sends bs in full. On a Binary session anything still unread is
// discarded first, so a late reply cannot be taken for the answer to bs.
func (s *Session) Write(bs []byte) (int, error) {
	if s.port == nil {
		return 0, ErrNotOpen
	}
	if s.mode == Binary {
		s.pending = nil
		if err := s.port.ResetInputBuffer(); err != nil {
			return 0, fmt.Errorf("flushing %s: %w", s.device, err)
		}
	}
	s.trace(TX, bs)

	n, err := s.port.Write(bs)
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", s.device, err)
	}
	if n < len(bs) {
		return n, fmt.Errorf("writing %s: %w", s.device, io.ErrShortWrite)
	}
	return n, nil
}

// ReadExact reads n bytes, waiting at most timeout (the Open timeout when
// timeout <= 0). If fewer arrive the bytes read so far are returned with an
// error matching ErrTimeout.
func (s *Session) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	if s.port == nil {
		return nil, ErrNotOpen
	}
	defer s.restoreTimeout()

	deadline := time.Now().Add(s.effective(timeout))
	buf := make([]byte, 0, n)
	chunk := make([]byte, n)
	for len(buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return buf, fmt.Errorf("setting read timeout: %w", err)
		}

		m, err := s.port.Read(chunk[:n-len(buf)])
		buf = append(buf, chunk[:m]...)
		if err != nil {
			s.trace(RX, buf)
			return buf, fmt.Errorf("reading %s: %w", s.device, err)
		}
		if m == 0 {
			break
		}
	}

	s.trace(RX, buf)
	if len(buf) < n {
		return buf, fmt.Errorf("%w: got %d of %d bytes", ErrTimeout, len(buf), n)
	}
	return buf, nil
}

// ReadLine reads up to and excluding the next '\n' (a trailing '\r' is
// dropped too). On timeout the partial line is returned with an error
// matching ErrTimeout and discarded from the buffer.
func (s *Session) ReadLine(timeout time.Duration) (string, error) {
	if s.port == nil {
		return "", ErrNotOpen
	}
	defer s.restoreTimeout()

	deadline := time.Now().Add(s.effective(timeout))
	chunk := make([]byte, lineChunk)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := bytes.TrimSuffix(s.pending[:i], []byte{'\r'})
			s.pending = append([]byte(nil), s.pending[i+1:]...)
			s.trace(RX, line)

			if !utf8.Valid(line) {
				return string(line), fmt.Errorf("%w: % 02X", ErrInvalidEncoding, line)
			}
			return string(line), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return s.dropPartial()
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("setting read timeout: %w", err)
		}

		m, err := s.port.Read(chunk)
		s.pending = append(s.pending, chunk[:m]...)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", s.device, err)
		}
		if m == 0 {
			return s.dropPartial()
		}
	}
}

func (s *Session) dropPartial() (string, error) {
	partial := string(s.pending)
	s.pending = nil
	if partial != "" {
		s.trace(RX, []byte(partial))
	}
	return partial, fmt.Errorf("%w: no line terminator after %d bytes", ErrTimeout, len(partial))
}

func (s *Session) effective(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return s.timeout
	}
	return timeout
}

func (s *Session) restoreTimeout() {
	if s.port == nil {
		return
	}
	if err := s.port.SetReadTimeout(s.timeout); err != nil {
		s.log.Warn("restoring read timeout", zap.Error(err))
	}
}

func (s *Session) trace(dir Direction, bs []byte) {
	if s.tap != nil && len(bs) > 0 {
		s.tap(dir, append([]byte(nil), bs...))
	}
	if !s.debug {
		return
	}

	if s.mode == Line {
		s.log.Debug(dir.String(), zap.ByteString("line", bs))
	} else {
		s.log.Debug(dir.String(), zap.String("bytes", fmt.Sprintf("% 02X", bs)))
	}
}

func (s *Session) logAvailablePorts() {
	ports, err := s.lister()
	if err != nil {
		s.log.Warn("listing serial ports", zap.Error(err))
		return
	}

	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	s.log.Warn("available serial ports", zap.Int("count", len(ports)), zap.Strings("ports", names))
}
