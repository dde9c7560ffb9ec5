// Package sessiontest provides an in-memory session.Port for tests.
package sessiontest

import (
	"errors"
	"sync"
	"time"

	"go.tigermatt.uk/hil/session"
)

// Port replays scripted reads and records writes. An empty script reads as
// a timeout (0 bytes, nil error), matching go.bug.st/serial.
type Port struct {
	mu       sync.Mutex
	reads    [][]byte
	writes   [][]byte
	timeouts []time.Duration
	resets   int
	closed   bool

	// OnWrite, when set, is called with each write and may queue replies.
	OnWrite func(p *Port, bs []byte)

	// ReadErr is returned by Read once the script is exhausted.
	ReadErr error
	// WriteErr is returned by every Write.
	WriteErr error
}

var _ session.Port = (*Port)(nil)

// ErrClosed is returned by operations on a closed Port.
var ErrClosed = errors.New("sessiontest: port closed")

// New returns a Port that will yield reads in order.
func New(reads ...[]byte) *Port {
	p := &Port{}
	p.Queue(reads...)
	return p
}

// Queue appends reads to the script.
func (p *Port) Queue(reads ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range reads {
		p.reads = append(p.reads, append([]byte(nil), r...))
	}
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if len(p.reads) == 0 {
		return 0, p.ReadErr
	}

	n := copy(b, p.reads[0])
	if n < len(p.reads[0]) {
		p.reads[0] = p.reads[0][n:]
	} else {
		p.reads = p.reads[1:]
	}
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	if p.WriteErr != nil {
		p.mu.Unlock()
		return 0, p.WriteErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	hook := p.OnWrite
	p.mu.Unlock()

	if hook != nil {
		hook(p, b)
	}
	return len(b), nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, t)
	return nil
}

// ResetInputBuffer drops every read still scripted.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.reads = nil
	p.resets++
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	return nil
}

// Writes returns every write so far.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

// Timeouts returns every SetReadTimeout argument so far.
func (p *Port) Timeouts() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.timeouts...)
}

// Resets counts ResetInputBuffer calls.
func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Opener returns a session.Opener handing out p.
func (p *Port) Opener() session.Opener {
	return func(string, int) (session.Port, error) { return p, nil }
}
