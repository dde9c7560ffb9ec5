package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.tigermatt.uk/hil/protocol"
	"go.tigermatt.uk/hil/session"
)

// ErrClosed is returned by a closed Port.
var ErrClosed = errors.New("sim: port closed")

// Port connects a session directly to a Board in memory. Each complete
// request written is answered at once; a read with nothing pending reports
// a timeout.
type Port struct {
	board *Board

	mu     sync.Mutex
	in     []byte
	out    bytes.Buffer
	closed bool
}

var _ session.Port = (*Port)(nil)

// NewPort returns a Port wired to b.
func NewPort(b *Board) *Port {
	return &Port{board: b}
}

// Opener hands out a fresh Port on b for any device name.
func Opener(b *Board) session.Opener {
	return func(string, int) (session.Port, error) { return NewPort(b), nil }
}

func (p *Port) Write(bs []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	p.in = append(p.in, bs...)
	for {
		frame, rest, ok := nextFrame(p.in)
		p.in = rest
		if !ok {
			break
		}
		p.out.Write(p.board.Handle(frame))
	}
	return len(bs), nil
}

func (p *Port) Read(bs []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if p.out.Len() == 0 {
		return 0, nil
	}
	return p.out.Read(bs)
}

// SetReadTimeout is accepted and ignored: replies are ready as soon as the
// request is written.
func (p *Port) SetReadTimeout(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

// ResetInputBuffer drops replies not yet read.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.out.Reset()
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

// nextFrame finds the first 8-byte request in buf. Bytes before a start
// marker are dropped.
func nextFrame(buf []byte) (frame, rest []byte, ok bool) {
	i := bytes.IndexByte(buf, protocol.StartMarker)
	if i < 0 {
		return nil, nil, false
	}
	buf = buf[i:]
	if len(buf) < protocol.FrameSize {
		return nil, buf, false
	}
	return buf[:protocol.FrameSize], buf[protocol.FrameSize:], true
}

// Serve answers requests read from rw until ctx is done or rw fails.
// Drivers with a read timeout report an idle poll as (0, io.EOF), so that
// is treated as no data. onFrame, if not nil, sees every request and reply.
func (b *Board) Serve(ctx context.Context, rw io.ReadWriter, onFrame func(req, reply []byte)) error {
	buf := make([]byte, 64)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := rw.Read(buf)
		pending = append(pending, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading requests: %w", err)
		}

		for {
			frame, rest, ok := nextFrame(pending)
			pending = rest
			if !ok {
				break
			}

			reply := b.Handle(frame)
			if onFrame != nil {
				onFrame(frame, reply)
			}
			if reply == nil {
				continue
			}
			if _, err := rw.Write(reply); err != nil {
				return fmt.Errorf("writing reply: %w", err)
			}
		}
	}
}
