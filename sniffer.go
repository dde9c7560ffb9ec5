package hil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.tigermatt.uk/hil/session"
)

// Sniffer listens on a port it never writes to.
type Sniffer struct {
	Port    io.Reader
	Channel string
	Now     func() time.Time
	BufSize int

	OnMessage func(Message)
}

func (s *Sniffer) Consume(ctx context.Context) error {
	size := s.BufSize
	if size <= 0 {
		size = 64
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		bs := make([]byte, size)

		n, err := s.Port.Read(bs)
		// tarm/serial reports an idle poll as io.EOF
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading from serial port: %w", err)
		}

		if n > 0 {
			s.OnMessage(Message{Channel: s.Channel, Direction: session.RX, Data: bs[:n], Timestamp: now()})
		}
	}
}
