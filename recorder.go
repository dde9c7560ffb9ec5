// Package hil records and replays serial traffic exchanged with the test
// bench. The protocol, transport and dispatch layers live in subpackages.
package hil

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.tigermatt.uk/hil/session"
)

// Message is one captured byte sequence.
type Message struct {
	Channel   string
	Direction session.Direction
	Data      []byte
	Timestamp time.Time
}

// Recorder appends Messages to Dest as a gob stream. It is safe for
// concurrent use, so both channels of a bench may share one.
type Recorder struct {
	Dest io.Writer

	// Now stamps messages; time.Now when nil.
	Now func() time.Time

	mu   sync.Mutex
	enc  *gob.Encoder
	once sync.Once
	err  error
}

func (r *Recorder) Receive(msg Message) error {
	r.init()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(msg); err != nil {
		r.err = err
		return fmt.Errorf("while encoding: %w", err)
	}
	return nil
}

// Tap returns a session.Tap recording traffic under channel. Encoding
// failures are kept and reported by Err.
func (r *Recorder) Tap(channel string) session.Tap {
	return func(dir session.Direction, bs []byte) {
		_ = r.Receive(Message{
			Channel:   channel,
			Direction: dir,
			Data:      bs,
			Timestamp: r.now(),
		})
	}
}

// Err returns the last encoding failure.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recorder) init() {
	r.once.Do(func() {
		r.enc = gob.NewEncoder(r.Dest)
	})
}

// ReadIn decodes a recording into out and closes it.
func ReadIn(out chan<- Message, r io.Reader) error {
	defer close(out)

	dec := gob.NewDecoder(r)

	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("while decoding: %w", err)
		}

		out <- msg
	}
}

// Burst is a run of Messages on one channel and direction with no gap
// longer than the grouping threshold between them.
type Burst struct {
	Channel   string
	Direction session.Direction
	Start     time.Time
	End       time.Time
	Data      []byte
}

// Group joins consecutive Messages into Bursts, starting a new one when
// the channel or direction changes or more than gap passes between reads.
func Group(msgs <-chan Message, gap time.Duration, emit func(Burst) error) error {
	var cur *Burst

	for msg := range msgs {
		if cur != nil && (msg.Channel != cur.Channel ||
			msg.Direction != cur.Direction ||
			msg.Timestamp.Sub(cur.End) > gap) {
			if err := emit(*cur); err != nil {
				return err
			}
			cur = nil
		}

		if cur == nil {
			cur = &Burst{Channel: msg.Channel, Direction: msg.Direction, Start: msg.Timestamp}
		}
		cur.End = msg.Timestamp
		cur.Data = append(cur.Data, msg.Data...)
	}

	if cur != nil {
		return emit(*cur)
	}
	return nil
}
