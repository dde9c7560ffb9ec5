// Package sim simulates the HIL sensor-simulation board: it answers binary
// request frames from per-channel signal registers.
package sim

import (
	"sync"

	"go.tigermatt.uk/hil/protocol"
)

// Fault is a misbehaviour the board applies to upcoming requests.
type Fault int

const (
	// Drop ignores the request.
	Drop Fault = iota + 1
	// Corrupt flips the reply's checksum.
	Corrupt
	// Truncate sends only the first half of the reply.
	Truncate
	// Reject answers with the error status.
	Reject
)

type register struct {
	ch  protocol.Channel
	sig protocol.Signal
}

// Board holds the raw signal values of three channels and a firmware
// version. It is safe for concurrent use.
type Board struct {
	mu        sync.Mutex
	firmware  protocol.FirmwareVersion
	shape     protocol.Shape
	shortAcks bool
	values    map[register]uint16
	faults    []Fault
	requests  int
}

// Option configures a Board.
type Option func(*Board)

// WithShape selects the reply layout. The default is protocol.ShapeStatus.
func WithShape(s protocol.Shape) Option {
	return func(b *Board) { b.shape = s }
}

// WithShortAcks answers set commands with the 4-byte acknowledgement.
func WithShortAcks() Option {
	return func(b *Board) { b.shortAcks = true }
}

// NewBoard returns a board reporting firmware fw with every register zero.
func NewBoard(fw protocol.FirmwareVersion, opts ...Option) *Board {
	b := &Board{
		firmware: fw,
		values:   make(map[register]uint16),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Shape is the reply layout in use.
func (b *Board) Shape() protocol.Shape { return b.shape }

// Value returns the raw register for sig on ch.
func (b *Board) Value(ch protocol.Channel, sig protocol.Signal) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values[register{ch, sig}]
}

// SetValue stores raw in the register for sig on ch, as the device under
// test would when it drives a PWM output.
func (b *Board) SetValue(ch protocol.Channel, sig protocol.Signal, raw uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[register{ch, sig}] = raw
}

// Inject queues faults, applied one per request in order.
func (b *Board) Inject(faults ...Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, faults...)
}

// Requests counts the frames handled so far, dropped ones included.
func (b *Board) Requests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

// Handle answers one request frame. A nil reply means the request was
// dropped.
func (b *Board) Handle(req []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++

	var fault Fault
	if len(b.faults) > 0 {
		fault, b.faults = b.faults[0], b.faults[1:]
	}

	var reply []byte
	switch fault {
	case Drop:
		return nil
	case Reject:
		reply = b.reject()
	default:
		reply = b.answer(req)
	}

	switch fault {
	case Corrupt:
		if len(reply) == protocol.FrameSize {
			reply[protocol.FrameSize-2] ^= 0xFF
		} else {
			reply[2] ^= 0xFF
		}
	case Truncate:
		reply = reply[:len(reply)/2]
	}
	return reply
}

func (b *Board) answer(req []byte) []byte {
	if len(req) != protocol.FrameSize || req[0] != protocol.StartMarker || req[7] != protocol.EndMarker {
		return b.reject()
	}
	if protocol.Checksum(req[1:6]...) != req[6] {
		return b.reject()
	}

	kind, err := protocol.ParseKind(string(rune(req[1])))
	if err != nil {
		return b.reject()
	}
	ch, err := protocol.ParseChannel(string(rune(req[2])))
	if err != nil {
		return b.reject()
	}
	sig, err := protocol.ParseSignal(string(rune(req[3])))
	if err != nil {
		return b.reject()
	}
	value := uint16(req[4]) | uint16(req[5])<<8

	switch kind {
	case protocol.Ping:
		v := uint16(b.firmware.Major)<<8 | uint16(b.firmware.Minor)
		return b.reply(kind, protocol.ChannelSystem, protocol.System, v)
	case protocol.Get:
		if ch == protocol.ChannelSystem || sig == protocol.System {
			return b.reject()
		}
		return b.reply(kind, ch, sig, b.values[register{ch, sig}])
	case protocol.Set:
		if ch == protocol.ChannelSystem || sig == protocol.System {
			return b.reject()
		}
		b.values[register{ch, sig}] = value
		if b.shortAcks {
			return []byte{protocol.StartMarker, protocol.StatusOK, protocol.StatusOK, protocol.EndMarker}
		}
		return b.reply(kind, ch, sig, value)
	}
	return b.reject()
}

func (b *Board) reply(kind protocol.Kind, ch protocol.Channel, sig protocol.Signal, v uint16) []byte {
	if b.shape == protocol.ShapeEcho {
		frame, _ := protocol.Encode(protocol.Request{Kind: kind, Channel: ch, Signal: sig, Value: int(v)})
		return frame
	}

	lo, hi := byte(v), byte(v>>8)
	return []byte{
		protocol.StartMarker, protocol.StatusOK,
		byte(ch), byte(sig), lo, hi,
		protocol.Checksum(byte(ch), byte(sig), lo, hi),
		protocol.EndMarker,
	}
}

func (b *Board) reject() []byte {
	return []byte{protocol.StartMarker, protocol.StatusError, 0, 0, 0, 0, 0, protocol.EndMarker}
}
