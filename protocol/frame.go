package protocol

import (
	"encoding/binary"
	"fmt"

	"go.tigermatt.uk/hil/scaling"
)

// Request holds the fields of a request frame with the value already raw.
type Request struct {
	Kind    Kind
	Channel Channel
	Signal  Signal
	Value   int
}

// Checksum is the running XOR of bs.
func Checksum(bs ...byte) byte {
	var c byte
	for _, b := range bs {
		c ^= b
	}
	return c
}

// Encode builds the 8-byte request frame:
//
//	[0xAA][CMD][CHANNEL][SIGNAL][VALUE_L][VALUE_H][XOR][0x55]
func Encode(r Request) ([]byte, error) {
	if r.Value < 0 || r.Value > scaling.MaxRaw {
		return nil, &RangeError{Value: r.Value}
	}

	frame := make([]byte, FrameSize)
	frame[offStart] = StartMarker
	frame[offA] = byte(r.Kind)
	frame[offB] = byte(r.Channel)
	frame[offC] = byte(r.Signal)
	binary.LittleEndian.PutUint16(frame[offValueLow:], uint16(r.Value))
	frame[offChecksum] = Checksum(frame[offA:offChecksum]...)
	frame[offEnd] = EndMarker

	return frame, nil
}

// Frame is a received byte sequence that passed the structural checks.
// Checksums are not verified here since their span depends on the response
// shape; see Classifier.
type Frame struct {
	raw []byte
}

// Decode checks length and markers of bs and returns it as a Frame.
func Decode(bs []byte) (Frame, error) {
	if len(bs) < ShortFrameSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes", ErrTooShort, len(bs))
	}
	if bs[0] != StartMarker || bs[len(bs)-1] != EndMarker {
		return Frame{}, fmt.Errorf("%w: % 02X", ErrBadMarkers, bs)
	}
	if len(bs) != ShortFrameSize && len(bs) != FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes", ErrBadLength, len(bs))
	}

	raw := make([]byte, len(bs))
	copy(raw, bs)
	return Frame{raw: raw}, nil
}

// Short reports whether f is a 4-byte acknowledgement.
func (f Frame) Short() bool { return len(f.raw) == ShortFrameSize }

// Bytes returns a copy of the frame.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.raw))
	copy(out, f.raw)
	return out
}

// Status is the byte after the start marker.
func (f Frame) Status() byte { return f.raw[offA] }

// Value is the little-endian value field of a full frame.
func (f Frame) Value() uint16 {
	if f.Short() {
		return 0
	}
	return binary.LittleEndian.Uint16(f.raw[offValueLow:])
}

func (f Frame) String() string {
	return fmt.Sprintf("% 02X", f.raw)
}
