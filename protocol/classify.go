package protocol

import (
	"fmt"

	"go.tigermatt.uk/hil/scaling"
)

// Shape selects which of the two full-frame response layouts a board uses.
// Both pass the structural checks, so it must be configured, not guessed.
type Shape int

const (
	// ShapeStatus frames carry 'O' or 'N' after the start marker and a
	// checksum over the four payload bytes.
	ShapeStatus Shape = iota

	// ShapeEcho frames echo the request's command byte and carry a
	// checksum over all five bytes, exactly like a request.
	ShapeEcho
)

func (s Shape) String() string {
	switch s {
	case ShapeStatus:
		return "status"
	case ShapeEcho:
		return "echo"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// ParseShape accepts "status" or "echo".
func ParseShape(s string) (Shape, error) {
	switch s {
	case "status":
		return ShapeStatus, nil
	case "echo":
		return ShapeEcho, nil
	}
	return 0, fmt.Errorf("unknown response shape %q (want status or echo)", s)
}

// Classifier turns decoded frames into Responses.
type Classifier struct {
	Shape   Shape
	Scaling scaling.Profile
}

// ClassifyBytes decodes bs and classifies it. Decode failures come back as
// Malformed.
func (c Classifier) ClassifyBytes(bs []byte, sig Signal) Response {
	f, err := Decode(bs)
	if err != nil {
		return Malformed{Reason: err, Bytes: append([]byte(nil), bs...)}
	}
	return c.Classify(f, sig)
}

// Classify interprets f. sig is the signal of the request f answers and
// selects the scaling strategy for readings.
func (c Classifier) Classify(f Frame, sig Signal) Response {
	if f.Short() {
		return classifyShort(f)
	}

	status := f.Status()
	switch c.Shape {
	case ShapeEcho:
		switch status {
		case byte(Get), byte(Set), byte(Ping):
			if err := verify(f, offA); err != nil {
				return ErrorResponse{Reason: err}
			}
			return c.payload(f, sig)
		case StatusOK:
			return Ack{}
		case StatusError:
			return ErrorResponse{Reason: ErrRejected}
		}
	default:
		switch status {
		case StatusOK:
			if err := verify(f, offB); err != nil {
				return ErrorResponse{Reason: err}
			}
			return c.payload(f, sig)
		case StatusError:
			return ErrorResponse{Reason: ErrRejected}
		}
	}

	return Malformed{
		Reason: fmt.Errorf("%w 0x%02X", ErrUnknownStatus, status),
		Bytes:  f.Bytes(),
	}
}

// classifyShort handles [0xAA][STATUS][CHECK][0x55]. The check byte must
// equal the status byte; that is all the board sends.
func classifyShort(f Frame) Response {
	status, check := f.raw[offA], f.raw[offB]
	if check != status {
		return ErrorResponse{Reason: &ChecksumError{Expected: status, Actual: check}}
	}

	switch status {
	case StatusOK:
		return Ack{}
	case StatusError:
		return ErrorResponse{Reason: ErrRejected}
	}
	return Malformed{
		Reason: fmt.Errorf("%w 0x%02X", ErrUnknownStatus, status),
		Bytes:  f.Bytes(),
	}
}

// verify compares the XOR of raw[from:6] with the stored checksum.
func verify(f Frame, from int) error {
	want := Checksum(f.raw[from:offChecksum]...)
	if got := f.raw[offChecksum]; got != want {
		return &ChecksumError{Expected: want, Actual: got}
	}
	return nil
}

func (c Classifier) payload(f Frame, sig Signal) Response {
	ch, s := Channel(f.raw[offB]), Signal(f.raw[offC])
	raw := f.Value()

	if ch == ChannelSystem && s == System {
		major, minor := scaling.SplitVersion(raw)
		return SystemInfo{
			Firmware: FirmwareVersion{Major: major, Minor: minor},
			Raw:      raw,
		}
	}

	strategy := StrategyFor(c.Scaling, sig)
	return Reading{
		Channel: ch,
		Signal:  s,
		Raw:     raw,
		Value:   strategy.FromRaw(raw),
		Unit:    strategy.Unit(),
	}
}
