package protocol

import (
	"errors"
	"fmt"
)

// Frame errors. These are caller or wire-structure faults and are never
// worth retrying on their own.
var (
	ErrTooShort        = errors.New("frame too short")
	ErrBadMarkers      = errors.New("frame markers invalid")
	ErrBadLength       = errors.New("frame length invalid")
	ErrValueOutOfRange = errors.New("value out of range")
)

// Protocol errors describe a structurally sound frame whose content is wrong.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrUnknownStatus    = errors.New("unknown status byte")
	ErrMalformed        = errors.New("malformed response")

	// ErrRejected is the board answering with its error status.
	ErrRejected = errors.New("board rejected command")
)

// ChecksumError reports the stored and recomputed checksum of a frame.
type ChecksumError struct {
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: computed 0x%02X, frame has 0x%02X", e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// RangeError reports a value that does not fit the 16-bit value field.
type RangeError struct {
	Value int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("value %d out of range 0..65535", e.Value)
}

func (e *RangeError) Unwrap() error { return ErrValueOutOfRange }
