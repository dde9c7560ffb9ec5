package protocol

import (
	"errors"
	"fmt"
)

// Response is the classified meaning of a frame received from the board.
// It is one of Ack, ErrorResponse, SystemInfo, Reading or Malformed.
type Response interface {
	fmt.Stringer
	isResponse()
}

// Ack is a bare acknowledgement.
type Ack struct{}

// ErrorResponse is the board's error status, or a frame whose checksum
// did not verify.
type ErrorResponse struct {
	Reason error
}

// FirmwareVersion is packed in the value field of a system response.
type FirmwareVersion struct {
	Major uint8
	Minor uint8
}

// SystemInfo answers a ping on the system channel.
type SystemInfo struct {
	Firmware FirmwareVersion
	Raw      uint16
}

// Reading carries a value for one channel and signal, scaled to physical
// units with the strategy configured for the request's signal.
type Reading struct {
	Channel Channel
	Signal  Signal
	Raw     uint16
	Value   float64
	Unit    string
}

// Malformed is a response that could not be interpreted at all.
type Malformed struct {
	Reason error
	Bytes  []byte
}

func (Ack) isResponse()           {}
func (ErrorResponse) isResponse() {}
func (SystemInfo) isResponse()    {}
func (Reading) isResponse()       {}
func (Malformed) isResponse()     {}

func (Ack) String() string { return "ack" }

func (r ErrorResponse) String() string {
	return fmt.Sprintf("error: %v", r.Reason)
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func (r SystemInfo) String() string {
	return fmt.Sprintf("system firmware %s", r.Firmware)
}

func (r Reading) String() string {
	return fmt.Sprintf("light %s %s = %g %s (raw %d)", r.Channel, r.Signal, r.Value, r.Unit, r.Raw)
}

func (r Malformed) String() string {
	return fmt.Sprintf("malformed: %v [% 02X]", r.Reason, r.Bytes)
}

// Err returns the failure a response represents, or nil for Ack, SystemInfo
// and Reading.
func Err(r Response) error {
	switch r := r.(type) {
	case ErrorResponse:
		if r.Reason == nil {
			return ErrRejected
		}
		return r.Reason
	case Malformed:
		if r.Reason == nil {
			return ErrMalformed
		}
		if !errors.Is(r.Reason, ErrMalformed) {
			return fmt.Errorf("%w: %w", ErrMalformed, r.Reason)
		}
		return r.Reason
	case nil:
		return ErrMalformed
	}
	return nil
}
