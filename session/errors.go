package session

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// Transport errors.
var (
	ErrPortUnavailable = errors.New("port unavailable")
	ErrNotOpen         = errors.New("port not open")
	ErrTimeout         = errors.New("read timed out")
)

// ErrInvalidEncoding is returned by ReadLine for a line that is not UTF-8.
var ErrInvalidEncoding = errors.New("invalid line encoding")

// OpenError is returned when a port cannot be acquired. It matches
// ErrPortUnavailable and unwraps to the driver's error.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	if reason := portErrorReason(e.Err); reason != "" {
		return fmt.Sprintf("opening %s: %s: %v", e.Port, reason, e.Err)
	}
	return fmt.Sprintf("opening %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() []error { return []error{ErrPortUnavailable, e.Err} }

func portErrorReason(err error) string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return ""
	}

	switch portErr.Code() {
	case serial.PortBusy:
		return "in use"
	case serial.PortNotFound:
		return "no such device"
	case serial.PermissionDenied:
		return "permission denied"
	case serial.InvalidSpeed:
		return "unsupported baud rate"
	}
	return ""
}
