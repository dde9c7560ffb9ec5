package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidResponse matches an Illuminator line that is not a JSON
	// object.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrDevice matches a well-formed Illuminator response whose status is
	// not "ok".
	ErrDevice = errors.New("device reported failure")

	// ErrUnexpectedResponse is returned by the typed HIL helpers when the
	// board answers with a response of the wrong kind.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrMismatchedReply matches a binary reply for a channel or signal
	// other than the one asked about. It is retried.
	ErrMismatchedReply = errors.New("reply does not match request")
)

// ExhaustedError is returned once every attempt of a binary exchange has
// failed. It unwraps to the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no valid response after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// InvalidResponseError carries the raw line that failed to decode.
type InvalidResponseError struct {
	Line string
	Err  error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response %q: %v", e.Line, e.Err)
}

func (e *InvalidResponseError) Unwrap() []error { return []error{ErrInvalidResponse, e.Err} }

// DeviceError is a response with a status other than "ok".
type DeviceError struct {
	Topic   string
	Action  string
	Status  string
	Message string
}

func (e *DeviceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("%s/%s: status %q: %s", e.Topic, e.Action, e.Status, msg)
}

func (e *DeviceError) Unwrap() error { return ErrDevice }
