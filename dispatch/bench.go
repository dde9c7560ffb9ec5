package dispatch

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"go.tigermatt.uk/hil/session"
)

// Endpoint names a serial port to open. An empty Device leaves the channel
// closed.
type Endpoint struct {
	Device  string
	Baud    int
	Timeout time.Duration
}

// Bench pairs the binary channel to the simulation board with the JSON
// channel to the device under test. The two are independent and may be
// driven from different goroutines.
type Bench struct {
	HILSession         *session.Session
	IlluminatorSession *session.Session

	HIL         *HIL
	Illuminator *Illuminator
}

// NewBench wires dispatchers onto two closed sessions.
func NewBench(hilSess, illSess *session.Session, hilOpts []HILOption, illOpts []IlluminatorOption) *Bench {
	return &Bench{
		HILSession:         hilSess,
		IlluminatorSession: illSess,
		HIL:                NewHIL(hilSess, hilOpts...),
		Illuminator:        NewIlluminator(illSess, illOpts...),
	}
}

// Open opens each endpoint that names a device. If either fails, any
// channel already opened is closed again.
func (b *Bench) Open(hil, ill Endpoint) error {
	if hil.Device != "" {
		if err := b.HILSession.Open(hil.Device, hil.Baud, hil.Timeout); err != nil {
			return fmt.Errorf("hil channel: %w", err)
		}
	}
	if ill.Device != "" {
		if err := b.IlluminatorSession.Open(ill.Device, ill.Baud, ill.Timeout); err != nil {
			err = fmt.Errorf("illuminator channel: %w", err)
			return multierr.Append(err, b.HILSession.Close())
		}
	}
	return nil
}

// Close closes both channels, reporting every failure.
func (b *Bench) Close() error {
	return multierr.Combine(
		b.HILSession.Close(),
		b.IlluminatorSession.Close(),
	)
}
