package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go.tigermatt.uk/hil/protocol"
	"go.tigermatt.uk/hil/scaling"
	"go.tigermatt.uk/hil/session"
)

// FrameSession is the binary channel a HIL dispatcher drives.
// *session.Session satisfies it.
type FrameSession interface {
	Write(bs []byte) (int, error)
	ReadExact(n int, timeout time.Duration) ([]byte, error)
}

// HILConfig holds the binary dispatcher's settings.
type HILConfig struct {
	// Attempts is the number of times an exchange is tried in total.
	Attempts int

	// RetryDelay separates consecutive attempts.
	RetryDelay time.Duration

	// Settle is the pause between writing a frame and reading the reply.
	Settle time.Duration

	// ReadTimeout bounds each reply. Zero uses the session's timeout.
	ReadTimeout time.Duration

	// Shape is the response layout the board uses.
	Shape protocol.Shape

	// Scaling converts physical values for each signal.
	Scaling scaling.Profile

	Logger  *zap.Logger
	Debug   bool
	Metrics *Metrics

	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func defaultHILConfig() HILConfig {
	return HILConfig{
		Attempts:   3,
		RetryDelay: 2 * time.Second,
		Settle:     100 * time.Millisecond,
		Shape:      protocol.ShapeStatus,
		Scaling:    scaling.DefaultProfile(),
		Logger:     zap.NewNop(),
		Sleep:      sleep,
	}
}

type HILOption func(*HILConfig)

// WithAttempts sets the total number of attempts per exchange.
func WithAttempts(n int) HILOption {
	return func(c *HILConfig) {
		if n > 0 {
			c.Attempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) HILOption {
	return func(c *HILConfig) { c.RetryDelay = d }
}

func WithSettle(d time.Duration) HILOption {
	return func(c *HILConfig) { c.Settle = d }
}

// WithReadTimeout bounds each reply.
func WithReadTimeout(d time.Duration) HILOption {
	return func(c *HILConfig) { c.ReadTimeout = d }
}

func WithShape(s protocol.Shape) HILOption {
	return func(c *HILConfig) { c.Shape = s }
}

func WithScaling(p scaling.Profile) HILOption {
	return func(c *HILConfig) { c.Scaling = p }
}

// WithHILLogger sets the logger. Decoded responses are logged at debug
// level when debug is true.
func WithHILLogger(l *zap.Logger, debug bool) HILOption {
	return func(c *HILConfig) {
		if l != nil {
			c.Logger = l
		}
		c.Debug = debug
	}
}

// WithHILMetrics records every exchange in m.
func WithHILMetrics(m *Metrics) HILOption {
	return func(c *HILConfig) { c.Metrics = m }
}

// WithSleep replaces the function used for settle and retry pauses.
func WithSleep(f func(ctx context.Context, d time.Duration) error) HILOption {
	return func(c *HILConfig) { c.Sleep = f }
}

// HIL sends commands to the simulation board over the binary channel, one
// at a time. It is not safe for concurrent use.
type HIL struct {
	sess       FrameSession
	cfg        HILConfig
	classifier protocol.Classifier
	log        *zap.Logger
}

// NewHIL returns a dispatcher writing to sess.
func NewHIL(sess FrameSession, opts ...HILOption) *HIL {
	cfg := defaultHILConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HIL{
		sess:       sess,
		cfg:        cfg,
		classifier: protocol.Classifier{Shape: cfg.Shape, Scaling: cfg.Scaling},
		log:        cfg.Logger.With(zap.String("dispatcher", "hil")),
	}
}

func (h *HIL) Config() HILConfig { return h.cfg }

// Send encodes cmd and exchanges it with the board, retrying timeouts and
// malformed or corrupt replies. A rejection by the board is returned at
// once with an error matching protocol.ErrRejected. When every attempt
// fails the error is an *ExhaustedError wrapping the last failure, and the
// last response received, if any, is returned with it.
func (h *HIL) Send(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	frame, err := cmd.Encode(h.cfg.Scaling)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd, err)
	}

	var (
		resp protocol.Response
		last error
	)
	for attempt := 1; attempt <= h.cfg.Attempts; attempt++ {
		if attempt > 1 {
			h.cfg.Metrics.retry("hil")
			if err := h.cfg.Sleep(ctx, h.cfg.RetryDelay); err != nil {
				return resp, err
			}
		}

		start := time.Now()
		resp, last = h.exchange(ctx, frame, cmd)
		h.cfg.Metrics.observe("hil", start, last)
		if last == nil {
			return resp, nil
		}
		if !retryable(last) {
			return resp, last
		}

		h.log.Warn("exchange failed",
			zap.Stringer("command", cmd),
			zap.Int("attempt", attempt),
			zap.Int("attempts", h.cfg.Attempts),
			zap.Error(last))
	}

	return resp, &ExhaustedError{Attempts: h.cfg.Attempts, Last: last}
}

func (h *HIL) exchange(ctx context.Context, frame []byte, cmd protocol.Command) (protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := h.sess.Write(frame); err != nil {
		return nil, err
	}
	if err := h.cfg.Sleep(ctx, h.cfg.Settle); err != nil {
		return nil, err
	}

	bs, err := h.sess.ReadExact(protocol.FrameSize, h.cfg.ReadTimeout)
	if err != nil {
		// The board answers some commands with a 4-byte acknowledgement.
		if !errors.Is(err, session.ErrTimeout) || len(bs) != protocol.ShortFrameSize {
			return nil, err
		}
		if _, derr := protocol.Decode(bs); derr != nil {
			return nil, err
		}
	}

	resp := h.classifier.ClassifyBytes(bs, cmd.Signal)
	if err := answers(resp, cmd); err != nil {
		resp = protocol.Malformed{Reason: err, Bytes: bs}
	}
	if h.cfg.Debug {
		h.log.Debug("response", zap.String("bytes", fmt.Sprintf("% 02X", bs)), zap.Stringer("decoded", resp))
	}
	return resp, protocol.Err(resp)
}

// answers checks that a reply carrying a channel and signal is for cmd.
// Anything else is left to the caller.
func answers(resp protocol.Response, cmd protocol.Command) error {
	switch r := resp.(type) {
	case protocol.Reading:
		if r.Channel != cmd.Channel || r.Signal != cmd.Signal {
			return fmt.Errorf("%w: got %s/%s for %s", ErrMismatchedReply, r.Channel, r.Signal, cmd)
		}
	case protocol.SystemInfo:
		if cmd.Kind != protocol.Ping {
			return fmt.Errorf("%w: got system info for %s", ErrMismatchedReply, cmd)
		}
	}
	return nil
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, protocol.ErrRejected),
		errors.Is(err, session.ErrNotOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Ping checks the board is alive and returns its firmware version. A board that
// acknowledges without a version reports 0.0.
func (h *HIL) Ping(ctx context.Context) (protocol.FirmwareVersion, error) {
	resp, err := h.Send(ctx, protocol.PingCommand())
	if err != nil {
		return protocol.FirmwareVersion{}, err
	}

	switch r := resp.(type) {
	case protocol.SystemInfo:
		return r.Firmware, nil
	case protocol.Ack:
		return protocol.FirmwareVersion{}, nil
	}
	return protocol.FirmwareVersion{}, fmt.Errorf("%w to ping: %s", ErrUnexpectedResponse, resp)
}

func (h *HIL) Get(ctx context.Context, ch protocol.Channel, sig protocol.Signal) (protocol.Reading, error) {
	resp, err := h.Send(ctx, protocol.GetCommand(ch, sig))
	if err != nil {
		return protocol.Reading{}, err
	}

	r, ok := resp.(protocol.Reading)
	if !ok {
		return protocol.Reading{}, fmt.Errorf("%w to get %s/%s: %s", ErrUnexpectedResponse, ch, sig, resp)
	}
	return r, nil
}

// Set simulates v, in the signal's physical unit, on ch. The board's
// acknowledgement or echo is returned.
func (h *HIL) Set(ctx context.Context, ch protocol.Channel, sig protocol.Signal, v float64) (protocol.Response, error) {
	return h.Send(ctx, protocol.SetCommand(ch, sig, v))
}

// GetPWM reads the PWM duty cycle on ch in percent.
func (h *HIL) GetPWM(ctx context.Context, ch protocol.Channel) (float64, error) {
	r, err := h.Get(ctx, ch, protocol.PWM)
	return r.Value, err
}

// SetCurrent simulates a current of mA milliamps on ch.
func (h *HIL) SetCurrent(ctx context.Context, ch protocol.Channel, mA float64) error {
	_, err := h.Set(ctx, ch, protocol.Current, mA)
	return err
}

// SetTemperature simulates a temperature of c degrees Celsius on ch.
func (h *HIL) SetTemperature(ctx context.Context, ch protocol.Channel, c float64) error {
	_, err := h.Set(ctx, ch, protocol.Temperature, c)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
