package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.tigermatt.uk/hil/session"
)

// LineSession is the line channel an Illuminator dispatcher drives.
// *session.Session satisfies it.
type LineSession interface {
	Write(bs []byte) (int, error)
	ReadLine(timeout time.Duration) (string, error)
}

// Request is one command envelope. Data may be any JSON-marshallable
// value; a string holding a JSON object is sent as that object.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// Response is one reply envelope. Raw is the line as received. A numeric
// id is kept as its JSON text.
type Response struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`

	Raw string `json:"-"`
}

var errNotObject = errors.New("not a JSON object")

// UnmarshalJSON accepts only an object.
func (r *Response) UnmarshalJSON(b []byte) error {
	if t := bytes.TrimSpace(b); len(t) == 0 || t[0] != '{' {
		return errNotObject
	}
	var env struct {
		Type string          `json:"type"`
		ID   json.RawMessage `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	r.Type, r.ID, r.Data = env.Type, idText(env.ID), env.Data
	return nil
}

func idText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

type status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (r Response) status() status {
	var s status
	if len(r.Data) > 0 {
		_ = json.Unmarshal(r.Data, &s)
	}
	return s
}

// Status is data.status, or "" when absent.
func (r Response) Status() string { return r.status().Status }

// Message is data.message, or "" when absent.
func (r Response) Message() string { return r.status().Message }

// OK reports whether r is a response envelope with status "ok".
func (r Response) OK() bool { return r.Type == "resp" && r.Status() == "ok" }

func (r Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: no data", ErrInvalidResponse)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return &InvalidResponseError{Line: r.Raw, Err: err}
	}
	return nil
}

// ParseData returns a string that looks like a JSON object as that object
// and anything else unchanged.
func ParseData(data any) any {
	s, ok := data.(string)
	if !ok {
		return data
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

// IlluminatorConfig holds the JSON dispatcher's settings.
type IlluminatorConfig struct {
	// ReadTimeout bounds each reply. Zero uses the session's timeout.
	ReadTimeout time.Duration

	// NewID generates ids for requests that have none.
	NewID func() string

	// Pause separates the light commands of a Diagnose sweep.
	Pause time.Duration

	// Now stamps ping requests.
	Now func() time.Time

	Logger  *zap.Logger
	Debug   bool
	Metrics *Metrics
	Sleep   func(ctx context.Context, d time.Duration) error
}

func defaultIlluminatorConfig() IlluminatorConfig {
	return IlluminatorConfig{
		NewID:  uuid.NewString,
		Pause:  500 * time.Millisecond,
		Now:    time.Now,
		Logger: zap.NewNop(),
		Sleep:  sleep,
	}
}

type IlluminatorOption func(*IlluminatorConfig)

// WithLineTimeout bounds each reply.
func WithLineTimeout(d time.Duration) IlluminatorOption {
	return func(c *IlluminatorConfig) { c.ReadTimeout = d }
}

// WithIDs replaces the request id generator.
func WithIDs(f func() string) IlluminatorOption {
	return func(c *IlluminatorConfig) { c.NewID = f }
}

// WithPause sets the delay between light commands of a sweep.
func WithPause(d time.Duration) IlluminatorOption {
	return func(c *IlluminatorConfig) { c.Pause = d }
}

// WithClock replaces time.Now for ping timestamps.
func WithClock(now func() time.Time) IlluminatorOption {
	return func(c *IlluminatorConfig) { c.Now = now }
}

// WithIlluminatorLogger sets the logger. Envelopes are logged at debug
// level when debug is true.
func WithIlluminatorLogger(l *zap.Logger, debug bool) IlluminatorOption {
	return func(c *IlluminatorConfig) {
		if l != nil {
			c.Logger = l
		}
		c.Debug = debug
	}
}

// WithIlluminatorMetrics records every exchange in m.
func WithIlluminatorMetrics(m *Metrics) IlluminatorOption {
	return func(c *IlluminatorConfig) { c.Metrics = m }
}

// WithIlluminatorSleep replaces the function used for sweep pauses.
func WithIlluminatorSleep(f func(ctx context.Context, d time.Duration) error) IlluminatorOption {
	return func(c *IlluminatorConfig) { c.Sleep = f }
}

// Illuminator exchanges JSON envelopes with the device under test. It does
// not match response ids to requests; callers that care compare them. It is
// not safe for concurrent use.
type Illuminator struct {
	sess LineSession
	cfg  IlluminatorConfig
	log  *zap.Logger
}

// NewIlluminator returns a dispatcher writing to sess.
func NewIlluminator(sess LineSession, opts ...IlluminatorOption) *Illuminator {
	cfg := defaultIlluminatorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Illuminator{
		sess: sess,
		cfg:  cfg,
		log:  cfg.Logger.With(zap.String("dispatcher", "illuminator")),
	}
}

// Send writes req as one line and reads one line back. Type defaults to
// "cmd", a missing id is generated and nil data is sent as {}. A reply that
// is not a JSON object is returned with Raw set and an
// *InvalidResponseError; it is never retried.
func (il *Illuminator) Send(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if req.Type == "" {
		req.Type = "cmd"
	}
	if req.ID == "" {
		req.ID = il.cfg.NewID()
	}
	req.Data = ParseData(req.Data)
	if req.Data == nil {
		req.Data = struct{}{}
	}

	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encoding %s/%s: %w", req.Topic, req.Action, err)
	}
	if il.cfg.Debug {
		il.log.Debug("request", zap.ByteString("json", line))
	}

	start := time.Now()
	resp, err := il.exchange(append(line, '\n'))
	il.cfg.Metrics.observe("illuminator", start, err)
	return resp, err
}

func (il *Illuminator) exchange(line []byte) (Response, error) {
	if _, err := il.sess.Write(line); err != nil {
		return Response{}, err
	}

	raw, err := il.sess.ReadLine(il.cfg.ReadTimeout)
	if errors.Is(err, session.ErrInvalidEncoding) {
		il.log.Warn("invalid response", zap.String("line", raw), zap.Error(err))
		return Response{Raw: raw}, &InvalidResponseError{Line: raw, Err: err}
	}
	if err != nil {
		return Response{Raw: raw}, err
	}

	var resp Response
	if t := strings.TrimSpace(raw); !strings.HasPrefix(t, "{") {
		err = errNotObject
	} else {
		err = json.Unmarshal([]byte(raw), &resp)
	}
	if err != nil {
		il.log.Warn("invalid response", zap.String("line", raw), zap.Error(err))
		return Response{Raw: raw}, &InvalidResponseError{Line: raw, Err: err}
	}
	resp.Raw = raw
	if il.cfg.Debug {
		il.log.Debug("response", zap.String("id", resp.ID), zap.ByteString("data", resp.Data))
	}
	return resp, nil
}

// call sends a request and turns a non-ok status into a *DeviceError.
func (il *Illuminator) call(ctx context.Context, topic, action string, data any) (Response, error) {
	resp, err := il.Send(ctx, Request{Topic: topic, Action: action, Data: data})
	if err != nil {
		return resp, err
	}
	if !resp.OK() {
		return resp, &DeviceError{Topic: topic, Action: action, Status: resp.Status(), Message: resp.Message()}
	}
	return resp, nil
}

// IsDeviceError reports whether err is a non-ok status rather than a
// transport or decode failure.
func IsDeviceError(err error) bool { return errors.Is(err, ErrDevice) }
