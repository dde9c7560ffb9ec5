package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.tigermatt.uk/hil/protocol"
	"go.tigermatt.uk/hil/session"
)

// Metrics counts exchanges on both channels. A nil *Metrics records
// nothing.
type Metrics struct {
	Exchanges *prometheus.CounterVec   // labels: channel, result
	Retries   *prometheus.CounterVec   // labels: channel
	Duration  *prometheus.HistogramVec // labels: channel
}

// NewMetrics registers the exchange metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hil_exchanges_total",
			Help: "Request/response exchanges by channel and result.",
		}, []string{"channel", "result"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hil_retries_total",
			Help: "Binary exchanges repeated after a failed attempt.",
		}, []string{"channel"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hil_exchange_duration_seconds",
			Help:    "Time from write to classified response.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
	}
	reg.MustRegister(m.Exchanges, m.Retries, m.Duration)
	return m
}

func (m *Metrics) observe(channel string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Exchanges.WithLabelValues(channel, result(err)).Inc()
	m.Duration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
}

func (m *Metrics) retry(channel string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(channel).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, protocol.ErrRejected), errors.Is(err, ErrDevice):
		return "rejected"
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, ErrInvalidResponse):
		return "malformed"
	}
	return "error"
}
