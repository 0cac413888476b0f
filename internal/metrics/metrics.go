package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry's Prometheus collectors.
type Metrics struct {
	Registrations   *prometheus.CounterVec
	Verifications   *prometheus.CounterVec
	Redemptions     *prometheus.CounterVec
	LedgerDuration  *prometheus.HistogramVec
	EventWriteFails prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "readimad_registrations_total",
			Help: "Serial registrations by ledger outcome",
		}, []string{"outcome"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "readimad_verifications_total",
			Help: "Verifications by reported status",
		}, []string{"status"}),
		Redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "readimad_redemptions_total",
			Help: "Redemption attempts by result",
		}, []string{"result"}),
		LedgerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "readimad_ledger_operation_duration_ms",
			Help:    "Latency of ledger calls in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 100, 500},
		}, []string{"op"}),
		EventWriteFails: f.NewCounter(prometheus.CounterOpts{
			Name: "readimad_event_write_failures_total",
			Help: "Audit events that could not be persisted",
		}),
	}
}

// ObserveLedger records the latency of one ledger call started at start.
func (m *Metrics) ObserveLedger(op string, start time.Time) {
	m.LedgerDuration.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
