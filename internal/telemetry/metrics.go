package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for stimlog.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsQueued      *prometheus.CounterVec
	PendingRecords     prometheus.Gauge
	FlushesTotal       *prometheus.CounterVec
	FlushDuration      prometheus.Histogram
	RowsWritten        prometheus.Counter
	RecordsDiscarded   *prometheus.CounterVec
	CredentialAttempts *prometheus.CounterVec
	MonitorRows        prometheus.Counter
	RequestsInFlight   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RecordsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stimlog",
				Name:      "records_queued_total",
				Help:      "Experiment records queued, by stimulus.",
			},
			[]string{"stimulus"},
		),

		PendingRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stimlog",
				Name:      "pending_records",
				Help:      "Experiment records waiting for the next flush.",
			},
		),

		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stimlog",
				Name:      "flushes_total",
				Help:      "Flush attempts by outcome.",
			},
			[]string{"outcome"},
		),

		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "stimlog",
				Name:      "flush_duration_seconds",
				Help:      "Wall time of a flush, including the login dialog.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
			},
		),

		RowsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stimlog",
				Name:      "experiment_rows_written_total",
				Help:      "Experiment rows inserted into the database.",
			},
		),

		RecordsDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stimlog",
				Name:      "records_discarded_total",
				Help:      "Queued records dropped without being written, by reason.",
			},
			[]string{"reason"},
		),

		CredentialAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stimlog",
				Name:      "credential_attempts_total",
				Help:      "Database login attempts by result.",
			},
			[]string{"result"},
		),

		MonitorRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stimlog",
				Name:      "monitor_rows_written_total",
				Help:      "Monitor history rows appended after a display change.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stimlog",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
	}

	reg.MustRegister(
		m.RecordsQueued,
		m.PendingRecords,
		m.FlushesTotal,
		m.FlushDuration,
		m.RowsWritten,
		m.RecordsDiscarded,
		m.CredentialAttempts,
		m.MonitorRows,
		m.RequestsInFlight,
	)

	return m
}

// RecordFlush records the outcome and duration of a flush.
func (m *Metrics) RecordFlush(outcome string, durationSec float64) {
	m.FlushesTotal.WithLabelValues(outcome).Inc()
	m.FlushDuration.Observe(durationSec)
}

// RecordDiscarded counts records dropped without a write.
func (m *Metrics) RecordDiscarded(reason string, n int) {
	if n > 0 {
		m.RecordsDiscarded.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordCredentialAttempt counts one login attempt.
func (m *Metrics) RecordCredentialAttempt(result string) {
	m.CredentialAttempts.WithLabelValues(result).Inc()
}
