package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processed status labels
const (
	StatusCompleted = "completed"
	StatusRetry     = "retry"
	StatusDead      = "dead"
)

// Metrics tracks engine events as Prometheus series on a private registry
type Metrics struct {
	registry *prometheus.Registry

	enqueued  prometheus.Counter
	processed *prometheus.CounterVec
	recovered prometheus.Counter
	inFlight  prometheus.Gauge
	duration  prometheus.Histogram
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queuectl_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuectl_jobs_processed_total",
			Help: "Total number of execution attempts by outcome",
		}, []string{"status"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queuectl_jobs_recovered_total",
			Help: "Total number of abandoned processing jobs recovered",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queuectl_jobs_inflight",
			Help: "Current number of jobs being executed by this process",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queuectl_job_duration_seconds",
			Help:    "Execution time of job attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.enqueued,
		m.processed,
		m.recovered,
		m.inFlight,
		m.duration,
		collectors.NewGoCollector(),
	)
	return m
}

// IncrementEnqueued counts a submitted job
func (m *Metrics) IncrementEnqueued() {
	m.enqueued.Inc()
}

// IncrementCompleted counts a successful attempt
func (m *Metrics) IncrementCompleted() {
	m.processed.WithLabelValues(StatusCompleted).Inc()
}

// IncrementRetried counts a failed attempt that was rescheduled
func (m *Metrics) IncrementRetried() {
	m.processed.WithLabelValues(StatusRetry).Inc()
}

// IncrementDead counts a job moved to the dead letter store
func (m *Metrics) IncrementDead() {
	m.processed.WithLabelValues(StatusDead).Inc()
}

// IncrementRecovered counts an abandoned job picked up by the recovery sweep
func (m *Metrics) IncrementRecovered() {
	m.recovered.Inc()
}

func (m *Metrics) JobStarted() {
	m.inFlight.Inc()
}

func (m *Metrics) JobFinished(d time.Duration) {
	m.inFlight.Dec()
	m.duration.Observe(d.Seconds())
}

// ProcessedCounter returns the attempt counter for status
func (m *Metrics) ProcessedCounter(status string) prometheus.Counter {
	return m.processed.WithLabelValues(status)
}

func (m *Metrics) RecoveredCounter() prometheus.Counter {
	return m.recovered
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
