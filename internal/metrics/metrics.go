// internal/metrics/metrics.go

// Package metrics holds the Prometheus collectors for ingestion runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scm_fetcher"

// Metrics groups the ingestion collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	pagesFetched   *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	backoffSeconds *prometheus.CounterVec
	rows           *prometheus.CounterVec
	unitFailures   *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastSuccess    prometheus.Gauge
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "pages_fetched_total",
			Help:      "Pages fetched from the remote API.",
		}, []string{"resource"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "rate_limited_total",
			Help:      "Rate-limited responses received from the remote API.",
		}, []string{"resource"}),
		backoffSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "backoff_seconds_total",
			Help:      "Time spent sleeping after rate-limited responses.",
		}, []string{"resource"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows_total",
			Help:      "Reconciled rows by table and outcome (inserted or skipped).",
		}, []string{"table", "outcome"}),
		unitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "unit_failures_total",
			Help:      "Units of work that failed and were skipped.",
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Completed ingestion runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that reached Done.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pagesFetched, m.rateLimited, m.backoffSeconds, m.rows,
			m.unitFailures, m.runs, m.runDuration, m.lastSuccess)
	}
	return m
}

func (m *Metrics) PageFetched(resource string) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(resource).Inc()
}

func (m *Metrics) RateLimited(resource string, delaySeconds float64) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(resource).Inc()
	m.backoffSeconds.WithLabelValues(resource).Add(delaySeconds)
}

func (m *Metrics) Row(table string, inserted bool) {
	if m == nil {
		return
	}
	outcome := "skipped"
	if inserted {
		outcome = "inserted"
	}
	m.rows.WithLabelValues(table, outcome).Inc()
}

func (m *Metrics) UnitFailed(phase string) {
	if m == nil {
		return
	}
	m.unitFailures.WithLabelValues(phase).Inc()
}

// RunFinished records a run. failed is true when the run aborted.
func (m *Metrics) RunFinished(durationSeconds float64, failed bool, finishedAtUnix float64) {
	if m == nil {
		return
	}
	m.runDuration.Observe(durationSeconds)
	if failed {
		m.runs.WithLabelValues("failed").Inc()
		return
	}
	m.runs.WithLabelValues("done").Inc()
	m.lastSuccess.Set(finishedAtUnix)
}

// Handler serves the collectors registered with gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
