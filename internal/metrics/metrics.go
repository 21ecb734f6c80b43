// Package metrics counts what a revert run did. Each run owns its registry,
// which is written to a node-exporter textfile at the end of the run.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reparanda"

// Metrics holds the collectors of one run.
type Metrics struct {
	registry *prometheus.Registry

	outcomes          *prometheus.CounterVec
	credited          prometheus.Counter
	uploads           *prometheus.CounterVec
	changesets        prometheus.Counter
	reconcileDuration prometheus.Histogram
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers the run collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Entities reconciled, by outcome.",
		}, []string{"action"}),
		credited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credited_changesets_total",
			Help:      "Distinct changesets credited as reverted.",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Corrected revisions handed to the dispatcher, by result.",
		}, []string{"result"}),
		changesets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changesets_opened_total",
			Help:      "Changesets opened for uploads.",
		}),
		reconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time to reconcile one entity run, including fetches.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "OSM API requests, by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "OSM API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry exposes the collectors, for tests and exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveOutcome(action string) {
	m.outcomes.WithLabelValues(action).Inc()
}

func (m *Metrics) AddCredited(n int) {
	if n > 0 {
		m.credited.Add(float64(n))
	}
}

func (m *Metrics) ObserveUpload(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) ChangesetOpened() {
	m.changesets.Inc()
}

func (m *Metrics) ObserveReconcile(elapsed time.Duration) {
	m.reconcileDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP has the signature of osmapi.Observer. A zero status means no
// response was received.
func (m *Metrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.httpRequests.WithLabelValues(method, code).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// WriteFile writes the registry in the text exposition format. The file is
// replaced atomically.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
