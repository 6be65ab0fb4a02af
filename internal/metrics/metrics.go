// Package metrics exposes Prometheus instrumentation for the engine and its
// HTTP surface.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine collectors. A nil *Metrics is valid and records
// nothing, so tests can run without a registry.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EventsRecorded    *prometheus.CounterVec
	CandidatesTotal   *prometheus.CounterVec
	SourceFailures    *prometheus.CounterVec
	ReplenishDuration prometheus.Histogram
	ReplenishFailures prometheus.Counter
	ScoringDuration   prometheus.Histogram
	SearchDuration    prometheus.Histogram
	IndexSize         prometheus.Gauge
	Impressions       *prometheus.CounterVec
	Clicks            *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics, registering collectors on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resound_http_requests_total",
				Help: "HTTP requests by method, path and status",
			}, []string{"method", "path", "status"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "resound_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "path", "status"}),

			EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resound_events_recorded_total",
				Help: "User events ingested by type",
			}, []string{"type"}),
			CandidatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resound_candidates_gathered_total",
				Help: "Queue candidates gathered by source",
			}, []string{"source"}),
			SourceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resound_candidate_source_failures_total",
				Help: "Candidate source failures by source",
			}, []string{"source"}),
			ReplenishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "resound_replenish_duration_seconds",
				Help:    "Queue replenishment latency",
				Buckets: prometheus.DefBuckets,
			}),
			ReplenishFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "resound_replenish_failures_total",
				Help: "Replenishment attempts that produced zero candidates",
			}),
			ScoringDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "resound_scoring_duration_seconds",
				Help:    "Batch scoring latency",
				Buckets: prometheus.DefBuckets,
			}),
			SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "resound_index_search_duration_seconds",
				Help:    "Vector index search latency",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			}),
			IndexSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "resound_index_size",
				Help: "Number of indexed track embeddings",
			}),
			Impressions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resound_recommendation_impressions_total",
				Help: "Recommendations served by source",
			}, []string{"source"}),
			Clicks: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resound_recommendation_clicks_total",
				Help: "Recommended tracks played by source",
			}, []string{"source"}),
		}
	})
	return instance
}

// AddCandidates records gathered candidates, nil-safe.
func (m *Metrics) AddCandidates(source string, n int) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(source).Add(float64(n))
}

// SourceFailure records a failed candidate source, nil-safe.
func (m *Metrics) SourceFailure(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

// EventRecorded counts an ingested event, nil-safe.
func (m *Metrics) EventRecorded(eventType string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(eventType).Inc()
}

// Impression counts a served recommendation, nil-safe.
func (m *Metrics) Impression(source string) {
	if m == nil {
		return
	}
	m.Impressions.WithLabelValues(source).Inc()
}

// Click counts a played recommendation, nil-safe.
func (m *Metrics) Click(source string) {
	if m == nil {
		return
	}
	m.Clicks.WithLabelValues(source).Inc()
}

// ObserveReplenish records replenishment latency, nil-safe.
func (m *Metrics) ObserveReplenish(seconds float64) {
	if m == nil {
		return
	}
	m.ReplenishDuration.Observe(seconds)
}

// ObserveScoring records batch scoring latency, nil-safe.
func (m *Metrics) ObserveScoring(seconds float64) {
	if m == nil {
		return
	}
	m.ScoringDuration.Observe(seconds)
}

// ObserveSearch records vector index search latency, nil-safe.
func (m *Metrics) ObserveSearch(seconds float64) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(seconds)
}

// ReplenishFailed counts an empty replenishment, nil-safe.
func (m *Metrics) ReplenishFailed() {
	if m == nil {
		return
	}
	m.ReplenishFailures.Inc()
}

// SetIndexSize updates the index size gauge, nil-safe.
func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.IndexSize.Set(float64(n))
}
