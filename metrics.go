package veil

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Field outcome label values.
const (
	outcomeTransformed = "transformed"
	outcomeSkipped     = "skipped"
	outcomeFailed      = "failed"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	fieldsTotal  *prometheus.CounterVec
	walkDuration *prometheus.HistogramVec
	keyFetches   *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace (default "veil") and
// registers them with registerer, or prometheus.DefaultRegisterer when nil.
// Duplicate registrations are ignored.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "veil"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		fieldsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fields_total",
				Help:      "Marked fields visited, by transform and outcome",
			},
			[]string{"transform", "outcome"},
		),
		walkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "walk_duration_seconds",
				Help:      "Duration of a full graph walk in seconds",
				Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"transform"},
		),
		keyFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "key_fetch_total",
				Help:      "Private key lookups, by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}

	for _, c := range []prometheus.Collector{m.fieldsTotal, m.walkDuration, m.keyFetches} {
		_ = registerer.Register(c)
	}
	return m
}

// RecordKeyFetch counts one private key lookup.
func (m *Metrics) RecordKeyFetch(provider string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.keyFetches.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) countField(transform, outcome string) {
	if m == nil {
		return
	}
	m.fieldsTotal.WithLabelValues(transform, outcome).Inc()
}

func (m *Metrics) observeWalk(transform string, d time.Duration) {
	if m == nil {
		return
	}
	m.walkDuration.WithLabelValues(transform).Observe(d.Seconds())
}
