package metrics

import "github.com/prometheus/client_golang/prometheus"

// EnrichmentMetrics contains metrics for the enrichment queue.
type EnrichmentMetrics struct {
	Enqueued   prometheus.Counter
	Dispatched prometheus.Counter
	Outcomes   *prometheus.CounterVec
	Pending    prometheus.Gauge
	InFlight   prometheus.Gauge
}

// NewEnrichmentMetrics creates and registers enrichment queue metrics
func NewEnrichmentMetrics(registry prometheus.Registerer) (*EnrichmentMetrics, error) {
	m := &EnrichmentMetrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "enrichment_enqueued_total",
			Help:      "Items accepted by the enrichment queue",
		}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "enrichment_dispatched_total",
			Help:      "Classifier calls started by the enrichment queue",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "enrichment_outcomes_total",
			Help:      "Dispatch outcomes: success, retry or dropped",
		}, []string{"outcome"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "enrichment_pending",
			Help:      "Entries waiting for dispatch",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "enrichment_in_flight",
			Help:      "Classifier calls currently running",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordEnqueued counts an accepted item
func (m *EnrichmentMetrics) RecordEnqueued() { m.Enqueued.Inc() }

// RecordDispatched counts a started classifier call
func (m *EnrichmentMetrics) RecordDispatched() { m.Dispatched.Inc() }

// RecordOutcome counts a dispatch outcome
func (m *EnrichmentMetrics) RecordOutcome(outcome string) {
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// SetPending sets the pending gauge
func (m *EnrichmentMetrics) SetPending(n int) { m.Pending.Set(float64(n)) }

// SetInFlight sets the in-flight gauge
func (m *EnrichmentMetrics) SetInFlight(n int) { m.InFlight.Set(float64(n)) }

// Describe implements the prometheus.Collector interface.
func (m *EnrichmentMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Enqueued.Desc()
	ch <- m.Dispatched.Desc()
	m.Outcomes.Describe(ch)
	ch <- m.Pending.Desc()
	ch <- m.InFlight.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *EnrichmentMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Enqueued
	ch <- m.Dispatched
	m.Outcomes.Collect(ch)
	ch <- m.Pending
	ch <- m.InFlight
}
