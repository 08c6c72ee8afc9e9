package metrics

import "github.com/prometheus/client_golang/prometheus"

// ClassifierMetrics contains metrics for remote classifier calls.
type ClassifierMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	CacheLookups    *prometheus.CounterVec
}

// NewClassifierMetrics creates and registers classifier metrics
func NewClassifierMetrics(registry prometheus.Registerer) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "classifier_requests_total",
			Help:      "Classifier requests by result status",
		}, []string{"status"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "classifier_request_duration_seconds",
			Help:      "Classifier request duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "classifier_cache_lookups_total",
			Help:      "Classifier response cache lookups",
		}, []string{"result"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest counts a request and observes its duration
func (m *ClassifierMetrics) RecordRequest(status string, seconds float64) {
	m.Requests.WithLabelValues(status).Inc()
	m.RequestDuration.Observe(seconds)
}

// RecordCacheLookup counts a cache hit or miss
func (m *ClassifierMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	ch <- m.RequestDuration.Desc()
	m.CacheLookups.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	ch <- m.RequestDuration
	m.CacheLookups.Collect(ch)
}
