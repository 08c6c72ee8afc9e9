package metrics

import "github.com/prometheus/client_golang/prometheus"

// DatastoreMetrics contains metrics for database queries.
type DatastoreMetrics struct {
	Queries       *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewDatastoreMetrics creates and registers datastore metrics
func NewDatastoreMetrics(registry prometheus.Registerer) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "db_queries_total",
			Help:      "Database queries by operation and table",
		}, []string{"operation", "table"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "db_query_errors_total",
			Help:      "Failed database queries by error kind",
		}, []string{"operation", "kind"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordQuery records a query. errKind is "none" for successful queries.
func (m *DatastoreMetrics) RecordQuery(operation, table string, seconds float64, errKind string) {
	m.Queries.WithLabelValues(operation, table).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(seconds)
	if errKind != "" && errKind != "none" {
		m.QueryErrors.WithLabelValues(operation, errKind).Inc()
	}
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Queries.Describe(ch)
	m.QueryDuration.Describe(ch)
	m.QueryErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Queries.Collect(ch)
	m.QueryDuration.Collect(ch)
	m.QueryErrors.Collect(ch)
}
