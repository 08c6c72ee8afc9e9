// Package observability exposes spotit-go metrics in Prometheus format.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/datastore"
	"github.com/tphakala/spotit-go/internal/enrichment"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/mqtt"
	"github.com/tphakala/spotit-go/internal/observability/metrics"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

var (
	_ pipeline.Recorder       = (*metrics.PipelineMetrics)(nil)
	_ enrichment.Recorder     = (*metrics.EnrichmentMetrics)(nil)
	_ classifier.Recorder     = (*metrics.ClassifierMetrics)(nil)
	_ mqtt.Recorder           = (*metrics.MQTTMetrics)(nil)
	_ datastore.QueryRecorder = (*metrics.DatastoreMetrics)(nil)
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Pipeline   *metrics.PipelineMetrics
	Enrichment *metrics.EnrichmentMetrics
	Classifier *metrics.ClassifierMetrics
	MQTT       *metrics.MQTTMetrics
	Datastore  *metrics.DatastoreMetrics
	HTTP       *metrics.HTTPMetrics
}

// NewMetrics creates a private registry and registers every collector on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	var err error
	if m.Pipeline, err = metrics.NewPipelineMetrics(registry); err != nil {
		return nil, wrap(err, "pipeline")
	}
	if m.Enrichment, err = metrics.NewEnrichmentMetrics(registry); err != nil {
		return nil, wrap(err, "enrichment")
	}
	if m.Classifier, err = metrics.NewClassifierMetrics(registry); err != nil {
		return nil, wrap(err, "classifier")
	}
	if m.MQTT, err = metrics.NewMQTTMetrics(registry); err != nil {
		return nil, wrap(err, "mqtt")
	}
	if m.Datastore, err = metrics.NewDatastoreMetrics(registry); err != nil {
		return nil, wrap(err, "datastore")
	}
	if m.HTTP, err = metrics.NewHTTPMetrics(registry); err != nil {
		return nil, wrap(err, "http")
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, wrap(err, "go")
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, wrap(err, "process")
	}
	return m, nil
}

func wrap(err error, component string) error {
	return errors.New(err).
		Category(errors.CategoryConfiguration).
		Context("metrics", component).
		Build()
}

// Registry returns the registry holding all collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}

// OutboundHook returns an httpclient after-response hook that counts requests
// by host and status.
func (m *Metrics) OutboundHook() func(*http.Request, *http.Response, error, time.Duration) {
	return func(req *http.Request, resp *http.Response, err error, _ time.Duration) {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		host := ""
		if req != nil && req.URL != nil {
			host = req.URL.Hostname()
		}
		if err != nil {
			GetLogger().Debug("outbound request failed", logger.String("host", host), logger.Error(err))
		}
		m.HTTP.RecordOutbound(host, code)
	}
}
