package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStates lists the values reported by the state gauge
var PipelineStates = []string{"idle", "loading", "ready", "processing", "error"}

// PipelineMetrics contains metrics for the detection pipeline.
type PipelineMetrics struct {
	FramesTotal       *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	BatchDetections   prometheus.Histogram
	State             *prometheus.GaugeVec
}

// NewPipelineMetrics creates and registers pipeline metrics
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_frames_total",
			Help:      "Frames offered to the pipeline by outcome",
		}, []string{"outcome"}),
		InferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_inference_duration_seconds",
			Help:      "Model inference duration",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"status"}),
		BatchDetections: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_batch_detections",
			Help:      "Detections per published batch",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20, 50},
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pipeline_state",
			Help:      "Current pipeline state, 1 for the active state",
		}, []string{"state"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordFrame counts a frame outcome
func (m *PipelineMetrics) RecordFrame(outcome string) {
	m.FramesTotal.WithLabelValues(outcome).Inc()
}

// RecordInference observes an inference call
func (m *PipelineMetrics) RecordInference(d time.Duration, err error) {
	m.InferenceDuration.WithLabelValues(statusOf(err)).Observe(d.Seconds())
}

// RecordBatch observes the size of a published batch
func (m *PipelineMetrics) RecordBatch(detections int) {
	m.BatchDetections.Observe(float64(detections))
}

// SetState marks state as the active one
func (m *PipelineMetrics) SetState(state string) {
	for _, s := range PipelineStates {
		m.State.WithLabelValues(s).Set(boolToFloat(s == state))
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesTotal.Describe(ch)
	m.InferenceDuration.Describe(ch)
	m.BatchDetections.Describe(ch)
	m.State.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesTotal.Collect(ch)
	m.InferenceDuration.Collect(ch)
	m.BatchDetections.Collect(ch)
	m.State.Collect(ch)
}
