package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

// Topic suffixes under the configured prefix
const (
	DetectionsTopic = "detections"
	ItemsTopic      = "items"
)

// BatchMessage is the payload published for each detection batch
type BatchMessage struct {
	Version     uint64                `json:"version"`
	FrameSeq    uint64                `json:"frame_seq"`
	Source      string                `json:"source"`
	CapturedAt  time.Time             `json:"captured_at"`
	InferenceMs int64                 `json:"inference_ms"`
	Detections  []detection.Detection `json:"detections"`
}

// ItemMessage is the payload published when an item is enriched or fails
type ItemMessage struct {
	ItemID     string                `json:"item_id"`
	Status     string                `json:"status"`
	Enrichment classifier.Enrichment `json:"enrichment"`
	Error      string                `json:"error,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// Publisher encodes domain events and publishes them under a topic prefix
type Publisher struct {
	client Client
	prefix string
}

// NewPublisher creates a publisher on client
func NewPublisher(c Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultConfig().Topic
	}
	return &Publisher{client: c, prefix: prefix}
}

// Topic returns the full topic for suffix
func (p *Publisher) Topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// PublishBatch publishes a detection batch
func (p *Publisher) PublishBatch(ctx context.Context, b *pipeline.Batch) error {
	if b == nil {
		return nil
	}
	dets := b.Detections
	if dets == nil {
		dets = []detection.Detection{}
	}
	return p.publishJSON(ctx, p.Topic(DetectionsTopic), BatchMessage{
		Version:     b.Version,
		FrameSeq:    b.Frame.Seq,
		Source:      b.Frame.Source,
		CapturedAt:  b.Frame.CapturedAt,
		InferenceMs: b.Inference.Milliseconds(),
		Detections:  dets,
	})
}

// PublishItem publishes an item outcome
func (p *Publisher) PublishItem(ctx context.Context, msg ItemMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return p.publishJSON(ctx, p.Topic(ItemsTopic), msg)
}

func (p *Publisher) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return p.client.Publish(ctx, topic, payload)
}
