package analysis

import (
	"context"
	"time"

	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/datastore"
	"github.com/tphakala/spotit-go/internal/enrichment"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/mqtt"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

const publishTimeout = 10 * time.Second

// EventPublisher forwards batches and item outcomes, e.g. to MQTT
type EventPublisher interface {
	PublishBatch(ctx context.Context, b *pipeline.Batch) error
	PublishItem(ctx context.Context, msg mqtt.ItemMessage) error
}

// Results persists and forwards pipeline batches and enrichment outcomes. Any of
// its dependencies may be nil.
type Results struct {
	store     datastore.Interface
	publisher EventPublisher
	capturer  *Capturer
	log       logger.Logger
}

// NewResults creates the result sink
func NewResults(store datastore.Interface, publisher EventPublisher, capturer *Capturer) *Results {
	return &Results{
		store:     store,
		publisher: publisher,
		capturer:  capturer,
		log:       GetLogger(),
	}
}

// Handlers returns the enrichment queue callbacks
func (r *Results) Handlers() enrichment.Handlers {
	return enrichment.Handlers{
		OnItemEnriched: r.ItemEnriched,
		OnItemFailed:   r.ItemFailed,
	}
}

// ItemEnriched stores and publishes a successful enrichment
func (r *Results) ItemEnriched(itemID string, result classifier.Enrichment) {
	if r.store != nil {
		if err := r.store.ApplyEnrichment(itemID, result); err != nil {
			r.log.Error("failed to store enrichment",
				logger.String("item_id", itemID),
				logger.Error(err))
		}
	}
	r.publishItem(mqtt.ItemMessage{
		ItemID:     itemID,
		Status:     datastore.StatusEnriched,
		Enrichment: result,
	})
}

// ItemFailed stores and publishes the fallback of an item that could not be enriched
func (r *Results) ItemFailed(itemID string, fallback classifier.Enrichment, cause error) {
	if r.store != nil {
		if err := r.store.MarkFailed(itemID, fallback, cause); err != nil {
			r.log.Error("failed to mark item failed",
				logger.String("item_id", itemID),
				logger.Error(err))
		}
	}
	msg := mqtt.ItemMessage{
		ItemID:     itemID,
		Status:     datastore.StatusFailed,
		Enrichment: fallback,
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	r.publishItem(msg)
}

func (r *Results) publishItem(msg mqtt.ItemMessage) {
	if r.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.PublishItem(ctx, msg); err != nil {
		r.log.Warn("failed to publish item",
			logger.String("item_id", msg.ItemID),
			logger.Error(err))
	}
}

// HandleBatch records a published batch. Scans are stored only when the batch has
// detections; every batch is forwarded to the publisher.
func (r *Results) HandleBatch(ctx context.Context, b *pipeline.Batch) {
	if b == nil {
		return
	}
	if r.store != nil && len(b.Detections) > 0 {
		scan := &datastore.Scan{
			Version:     b.Version,
			FrameSeq:    b.Frame.Seq,
			Source:      b.Frame.Source,
			Detections:  len(b.Detections),
			InferenceMs: b.Inference.Milliseconds(),
		}
		if err := r.store.SaveScan(scan); err != nil {
			r.log.Warn("failed to store scan",
				logger.Uint64("version", b.Version),
				logger.Error(err))
		}
	}
	if r.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := r.publisher.PublishBatch(pubCtx, b); err != nil {
			r.log.Debug("failed to publish batch",
				logger.Uint64("version", b.Version),
				logger.Error(err))
		}
		cancel()
	}
	if r.capturer != nil {
		r.capturer.AutoCapture(b)
	}
}

// Consume handles batches until the channel closes or ctx is done
func (r *Results) Consume(ctx context.Context, batches <-chan *pipeline.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			r.HandleBatch(ctx, b)
		}
	}
}
