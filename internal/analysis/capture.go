// Package analysis wires the realtime detection service together: frames flow
// into the pipeline, published batches are persisted and forwarded, and captured
// detections are stored and handed to the enrichment queue.
package analysis

import (
	"context"
	"image"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/spotit-go/internal/datastore"
	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/imagecrop"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

// BatchSource provides the latest published batch
type BatchSource interface {
	Latest() *pipeline.Batch
}

// Enqueuer hands captured items to the enrichment queue
type Enqueuer interface {
	Enqueue(itemID string, image []byte) bool
}

// CaptureConfig configures a Capturer
type CaptureConfig struct {
	// InputSize is the square model input size detection boxes are expressed in
	InputSize int
	// Quality is the JPEG quality of stored crops
	Quality int
	// MaxWidth bounds the width of the image sent to the classifier
	MaxWidth int
	// AutoCapture captures the first detection of each class above MinConfidence
	AutoCapture   bool
	MinConfidence float64
}

// Capturer turns detections of the latest batch into stored items
type Capturer struct {
	cfg    CaptureConfig
	source BatchSource
	store  datastore.Interface
	queue  Enqueuer
	newID  func() string
	log    logger.Logger

	mu       sync.Mutex
	captured map[string]*captureSlot // by detection id
	classes  map[string]struct{}
}

// captureSlot reserves a detection while its item is being created. done is
// closed once item or err is set.
type captureSlot struct {
	done chan struct{}
	item *datastore.Item
	err  error
}

// NewCapturer creates a capturer. store and queue may be nil, in which case items
// are not persisted or not enriched.
func NewCapturer(cfg CaptureConfig, source BatchSource, store datastore.Interface, queue Enqueuer) *Capturer {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = imagecrop.DefaultMaxWidth
	}
	return &Capturer{
		cfg:      cfg,
		source:   source,
		store:    store,
		queue:    queue,
		newID:    uuid.NewString,
		log:      GetLogger(),
		captured: make(map[string]*captureSlot),
		classes:  make(map[string]struct{}),
	}
}

// Capture stores the detection with the given id from the latest batch as a pending
// item and enqueues it for enrichment. Capturing the same detection twice returns
// the existing item.
func (c *Capturer) Capture(ctx context.Context, detectionID string) (*datastore.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.source.Latest()
	d, ok := b.Find(detectionID)
	if !ok {
		return nil, errors.Newf("detection %s is not in the latest batch", detectionID).
			Component("analysis").
			Category(errors.CategoryNotFound).
			Context("detection_id", detectionID).
			Build()
	}
	return c.capture(b.Frame, d)
}

// AutoCapture captures the first detection of each class whose confidence reaches
// MinConfidence. Each class is captured at most once per Capturer.
func (c *Capturer) AutoCapture(b *pipeline.Batch) []*datastore.Item {
	if !c.cfg.AutoCapture || b == nil {
		return nil
	}
	var items []*datastore.Item
	for _, d := range b.Detections {
		if d.Confidence < c.cfg.MinConfidence || !c.claimClass(d.ClassName) {
			continue
		}
		item, err := c.capture(b.Frame, d)
		if err != nil {
			c.releaseClass(d.ClassName)
			c.log.Warn("auto capture failed",
				logger.String("detection_id", d.ID),
				logger.String("class", d.ClassName),
				logger.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items
}

func (c *Capturer) claimClass(class string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.classes[class]; seen {
		return false
	}
	c.classes[class] = struct{}{}
	return true
}

func (c *Capturer) releaseClass(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.classes, class)
}

func (c *Capturer) capture(frame pipeline.Frame, d detection.Detection) (*datastore.Item, error) {
	c.mu.Lock()
	if slot, dup := c.captured[d.ID]; dup {
		c.mu.Unlock()
		<-slot.done
		if slot.err != nil {
			return nil, slot.err
		}
		if c.store != nil {
			return c.store.GetItem(slot.item.ID)
		}
		return slot.item, nil
	}
	slot := &captureSlot{done: make(chan struct{})}
	c.captured[d.ID] = slot
	c.mu.Unlock()

	item, err := c.createItem(frame, d)
	if err != nil {
		c.mu.Lock()
		delete(c.captured, d.ID)
		c.mu.Unlock()
		slot.err = err
		close(slot.done)
		return nil, err
	}
	slot.item = item
	close(slot.done)

	c.log.Info("item captured",
		logger.String("item_id", item.ID),
		logger.String("detection_id", d.ID),
		logger.String("class", d.ClassName),
		logger.Float64("confidence", d.Confidence),
		logger.Int("image_bytes", len(item.Image)))

	c.enqueue(item)
	return item, nil
}

// createItem crops the detection out of frame and saves it as a pending item
func (c *Capturer) createItem(frame pipeline.Frame, d detection.Detection) (*datastore.Item, error) {
	if frame.Image == nil {
		return nil, errors.Newf("frame %d has no image", frame.Seq).
			Component("analysis").
			Category(errors.CategoryState).
			Context("detection_id", d.ID).
			Build()
	}

	bounds := frame.Image.Bounds()
	rect := imagecrop.ScaleRect(d.BBox, image.Pt(c.cfg.InputSize, c.cfg.InputSize), bounds.Size())
	rect.X += float64(bounds.Min.X)
	rect.Y += float64(bounds.Min.Y)

	crop, err := imagecrop.Crop(frame.Image, rect, c.cfg.Quality)
	if err != nil {
		return nil, err
	}

	item := &datastore.Item{
		ID:          c.newID(),
		DetectionID: d.ID,
		ClassID:     d.ClassID,
		ClassName:   d.ClassName,
		Confidence:  d.Confidence,
		BBox:        datastore.BBox{X: rect.X, Y: rect.Y, W: rect.W, H: rect.H},
		Image:       crop,
		Status:      datastore.StatusPending,
	}
	if c.store != nil {
		if err := c.store.SaveItem(item); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func (c *Capturer) enqueue(item *datastore.Item) {
	if c.queue == nil {
		return
	}
	payload, err := c.classifierImage(item.Image)
	if err != nil {
		c.log.Warn("sending full size crop to classifier",
			logger.String("item_id", item.ID),
			logger.Error(err))
		payload = item.Image
	}
	if !c.queue.Enqueue(item.ID, payload) {
		c.log.Debug("item already pending enrichment", logger.String("item_id", item.ID))
	}
}

// classifierImage downsizes a stored crop wider than MaxWidth
func (c *Capturer) classifierImage(crop []byte) ([]byte, error) {
	img, err := imagecrop.Decode(crop)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() <= c.cfg.MaxWidth {
		return crop, nil
	}
	return imagecrop.ResizeJPEG(img, c.cfg.MaxWidth, 0)
}

// Requeue enqueues every stored pending item, e.g. after a restart
func (c *Capturer) Requeue(limit int) (int, error) {
	if c.store == nil || c.queue == nil {
		return 0, nil
	}
	items, err := c.store.ListItems(datastore.StatusPending, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range items {
		if len(items[i].Image) == 0 {
			continue
		}
		c.enqueue(&items[i])
		n++
	}
	if n > 0 {
		c.log.Info("pending items requeued", logger.Int("count", n))
	}
	return n, nil
}
