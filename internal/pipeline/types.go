// Package pipeline drives object detection over a continuous frame stream.
//
// Frames arrive at the source's native rate and are gated to a minimum interval
// before inference. Each processed frame produces an immutable Batch that replaces
// the previous one atomically, so readers never see a partial result and never
// block the inference path.
package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/tphakala/spotit-go/internal/detection"
)

// State is the lifecycle state of the pipeline
type State int32

const (
	// StateIdle means no model has been loaded yet
	StateIdle State = iota
	// StateLoading means the model is initializing
	StateLoading
	// StateReady means the pipeline accepts frames
	StateReady
	// StateProcessing means inference is running for one frame
	StateProcessing
	// StateError means model loading failed; only Reload leaves this state
	StateError
)

// String returns the lower case state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome reports what ProcessFrame did with a frame
type Outcome int

const (
	// OutcomeInactive means the pipeline was stopped and the frame was ignored
	OutcomeInactive Outcome = iota
	// OutcomeNotReady means no model was ready or another frame was processing
	OutcomeNotReady
	// OutcomeGated means the frame arrived before the minimum interval elapsed
	OutcomeGated
	// OutcomeFailed means inference returned an error
	OutcomeFailed
	// OutcomeDiscarded means the pipeline stopped while inference was in flight
	OutcomeDiscarded
	// OutcomePublished means a new batch was published
	OutcomePublished
)

// String returns the outcome name used in logs and metric labels
func (o Outcome) String() string {
	switch o {
	case OutcomeInactive:
		return "inactive"
	case OutcomeNotReady:
		return "not_ready"
	case OutcomeGated:
		return "gated"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomePublished:
		return "published"
	default:
		return "unknown"
	}
}

// Frame is one captured image. Frames are treated as read-only once delivered.
type Frame struct {
	Seq        uint64      `json:"seq"`
	CapturedAt time.Time   `json:"captured_at"`
	Source     string      `json:"source,omitempty"`
	Image      image.Image `json:"-"`
}

// Inferer runs the detection model on a frame and returns the raw output tensor
type Inferer interface {
	Infer(ctx context.Context, frame Frame) ([]float32, error)
}

// InfererFunc adapts a function to the Inferer interface
type InfererFunc func(ctx context.Context, frame Frame) ([]float32, error)

// Infer calls f(ctx, frame)
func (f InfererFunc) Infer(ctx context.Context, frame Frame) ([]float32, error) {
	return f(ctx, frame)
}

// Loader initializes the model. If the returned Inferer implements io.Closer it is
// closed on Reload and Close.
type Loader func(ctx context.Context) (Inferer, error)

// Batch is one published detection result. A published Batch is never modified;
// callers must not modify it either.
type Batch struct {
	Version    uint64                `json:"version"`
	Frame      Frame                 `json:"frame"`
	Detections []detection.Detection `json:"detections"`
	CreatedAt  time.Time             `json:"created_at"`
	Inference  time.Duration         `json:"inference_ns"`
}

// Find returns the detection with the given id
func (b *Batch) Find(id string) (detection.Detection, bool) {
	if b == nil {
		return detection.Detection{}, false
	}
	for _, d := range b.Detections {
		if d.ID == id {
			return d, true
		}
	}
	return detection.Detection{}, false
}

// Stats holds frame counters since the pipeline was created
type Stats struct {
	Received  uint64 `json:"received"`
	Gated     uint64 `json:"gated"`
	NotReady  uint64 `json:"not_ready"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
	Published uint64 `json:"published"`
}

// Recorder receives pipeline metrics. A nil Recorder disables metrics.
type Recorder interface {
	RecordFrame(outcome string)
	RecordInference(duration time.Duration, err error)
	RecordBatch(detections int)
	SetState(state string)
}
