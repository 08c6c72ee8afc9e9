// Package classifier turns an item image into structured inventory metadata by
// calling a remote multimodal model.
//
// A Classifier never substitutes placeholder values for a failed call: every
// failure is returned as an error so callers can retry and decide on a fallback.
package classifier

import (
	"context"

	"github.com/tphakala/spotit-go/internal/errors"
)

// Sentinel errors wrapped by classifier failures
var (
	// ErrHTTPStatus means the service answered with a non-2xx status
	ErrHTTPStatus = errors.NewStd("classifier returned error status")
	// ErrEmptyResponse means the service answered without any text content
	ErrEmptyResponse = errors.NewStd("empty response from classifier")
	// ErrMalformedResponse means the text content was not the expected JSON object
	ErrMalformedResponse = errors.NewStd("malformed classifier response")
	// ErrNoAPIKey means the classifier was configured without credentials
	ErrNoAPIKey = errors.NewStd("classifier API key is not configured")
)

// Enrichment is the metadata extracted for one item
type Enrichment struct {
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Subcategory  string   `json:"subcategory"`
	Brand        *string  `json:"brand,omitempty"`
	Color        string   `json:"color"`
	Material     string   `json:"material"`
	SizeEstimate string   `json:"size_estimate"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
}

// Classifier classifies a single JPEG image
type Classifier interface {
	Classify(ctx context.Context, image []byte) (Enrichment, error)
}

// Func adapts a function to the Classifier interface
type Func func(ctx context.Context, image []byte) (Enrichment, error)

// Classify calls f(ctx, image)
func (f Func) Classify(ctx context.Context, image []byte) (Enrichment, error) {
	return f(ctx, image)
}

// Recorder receives classifier metrics. A nil Recorder disables metrics.
type Recorder interface {
	RecordRequest(status string, seconds float64)
	RecordCacheLookup(hit bool)
}
