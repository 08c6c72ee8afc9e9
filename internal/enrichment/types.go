// Package enrichment runs captured items through the remote classifier in the
// background.
//
// The Queue keeps at most one pending entry per item, dispatches at most
// Concurrency classifier calls at a time, holds everything back while offline and
// retries failed calls with a growing delay. A single scheduler owns the entry
// list; enqueue, dispatch completion, network changes and timer wake-ups all go
// through it.
package enrichment

import (
	"time"

	"github.com/tphakala/spotit-go/internal/classifier"
)

// Defaults
const (
	DefaultConcurrency     = 3
	DefaultMaxRetries      = 3
	DefaultOfflineRecheck  = 5 * time.Second
	DefaultMinWake         = 500 * time.Millisecond
	DefaultDispatchTimeout = 45 * time.Second
)

// DefaultRetryDelays is the backoff table; the last value repeats beyond its end
var DefaultRetryDelays = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

// Entry is one item waiting for enrichment
type Entry struct {
	ItemID        string    `json:"item_id"`
	Image         []byte    `json:"-"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`

	generation uint64
}

// Handlers receive enrichment outcomes. Both run on the dispatch goroutine and
// should return promptly.
type Handlers struct {
	// OnItemEnriched is called exactly once per successful enrichment
	OnItemEnriched func(itemID string, result classifier.Enrichment)
	// OnItemFailed is called once when an item is dropped without a result
	OnItemFailed func(itemID string, fallback classifier.Enrichment, err error)
}

// Recorder receives queue metrics. A nil Recorder disables metrics.
type Recorder interface {
	RecordEnqueued()
	RecordDispatched()
	RecordOutcome(outcome string)
	SetPending(n int)
	SetInFlight(n int)
}

// Status is a point-in-time view of the queue
type Status struct {
	Online      bool          `json:"online"`
	Concurrency int           `json:"concurrency"`
	Pending     int           `json:"pending"`
	InFlight    int           `json:"in_flight"`
	Entries     []EntryStatus `json:"entries"`
}

// EntryStatus describes a pending entry without its image
type EntryStatus struct {
	ItemID        string    `json:"item_id"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// Outcome labels passed to Recorder.RecordOutcome
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// Fallback returns the result reported for items that could not be enriched
func Fallback() classifier.Enrichment {
	return classifier.Enrichment{
		Name:        classifier.DefaultName,
		Category:    classifier.DefaultCategory,
		Description: "Could not enrich, AI service unavailable.",
		Tags:        []string{},
	}
}
