package enrichment

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
)

// ErrCleared is reported for in-flight items whose retry was discarded by Clear
var ErrCleared = errors.NewStd("enrichment queue was cleared")

// Config configures a Queue. Zero values use the package defaults.
type Config struct {
	Concurrency     int
	MaxRetries      int
	RetryDelays     []time.Duration
	OfflineRecheck  time.Duration
	// MinWake is the shortest delay before a backoff wake-up
	MinWake         time.Duration
	DispatchTimeout time.Duration
	// Offline starts the queue in the offline state
	Offline bool
	// NetworkState, when set, is read on every offline recheck so a missed or
	// reordered NetworkChanged call cannot keep the queue offline
	NetworkState func() bool
	Clock        clock.Clock
	Recorder     Recorder
}

// ConfigFromSettings builds a queue config from settings
func ConfigFromSettings(s *conf.EnrichmentSettings) Config {
	return Config{
		Concurrency:     s.Concurrency,
		MaxRetries:      s.MaxRetries,
		RetryDelays:     s.RetryDelays,
		OfflineRecheck:  s.OfflineRecheck,
		MinWake:         s.MinWake,
		DispatchTimeout: s.DispatchTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = DefaultRetryDelays
	}
	c.RetryDelays = slices.Clone(c.RetryDelays)
	if c.OfflineRecheck <= 0 {
		c.OfflineRecheck = DefaultOfflineRecheck
	}
	if c.MinWake <= 0 {
		c.MinWake = DefaultMinWake
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Queue is the background enrichment queue
type Queue struct {
	cfg        Config
	classifier classifier.Classifier
	handlers   Handlers
	clock      clock.Clock
	log        logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	entries    []*Entry
	inFlight   int
	online     bool
	closed     bool
	generation uint64 // bumped by Clear

	timer    *clock.Timer
	timerAt  time.Time
	timerGen uint64
}

// New creates a queue. Dispatches start as soon as items are enqueued.
func New(cfg Config, c classifier.Classifier, handlers Handlers) *Queue {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:        cfg,
		classifier: c,
		handlers:   handlers,
		clock:      cfg.Clock,
		log:        GetLogger(),
		baseCtx:    ctx,
		cancel:     cancel,
		online:     !cfg.Offline,
	}
}

// Enqueue adds an item. It returns false without changing anything when the item
// is already pending or the queue is closed.
func (q *Queue) Enqueue(itemID string, image []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.indexLocked(itemID) >= 0 {
		return false
	}
	q.entries = append(q.entries, &Entry{
		ItemID:        itemID,
		Image:         image,
		NextAttemptAt: q.clock.Now(),
	})
	if q.cfg.Recorder != nil {
		q.cfg.Recorder.RecordEnqueued()
	}
	q.log.Debug("item enqueued",
		logger.String("item_id", itemID),
		logger.Int("image_bytes", len(image)))

	q.scheduleLocked()
	return true
}

// PendingCount returns the number of entries not yet dispatched
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// InFlight returns the number of running classifier calls
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Online reports the last known network state
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Clear drops every pending entry. In-flight calls keep running; a result that
// arrives later is still delivered, a failure is not retried.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	q.generation++
	q.stopTimerLocked()
	q.reportGaugesLocked()
	if n > 0 {
		q.log.Info("pending items cleared", logger.Int("count", n))
	}
	return n
}

// NetworkChanged records the network state. Going online triggers the scheduler;
// going offline holds back new dispatches without consuming retries.
func (q *Queue) NetworkChanged(online bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.online == online {
		return
	}
	q.online = online
	q.log.Info("network state changed",
		logger.Bool("online", online),
		logger.Int("pending", len(q.entries)))
	q.scheduleLocked()
}

// Status returns a snapshot of the queue
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Status{
		Online:      q.online,
		Concurrency: q.cfg.Concurrency,
		Pending:     len(q.entries),
		InFlight:    q.inFlight,
		Entries:     make([]EntryStatus, 0, len(q.entries)),
	}
	for _, e := range q.entries {
		s.Entries = append(s.Entries, EntryStatus{
			ItemID:        e.ItemID,
			RetryCount:    e.RetryCount,
			NextAttemptAt: e.NextAttemptAt,
		})
	}
	return s
}

// Close stops the scheduler, cancels in-flight calls and waits for them to return.
// Pending entries are discarded without callbacks.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.stopTimerLocked()
	pending := len(q.entries)
	q.entries = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.log.Info("enrichment queue closed", logger.Int("discarded", pending))
}

// scheduleLocked is the only place entries leave the list for dispatch
func (q *Queue) scheduleLocked() {
	defer q.reportGaugesLocked()

	if q.closed || len(q.entries) == 0 {
		return
	}

	now := q.clock.Now()
	if !q.online {
		q.armTimerLocked(now.Add(q.cfg.OfflineRecheck))
		return
	}

	for q.inFlight < q.cfg.Concurrency {
		idx := slices.IndexFunc(q.entries, func(e *Entry) bool {
			return !e.NextAttemptAt.After(now)
		})
		if idx < 0 {
			break
		}
		entry := q.entries[idx]
		q.entries = slices.Delete(q.entries, idx, idx+1)
		entry.generation = q.generation
		q.inFlight++
		q.wg.Add(1)
		if q.cfg.Recorder != nil {
			q.cfg.Recorder.RecordDispatched()
		}
		go q.dispatch(entry)
	}

	if len(q.entries) == 0 || q.inFlight >= q.cfg.Concurrency {
		// a completing dispatch reschedules
		return
	}

	soonest := q.entries[0].NextAttemptAt
	for _, e := range q.entries[1:] {
		if e.NextAttemptAt.Before(soonest) {
			soonest = e.NextAttemptAt
		}
	}
	q.armTimerLocked(later(soonest, now.Add(q.cfg.MinWake)))
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// armTimerLocked makes sure the scheduler wakes no later than at
func (q *Queue) armTimerLocked(at time.Time) {
	if q.timer != nil && !q.timerAt.After(at) {
		return
	}
	q.stopTimerLocked()

	q.timerGen++
	gen := q.timerGen
	q.timerAt = at
	q.timer = q.clock.AfterFunc(max(at.Sub(q.clock.Now()), 0), func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if gen != q.timerGen {
			return
		}
		q.timer = nil
		q.refreshOnlineLocked()
		q.scheduleLocked()
	})
}

// refreshOnlineLocked re-reads the network state source, if any
func (q *Queue) refreshOnlineLocked() {
	if q.cfg.NetworkState == nil {
		return
	}
	if online := q.cfg.NetworkState(); online != q.online {
		q.online = online
		q.log.Info("network state refreshed",
			logger.Bool("online", online),
			logger.Int("pending", len(q.entries)))
	}
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.timerGen++
}

func (q *Queue) dispatch(entry *Entry) {
	defer q.wg.Done()

	ctx, cancel := context.WithTimeout(q.baseCtx, q.cfg.DispatchTimeout)
	start := q.clock.Now()
	result, err := q.classifier.Classify(ctx, entry.Image)
	cancel()

	q.complete(entry, result, err, q.clock.Since(start))
}

// complete applies the dispatch result and hands control back to the scheduler
func (q *Queue) complete(entry *Entry, result classifier.Enrichment, err error, took time.Duration) {
	q.mu.Lock()
	q.inFlight--

	var notify func()
	switch {
	case err == nil:
		q.recordOutcome(OutcomeSuccess)
		q.log.Info("item enriched",
			logger.String("item_id", entry.ItemID),
			logger.String("name", result.Name),
			logger.Int("attempt", entry.RetryCount+1),
			logger.Duration("duration", took))
		if h := q.handlers.OnItemEnriched; h != nil {
			notify = func() { h(entry.ItemID, result) }
		}

	case q.closed:
		q.log.Debug("dispatch ended during shutdown",
			logger.String("item_id", entry.ItemID),
			logger.Error(err))

	default:
		notify = q.failedLocked(entry, err)
	}

	q.scheduleLocked()
	q.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// failedLocked re-inserts a failed entry or drops it once it has failed MaxRetries
// times. It returns the failure notification to run after unlocking.
func (q *Queue) failedLocked(entry *Entry, err error) func() {
	failures := entry.RetryCount + 1
	fields := []logger.Field{
		logger.String("item_id", entry.ItemID),
		logger.Int("attempt", failures),
		logger.Int("max_retries", q.cfg.MaxRetries),
		logger.Error(err),
	}

	var dropErr error
	switch {
	case failures >= q.cfg.MaxRetries:
		dropErr = errors.New(err).
			Category(errors.CategoryEnrichment).
			Context("item_id", entry.ItemID).
			Context("attempts", failures).
			Build()
	case entry.generation != q.generation:
		dropErr = errors.Join(ErrCleared, err)
	case q.indexLocked(entry.ItemID) >= 0:
		// a fresh entry for the same item was enqueued while this one was in flight
		q.recordOutcome(OutcomeRetry)
		q.log.Debug("retry superseded by newer entry", fields...)
		return nil
	default:
		delay := q.retryDelay(failures)
		entry.RetryCount = failures
		entry.NextAttemptAt = q.clock.Now().Add(delay)
		q.entries = append(q.entries, entry)
		q.recordOutcome(OutcomeRetry)
		q.log.Warn("enrichment failed, will retry", append(fields, logger.Duration("delay", delay))...)
		return nil
	}

	q.recordOutcome(OutcomeDropped)
	q.log.Error("enrichment failed permanently", fields...)
	h := q.handlers.OnItemFailed
	if h == nil {
		return nil
	}
	return func() { h(entry.ItemID, Fallback(), dropErr) }
}

// retryDelay returns the delay after the given number of consecutive failures
func (q *Queue) retryDelay(failures int) time.Duration {
	delays := q.cfg.RetryDelays
	idx := min(failures-1, len(delays)-1)
	return delays[max(idx, 0)]
}

func (q *Queue) indexLocked(itemID string) int {
	return slices.IndexFunc(q.entries, func(e *Entry) bool { return e.ItemID == itemID })
}

func (q *Queue) recordOutcome(outcome string) {
	if q.cfg.Recorder != nil {
		q.cfg.Recorder.RecordOutcome(outcome)
	}
}

func (q *Queue) reportGaugesLocked() {
	if q.cfg.Recorder != nil {
		q.cfg.Recorder.SetPending(len(q.entries))
		q.cfg.Recorder.SetInFlight(q.inFlight)
	}
}
