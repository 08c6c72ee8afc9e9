package enrichment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
	quiet   = 50 * time.Millisecond
)

var errUnavailable = errors.NewStd("service unavailable")

// fakeClassifier records calls and tracks how many run at once
type fakeClassifier struct {
	mu        sync.Mutex
	calls     []string
	active    int
	maxActive int

	gate    chan struct{}
	respond func(image string, call int) (classifier.Enrichment, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, image []byte) (classifier.Enrichment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(image))
	n := len(f.calls)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return classifier.Enrichment{}, ctx.Err()
		}
	}
	if f.respond == nil {
		return classifier.Enrichment{Name: "item " + string(image)}, nil
	}
	return f.respond(string(image), n)
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClassifier) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func alwaysFail(string, int) (classifier.Enrichment, error) {
	return classifier.Enrichment{}, errUnavailable
}

// outcomes collects handler invocations
type outcomes struct {
	mu       sync.Mutex
	enriched map[string][]classifier.Enrichment
	failed   map[string][]classifier.Enrichment
	errs     []error
}

func newOutcomes() *outcomes {
	return &outcomes{
		enriched: make(map[string][]classifier.Enrichment),
		failed:   make(map[string][]classifier.Enrichment),
	}
}

func (o *outcomes) handlers() Handlers {
	return Handlers{
		OnItemEnriched: func(id string, r classifier.Enrichment) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.enriched[id] = append(o.enriched[id], r)
		},
		OnItemFailed: func(id string, fallback classifier.Enrichment, err error) {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.failed[id] = append(o.failed[id], fallback)
			o.errs = append(o.errs, err)
		},
	}
}

func (o *outcomes) enrichedCount(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.enriched[id])
}

func (o *outcomes) failedCount(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.failed[id])
}

func newTestQueue(t *testing.T, cfg Config, c classifier.Classifier, h Handlers) (*Queue, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	cfg.Clock = mock
	q := New(cfg, c, h)
	t.Cleanup(q.Close)
	return q, mock
}

// settled waits until nothing is in flight and the given number of entries is pending
func settled(t *testing.T, q *Queue, pending int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return q.InFlight() == 0 && q.PendingCount() == pending
	}, waitFor, tick)
}

func TestQueue_EnrichesItem(t *testing.T) {
	fc := &fakeClassifier{}
	out := newOutcomes()
	q, _ := newTestQueue(t, Config{}, fc, out.handlers())

	require.True(t, q.Enqueue("item1", []byte("mug")))

	require.Eventually(t, func() bool { return out.enrichedCount("item1") == 1 }, waitFor, tick)
	settled(t, q, 0)
	assert.Equal(t, "item mug", out.enriched["item1"][0].Name)
	assert.Zero(t, out.failedCount("item1"))
}

func TestQueue_DeduplicatesPendingItems(t *testing.T) {
	fc := &fakeClassifier{}
	q, _ := newTestQueue(t, Config{Offline: true}, fc, Handlers{})

	assert.True(t, q.Enqueue("item1", []byte("img")))
	assert.False(t, q.Enqueue("item1", []byte("img2")))
	assert.Equal(t, 1, q.PendingCount())

	status := q.Status()
	require.Len(t, status.Entries, 1)
	assert.Equal(t, "item1", status.Entries[0].ItemID)
	assert.Zero(t, status.Entries[0].RetryCount)

	q.NetworkChanged(true)
	settled(t, q, 0)
	fc.mu.Lock()
	assert.Equal(t, []string{"img"}, fc.calls, "first payload wins")
	fc.mu.Unlock()
}

func TestQueue_DropsAfterThirdFailure(t *testing.T) {
	fc := &fakeClassifier{respond: alwaysFail}
	out := newOutcomes()
	q, mock := newTestQueue(t, Config{}, fc, out.handlers())

	require.True(t, q.Enqueue("item1", []byte("img")))
	require.Eventually(t, func() bool { return fc.callCount() == 1 }, waitFor, tick)
	settled(t, q, 1)
	assert.Equal(t, 1, q.Status().Entries[0].RetryCount)

	// first retry after 1s
	mock.Add(999 * time.Millisecond)
	assert.Never(t, func() bool { return fc.callCount() > 1 }, quiet, tick)
	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return fc.callCount() == 2 }, waitFor, tick)
	settled(t, q, 1)
	assert.Equal(t, 2, q.Status().Entries[0].RetryCount)

	// second retry after 4s
	mock.Add(3 * time.Second)
	assert.Never(t, func() bool { return fc.callCount() > 2 }, quiet, tick)
	mock.Add(time.Second)
	require.Eventually(t, func() bool { return fc.callCount() == 3 }, waitFor, tick)

	// third failure drops the entry
	settled(t, q, 0)
	require.Eventually(t, func() bool { return out.failedCount("item1") == 1 }, waitFor, tick)

	mock.Add(time.Minute)
	assert.Never(t, func() bool { return fc.callCount() > 3 }, quiet, tick)
	assert.Equal(t, 1, out.failedCount("item1"))
	assert.Zero(t, out.enrichedCount("item1"))

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Equal(t, Fallback(), out.failed["item1"][0])
	require.ErrorIs(t, out.errs[0], errUnavailable)
	assert.True(t, errors.IsCategory(out.errs[0], errors.CategoryEnrichment))
}

func TestQueue_RetrySucceeds(t *testing.T) {
	fc := &fakeClassifier{respond: func(image string, call int) (classifier.Enrichment, error) {
		if call == 1 {
			return classifier.Enrichment{}, errUnavailable
		}
		return classifier.Enrichment{Name: "Desk lamp"}, nil
	}}
	out := newOutcomes()
	q, mock := newTestQueue(t, Config{}, fc, out.handlers())

	q.Enqueue("lamp", []byte("img"))
	require.Eventually(t, func() bool { return fc.callCount() == 1 }, waitFor, tick)
	settled(t, q, 1)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return out.enrichedCount("lamp") == 1 }, waitFor, tick)
	settled(t, q, 0)
	assert.Zero(t, out.failedCount("lamp"))
}

func TestQueue_BackoffIsNonDecreasing(t *testing.T) {
	fc := &fakeClassifier{respond: alwaysFail}
	out := newOutcomes()
	q, mock := newTestQueue(t, Config{MaxRetries: 5}, fc, out.handlers())

	q.Enqueue("item1", []byte("img"))

	var delays []time.Duration
	for attempt := 1; attempt < 5; attempt++ {
		require.Eventually(t, func() bool { return fc.callCount() == attempt }, waitFor, tick)
		settled(t, q, 1)
		next := q.Status().Entries[0].NextAttemptAt
		delays = append(delays, next.Sub(mock.Now()))
		mock.Set(next)
	}

	require.Eventually(t, func() bool { return fc.callCount() == 5 }, waitFor, tick)
	settled(t, q, 0)
	require.Eventually(t, func() bool { return out.failedCount("item1") == 1 }, waitFor, tick)

	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second, 16 * time.Second, 16 * time.Second}, delays)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestQueue_NeverExceedsConcurrency(t *testing.T) {
	fc := &fakeClassifier{gate: make(chan struct{})}
	out := newOutcomes()
	q, _ := newTestQueue(t, Config{Concurrency: 3}, fc, out.handlers())

	for i := range 10 {
		require.True(t, q.Enqueue(fmt.Sprintf("item%d", i), []byte{byte(i)}))
	}

	require.Eventually(t, func() bool { return fc.callCount() == 3 }, waitFor, tick)
	assert.Equal(t, 3, q.InFlight())
	assert.Equal(t, 7, q.PendingCount())
	assert.Never(t, func() bool { return fc.callCount() > 3 }, quiet, tick)

	for range 10 {
		fc.gate <- struct{}{}
	}
	settled(t, q, 0)

	assert.Equal(t, 10, fc.callCount())
	assert.LessOrEqual(t, fc.peak(), 3)
	for i := range 10 {
		id := fmt.Sprintf("item%d", i)
		require.Eventually(t, func() bool { return out.enrichedCount(id) == 1 }, waitFor, tick)
	}
}

func TestQueue_OfflineDefersDispatch(t *testing.T) {
	fc := &fakeClassifier{}
	out := newOutcomes()
	q, mock := newTestQueue(t, Config{Offline: true}, fc, out.handlers())

	q.Enqueue("a", []byte("a"))
	q.Enqueue("b", []byte("b"))

	// offline rechecks fire but dispatch nothing
	for range 4 {
		mock.Add(DefaultOfflineRecheck)
	}
	assert.Never(t, func() bool { return fc.callCount() > 0 }, quiet, tick)
	assert.Equal(t, 2, q.PendingCount())
	assert.False(t, q.Online())

	q.NetworkChanged(true)
	require.Eventually(t, func() bool {
		return out.enrichedCount("a") == 1 && out.enrichedCount("b") == 1
	}, waitFor, tick)
	settled(t, q, 0)
	assert.Equal(t, 2, fc.callCount())
}

func TestQueue_OfflineDoesNotConsumeRetries(t *testing.T) {
	fc := &fakeClassifier{respond: func(_ string, call int) (classifier.Enrichment, error) {
		if call <= 2 {
			return classifier.Enrichment{}, errUnavailable
		}
		return classifier.Enrichment{Name: "ok"}, nil
	}}
	out := newOutcomes()
	q, mock := newTestQueue(t, Config{}, fc, out.handlers())

	q.Enqueue("a", []byte("a"))
	require.Eventually(t, func() bool { return fc.callCount() == 1 }, waitFor, tick)
	settled(t, q, 1)

	q.NetworkChanged(false)
	mock.Add(time.Hour)
	assert.Never(t, func() bool { return fc.callCount() > 1 }, quiet, tick)
	assert.Equal(t, 1, q.Status().Entries[0].RetryCount)

	q.NetworkChanged(true)
	require.Eventually(t, func() bool { return fc.callCount() == 2 }, waitFor, tick)
	settled(t, q, 1)
	mock.Add(4 * time.Second)
	require.Eventually(t, func() bool { return out.enrichedCount("a") == 1 }, waitFor, tick)
	assert.Zero(t, out.failedCount("a"))
}

func TestQueue_OfflineRecheckReadsNetworkState(t *testing.T) {
	fc := &fakeClassifier{}
	out := newOutcomes()
	var online atomic.Bool
	q, mock := newTestQueue(t, Config{Offline: true, NetworkState: online.Load}, fc, out.handlers())

	q.Enqueue("a", []byte("a"))
	mock.Add(DefaultOfflineRecheck)
	assert.Never(t, func() bool { return fc.callCount() > 0 }, quiet, tick)

	// the state comes back without a NetworkChanged call
	online.Store(true)
	mock.Add(DefaultOfflineRecheck)
	require.Eventually(t, func() bool { return out.enrichedCount("a") == 1 }, waitFor, tick)
	assert.True(t, q.Online())
}

func TestQueue_StaleOfflineNotificationRecovers(t *testing.T) {
	fc := &fakeClassifier{}
	out := newOutcomes()
	var online atomic.Bool
	online.Store(true)
	q, mock := newTestQueue(t, Config{NetworkState: online.Load}, fc, out.handlers())

	// notifications delivered out of order leave the queue offline
	q.NetworkChanged(false)
	q.Enqueue("a", []byte("a"))
	assert.Never(t, func() bool { return fc.callCount() > 0 }, quiet, tick)

	mock.Add(DefaultOfflineRecheck)
	require.Eventually(t, func() bool { return out.enrichedCount("a") == 1 }, waitFor, tick)
}

func TestQueue_BackoffWakeHasFloor(t *testing.T) {
	fc := &fakeClassifier{respond: alwaysFail}
	out := newOutcomes()
	q, mock := newTestQueue(t, Config{RetryDelays: []time.Duration{100 * time.Millisecond}}, fc, out.handlers())

	q.Enqueue("a", []byte("a"))
	require.Eventually(t, func() bool { return fc.callCount() == 1 }, waitFor, tick)
	settled(t, q, 1)

	mock.Add(100 * time.Millisecond)
	assert.Never(t, func() bool { return fc.callCount() > 1 }, quiet, tick)

	mock.Add(DefaultMinWake - 100*time.Millisecond)
	require.Eventually(t, func() bool { return fc.callCount() == 2 }, waitFor, tick)
}

func TestQueue_EligibleEntryFirst(t *testing.T) {
	fc := &fakeClassifier{respond: func(image string, _ int) (classifier.Enrichment, error) {
		if image == "slow" {
			return classifier.Enrichment{}, errUnavailable
		}
		return classifier.Enrichment{Name: image}, nil
	}}
	out := newOutcomes()
	q, _ := newTestQueue(t, Config{Concurrency: 1}, fc, out.handlers())

	q.Enqueue("slow", []byte("slow"))
	require.Eventually(t, func() bool { return fc.callCount() == 1 }, waitFor, tick)
	settled(t, q, 1)

	// "slow" sits first in the list waiting for its backoff; "fast" is eligible now
	q.Enqueue("fast", []byte("fast"))
	require.Eventually(t, func() bool { return out.enrichedCount("fast") == 1 }, waitFor, tick)
	settled(t, q, 1)
	assert.Equal(t, "slow", q.Status().Entries[0].ItemID)
}

func TestQueue_RetrySupersededByNewEntry(t *testing.T) {
	gate := make(chan struct{})
	fc := &fakeClassifier{gate: gate, respond: func(_ string, call int) (classifier.Enrichment, error) {
		if call == 1 {
			return classifier.Enrichment{}, errUnavailable
		}
		return classifier.Enrichment{Name: "second"}, nil
	}}
	out := newOutcomes()
	q, _ := newTestQueue(t, Config{}, fc, out.handlers())

	q.Enqueue("a", []byte("v1"))
	require.Eventually(t, func() bool { return q.InFlight() == 1 }, waitFor, tick)

	q.NetworkChanged(false)
	require.True(t, q.Enqueue("a", []byte("v2")), "in-flight items are not pending")

	gate <- struct{}{}
	settled(t, q, 1)
	assert.Zero(t, q.Status().Entries[0].RetryCount, "the failed attempt must not replace the new entry")
	assert.Zero(t, out.failedCount("a"))

	q.NetworkChanged(true)
	gate <- struct{}{}
	require.Eventually(t, func() bool { return out.enrichedCount("a") == 1 }, waitFor, tick)
}

func TestQueue_Clear(t *testing.T) {
	gate := make(chan struct{})
	fc := &fakeClassifier{gate: gate, respond: alwaysFail}
	out := newOutcomes()
	q, mock := newTestQueue(t, Config{Concurrency: 1}, fc, out.handlers())

	q.Enqueue("a", []byte("a"))
	q.Enqueue("b", []byte("b"))
	q.Enqueue("c", []byte("c"))
	require.Eventually(t, func() bool { return q.InFlight() == 1 }, waitFor, tick)

	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.PendingCount())

	// the in-flight failure is reported instead of retried
	gate <- struct{}{}
	settled(t, q, 0)
	require.Eventually(t, func() bool { return out.failedCount("a") == 1 }, waitFor, tick)
	out.mu.Lock()
	require.ErrorIs(t, out.errs[0], ErrCleared)
	out.mu.Unlock()

	mock.Add(time.Minute)
	assert.Never(t, func() bool { return fc.callCount() > 1 }, quiet, tick)
}

func TestQueue_CloseCancelsInFlight(t *testing.T) {
	fc := &fakeClassifier{gate: make(chan struct{})}
	out := newOutcomes()
	q := New(Config{Clock: clock.NewMock()}, fc, out.handlers())

	q.Enqueue("a", []byte("a"))
	q.Enqueue("b", []byte("b"))
	require.Eventually(t, func() bool { return q.InFlight() == 2 }, waitFor, tick)

	q.Close()
	assert.Zero(t, q.InFlight())
	assert.Zero(t, q.PendingCount())
	assert.Zero(t, out.failedCount("a"))
	assert.Zero(t, out.enrichedCount("a"))

	assert.False(t, q.Enqueue("c", []byte("c")))
	q.Close()
}

func TestFallback(t *testing.T) {
	fb := Fallback()
	assert.Equal(t, "Unknown item", fb.Name)
	assert.Equal(t, "Miscellaneous", fb.Category)
	assert.NotNil(t, fb.Tags)
	assert.Empty(t, fb.Tags)
	assert.NotEmpty(t, fb.Description)
}

func TestRetryDelay(t *testing.T) {
	q := New(Config{RetryDelays: []time.Duration{time.Second, 2 * time.Second}}, nil, Handlers{})
	defer q.Close()

	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 2*time.Second, q.retryDelay(2))
	assert.Equal(t, 2*time.Second, q.retryDelay(9))
}
