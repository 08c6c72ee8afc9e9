package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/datastore"
	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/enrichment"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

type fakePipeline struct {
	mu        sync.Mutex
	latest    *pipeline.Batch
	state     pipeline.State
	running   bool
	reloadErr error
	reloads   int
}

func (f *fakePipeline) Latest() *pipeline.Batch { f.mu.Lock(); defer f.mu.Unlock(); return f.latest }
func (f *fakePipeline) State() pipeline.State   { f.mu.Lock(); defer f.mu.Unlock(); return f.state }
func (f *fakePipeline) Running() bool           { f.mu.Lock(); defer f.mu.Unlock(); return f.running }
func (f *fakePipeline) Stats() pipeline.Stats   { return pipeline.Stats{Received: 7, Published: 3} }
func (f *fakePipeline) LastError() error        { return nil }
func (f *fakePipeline) Start()                  { f.mu.Lock(); f.running = true; f.mu.Unlock() }
func (f *fakePipeline) Stop()                   { f.mu.Lock(); f.running = false; f.mu.Unlock() }

func (f *fakePipeline) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

type fakeQueue struct {
	status  enrichment.Status
	cleared int
}

func (f *fakeQueue) Status() enrichment.Status { return f.status }
func (f *fakeQueue) Clear() int                { return f.cleared }

type fakeCapturer struct {
	ds datastore.Interface
}

func (f *fakeCapturer) Capture(_ context.Context, detectionID string) (*datastore.Item, error) {
	if detectionID != "det-1" {
		return nil, errors.Newf("detection %s is not in the latest batch", detectionID).
			Category(errors.CategoryNotFound).
			Build()
	}
	item := &datastore.Item{ID: "item-1", DetectionID: detectionID, ClassName: "cup", Image: []byte{0xff, 0xd8}}
	if err := f.ds.SaveItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

type fakeNetwork struct {
	online bool
}

func (f *fakeNetwork) Online() bool { return f.online }

func (f *fakeNetwork) Set(online bool) bool {
	changed := f.online != online
	f.online = online
	return changed
}

type recordedRequest struct {
	method, route string
	code          int
}

type fakeObserver struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeObserver) RecordRequest(method, route string, code int, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, route, code})
}

type testEnv struct {
	server   *Server
	pipeline *fakePipeline
	queue    *fakeQueue
	ds       *datastore.DataStore
	network  *fakeNetwork
	observer *fakeObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ds, err := datastore.OpenSQLite(datastore.MemoryPath, datastore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	env := &testEnv{
		pipeline: &fakePipeline{state: pipeline.StateReady, running: true},
		queue:    &fakeQueue{},
		ds:       ds,
		network:  &fakeNetwork{online: true},
		observer: &fakeObserver{},
	}
	env.server = NewServer("127.0.0.1:0", env.pipeline, env.observer,
		WithQueue(env.queue),
		WithDatastore(ds),
		WithCapturer(&fakeCapturer{ds: ds}),
		WithNetwork(env.network),
	)
	return env
}

func (env *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	env.server.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetDetections(t *testing.T) {
	t.Parallel()

	t.Run("no batch yet", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/api/v1/detections", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"detections":[]`)
	})

	t.Run("latest batch", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.pipeline.latest = &pipeline.Batch{
			Version:   4,
			Frame:     pipeline.Frame{Seq: 12, Source: "frame.jpg"},
			Inference: 35 * time.Millisecond,
			Detections: []detection.Detection{
				{ID: "det-1", ClassName: "cup", Confidence: 0.9, BBox: detection.Rect{X: 1, Y: 2, W: 3, H: 4}},
			},
		}
		rec := env.do(t, http.MethodGet, "/api/v1/detections", "")
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[DetectionsResponse](t, rec)
		assert.Equal(t, uint64(4), resp.Version)
		assert.Equal(t, uint64(12), resp.FrameSeq)
		assert.Equal(t, int64(35), resp.InferenceMs)
		require.Len(t, resp.Detections, 1)
		assert.Equal(t, "det-1", resp.Detections[0].ID)
	})
}

func TestPipelineControl(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/pipeline/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[PipelineResponse](t, rec).Running)

	rec = env.do(t, http.MethodPost, "/api/v1/pipeline/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PipelineResponse](t, rec)
	assert.True(t, resp.Running)
	assert.Equal(t, "ready", resp.State)
	assert.Equal(t, uint64(7), resp.Stats.Received)

	rec = env.do(t, http.MethodPost, "/api/v1/pipeline/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.pipeline.reloads)
}

func TestReloadFailureMapsCategory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.pipeline.reloadErr = errors.Newf("model file missing").Category(errors.CategoryNotFound).Build()

	rec := env.do(t, http.MethodPost, "/api/v1/pipeline/reload", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Contains(t, resp.Error, "model file missing")
}

func TestEnrichmentRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.queue.status = enrichment.Status{Online: true, Concurrency: 3, Pending: 2, InFlight: 1}
	env.queue.cleared = 2

	rec := env.do(t, http.MethodGet, "/api/v1/enrichment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[enrichment.Status](t, rec)
	assert.Equal(t, 2, status.Pending)
	assert.Equal(t, 3, status.Concurrency)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)

	rec = env.do(t, http.MethodPost, "/api/v1/enrichment/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"cleared": 2}, decode[map[string]int](t, rec))
}

func TestCaptureAndFetchItem(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/items/capture", `{"detection_id":"det-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[datastore.Item](t, rec)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, datastore.StatusPending, item.Status)

	rec = env.do(t, http.MethodGet, "/api/v1/items/item-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cup", decode[datastore.Item](t, rec).ClassName)

	rec = env.do(t, http.MethodGet, "/api/v1/items/item-1/image", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8}, rec.Body.Bytes())

	require.NoError(t, env.ds.ApplyEnrichment("item-1", classifier.Enrichment{Name: "Mug", Category: "Kitchen"}))
	rec = env.do(t, http.MethodGet, "/api/v1/items?status=enriched", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]datastore.Item](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "Mug", items[0].Name)

	rec = env.do(t, http.MethodGet, "/api/v1/items?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestCaptureErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"detection_id":`, http.StatusBadRequest},
		{"missing id", `{}`, http.StatusBadRequest},
		{"unknown detection", `{"detection_id":"det-9"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/v1/items/capture", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListItemsValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"default", "", http.StatusOK},
		{"limit above max is capped", "?limit=100000", http.StatusOK},
		{"zero limit", "?limit=0", http.StatusBadRequest},
		{"non numeric limit", "?limit=ten", http.StatusBadRequest},
		{"unknown status", "?status=lost", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			rec := env.do(t, http.MethodGet, "/api/v1/items"+tt.query, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetItemNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/items/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/items/missing/image", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetNetwork(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/network", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"online": false, "changed": true}, decode[map[string]bool](t, rec))
	assert.False(t, env.network.online)

	rec = env.do(t, http.MethodPut, "/api/v1/network", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/network", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"online": false}, decode[map[string]bool](t, rec))
}

func TestDisabledDependencies(t *testing.T) {
	t.Parallel()
	s := NewServer("127.0.0.1:0", &fakePipeline{}, nil)

	for _, target := range []string{"/api/v1/enrichment", "/api/v1/items", "/api/v1/network"} {
		rec := httptest.NewRecorder()
		s.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestRequestsAreObserved(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/v1/items/missing", "")

	env.observer.mu.Lock()
	defer env.observer.mu.Unlock()
	require.Len(t, env.observer.requests, 1)
	assert.Equal(t, recordedRequest{http.MethodGet, "/api/v1/items/:id", http.StatusNotFound}, env.observer.requests[0])
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	ln, err := (&net.ListenConfig{}).Listen(t.Context(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/v1/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
