package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/httpclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

const (
	testBaseURL  = "https://gemini.example.test/v1beta"
	testEndpoint = testBaseURL + "/models/gemini-test:generateContent"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}

// geminiReply wraps text the way generateContent does
func geminiReply(text string) string {
	data, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{
				"content":      map[string]any{"parts": []any{map[string]any{"text": text}}},
				"finishReason": "STOP",
			},
		},
	})
	return string(data)
}

func newTestGemini(t *testing.T, rec Recorder) (*Gemini, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(client.Close)

	g, err := NewGemini(GeminiConfig{
		APIKey:          "test-key",
		Model:           "gemini-test",
		BaseURL:         testBaseURL + "/",
		Timeout:         time.Second,
		Temperature:     0.1,
		MaxOutputTokens: 512,
		Recorder:        rec,
	}, client)
	require.NoError(t, err)
	return g, transport
}

type fakeRecorder struct {
	statuses []string
	hits     atomic.Int32
	misses   atomic.Int32
}

func (f *fakeRecorder) RecordRequest(status string, _ float64) {
	f.statuses = append(f.statuses, status)
}

func (f *fakeRecorder) RecordCacheLookup(hit bool) {
	if hit {
		f.hits.Add(1)
	} else {
		f.misses.Add(1)
	}
}

func TestGemini_ClassifySuccess(t *testing.T) {
	rec := &fakeRecorder{}
	g, transport := newTestGemini(t, rec)

	transport.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "test-key", req.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

		var body generateContentRequest
		data, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &body))

		require.Len(t, body.Contents, 1)
		require.Len(t, body.Contents[0].Parts, 2)
		inline := body.Contents[0].Parts[0].InlineData
		require.NotNil(t, inline)
		assert.Equal(t, "image/jpeg", inline.MimeType)
		assert.Equal(t, base64.StdEncoding.EncodeToString(jpegBytes), inline.Data)
		assert.Equal(t, Prompt, body.Contents[0].Parts[1].Text)
		assert.InDelta(t, 0.1, body.GenerationConfig.Temperature, 1e-9)
		assert.Equal(t, 512, body.GenerationConfig.MaxOutputTokens)

		return httpmock.NewStringResponse(http.StatusOK, geminiReply("```json\n"+`{
			"name": "Ceramic coffee mug",
			"category": "Kitchen",
			"subcategory": "Drinkware",
			"brand": "IKEA",
			"color": "white",
			"material": "ceramic",
			"size_estimate": "small, fits in hand",
			"description": "White mug on the desk",
			"tags": ["mug", "coffee", "cup"]
		}`+"\n```")), nil
	})

	got, err := g.Classify(t.Context(), jpegBytes)
	require.NoError(t, err)

	require.NotNil(t, got.Brand)
	assert.Equal(t, "IKEA", *got.Brand)
	got.Brand = nil
	assert.Equal(t, Enrichment{
		Name:         "Ceramic coffee mug",
		Category:     "Kitchen",
		Subcategory:  "Drinkware",
		Color:        "white",
		Material:     "ceramic",
		SizeEstimate: "small, fits in hand",
		Description:  "White mug on the desk",
		Tags:         []string{"mug", "coffee", "cup"},
	}, got)
	assert.Equal(t, []string{"ok"}, rec.statuses)
}

func TestGemini_ClassifyFailures(t *testing.T) {
	tests := []struct {
		name       string
		responder  httpmock.Responder
		wantErr    error
		wantStatus string
	}{
		{
			name:       "server error",
			responder:  httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":"boom"}`),
			wantErr:    ErrHTTPStatus,
			wantStatus: "500",
		},
		{
			name:       "rate limited",
			responder:  httpmock.NewStringResponder(http.StatusTooManyRequests, `{"error":"quota"}`),
			wantErr:    ErrHTTPStatus,
			wantStatus: "429",
		},
		{
			name:       "no candidates",
			responder:  httpmock.NewStringResponder(http.StatusOK, `{"candidates":[]}`),
			wantErr:    ErrEmptyResponse,
			wantStatus: "malformed",
		},
		{
			name:       "blocked prompt",
			responder:  httpmock.NewStringResponder(http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`),
			wantErr:    ErrEmptyResponse,
			wantStatus: "malformed",
		},
		{
			name:       "not json envelope",
			responder:  httpmock.NewStringResponder(http.StatusOK, `<html>`),
			wantErr:    ErrMalformedResponse,
			wantStatus: "malformed",
		},
		{
			name:       "text is not json",
			responder:  httpmock.NewStringResponder(http.StatusOK, geminiReply("I see a mug.")),
			wantErr:    ErrMalformedResponse,
			wantStatus: "malformed",
		},
		{
			name:       "transport error",
			responder:  httpmock.NewErrorResponder(errors.NewStd("connection reset")),
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			g, transport := newTestGemini(t, rec)
			transport.RegisterResponder(http.MethodPost, testEndpoint, tt.responder)

			_, err := g.Classify(t.Context(), jpegBytes)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, []string{tt.wantStatus}, rec.statuses)
		})
	}
}

func TestGemini_Timeout(t *testing.T) {
	g, transport := newTestGemini(t, nil)
	g.cfg.Timeout = 20 * time.Millisecond

	transport.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	_, err := g.Classify(t.Context(), jpegBytes)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
}

func TestGemini_EmptyImage(t *testing.T) {
	g, transport := newTestGemini(t, nil)

	_, err := g.Classify(t.Context(), nil)
	require.Error(t, err)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestGemini_RateLimitHonoursContext(t *testing.T) {
	g, transport := newTestGemini(t, nil)
	transport.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, geminiReply(`{"name":"lamp"}`)))

	g2, err := NewGemini(GeminiConfig{
		APIKey:    "k",
		Model:     "gemini-test",
		BaseURL:   testBaseURL,
		RateLimit: 0.001,
		Burst:     1,
	}, httpclient.New(&httpclient.Config{Transport: transport}))
	require.NoError(t, err)

	_, err = g2.Classify(t.Context(), jpegBytes)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = g2.Classify(ctx, jpegBytes)
	require.Error(t, err, "second call must wait for a token and give up with the context")
	assert.Equal(t, 1, transport.GetTotalCallCount())

	_, err = g.Classify(t.Context(), jpegBytes)
	require.NoError(t, err, "unlimited client is not affected")
}

func TestNewGemini_RequiresAPIKey(t *testing.T) {
	_, err := NewGemini(GeminiConfig{APIKey: "  "}, nil)
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestCached(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(_ context.Context, image []byte) (Enrichment, error) {
		calls.Add(1)
		if string(image) == "bad" {
			return Enrichment{}, ErrEmptyResponse
		}
		return Enrichment{Name: "Lamp", Tags: []string{"light"}}, nil
	})
	rec := &fakeRecorder{}
	c := NewCached(next, time.Minute, rec)

	first, err := c.Classify(t.Context(), []byte("img"))
	require.NoError(t, err)
	first.Tags[0] = "mutated"

	second, err := c.Classify(t.Context(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, []string{"light"}, second.Tags, "cached value must not alias caller data")
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.Classify(t.Context(), []byte("bad"))
	require.Error(t, err)
	_, err = c.Classify(t.Context(), []byte("bad"))
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "failures are not cached")

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int32(1), rec.hits.Load())
	assert.Equal(t, int32(3), rec.misses.Load())

	c.Flush()
	assert.Zero(t, c.Len())
}

func TestNewFromSettings(t *testing.T) {
	settings := &conf.ClassifierSettings{Provider: "gemini", APIKey: "k", CacheTTL: time.Hour}
	c, err := New(settings, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, c)

	settings.CacheTTL = 0
	c, err = New(settings, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &Gemini{}, c)

	settings.Provider = "openai"
	_, err = New(settings, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
