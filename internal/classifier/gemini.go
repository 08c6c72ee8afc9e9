package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/httpclient"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/privacy"
)

// Gemini defaults
const (
	DefaultBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel           = "gemini-2.0-flash-lite"
	DefaultTemperature     = 0.1
	DefaultMaxOutputTokens = 512
	DefaultTimeout         = 30 * time.Second

	maxResponseBody = 1 << 20
)

// Prompt is the fixed instruction sent with every image
const Prompt = `You are an expert home inventory assistant. Analyze this image of a household item and return ONLY a valid JSON object with these fields:

{
  "name": "specific, descriptive name of the item",
  "category": "one of: Electronics, Furniture, Clothing, Kitchen, Books, Tools, Toys, Sports, Decor, Personal, Office, Bathroom, Garden, Automotive, Miscellaneous",
  "subcategory": "more specific sub-category",
  "brand": "brand name if visible, otherwise null",
  "color": "primary color(s)",
  "material": "primary material (e.g. plastic, metal, wood, fabric, ceramic)",
  "size_estimate": "approximate size description (e.g. 'small, fits in hand' or '60cm tall')",
  "description": "brief one-sentence description useful for finding this item later",
  "tags": ["array", "of", "searchable", "keywords"]
}

Respond with ONLY the JSON object, no markdown formatting, no code fences.`

// GeminiConfig configures the Gemini client
type GeminiConfig struct {
	APIKey          string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	Temperature     float64
	MaxOutputTokens int
	RateLimit       float64 // requests per second, 0 disables limiting
	Burst           int
	Recorder        Recorder
}

// Gemini classifies images with the Gemini generateContent API
type Gemini struct {
	cfg      GeminiConfig
	endpoint string
	client   *httpclient.Client
	limiter  *rate.Limiter
	log      logger.Logger
}

// NewGemini creates a Gemini classifier. A nil client uses a default httpclient.
func NewGemini(cfg GeminiConfig, client *httpclient.Client) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New(ErrNoAPIKey).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if client == nil {
		client = httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout})
	}

	g := &Gemini{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/models/" + url.PathEscape(cfg.Model) + ":generateContent",
		client:   client,
		log:      GetLogger().With(logger.String("model", cfg.Model)),
	}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	return g, nil
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

func (g *Gemini) request(image []byte) generateContentRequest {
	return generateContentRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: Prompt},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     g.cfg.Temperature,
			MaxOutputTokens: g.cfg.MaxOutputTokens,
		},
	}
}

// Classify sends one image and parses the structured answer. The call is bounded by
// the configured timeout; rate limiting waits count against the caller's context.
func (g *Gemini) Classify(ctx context.Context, image []byte) (Enrichment, error) {
	if len(image) == 0 {
		return Enrichment{}, errors.Newf("empty image").
			Category(errors.CategoryValidation).
			Build()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Enrichment{}, errors.New(err).
				Category(errors.CategoryCancellation).
				Context("operation", "rate-limit-wait").
				Build()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, status, err := g.classify(ctx, image)
	elapsed := time.Since(start)
	if g.cfg.Recorder != nil {
		g.cfg.Recorder.RecordRequest(status, elapsed.Seconds())
	}
	if err != nil {
		g.log.Debug("classification failed",
			logger.String("status", status),
			logger.Duration("duration", elapsed),
			logger.Error(err))
		return Enrichment{}, err
	}

	g.log.Debug("classification succeeded",
		logger.String("name", result.Name),
		logger.String("category", result.Category),
		logger.Duration("duration", elapsed))
	return result, nil
}

func (g *Gemini) classify(ctx context.Context, image []byte) (Enrichment, string, error) {
	payload, err := json.Marshal(g.request(image))
	if err != nil {
		return Enrichment{}, "error", errors.New(err).Category(errors.CategoryClassifier).Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Enrichment{}, "error", errors.New(err).Category(errors.CategoryClassifier).Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		status := "error"
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			status = "timeout"
			category = errors.CategoryTimeout
		}
		return Enrichment{}, status, errors.New(privacy.WrapError(err)).
			Category(category).
			Context("endpoint", privacy.RedactURL(g.endpoint)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if err := httpclient.CheckStatus(resp); err != nil {
		return Enrichment{}, strconv.Itoa(resp.StatusCode), errors.New(fmt.Errorf("%w: %w", ErrHTTPStatus, err)).
			Category(errors.CategoryClassifier).
			Context("status", resp.StatusCode).
			Build()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Enrichment{}, "error", errors.New(err).
			Category(errors.CategoryNetwork).
			Context("operation", "read-response").
			Build()
	}

	text, err := extractText(data)
	if err != nil {
		return Enrichment{}, "malformed", errors.New(err).
			Category(errors.CategoryClassifier).
			Build()
	}
	result, err := ParseEnrichment(text)
	if err != nil {
		return Enrichment{}, "malformed", err
	}
	return result, "ok", nil
}
