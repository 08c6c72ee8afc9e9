package classifier

import (
	"strings"

	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/httpclient"
)

// New builds the configured classifier, wrapped in a response cache when a cache
// TTL is set.
func New(settings *conf.ClassifierSettings, client *httpclient.Client, recorder Recorder) (Classifier, error) {
	switch strings.ToLower(settings.Provider) {
	case "", "gemini":
	default:
		return nil, errors.Newf("unsupported classifier provider %q", settings.Provider).
			Category(errors.CategoryConfiguration).
			Build()
	}

	gemini, err := NewGemini(GeminiConfig{
		APIKey:          settings.APIKey,
		Model:           settings.Model,
		BaseURL:         settings.BaseURL,
		Timeout:         settings.Timeout,
		Temperature:     settings.Temperature,
		MaxOutputTokens: settings.MaxOutputTokens,
		RateLimit:       settings.RateLimit,
		Burst:           settings.Burst,
		Recorder:        recorder,
	}, client)
	if err != nil {
		return nil, err
	}

	if settings.CacheTTL > 0 {
		return NewCached(gemini, settings.CacheTTL, recorder), nil
	}
	return gemini, nil
}
