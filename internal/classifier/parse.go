package classifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tphakala/spotit-go/internal/errors"
)

// Defaults applied when the model omits a field
const (
	DefaultName     = "Unknown item"
	DefaultCategory = "Miscellaneous"
)

var (
	openFence  = regexp.MustCompile("(?i)```json\\s*")
	closeFence = regexp.MustCompile("```\\s*")
)

// generateContentResponse is the part of the Gemini response we read
type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// itemPayload mirrors the JSON object the prompt asks for. Pointers distinguish
// missing fields from empty ones.
type itemPayload struct {
	Name         *string         `json:"name"`
	Category     *string         `json:"category"`
	Subcategory  *string         `json:"subcategory"`
	Brand        *string         `json:"brand"`
	Color        *string         `json:"color"`
	Material     *string         `json:"material"`
	SizeEstimate *string         `json:"size_estimate"`
	Description  *string         `json:"description"`
	Tags         json.RawMessage `json:"tags"`
}

// extractText returns the first text part of a generateContent response body
func extractText(body []byte) (string, error) {
	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: blocked: %s", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// stripFences removes markdown code fences the model sometimes adds
func stripFences(text string) string {
	text = openFence.ReplaceAllString(text, "")
	text = closeFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ParseEnrichment parses the model's text answer into an Enrichment.
// Missing fields get defaults; a tags value that is not a string array becomes empty.
func ParseEnrichment(text string) (Enrichment, error) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return Enrichment{}, ErrEmptyResponse
	}

	var p itemPayload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return Enrichment{}, errors.New(fmt.Errorf("%w: %w", ErrMalformedResponse, err)).
			Category(errors.CategoryClassifier).
			Context("response_length", len(cleaned)).
			Build()
	}

	e := Enrichment{
		Name:         valueOr(p.Name, DefaultName),
		Category:     valueOr(p.Category, DefaultCategory),
		Subcategory:  valueOr(p.Subcategory, ""),
		Color:        valueOr(p.Color, ""),
		Material:     valueOr(p.Material, ""),
		SizeEstimate: valueOr(p.SizeEstimate, ""),
		Description:  valueOr(p.Description, ""),
		Tags:         parseTags(p.Tags),
	}
	if p.Brand != nil && *p.Brand != "" {
		brand := *p.Brand
		e.Brand = &brand
	}
	return e, nil
}

func valueOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func parseTags(raw json.RawMessage) []string {
	tags := []string{}
	if len(raw) == 0 {
		return tags
	}
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil {
		return tags
	}
	for _, v := range values {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}
