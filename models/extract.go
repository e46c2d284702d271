package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ExtractRequest describes one page extraction: where to go and which
// fields to pull out of it. Field order is preserved into the prompt so
// repeated requests produce identical model input.
type ExtractRequest struct {
	// URL is the target page. Required, http or https.
	URL string `validate:"required,url"`

	// Fields are the record keys the model must return. Required, unique.
	Fields []string `validate:"required,min=1,unique,dive,required"`

	// Wait is slept after a successful navigation so client-side rendering
	// can settle.
	Wait time.Duration `validate:"min=0"`

	// Scroll triggers the scroll-to-bottom helper before the page is read.
	Scroll bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request invariants and returns an INVALID_INPUT
// ScrapeError describing the first violation.
func (r *ExtractRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewScrapeError(ErrCodeInvalidInput, describeValidation(err), err)
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return NewScrapeError(ErrCodeInvalidInput, "url must use http or https", nil)
	}
	return ValidateFields(r.Fields)
}

// ValidateFields checks a field list on its own, for callers that already
// have text in hand.
func ValidateFields(fields []string) error {
	if len(fields) == 0 {
		return NewScrapeError(ErrCodeInvalidInput, "at least one field is required", nil)
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return NewScrapeError(ErrCodeInvalidInput, "field names must not be blank", nil)
		}
		if _, dup := seen[f]; dup {
			return NewScrapeError(ErrCodeInvalidInput, fmt.Sprintf("duplicate field %q", f), nil)
		}
		seen[f] = struct{}{}
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "url":
		return "url is not a valid URL"
	case "unique":
		return "fields must be unique"
	default:
		return fmt.Sprintf("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
	}
}

// ExtractResult is what the pipeline hands back for one page or one text.
type ExtractResult struct {
	// URL is the page the text came from; empty for text-only extraction.
	URL string `json:"url,omitempty"`

	// Data holds exactly the requested fields.
	Data *Record `json:"data"`

	// Dropped lists keys the model returned that were not requested.
	Dropped []string `json:"dropped,omitempty"`

	// TextTokens is the token estimate of the text sent to the model.
	TextTokens int `json:"text_tokens"`
	// Truncated reports that the text was cut to the token limit.
	Truncated bool `json:"truncated,omitempty"`
	// Cached reports that the model reply came from the response cache.
	Cached bool `json:"cached,omitempty"`

	// Usage reports the model's token consumption when the backend provides it.
	Usage *LLMUsage `json:"llm_usage,omitempty"`

	Timing ExtractTimingInfo `json:"timing"`
}

// ExtractTimingInfo breaks an extraction down by stage.
type ExtractTimingInfo struct {
	TotalMs      int64 `json:"total_ms"`
	NavigationMs int64 `json:"navigation_ms"`
	CleaningMs   int64 `json:"cleaning_ms"`
	ExtractionMs int64 `json:"extraction_ms"`
}

// LLMUsage reports token consumption from the LLM call.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
