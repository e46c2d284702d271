package models

import "time"

// ScrapeRequest is the payload for POST /api/v1/scrape.
type ScrapeRequest struct {
	// URL is the target page to scrape. Required.
	URL string `json:"url" binding:"required,url"`

	// Fields are the record keys to extract. Required, unique.
	Fields []string `json:"fields" binding:"required,min=1,unique,dive,required"`

	// WaitSeconds is slept after navigation so client-side rendering can settle.
	// Default: 0. Max: 60.
	WaitSeconds float64 `json:"wait_seconds,omitempty" binding:"omitempty,min=0,max=60"`

	// Scroll scrolls to the bottom until the page height stops growing
	// before the text is collected.
	Scroll bool `json:"scroll,omitempty"`
}

// ToExtractRequest converts the API payload into the core request.
func (r *ScrapeRequest) ToExtractRequest() *ExtractRequest {
	return &ExtractRequest{
		URL:    r.URL,
		Fields: r.Fields,
		Wait:   time.Duration(r.WaitSeconds * float64(time.Second)),
		Scroll: r.Scroll,
	}
}

// TextRequest is the payload for POST /api/v1/extract, for callers that
// already have the page text.
type TextRequest struct {
	// Text is the content to extract from. Required.
	Text string `json:"text" binding:"required"`

	// Fields are the record keys to extract. Required, unique.
	Fields []string `json:"fields" binding:"required,min=1,unique,dive,required"`
}
