package handler

import (
	"context"

	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/scraper"
)

// Serialized lets one request at a time use a scraper, which owns a single
// browser tab. Waiting requests give up when their context ends.
type Serialized struct {
	ex  scraper.Extractor
	sem chan struct{}
}

// NewSerialized wraps ex.
func NewSerialized(ex scraper.Extractor) *Serialized {
	return &Serialized{ex: ex, sem: make(chan struct{}, 1)}
}

// Busy reports whether a request currently holds the scraper.
func (s *Serialized) Busy() bool { return len(s.sem) > 0 }

func (s *Serialized) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return models.NewScrapeError(models.ErrCodeTimeout, "timed out waiting for the browser", ctx.Err())
	}
}

func (s *Serialized) release() { <-s.sem }

// Scrape runs ex.Scrape once the scraper is free.
func (s *Serialized) Scrape(ctx context.Context, req *models.ExtractRequest) (*models.ExtractResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.ex.Scrape(ctx, req)
}

// Extract runs ex.Extract once the scraper is free.
func (s *Serialized) Extract(ctx context.Context, text string, fields []string) (*models.ExtractResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.ex.Extract(ctx, text, fields)
}
