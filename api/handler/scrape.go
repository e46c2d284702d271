package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/llmscrape/models"
)

// Scrape returns a handler for POST /api/v1/scrape.
//
// Flow:
//  1. Parse & validate ScrapeRequest.
//  2. Bound the request by the server timeout.
//  3. Render, clean, prompt and parse through the shared scraper.
//  4. Return the key-complete record with timing and model usage.
func Scrape(sv *Serialized, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		// ── 1. Parse request ────────────────────────────────────────
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err))
			return
		}

		// ── 2. Deadline ─────────────────────────────────────────────
		ctx, cancel := withTimeout(c.Request.Context(), timeout)
		defer cancel()

		// ── 3. Pipeline ─────────────────────────────────────────────
		result, err := sv.Scrape(ctx, req.ToExtractRequest())
		if err != nil {
			respondError(c, err)
			return
		}

		// ── 4. Respond ──────────────────────────────────────────────
		c.JSON(http.StatusOK, models.ExtractResponse{Success: true, ExtractResult: result})
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// respondError maps a ScrapeError to the correct HTTP status and writes a
// structured JSON error response.
func respondError(c *gin.Context, err error) {
	var scrapeErr *models.ScrapeError
	if !errors.As(err, &scrapeErr) {
		scrapeErr = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(mapErrorToStatus(scrapeErr), models.ExtractResponse{
		Success: false,
		Error:   scrapeErr.ToDetail(),
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeTimeout, models.ErrCodeLLMTimeout:
		return http.StatusGatewayTimeout
	// A rejected LLM key is the server's upstream failing, not the caller's.
	case models.ErrCodeNavigation, models.ErrCodePageUnreachable,
		models.ErrCodeRender, models.ErrCodeScript, models.ErrCodeLLMFailure,
		models.ErrCodeLLMAuthFailure:
		return http.StatusBadGateway
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case models.ErrCodeRateLimited, models.ErrCodeLLMRateLimited:
		return http.StatusTooManyRequests
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case models.ErrCodeUnparseable:
		return http.StatusUnprocessableEntity
	case models.ErrCodeBrowserCrash:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
