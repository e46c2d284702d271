package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/llmscrape/models"
)

// Extract returns a handler for POST /api/v1/extract, which skips the
// browser and extracts fields from text supplied by the caller.
func Extract(sv *Serialized, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err))
			return
		}

		ctx, cancel := withTimeout(c.Request.Context(), timeout)
		defer cancel()

		result, err := sv.Extract(ctx, req.Text, req.Fields)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.ExtractResponse{Success: true, ExtractResult: result})
	}
}
