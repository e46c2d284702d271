package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/llmscrape/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Info describes the configured pipeline for the health endpoint.
type Info struct {
	Driver string
	Style  string
	Model  string
}

// Health returns a handler for GET /api/v1/health.
//
// Status is "busy" while a request holds the browser, "healthy" otherwise.
func Health(sv *Serialized, info Info, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		busy := sv.Busy()
		status := "healthy"
		if busy {
			status = "busy"
		}
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Busy:    busy,
			Driver:  info.Driver,
			Style:   info.Style,
			Model:   info.Model,
			Version: Version,
		})
	}
}
