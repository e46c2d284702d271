package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/api/handler"
	"github.com/use-agent/llmscrape/api/middleware"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/metrics"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so probes and scrapers always work.
// ctx bounds the rate limiter's background sweep.
func NewRouter(ctx context.Context, sv *handler.Serialized, info handler.Info, cfg *config.Config, rec *metrics.Recorder, startTime time.Time, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))

	r.GET("/metrics", gin.WrapH(rec.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(sv, info, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/scrape", handler.Scrape(sv, cfg.Server.RequestTimeout))
	protected.POST("/extract", handler.Extract(sv, cfg.Server.RequestTimeout))

	return r
}
