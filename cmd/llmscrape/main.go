package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/use-agent/llmscrape/api"
	"github.com/use-agent/llmscrape/api/handler"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/logging"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/scraper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "llmscrape:", err)
		os.Exit(1)
	}
}

func run() error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	// ── 2. Initialise structured logging ────────────────────────────
	log, closeLog, err := logging.New(cfg.Log, cfg.RootDir)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("mode", cfg.Server.Mode).
		Str("driver", cfg.Browser.Driver).
		Str("llm_style", cfg.LLM.Style).
		Str("llm_preset", cfg.LLM.Preset).
		Msg("llmscrape starting")

	// ── 3. Metrics ──────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	// ── 4. Initialise scraper (launches browser) ────────────────────
	sc, err := scraper.FromConfig(cfg, rec, true, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise scraper")
		return err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Warn().Err(err).Msg("browser close failed")
		}
	}()

	// ── 5. Setup router ─────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info := handler.Info{
		Driver: cfg.Browser.Driver,
		Style:  string(sc.Style()),
		Model:  sc.Model(),
	}
	router := api.NewRouter(ctx, handler.NewSerialized(sc), info, cfg, rec, time.Now(),
		logging.Component(log, "http"))

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	select {
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	// In-flight scrapes get the request timeout to finish, capped at 30s.
	grace := cfg.Server.RequestTimeout
	if grace <= 0 || grace > 30*time.Second {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced shutdown")
	} else {
		log.Info().Msg("HTTP server drained gracefully")
	}

	log.Info().Msg("llmscrape stopped")
	return nil
}
