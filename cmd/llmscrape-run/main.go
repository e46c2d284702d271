package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/use-agent/llmscrape/artifact"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/jobs"
	"github.com/use-agent/llmscrape/logging"
	"github.com/use-agent/llmscrape/scraper"
)

func main() {
	var (
		envFile string
		fresh   bool
	)
	flag.StringVar(&envFile, "env", ".env", "Optional dotenv file read before the environment")
	flag.BoolVar(&fresh, "fresh", false, "Delete the job file's output before running instead of appending")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] jobs.yaml\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), envFile, fresh); err != nil {
		fmt.Fprintln(os.Stderr, "llmscrape-run:", err)
		os.Exit(1)
	}
}

func run(jobPath, envFile string, fresh bool) error {
	// ── 1. Configuration and logging ────────────────────────────────
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(cfg.Log, cfg.RootDir)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	// ── 2. Job file ─────────────────────────────────────────────────
	file, err := jobs.Load(jobPath)
	if err != nil {
		return err
	}
	if fresh {
		if err := artifact.RemoveIfExists(file.Output); err != nil {
			return err
		}
	}
	log.Info().Str("file", jobPath).Int("jobs", len(file.Jobs)).Str("output", file.Output).Msg("job file loaded")

	// ── 3. Pipeline (launches browser) ──────────────────────────────
	sc, err := scraper.FromConfig(cfg, nil, true, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Warn().Err(err).Msg("browser close failed")
		}
	}()

	dl := artifact.NewDownloader(artifact.DownloadOptionsFromConfig(cfg.Download, cfg.Browser.Proxy),
		logging.Component(log, "download"))
	dlDir := cfg.Download.Dir
	if !filepath.IsAbs(dlDir) {
		dlDir = filepath.Join(cfg.RootDir, dlDir)
	}

	// ── 4. Run ──────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := jobs.NewRunner(sc, dl, dlDir, logging.Component(log, "jobs")).Run(ctx, file)
	log.Info().Int("succeeded", sum.Succeeded).Int("failed", sum.Failed).Msg("run finished")
	return err
}
