// Package artifact holds the file helpers used by batch jobs: retrying
// downloads, JSONL result files and file-name utilities.
package artifact

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/retry"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DownloadOptions configure a Downloader.
type DownloadOptions struct {
	Policy      retry.Policy
	Timeout     time.Duration // whole request including body; 0 disables
	Proxy       string
	Fingerprint bool
}

// DownloadOptionsFromConfig maps environment configuration onto options.
func DownloadOptionsFromConfig(cfg config.DownloadConfig, proxy string) DownloadOptions {
	return DownloadOptions{
		Policy: retry.Policy{
			MaxAttempts: cfg.Attempts,
			MinDelay:    cfg.MinDelay,
			MaxDelay:    cfg.MaxDelay,
		},
		Timeout:     cfg.Timeout,
		Proxy:       proxy,
		Fingerprint: cfg.Fingerprint,
	}
}

// Downloader fetches files over HTTP with retry. 5xx, 429 and connection
// errors are retried; other 4xx responses fail at once.
type Downloader struct {
	client *retryablehttp.Client
	log    zerolog.Logger
}

// NewDownloader returns a Downloader.
func NewDownloader(opts DownloadOptions, log zerolog.Logger) *Downloader {
	policy := opts.Policy
	if policy.MaxAttempts < 1 {
		policy = retry.Model
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: newTransport(opts.Proxy, opts.Fingerprint),
		Timeout:   opts.Timeout,
	}
	rc.RetryMax = policy.MaxAttempts - 1
	rc.RetryWaitMin = policy.MinDelay
	rc.RetryWaitMax = policy.MaxDelay
	rc.Backoff = func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return policy.Backoff(attemptNum + 1)
	}
	rc.Logger = leveledLogger{log}

	return &Downloader{client: rc, log: log}
}

// Download saves url to path and returns path. A URL ending in .zip is
// unpacked and its first file is saved instead.
func (d *Downloader) Download(ctx context.Context, url, path string) (string, error) {
	d.log.Info().Str("url", url).Str("path", path).Msg("downloading")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(url), ".zip") {
		tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*.zip")
		if err != nil {
			return "", fmt.Errorf("create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())
		if err := d.fetch(ctx, url, tmp); err != nil {
			tmp.Close()
			return "", err
		}
		if err := tmp.Close(); err != nil {
			return "", err
		}
		if err := extractFirst(tmp.Name(), path); err != nil {
			return "", err
		}
		d.log.Debug().Str("path", path).Msg("extracted archive")
		return path, nil
	}

	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if err := d.fetch(ctx, url, f); err != nil {
		f.Close()
		os.Remove(part)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return "", err
	}
	if err := os.Rename(part, path); err != nil {
		return "", fmt.Errorf("finalize download: %w", err)
	}
	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, url string, w io.Writer) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: read body: %w", url, err)
	}
	return nil
}

// extractFirst writes the first regular file in the archive to dst.
func extractFirst(archive, dst string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, file := range r.File {
		if file.FileInfo().IsDir() {
			continue
		}
		src, err := file.Open()
		if err != nil {
			return fmt.Errorf("open %s in archive: %w", file.Name, err)
		}
		defer src.Close()

		out, err := os.Create(dst)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			return fmt.Errorf("extract %s: %w", file.Name, err)
		}
		return out.Close()
	}
	return errors.New("archive contains no files")
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct{ log zerolog.Logger }

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
