// Package logging builds the process logger: a console or JSON stream on
// stdout at the configured level, plus an optional JSON file that always
// records debug output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a configured logger and a closer for the file sink, if any.
// relative File paths resolve against rootDir.
func New(cfg config.LogConfig, rootDir string) (zerolog.Logger, io.Closer, error) {
	return newWithOutput(cfg, rootDir, os.Stdout)
}

func newWithOutput(cfg config.LogConfig, rootDir string, out io.Writer) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var stream io.Writer = out
	if !cfg.JSON {
		stream = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	console := &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: stream},
		Level:  level,
	}

	if cfg.File == "" {
		return zerolog.New(console).Level(level).With().Timestamp().Logger(), nopCloser{}, nil
	}

	path := cfg.File
	if !filepath.IsAbs(path) && rootDir != "" {
		path = filepath.Join(rootDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if cfg.Replace {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}

	file := &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: f},
		Level:  zerolog.DebugLevel,
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(console, file)).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
	return logger, f, nil
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
