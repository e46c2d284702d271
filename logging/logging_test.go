package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/llmscrape/config"
)

func TestConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := newWithOutput(config.LogConfig{Level: "warn", JSON: true}, "", &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
}

func TestFileSinkRecordsDebug(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	log, closer, err := newWithOutput(config.LogConfig{
		Level: "info",
		JSON:  true,
		File:  "logs/scraper.log",
	}, dir, &buf)
	require.NoError(t, err)

	rendererLog := Component(log, "renderer")
	rendererLog.Debug().Str("url", "https://example.com").Msg("page html")
	log.Info().Msg("started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "logs", "scraper.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"renderer"`)
	assert.Contains(t, string(data), `"message":"started"`)

	assert.NotContains(t, buf.String(), "page html")
	assert.Contains(t, buf.String(), "started")
}

func TestReplaceTruncatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.log")
	require.NoError(t, os.WriteFile(path, []byte("old line\n"), 0o644))

	log, closer, err := newWithOutput(config.LogConfig{Level: "info", File: path, Replace: true}, dir, &bytes.Buffer{})
	require.NoError(t, err)
	log.Info().Msg("fresh")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "old line"))
	assert.Contains(t, string(data), "fresh")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := newWithOutput(config.LogConfig{Level: "loud", JSON: true}, "", &buf)
	require.NoError(t, err)
	log.Debug().Msg("debug")
	log.Info().Msg("info")
	assert.NotContains(t, buf.String(), `"message":"debug"`)
	assert.Contains(t, buf.String(), `"message":"info"`)
}
