package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/llmscrape/retry"
)

func testDownloader() *Downloader {
	return NewDownloader(DownloadOptions{
		Policy: retry.Policy{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, zerolog.Nop())
}

func zipBytes(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("nested/")
	require.NoError(t, err)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Contains(t, r.Header.Get("User-Agent"), "Chrome")
		_, _ = w.Write([]byte("id,name\n1,Ann\n"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "data", "people.csv")
	got, err := testDownloader().Download(context.Background(), srv.URL+"/people.csv", path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, int32(3), hits.Load())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,Ann\n", string(b))
	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "x.bin")
	_, err := testDownloader().Download(context.Background(), srv.URL+"/x.bin", path)
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testDownloader().Download(context.Background(), srv.URL+"/missing", filepath.Join(t.TempDir(), "m"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloadExtractsZip(t *testing.T) {
	archive := zipBytes(t, "nested/listings.json", `[{"title":"Flat"}]`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "listings.json")
	_, err := testDownloader().Download(context.Background(), srv.URL+"/export.ZIP", path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"title":"Flat"}]`, string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloadCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testDownloader().Download(ctx, srv.URL, filepath.Join(t.TempDir(), "c"))
	assert.Error(t, err)
}

type row struct {
	URL  string         `json:"url"`
	Data map[string]any `json:"data"`
}

func TestJSONLRoundTrip(t *testing.T) {
	for _, name := range []string{"out.jsonl", "out.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "results", name)
			first := []row{{URL: "https://a.example", Data: map[string]any{"name": "Ann"}}}
			second := []row{{URL: "https://b.example", Data: map[string]any{"name": nil}}}

			require.NoError(t, SaveJSONL(path, first, false))
			require.NoError(t, SaveJSONL(path, second, true))

			got, err := ReadJSONL[row](path)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "https://a.example", got[0].URL)
			assert.Equal(t, "Ann", got[0].Data["name"])
			assert.Nil(t, got[1].Data["name"])

			require.NoError(t, SaveJSONL(path, first, false))
			got, err = ReadJSONL[row](path)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestJSONLPlainIsLineDelimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, SaveJSONL(path, []map[string]string{{"a": "<b>"}, {"a": "c"}}, false))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":\"<b>\"}\n{\"a\":\"c\"}\n", string(b))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "Senior_Engineer-Lisbon", SafeName(`Senior Engineer/Lisbon`))
	assert.Equal(t, "say_hi", SafeName(`say "hi"`))
	assert.Equal(t, "a-b", SafeName(`a\b`))

	long := SafeName(strings.Repeat("é", 100))
	assert.LessOrEqual(t, len(long), 150)
	assert.True(t, strings.HasPrefix(strings.Repeat("é", 100), long))
}

func TestURLDigest(t *testing.T) {
	assert.Equal(t, "kAFQmDzST7DWlj99KOF_cg==", URLDigest("abc"))
	assert.Equal(t, "zWm4HqAMwnmHlyk8vJLWQw==", URLDigest("https://example.com/a"))
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Len(t, a, 24)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "+")
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, RemoveIfExists(path))
	require.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
