package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/llmscrape/cache"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/prompt"
	"github.com/use-agent/llmscrape/retry"
)

type fakeBackend struct {
	mu    sync.Mutex
	style prompt.Style
	errs  []error
	text  string
	block bool
	calls int
}

func (f *fakeBackend) Style() prompt.Style { return f.style }
func (f *fakeBackend) Name() string        { return "fake-model" }

func (f *fakeBackend) Complete(ctx context.Context, p prompt.Payload) (*Response, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &Response{Text: f.text, Usage: &models.LLMUsage{TotalTokens: 7}}, nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testOptions() Options {
	return Options{
		Policy:  retry.Policy{MaxAttempts: 3, MinDelay: time.Second, MaxDelay: 20 * time.Second},
		Timeout: time.Second,
		Sleep:   noSleep,
	}
}

func chatPayload(t *testing.T) prompt.Payload {
	t.Helper()
	b, err := prompt.NewBuilder(prompt.Chat)
	require.NoError(t, err)
	return b.Build("Jordan Parker, Lisbon", []string{"name", "location"})
}

func apiErr(status int) error {
	return &openai.APIError{HTTPStatusCode: status, Message: http.StatusText(status)}
}

func TestInvokeSuccess(t *testing.T) {
	fb := &fakeBackend{style: prompt.Chat, text: `{"name":"Jordan Parker"}`}
	c := NewClient(fb, testOptions(), zerolog.Nop())

	resp, err := c.Invoke(context.Background(), chatPayload(t))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Jordan Parker"}`, resp.Text)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.False(t, resp.Cached)
	assert.Equal(t, 1, fb.calls)
}

func TestInvokeRetriesTransientErrors(t *testing.T) {
	fb := &fakeBackend{
		style: prompt.Chat,
		text:  "{}",
		errs:  []error{apiErr(http.StatusBadGateway), errors.New("connection reset")},
	}
	c := NewClient(fb, testOptions(), zerolog.Nop())

	_, err := c.Invoke(context.Background(), chatPayload(t))
	require.NoError(t, err)
	assert.Equal(t, 3, fb.calls)
}

func TestInvokeAuthFailureIsPermanent(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		fb := &fakeBackend{style: prompt.Chat, errs: []error{apiErr(status)}}
		c := NewClient(fb, testOptions(), zerolog.Nop())

		_, err := c.Invoke(context.Background(), chatPayload(t))
		require.Error(t, err)
		assert.Equal(t, models.ErrCodeLLMAuthFailure, models.CodeOf(err))
		assert.Equal(t, 1, fb.calls)
	}
}

func TestInvokeBadRequestIsPermanent(t *testing.T) {
	fb := &fakeBackend{style: prompt.Chat, errs: []error{&openai.RequestError{HTTPStatusCode: http.StatusNotFound, Err: errors.New("no such model")}}}
	c := NewClient(fb, testOptions(), zerolog.Nop())

	_, err := c.Invoke(context.Background(), chatPayload(t))
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLLMFailure, models.CodeOf(err))
	assert.Equal(t, 1, fb.calls)
}

func TestInvokeRateLimitedExhausts(t *testing.T) {
	fb := &fakeBackend{
		style: prompt.Chat,
		errs:  []error{apiErr(429), apiErr(429), apiErr(429)},
	}
	c := NewClient(fb, testOptions(), zerolog.Nop())

	_, err := c.Invoke(context.Background(), chatPayload(t))
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLLMRateLimited, models.CodeOf(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, fb.calls)
}

func TestInvokeAttemptTimeout(t *testing.T) {
	fb := &fakeBackend{style: prompt.Chat, block: true}
	opts := testOptions()
	opts.Policy.MaxAttempts = 2
	opts.Timeout = 10 * time.Millisecond
	c := NewClient(fb, opts, zerolog.Nop())

	_, err := c.Invoke(context.Background(), chatPayload(t))
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLLMTimeout, models.CodeOf(err))
	assert.Equal(t, 2, fb.calls)
}

func TestInvokeCallerCancel(t *testing.T) {
	fb := &fakeBackend{style: prompt.Chat, text: "{}"}
	c := NewClient(fb, testOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Invoke(ctx, chatPayload(t))
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeTimeout, models.CodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fb.calls)
}

func TestInvokeStyleMismatch(t *testing.T) {
	fb := &fakeBackend{style: prompt.Instruct}
	c := NewClient(fb, testOptions(), zerolog.Nop())

	_, err := c.Invoke(context.Background(), chatPayload(t))
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
	assert.Equal(t, 0, fb.calls)
}

func TestInvokeUsesCache(t *testing.T) {
	fb := &fakeBackend{style: prompt.Chat, text: `{"name":"x"}`}
	opts := testOptions()
	opts.Cache = cache.New[Response](8, time.Hour)
	c := NewClient(fb, opts, zerolog.Nop())
	defer c.Close()

	p := chatPayload(t)
	first, err := c.Invoke(context.Background(), p)
	require.NoError(t, err)
	second, err := c.Invoke(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 1, fb.calls)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
}

func TestForgetDropsCachedReply(t *testing.T) {
	fb := &fakeBackend{style: prompt.Chat, text: "not json"}
	opts := testOptions()
	opts.Cache = cache.New[Response](8, time.Hour)
	c := NewClient(fb, opts, zerolog.Nop())
	defer c.Close()

	p := chatPayload(t)
	_, err := c.Invoke(context.Background(), p)
	require.NoError(t, err)
	c.Forget(p)
	resp, err := c.Invoke(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, fb.calls)
}

func TestInvokeRecordsMetrics(t *testing.T) {
	rec := metrics.New(nil)
	fb := &fakeBackend{style: prompt.Chat, text: "{}", errs: []error{apiErr(500)}}
	opts := testOptions()
	opts.Metrics = rec
	c := NewClient(fb, opts, zerolog.Nop())

	_, err := c.Invoke(context.Background(), chatPayload(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.LLMInvocations.WithLabelValues("chat", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.LLMInvocations.WithLabelValues("chat", "ok")))
}

func TestClassifyLLMError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"unauthorized", apiErr(401), models.ErrCodeLLMAuthFailure, false},
		{"rate limited", apiErr(429), models.ErrCodeLLMRateLimited, true},
		{"server error", apiErr(503), models.ErrCodeLLMFailure, true},
		{"bad request", apiErr(400), models.ErrCodeLLMFailure, false},
		{"deadline", context.DeadlineExceeded, models.ErrCodeLLMTimeout, true},
		{"transport", errors.New("dial tcp: refused"), models.ErrCodeLLMFailure, true},
		{"unsupported model", openai.ErrCompletionUnsupportedModel, models.ErrCodeLLMFailure, false},
		{"scrape error", models.NewScrapeError(models.ErrCodeLLMFailure, "no choices", nil), models.ErrCodeLLMFailure, true},
		{"invalid input", models.NewScrapeError(models.ErrCodeInvalidInput, "style", nil), models.ErrCodeInvalidInput, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se, retryable := classifyLLMError(tt.err)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}
