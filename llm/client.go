package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/use-agent/llmscrape/cache"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/prompt"
	"github.com/use-agent/llmscrape/retry"
)

// Options tune how the Client invokes its backend.
type Options struct {
	Policy  retry.Policy
	Timeout time.Duration // per attempt; 0 disables

	// Cache, when set, short-circuits repeat payloads.
	Cache   *cache.Cache[Response]
	Metrics *metrics.Recorder

	// Sleep replaces the context-aware backoff wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns the model retry defaults.
func DefaultOptions() Options {
	return Options{Policy: retry.Model, Timeout: 60 * time.Second}
}

// Client wraps a Backend with timeout, retry, caching and error mapping.
// The backend and its prompt style are fixed at construction.
type Client struct {
	backend Backend
	opts    Options
	log     zerolog.Logger
}

// NewClient returns a Client for backend.
func NewClient(backend Backend, opts Options, log zerolog.Logger) *Client {
	return &Client{backend: backend, opts: opts, log: log}
}

// Style reports the prompt framing the backend expects.
func (c *Client) Style() prompt.Style { return c.backend.Style() }

// Model reports the backend's model name.
func (c *Client) Model() string { return c.backend.Name() }

// Close releases the response cache.
func (c *Client) Close() {
	if c.opts.Cache != nil {
		c.opts.Cache.Close()
	}
}

// Invoke sends p to the model and returns its raw reply.
func (c *Client) Invoke(ctx context.Context, p prompt.Payload) (*Response, error) {
	style := c.backend.Style()
	if p.Style != style {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("payload style %q does not match backend style %q", p.Style, style), nil)
	}

	key := c.cacheKey(p)
	if c.opts.Cache != nil {
		if r, ok := c.opts.Cache.Get(key); ok {
			c.log.Debug().Str("model", c.backend.Name()).Msg("model response served from cache")
			r.Cached = true
			return &r, nil
		}
	}

	start := time.Now()
	hooks := retry.Hooks{
		Sleep: c.opts.Sleep,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.log.Warn().Err(err).
				Str("model", c.backend.Name()).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("model invocation failed, retrying")
		},
	}

	resp, err := retry.Do(ctx, c.opts.Policy, hooks, func(ctx context.Context, attempt int) (*Response, error) {
		attemptCtx := ctx
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}
		r, err := c.backend.Complete(attemptCtx, p)
		c.opts.Metrics.LLMInvocation(string(style), err)
		if err != nil {
			se, retryable := classifyLLMError(err)
			if !retryable {
				return nil, retry.Permanent(se)
			}
			return nil, se
		}
		return r, nil
	})
	c.opts.Metrics.ObserveStage(metrics.StageLLM, time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewScrapeError(models.ErrCodeTimeout, "model invocation aborted", ctx.Err())
		}
		var ex *retry.ExhaustedError
		var se *models.ScrapeError
		if errors.As(err, &ex) && errors.As(ex.Last, &se) {
			return nil, models.NewScrapeError(se.Code,
				fmt.Sprintf("%s (after %d attempts)", se.Message, ex.Attempts), se.Err)
		}
		return nil, err
	}

	c.log.Debug().
		Str("model", c.backend.Name()).
		Dur("elapsed", time.Since(start)).
		Int("reply_len", len(resp.Text)).
		Msg("model replied")

	if c.opts.Cache != nil {
		c.opts.Cache.Set(key, *resp)
	}
	return resp, nil
}

// Forget drops the cached reply for p, so the next Invoke asks the model
// again. Callers use it when a reply turned out to be unusable.
func (c *Client) Forget(p prompt.Payload) {
	if c.opts.Cache != nil {
		c.opts.Cache.Delete(c.cacheKey(p))
	}
}

func (c *Client) cacheKey(p prompt.Payload) string {
	return cache.Key(string(c.backend.Style()), c.backend.Name(), p.Key())
}

// classifyLLMError maps a backend error to an error code and reports whether
// another attempt may succeed.
func classifyLLMError(err error) (*models.ScrapeError, bool) {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se, se.Code != models.ErrCodeInvalidInput
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewScrapeError(models.ErrCodeLLMTimeout, "model call timed out", err), true
	}
	if errors.Is(err, openai.ErrCompletionUnsupportedModel) ||
		errors.Is(err, openai.ErrCompletionRequestPromptTypeNotSupported) {
		return models.NewScrapeError(models.ErrCodeLLMFailure, "model does not accept raw prompts", err), false
	}

	status := 0
	msg := "model API error"
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if apiErr.Message != "" {
			msg = apiErr.Message
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return models.NewScrapeError(models.ErrCodeLLMFailure, "model request failed", err), true
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewScrapeError(models.ErrCodeLLMAuthFailure, msg, err), false
	case status == http.StatusTooManyRequests:
		return models.NewScrapeError(models.ErrCodeLLMRateLimited, msg, err), true
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return models.NewScrapeError(models.ErrCodeLLMFailure, fmt.Sprintf("model API returned %d: %s", status, msg), err), false
	default:
		return models.NewScrapeError(models.ErrCodeLLMFailure, fmt.Sprintf("model API returned %d: %s", status, msg), err), true
	}
}
