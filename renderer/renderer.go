// Package renderer loads pages in a browser session with retry, scrolls
// infinite-scroll pages to the end and hands back the rendered document.
package renderer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/browser"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/retry"
)

const (
	scrollScript = "window.scrollTo(0, document.body.scrollHeight)"
	heightScript = "document.body ? document.body.scrollHeight : 0"
)

// Options tune navigation and scrolling.
type Options struct {
	Navigation          retry.Policy
	NavigationTimeout   time.Duration // per attempt; 0 disables
	ScrollInterval      time.Duration
	MaxScrollIterations int
	LogHTML             bool

	Metrics *metrics.Recorder

	// Sleep replaces the context-aware wait used for backoff, the post-load
	// wait and the scroll interval.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns the navigation and scroll defaults.
func DefaultOptions() Options {
	return Options{
		Navigation:          retry.Navigation,
		NavigationTimeout:   30 * time.Second,
		ScrollInterval:      2 * time.Second,
		MaxScrollIterations: 50,
	}
}

// OptionsFromConfig maps environment configuration onto Options.
func OptionsFromConfig(cfg config.RendererConfig) Options {
	return Options{
		Navigation: retry.Policy{
			MaxAttempts: cfg.NavigationAttempts,
			MinDelay:    cfg.NavigationMinDelay,
			MaxDelay:    cfg.NavigationMaxDelay,
		},
		NavigationTimeout:   cfg.NavigationTimeout,
		ScrollInterval:      cfg.ScrollInterval,
		MaxScrollIterations: cfg.MaxScrollIterations,
		LogHTML:             cfg.LogHTML,
	}
}

// Renderer owns one browser session. It is not safe for concurrent use.
type Renderer struct {
	b    browser.Browser
	opts Options
	log  zerolog.Logger
}

// New wraps an open browser session. The renderer closes it on Close.
func New(b browser.Browser, opts Options, log zerolog.Logger) *Renderer {
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.MaxScrollIterations <= 0 {
		opts.MaxScrollIterations = DefaultOptions().MaxScrollIterations
	}
	return &Renderer{b: b, opts: opts, log: log}
}

// Load navigates to url, retrying transient failures under the navigation
// policy, then waits for wait. It returns the renderer for chaining.
func (r *Renderer) Load(ctx context.Context, url string, wait time.Duration) (*Renderer, error) {
	start := time.Now()
	hooks := retry.Hooks{
		Sleep: r.opts.Sleep,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			r.log.Warn().Err(err).
				Str("url", url).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("navigation failed, retrying")
		},
	}

	_, err := retry.Do(ctx, r.opts.Navigation, hooks, func(ctx context.Context, attempt int) (struct{}, error) {
		attemptCtx := ctx
		if r.opts.NavigationTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.opts.NavigationTimeout)
			defer cancel()
		}
		r.log.Debug().Str("url", url).Int("attempt", attempt).Msg("navigating")
		err := r.b.Navigate(attemptCtx, url)
		r.opts.Metrics.NavigationAttempt(err)
		return struct{}{}, err
	})
	r.opts.Metrics.ObserveStage(metrics.StageNavigation, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return r, categorizeError(ctx.Err(), "navigation aborted")
		}
		r.log.Error().Err(err).Str("url", url).Msg("page unreachable")
		return r, models.NewScrapeError(models.ErrCodePageUnreachable, "page could not be loaded: "+url, err)
	}

	r.log.Info().Str("url", url).Dur("elapsed", time.Since(start)).Msg("page loaded")

	if wait > 0 {
		if err := r.opts.Sleep(ctx, wait); err != nil {
			return r, categorizeError(err, "post-load wait aborted")
		}
	}
	return r, nil
}

// CurrentHTML parses the current page source.
func (r *Renderer) CurrentHTML(ctx context.Context) (*goquery.Document, error) {
	src, err := r.b.PageSource(ctx)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeRender, "failed to read page source", err)
	}
	if r.opts.LogHTML {
		u, _ := r.b.CurrentURL(ctx)
		r.log.Debug().Str("url", u).Str("html", src).Msg("page html")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeRender, "failed to parse page source", err)
	}
	return doc, nil
}

// CurrentURL returns the page URL after redirects.
func (r *Renderer) CurrentURL(ctx context.Context) (string, error) {
	u, err := r.b.CurrentURL(ctx)
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeRender, "failed to read current url", err)
	}
	return u, nil
}

// ScrollToBottom scrolls until the document height stops changing between
// two reads one scroll interval apart. It gives up quietly after
// MaxScrollIterations scrolls.
func (r *Renderer) ScrollToBottom(ctx context.Context) error {
	start := time.Now()
	defer func() { r.opts.Metrics.ObserveStage(metrics.StageScroll, time.Since(start)) }()

	last, err := r.height(ctx)
	if err != nil {
		return err
	}
	for step := 1; ; step++ {
		if step > r.opts.MaxScrollIterations {
			r.log.Warn().
				Int("iterations", r.opts.MaxScrollIterations).
				Int("height", last).
				Msg("page still growing, stopping scroll")
			return nil
		}
		if _, err := r.b.ExecuteScript(ctx, scrollScript); err != nil {
			return r.scriptError(ctx, err)
		}
		if err := r.opts.Sleep(ctx, r.opts.ScrollInterval); err != nil {
			return categorizeError(err, "scroll aborted")
		}
		h, err := r.height(ctx)
		if err != nil {
			return err
		}
		r.log.Debug().Int("step", step).Int("height", h).Msg("scrolled")
		if h == last {
			return nil
		}
		last = h
	}
}

// overlayScript removes fixed and sticky elements with a high z-index plus
// common consent and popup containers, then restores body scrolling.
const overlayScript = `(() => {
	let removed = 0;
	for (const el of document.querySelectorAll('*')) {
		const style = window.getComputedStyle(el);
		if (style.position !== 'fixed' && style.position !== 'sticky') continue;
		const z = parseInt(style.zIndex, 10);
		if (z >= 900 || style.zIndex === 'auto') { el.remove(); removed++; }
	}
	const selectors = [
		'[class*="cookie"]', '[class*="consent"]', '[class*="overlay"]',
		'[id*="cookie"]', '[id*="consent"]', '[id*="overlay"]',
		'[class*="popup"]', '[id*="popup"]', '[class*="gdpr"]', '[id*="gdpr"]',
	];
	for (const sel of selectors) {
		document.querySelectorAll(sel).forEach(el => {
			const pos = window.getComputedStyle(el).position;
			if (pos === 'fixed' || pos === 'sticky' || pos === 'absolute') { el.remove(); removed++; }
		});
	}
	document.documentElement.style.overflow = '';
	if (document.body) document.body.style.overflow = '';
	return removed;
})()`

// RemoveOverlays deletes cookie banners and modal popups so their text does
// not reach the model. It is best-effort: failures are logged and ignored.
func (r *Renderer) RemoveOverlays(ctx context.Context) {
	v, err := r.b.ExecuteScript(ctx, overlayScript)
	if err != nil {
		r.log.Debug().Err(err).Msg("overlay removal failed")
		return
	}
	if n := v.Int(); n > 0 {
		r.log.Debug().Int("removed", n).Msg("removed overlays")
	}
}

func (r *Renderer) height(ctx context.Context) (int, error) {
	v, err := r.b.ExecuteScript(ctx, heightScript)
	if err != nil {
		return 0, r.scriptError(ctx, err)
	}
	return v.Int(), nil
}

func (r *Renderer) scriptError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return categorizeError(ctx.Err(), "script aborted")
	}
	return models.NewScrapeError(models.ErrCodeScript, "page script failed", err)
}

// Close releases the browser session.
func (r *Renderer) Close() error {
	return r.b.Close()
}

// categorizeError maps context errors to the timeout code.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
