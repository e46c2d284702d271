// Package scraper runs the extraction pipeline: render a page, reduce it to
// text, ask the model for the requested fields and parse its reply into a
// key-complete record.
package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/cleaner"
	"github.com/use-agent/llmscrape/llm"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/parser"
	"github.com/use-agent/llmscrape/prompt"
	"github.com/use-agent/llmscrape/renderer"
)

// Extractor is the public surface of a scraper.
type Extractor interface {
	// Scrape loads req.URL and extracts req.Fields from the rendered page.
	Scrape(ctx context.Context, req *models.ExtractRequest) (*models.ExtractResult, error)
	// Extract pulls fields out of text the caller already has.
	Extract(ctx context.Context, text string, fields []string) (*models.ExtractResult, error)
}

// Options tune the pipeline around the renderer and the model.
type Options struct {
	// MaxParseAttempts is how many model replies are tried before an
	// unparseable reply is returned as an error. Minimum 1.
	MaxParseAttempts int

	// RemoveOverlays strips cookie banners and popups after load.
	RemoveOverlays bool

	Metrics *metrics.Recorder
}

// Scraper composes the pipeline stages. It is not safe for concurrent use;
// callers sharing one must serialize access.
type Scraper struct {
	renderer *renderer.Renderer
	cleaner  *cleaner.Cleaner
	builder  *prompt.Builder
	client   *llm.Client
	opts     Options
	log      zerolog.Logger
}

var _ Extractor = (*Scraper)(nil)

// New wires the stages together. r may be nil for a text-only scraper. The
// builder and client must agree on the prompt style.
func New(r *renderer.Renderer, c *cleaner.Cleaner, b *prompt.Builder, client *llm.Client, opts Options, log zerolog.Logger) (*Scraper, error) {
	if c == nil || b == nil || client == nil {
		return nil, errors.New("scraper: cleaner, prompt builder and model client are required")
	}
	if b.Style() != client.Style() {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			"prompt style "+string(b.Style())+" does not match model style "+string(client.Style()), nil)
	}
	if opts.MaxParseAttempts < 1 {
		opts.MaxParseAttempts = 1
	}
	return &Scraper{
		renderer: r,
		cleaner:  c,
		builder:  b,
		client:   client,
		opts:     opts,
		log:      log,
	}, nil
}

// Style reports the prompt framing in use.
func (s *Scraper) Style() prompt.Style { return s.builder.Style() }

// Model reports the model name in use.
func (s *Scraper) Model() string { return s.client.Model() }

// Close releases the browser session and the response cache.
func (s *Scraper) Close() error {
	s.client.Close()
	if s.renderer == nil {
		return nil
	}
	return s.renderer.Close()
}

// Scrape runs the full pipeline for one page.
//
// Stages (numbered to match the inline comments):
//
//  1. Validate     - reject bad URLs and field lists before touching the browser
//  2. Load         - navigate with retry, then the post-load wait
//  3. Settle       - optional overlay removal and scroll to the bottom
//  4. Read         - parse the rendered HTML
//  5. Clean        - reduce the document to text
//  6. Extract      - prompt, invoke, parse
func (s *Scraper) Scrape(ctx context.Context, req *models.ExtractRequest) (res *models.ExtractResult, err error) {
	start := time.Now()
	defer func() { s.opts.Metrics.Extraction(outcomeCode(err)) }()

	// ── 1. Validate ───────────────────────────────────────────────────
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.renderer == nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "scraper has no browser session", nil)
	}
	log := s.log.With().Str("url", req.URL).Logger()

	// ── 2. Load ───────────────────────────────────────────────────────
	navStart := time.Now()
	if _, err := s.renderer.Load(ctx, req.URL, req.Wait); err != nil {
		return nil, err
	}

	// ── 3. Settle ─────────────────────────────────────────────────────
	if s.opts.RemoveOverlays {
		s.renderer.RemoveOverlays(ctx)
	}
	if req.Scroll {
		if err := s.renderer.ScrollToBottom(ctx); err != nil {
			return nil, err
		}
	}

	// ── 4. Read ───────────────────────────────────────────────────────
	doc, err := s.renderer.CurrentHTML(ctx)
	if err != nil {
		return nil, err
	}
	finalURL, urlErr := s.renderer.CurrentURL(ctx)
	if urlErr != nil || finalURL == "" {
		finalURL = req.URL
	}
	navMs := time.Since(navStart).Milliseconds()

	// ── 5. Clean ──────────────────────────────────────────────────────
	cleanStart := time.Now()
	text, err := s.cleaner.Text(doc, finalURL)
	if err != nil {
		return nil, err
	}
	s.opts.Metrics.ObserveStage(metrics.StageCleaning, time.Since(cleanStart))
	cleanMs := time.Since(cleanStart).Milliseconds()
	log.Debug().Int("text_len", len(text)).Str("mode", s.cleaner.Mode()).Msg("page text ready")

	// ── 6. Extract ────────────────────────────────────────────────────
	res, err = s.extract(ctx, text, req.Fields, log)
	if err != nil {
		return nil, err
	}
	res.URL = finalURL
	res.Timing.NavigationMs = navMs
	res.Timing.CleaningMs = cleanMs
	res.Timing.TotalMs = time.Since(start).Milliseconds()

	log.Info().
		Int("found", res.Data.Found()).
		Int("fields", res.Data.Len()).
		Int64("total_ms", res.Timing.TotalMs).
		Msg("extraction complete")
	return res, nil
}

// Extract runs the model stages over caller-supplied text.
func (s *Scraper) Extract(ctx context.Context, text string, fields []string) (res *models.ExtractResult, err error) {
	start := time.Now()
	defer func() { s.opts.Metrics.Extraction(outcomeCode(err)) }()

	if err := models.ValidateFields(fields); err != nil {
		return nil, err
	}
	res, err = s.extract(ctx, text, fields, s.log)
	if err != nil {
		return nil, err
	}
	res.Timing.TotalMs = time.Since(start).Milliseconds()
	return res, nil
}

// extract builds the prompt, invokes the model and parses the reply. An
// unparseable reply is re-asked up to MaxParseAttempts times in total.
func (s *Scraper) extract(ctx context.Context, text string, fields []string, log zerolog.Logger) (*models.ExtractResult, error) {
	start := time.Now()
	payload := s.builder.Build(text, fields)

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxParseAttempts; attempt++ {
		resp, err := s.client.Invoke(ctx, payload)
		if err != nil {
			return nil, err
		}

		parseStart := time.Now()
		rec, dropped, err := parser.Parse(resp.Text, fields)
		s.opts.Metrics.ObserveStage(metrics.StageParse, time.Since(parseStart))
		if err == nil {
			if len(dropped) > 0 {
				log.Debug().Strs("dropped", dropped).Msg("model returned unrequested keys")
			}
			return &models.ExtractResult{
				Data:       rec,
				Dropped:    dropped,
				TextTokens: payload.TextTokens,
				Truncated:  payload.Truncated,
				Cached:     resp.Cached,
				Usage:      resp.Usage,
				Timing:     models.ExtractTimingInfo{ExtractionMs: time.Since(start).Milliseconds()},
			}, nil
		}

		s.client.Forget(payload)
		lastErr = err
		if !models.IsRecoverable(err) {
			break
		}
		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.opts.MaxParseAttempts).
			Msg("model reply not parseable")
	}
	return nil, lastErr
}

func outcomeCode(err error) string {
	if err == nil {
		return "ok"
	}
	return models.CodeOf(err)
}
