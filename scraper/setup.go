package scraper

import (
	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/browser"
	"github.com/use-agent/llmscrape/cleaner"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/llm"
	"github.com/use-agent/llmscrape/logging"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/prompt"
	"github.com/use-agent/llmscrape/renderer"
	"github.com/use-agent/llmscrape/tokens"
)

// FromConfig builds a Scraper from configuration. With withBrowser false no
// browser is launched and only Extract is usable.
func FromConfig(cfg *config.Config, rec *metrics.Recorder, withBrowser bool, log zerolog.Logger) (*Scraper, error) {
	client, err := llm.FromConfig(cfg.LLM, rec, logging.Component(log, "llm"))
	if err != nil {
		return nil, err
	}

	builder, err := prompt.NewBuilder(client.Style(),
		prompt.WithMaxTextTokens(cfg.LLM.MaxTextTokens),
		prompt.WithCounter(tokens.ForModel(client.Model())),
		prompt.WithLogger(logging.Component(log, "prompt")),
	)
	if err != nil {
		client.Close()
		return nil, err
	}

	cl, err := cleaner.FromConfig(cfg.Cleaner, logging.Component(log, "cleaner"))
	if err != nil {
		client.Close()
		return nil, err
	}

	var r *renderer.Renderer
	if withBrowser {
		b, err := browser.New(cfg.Browser, logging.Component(log, "browser"))
		if err != nil {
			client.Close()
			return nil, err
		}
		opts := renderer.OptionsFromConfig(cfg.Renderer)
		opts.Metrics = rec
		r = renderer.New(b, opts, logging.Component(log, "renderer"))
	}

	return New(r, cl, builder, client, Options{
		MaxParseAttempts: cfg.LLM.MaxParseAttempts,
		RemoveOverlays:   cfg.Renderer.RemoveOverlays,
		Metrics:          rec,
	}, logging.Component(log, "scraper"))
}
