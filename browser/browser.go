// Package browser defines the automation capability the renderer drives and
// provides go-rod and chromedp implementations of it.
package browser

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/config"
	"github.com/ysmood/gson"
)

// Browser is one live page in a controlled browser. Implementations are not
// safe for concurrent use.
type Browser interface {
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error

	// PageSource returns the serialized DOM of the current document.
	PageSource(ctx context.Context) (string, error)

	// CurrentURL returns the document URL after redirects.
	CurrentURL(ctx context.Context) (string, error)

	// ExecuteScript evaluates a JavaScript expression and returns its value.
	// An undefined result is returned as JSON null.
	ExecuteScript(ctx context.Context, expr string) (gson.JSON, error)

	// Close releases the page and the browser process. Safe to call twice.
	Close() error
}

// Options configure a browser session.
type Options struct {
	Headless  bool
	NoSandbox bool
	Bin       string
	Proxy     string
	UserAgent string

	// Stealth masks navigator.webdriver and related automation hints.
	Stealth bool

	// BlockedResourceTypes are never loaded: Image, Stylesheet, Font, Media, Script.
	BlockedResourceTypes []string
	BlockAds             bool

	// Headers are sent with every request.
	Headers map[string]string
}

// OptionsFromConfig maps environment configuration onto Options.
func OptionsFromConfig(cfg config.BrowserConfig) Options {
	return Options{
		Headless:             cfg.Headless,
		NoSandbox:            cfg.NoSandbox,
		Bin:                  cfg.Bin,
		Proxy:                cfg.Proxy,
		UserAgent:            cfg.UserAgent,
		Stealth:              cfg.Stealth,
		BlockedResourceTypes: cfg.BlockedResourceTypes,
		BlockAds:             cfg.BlockAds,
		Headers:              cfg.Headers,
	}
}

// New launches the browser selected by cfg.Driver.
func New(cfg config.BrowserConfig, log zerolog.Logger) (Browser, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.Driver {
	case "", "rod":
		return NewRod(opts, log)
	case "chromedp":
		return NewChromeDP(opts, log)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}
