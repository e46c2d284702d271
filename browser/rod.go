package browser

import (
	"context"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/models"
	"github.com/ysmood/gson"
)

// Rod drives a single Chromium tab through go-rod.
type Rod struct {
	log      zerolog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter

	closeOnce sync.Once
	closeErr  error
}

// NewRod launches Chromium, opens one tab and prepares it: stealth script,
// user agent, extra headers and resource blocking are installed before any
// navigation so they apply to every document the tab loads.
func NewRod(opts Options, log zerolog.Logger) (*Rod, error) {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox)

	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	log.Info().Str("control_url", controlURL).Msg("browser launched")

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}

	r := &Rod{log: log, launcher: l, browser: b, page: page}

	if opts.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			log.Warn().Err(err).Msg("stealth injection failed, proceeding without stealth")
		}
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			log.Warn().Err(err).Msg("failed to override user agent")
		}
	}
	if len(opts.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(opts.Headers)}).Call(page); err != nil {
			log.Warn().Err(err).Msg("failed to set extra headers")
		}
	}
	r.router = setupHijack(page, opts.BlockedResourceTypes, opts.BlockAds)

	return r, nil
}

// setupHijack installs a request interceptor that fails requests for blocked
// resource types and, optionally, known ad domains. Returns nil if there is
// nothing to block.
func setupHijack(page *rod.Page, blockedTypes []string, blockAds bool) *rod.HijackRouter {
	blocked := blockSet(blockedTypes)
	if len(blocked) == 0 && !blockAds {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if _, ok := blocked[string(h.Request.Type())]; ok {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if blockAds {
			if u, err := url.Parse(h.Request.URL().String()); err == nil && isAdDomain(u.Hostname()) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run blocks until router.Stop.
	go router.Run()
	return router
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

func (r *Rod) Navigate(ctx context.Context, rawURL string) error {
	p := r.page.Context(ctx)
	if err := p.Navigate(rawURL); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (r *Rod) PageSource(ctx context.Context) (string, error) {
	return r.page.Context(ctx).HTML()
}

func (r *Rod) CurrentURL(ctx context.Context) (string, error) {
	info, err := r.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (r *Rod) ExecuteScript(ctx context.Context, expr string) (gson.JSON, error) {
	res, err := r.page.Context(ctx).Eval("() => (" + expr + ")")
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

// Close stops request interception, closes the tab and shuts the browser down.
func (r *Rod) Close() error {
	r.closeOnce.Do(func() {
		if r.router != nil {
			_ = r.router.Stop()
		}
		if err := r.page.Close(); err != nil {
			r.log.Debug().Err(err).Msg("close page")
		}
		r.closeErr = r.browser.Close()
		r.launcher.Cleanup()
		r.log.Info().Msg("browser closed")
	})
	return r.closeErr
}
