package browser

import (
	"context"
	"net/url"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/models"
	"github.com/ysmood/gson"
)

// ChromeDP drives a single Chromium tab through chromedp.
type ChromeDP struct {
	log         zerolog.Logger
	ctx         context.Context // tab context; cancelling it closes the tab
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	closeOnce sync.Once
}

// NewChromeDP starts Chromium and opens the tab. The first Run allocates the
// browser against the long-lived tab context so later per-call contexts can
// be cancelled without tearing the browser down.
func NewChromeDP(opts Options, log zerolog.Logger) (*ChromeDP, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if opts.Bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.Bin))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		log.Debug().Msgf(format, args...)
	}))

	d := &ChromeDP{log: log, ctx: ctx, cancel: cancel, allocCancel: allocCancel}

	blocked := blockSet(opts.BlockedResourceTypes)
	intercept := len(blocked) > 0 || opts.BlockAds
	if intercept {
		chromedp.ListenTarget(ctx, func(ev any) {
			paused, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go d.decide(paused, blocked, opts.BlockAds)
		})
	}

	tasks := chromedp.Tasks{network.Enable()}
	if opts.Stealth {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
			return err
		}))
	}
	if len(opts.Headers) > 0 {
		h := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			h[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(h))
	}
	if intercept {
		tasks = append(tasks, fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}))
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		cancel()
		allocCancel()
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to start browser", err)
	}
	log.Info().Msg("browser launched")
	return d, nil
}

// decide fails or continues one intercepted request.
func (d *ChromeDP) decide(ev *fetch.EventRequestPaused, blocked map[string]struct{}, blockAds bool) {
	c := chromedp.FromContext(d.ctx)
	if c == nil || c.Target == nil {
		return
	}
	exec := cdp.WithExecutor(d.ctx, c.Target)

	block := false
	if _, ok := blocked[string(ev.ResourceType)]; ok {
		block = true
	} else if blockAds {
		if u, err := url.Parse(ev.Request.URL); err == nil && isAdDomain(u.Hostname()) {
			block = true
		}
	}

	var err error
	if block {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(exec)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(exec)
	}
	if err != nil && d.ctx.Err() == nil {
		d.log.Debug().Err(err).Str("url", ev.Request.URL).Msg("request interception")
	}
}

// call derives a context from the tab context that also ends when ctx does.
func (d *ChromeDP) call(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		c      context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		c, cancel = context.WithDeadline(d.ctx, dl)
	} else {
		c, cancel = context.WithCancel(d.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (d *ChromeDP) Navigate(ctx context.Context, rawURL string) error {
	c, cancel := d.call(ctx)
	defer cancel()
	return chromedp.Run(c, chromedp.Navigate(rawURL))
}

func (d *ChromeDP) PageSource(ctx context.Context) (string, error) {
	c, cancel := d.call(ctx)
	defer cancel()
	var html string
	err := chromedp.Run(c, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (d *ChromeDP) CurrentURL(ctx context.Context) (string, error) {
	c, cancel := d.call(ctx)
	defer cancel()
	var u string
	err := chromedp.Run(c, chromedp.Location(&u))
	return u, err
}

// ExecuteScript serializes the value in the page so undefined and null both
// come back as JSON null.
func (d *ChromeDP) ExecuteScript(ctx context.Context, expr string) (gson.JSON, error) {
	c, cancel := d.call(ctx)
	defer cancel()

	wrapped := "JSON.stringify((() => { const v = (" + expr + "); return v === undefined ? null : v; })())"
	var out string
	if err := chromedp.Run(c, chromedp.Evaluate(wrapped, &out)); err != nil {
		return gson.New(nil), err
	}
	return gson.NewFrom(out), nil
}

func (d *ChromeDP) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.allocCancel()
		d.log.Info().Msg("browser closed")
	})
	return nil
}
