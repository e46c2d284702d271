// Package browsertest provides a scripted in-memory browser.Browser for tests.
package browsertest

import (
	"context"
	"strings"
	"sync"

	"github.com/ysmood/gson"
)

// Fake is a scripted browser. Zero value is a page with empty HTML that
// loads successfully.
type Fake struct {
	mu sync.Mutex

	// NavigateErrs are returned by successive Navigate calls; once used up
	// navigation succeeds.
	NavigateErrs []error

	// Heights are returned by successive scrollHeight reads; the last value
	// repeats once the list is used up.
	Heights []int

	HTML      string
	URL       string
	SourceErr error
	ScriptErr error

	// OverlaysRemoved is what the overlay script reports.
	OverlaysRemoved int

	Navigations   []string
	Scrolls       int
	OverlayCleans int
	Closed        int
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Navigations = append(f.Navigations, url)
	if len(f.NavigateErrs) > 0 {
		err := f.NavigateErrs[0]
		f.NavigateErrs = f.NavigateErrs[1:]
		if err != nil {
			return err
		}
	}
	if f.URL == "" {
		f.URL = url
	}
	return nil
}

func (f *Fake) PageSource(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HTML, f.SourceErr
}

func (f *Fake) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL, nil
}

func (f *Fake) ExecuteScript(_ context.Context, expr string) (gson.JSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScriptErr != nil {
		return gson.New(nil), f.ScriptErr
	}
	switch {
	case strings.Contains(expr, "getComputedStyle"):
		f.OverlayCleans++
		return gson.New(f.OverlaysRemoved), nil
	case strings.Contains(expr, "scrollTo"):
		f.Scrolls++
		return gson.New(nil), nil
	case strings.Contains(expr, "scrollHeight"):
		if len(f.Heights) == 0 {
			return gson.New(0), nil
		}
		h := f.Heights[0]
		if len(f.Heights) > 1 {
			f.Heights = f.Heights[1:]
		}
		return gson.New(h), nil
	default:
		return gson.New(nil), nil
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed++
	return nil
}
