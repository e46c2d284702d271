package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/llmscrape/browser/browsertest"
	"github.com/use-agent/llmscrape/cleaner"
	"github.com/use-agent/llmscrape/llm"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/prompt"
	"github.com/use-agent/llmscrape/renderer"
	"github.com/use-agent/llmscrape/retry"
)

const profilePage = `<html><head><title>Profile</title></head><body>
<h1>Jordan Parker</h1>
<p>Senior Engineer</p>
<script>var tracking = true;</script>
</body></html>`

var profileFields = []string{"name", "location", "job title"}

// scriptedBackend replies with successive texts; the last one repeats.
type scriptedBackend struct {
	mu       sync.Mutex
	style    prompt.Style
	replies  []string
	payloads []prompt.Payload
}

func (b *scriptedBackend) Style() prompt.Style { return b.style }
func (b *scriptedBackend) Name() string        { return "scripted" }

func (b *scriptedBackend) Complete(_ context.Context, p prompt.Payload) (*llm.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, p)
	text := b.replies[0]
	if len(b.replies) > 1 {
		b.replies = b.replies[1:]
	}
	return &llm.Response{Text: text, Usage: &models.LLMUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}, nil
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fixture struct {
	browser *browsertest.Fake
	backend *scriptedBackend
	metrics *metrics.Recorder
	scraper *Scraper
}

func newFixture(t *testing.T, style prompt.Style, opts Options, replies ...string) *fixture {
	t.Helper()
	fb := &browsertest.Fake{HTML: profilePage}
	rec := metrics.New(nil)

	ropts := renderer.DefaultOptions()
	ropts.Sleep = noSleep
	ropts.Metrics = rec
	r := renderer.New(fb, ropts, zerolog.Nop())

	cl, err := cleaner.New(cleaner.ModeText, "", zerolog.Nop())
	require.NoError(t, err)
	builder, err := prompt.NewBuilder(style)
	require.NoError(t, err)

	backend := &scriptedBackend{style: style, replies: replies}
	client := llm.NewClient(backend, llm.Options{Policy: retry.Model, Sleep: noSleep, Metrics: rec}, zerolog.Nop())

	opts.Metrics = rec
	s, err := New(r, cl, builder, client, opts, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{browser: fb, backend: backend, metrics: rec, scraper: s}
}

func request(url string) *models.ExtractRequest {
	return &models.ExtractRequest{URL: url, Fields: profileFields}
}

func TestScrapeHappyPath(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{},
		`{"name": "Jordan Parker", "job title": "Senior Engineer", "company": "Acme"}`)

	res, err := f.scraper.Scrape(context.Background(), request("https://example.com/jordan"))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/jordan", res.URL)
	assert.Equal(t, profileFields, res.Data.Keys())
	v, _ := res.Data.Get("name")
	assert.Equal(t, "Jordan Parker", v)
	v, ok := res.Data.Get("location")
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, []string{"company"}, res.Dropped)
	assert.Equal(t, 5, res.Usage.TotalTokens)
	assert.Positive(t, res.TextTokens)

	require.Equal(t, 1, f.backend.calls())
	user := f.backend.payloads[0].Messages[1].Content
	assert.Contains(t, user, "Jordan Parker Senior Engineer")
	assert.NotContains(t, user, "tracking")
	assert.Contains(t, user, `["name","location","job title"]`)

	assert.Equal(t, []string{"https://example.com/jordan"}, f.browser.Navigations)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Extractions.WithLabelValues("ok")))
}

func TestScrapeInstructStyle(t *testing.T) {
	f := newFixture(t, prompt.Instruct, Options{}, "```json\n{\"name\": \"Jordan Parker\"}\n```")

	res, err := f.scraper.Scrape(context.Background(), request("https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, profileFields, res.Data.Keys())
	assert.Equal(t, 1, res.Data.Found())
	assert.Contains(t, f.backend.payloads[0].Prompt, "[INST]")
}

func TestScrapeKeyCompleteness(t *testing.T) {
	for _, reply := range []string{
		`{}`,
		`{"name": null, "location": null, "job title": null}`,
		`{"NAME": "x", "extra": true}`,
		`[{"location": "Lisbon"}]`,
	} {
		f := newFixture(t, prompt.Chat, Options{}, reply)
		res, err := f.scraper.Scrape(context.Background(), request("https://example.com"))
		require.NoError(t, err, reply)
		assert.Equal(t, profileFields, res.Data.Keys(), reply)
		assert.Len(t, res.Data.Map(), len(profileFields), reply)
	}
}

func TestScrapeScrollsWhenAsked(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{}, `{"name": "Jordan Parker"}`)
	f.browser.Heights = []int{100, 250, 250}

	req := request("https://example.com/feed")
	req.Scroll = true
	_, err := f.scraper.Scrape(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.browser.Scrolls)
}

func TestScrapeRemovesOverlays(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{RemoveOverlays: true}, `{}`)
	_, err := f.scraper.Scrape(context.Background(), request("https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.browser.OverlayCleans)
}

func TestScrapeUnparseable(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{}, "Sorry, I cannot help with that.")

	_, err := f.scraper.Scrape(context.Background(), request("https://example.com"))
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeUnparseable, models.CodeOf(err))
	assert.Equal(t, 1, f.backend.calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Extractions.WithLabelValues(models.ErrCodeUnparseable)))
}

func TestScrapeReasksOnUnparseable(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{MaxParseAttempts: 2},
		"I think the name is Jordan", `{"name": "Jordan Parker"}`)

	res, err := f.scraper.Scrape(context.Background(), request("https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.backend.calls())
	v, _ := res.Data.Get("name")
	assert.Equal(t, "Jordan Parker", v)
}

func TestScrapePageUnreachable(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{}, `{}`)
	boom := errors.New("net::ERR_NAME_NOT_RESOLVED")
	f.browser.NavigateErrs = []error{boom, boom, boom}

	_, err := f.scraper.Scrape(context.Background(), request("https://nowhere.invalid"))
	require.Error(t, err)
	assert.Equal(t, models.ErrCodePageUnreachable, models.CodeOf(err))
	assert.Len(t, f.browser.Navigations, 3)
	assert.Equal(t, 0, f.backend.calls())
}

func TestScrapeRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{}, `{}`)
	for _, req := range []*models.ExtractRequest{
		{URL: "ftp://example.com", Fields: []string{"a"}},
		{URL: "https://example.com"},
		{URL: "https://example.com", Fields: []string{"a", "a"}},
		{URL: "not a url", Fields: []string{"a"}},
	} {
		_, err := f.scraper.Scrape(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
	}
	assert.Empty(t, f.browser.Navigations)
}

func TestExtractText(t *testing.T) {
	builder, err := prompt.NewBuilder(prompt.Chat)
	require.NoError(t, err)
	cl, err := cleaner.New("", "", zerolog.Nop())
	require.NoError(t, err)
	backend := &scriptedBackend{style: prompt.Chat, replies: []string{`{"title": "Widget", "price": " "}`}}
	client := llm.NewClient(backend, llm.Options{Policy: retry.Model, Sleep: noSleep}, zerolog.Nop())

	s, err := New(nil, cl, builder, client, Options{}, zerolog.Nop())
	require.NoError(t, err)

	res, err := s.Extract(context.Background(), "Widget, price on request", []string{"title", "price"})
	require.NoError(t, err)
	assert.Empty(t, res.URL)
	v, _ := res.Data.Get("title")
	assert.Equal(t, "Widget", v)
	v, _ = res.Data.Get("price")
	assert.Nil(t, v)

	_, err = s.Scrape(context.Background(), request("https://example.com"))
	assert.Equal(t, models.ErrCodeInternal, models.CodeOf(err))

	_, err = s.Extract(context.Background(), "x", nil)
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
	assert.NoError(t, s.Close())
}

func TestNewRejectsStyleMismatch(t *testing.T) {
	builder, err := prompt.NewBuilder(prompt.Instruct)
	require.NoError(t, err)
	cl, err := cleaner.New("", "", zerolog.Nop())
	require.NoError(t, err)
	client := llm.NewClient(&scriptedBackend{style: prompt.Chat}, llm.DefaultOptions(), zerolog.Nop())

	_, err = New(nil, cl, builder, client, Options{}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))

	_, err = New(nil, nil, builder, client, Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestCloseReleasesBrowser(t *testing.T) {
	f := newFixture(t, prompt.Chat, Options{}, `{}`)
	require.NoError(t, f.scraper.Close())
	assert.Equal(t, 1, f.browser.Closed)
}
