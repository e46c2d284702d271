package cleaner

import (
	"slices"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/llmscrape/models"
)

func parse(t *testing.T, src string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

const productPage = `<!DOCTYPE html>
<html>
<head><title>Widget</title><style>body { color: red }</style></head>
<body>
  <nav>Home  |  Shop</nav>
  <script>var tracking = "ignore me";</script>
  <div class="product">
    <h1>  Acme Widget  </h1>
    <p>Price: <b>$19.99</b></p>
    <!-- hidden comment -->
    <noscript>enable js</noscript>
  </div>
</body>
</html>`

func TestToPlainText(t *testing.T) {
	got := ToPlainText(parse(t, productPage))
	assert.Equal(t, "Home  |  Shop Acme Widget Price: $19.99", got)
}

func TestToPlainTextEmptyBody(t *testing.T) {
	assert.Equal(t, "", ToPlainText(parse(t, "<html><body>  \n </body></html>")))
}

func TestToPlainTextFragment(t *testing.T) {
	assert.Equal(t, "a b", ToPlainText(parse(t, "<p>a</p><p>b</p>")))
}

func TestNarrow(t *testing.T) {
	doc, err := Narrow(parse(t, productPage), "div.product h1, div.product p")
	require.NoError(t, err)
	assert.Equal(t, "Acme Widget Price: $19.99", ToPlainText(doc))
}

func TestNarrowNoMatchKeepsDocument(t *testing.T) {
	orig := parse(t, productPage)
	doc, err := Narrow(orig, "table.specs")
	require.NoError(t, err)
	assert.Same(t, orig, doc)
}

func TestNarrowInvalidSelector(t *testing.T) {
	_, err := Narrow(parse(t, productPage), "div[")
	assert.Error(t, err)
}

func TestCleanerTextMode(t *testing.T) {
	c, err := New("", "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ModeText, c.Mode())

	got, err := c.Text(parse(t, productPage), "")
	require.NoError(t, err)
	assert.Equal(t, "Home  |  Shop Acme Widget Price: $19.99", got)
}

func TestCleanerSelector(t *testing.T) {
	c, err := New(ModeText, "h1", zerolog.Nop())
	require.NoError(t, err)
	got, err := c.Text(parse(t, productPage), "")
	require.NoError(t, err)
	assert.Equal(t, "Acme Widget", got)
}

func TestCleanerBadSelector(t *testing.T) {
	c, err := New(ModeText, "::[", zerolog.Nop())
	require.NoError(t, err)
	_, err = c.Text(parse(t, productPage), "")
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
}

func TestCleanerReadabilityFallsBackOnShortPages(t *testing.T) {
	c, err := New(ModeReadability, "", zerolog.Nop())
	require.NoError(t, err)
	got, err := c.Text(parse(t, productPage), "https://shop.example.com/widget")
	require.NoError(t, err)
	assert.Contains(t, got, "Acme Widget")
}

func TestCleanerReadabilityArticle(t *testing.T) {
	body := strings.Repeat("<p>The quarterly report shows steady growth across every region we track. </p>", 12)
	page := "<html><head><title>Report</title></head><body><nav>menu</nav><article><h1>Q3 Report</h1>" + body + "</article></body></html>"

	c, err := New(ModeReadability, "", zerolog.Nop())
	require.NoError(t, err)
	got, err := c.Text(parse(t, page), "https://news.example.com/q3")
	require.NoError(t, err)
	assert.Contains(t, got, "steady growth")
	assert.NotContains(t, got, "\n\n")
}

func TestCleanerMarkdown(t *testing.T) {
	c, err := New(ModeMarkdown, "", zerolog.Nop())
	require.NoError(t, err)
	got, err := c.Text(parse(t, `<html><body><h1>Title</h1><p>See <a href="/docs">docs</a></p></body></html>`), "https://example.com")
	require.NoError(t, err)
	assert.Contains(t, got, "# Title")
	assert.Contains(t, got, "[docs](https://example.com/docs)")
}

func TestMarkdownKeepsTableRows(t *testing.T) {
	md, err := markdownConverter().ConvertString(`<table>
<tr><th>Field</th><th>Value</th></tr>
<tr><td>Name</td><td>Jordan Parker</td></tr>
<tr><td>Location</td><td>Lisbon</td></tr>
</table>`)
	require.NoError(t, err)

	var rows []string
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "|") {
			rows = append(rows, line)
		}
	}
	require.NotEmpty(t, rows, md)
	assert.True(t, slices.ContainsFunc(rows, func(r string) bool {
		return strings.Contains(r, "Name") && strings.Contains(r, "Jordan Parker")
	}), md)
	assert.True(t, slices.ContainsFunc(rows, func(r string) bool {
		return strings.Contains(r, "Location") && strings.Contains(r, "Lisbon")
	}), md)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New("html", "", zerolog.Nop())
	assert.Error(t, err)
}
