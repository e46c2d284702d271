// Package cleaner turns a rendered document into the text handed to the model.
package cleaner

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/models"
)

// Text modes.
const (
	ModeText        = "text"
	ModeReadability = "readability"
	ModeMarkdown    = "markdown"
)

// Cleaner produces model input from a document:
//
//	Stage 1 (selector):  optionally narrow the document to matching elements
//	Stage 2 (mode):      plain text of the body, readability main-content
//	                     text, or readability content rendered as Markdown
//
// The converter is created once and reused (goroutine-safe).
type Cleaner struct {
	mode        string
	selector    string
	mdConverter *converter.Converter
	log         zerolog.Logger
}

// New returns a Cleaner for the given mode ("" means text) and optional
// CSS selector.
func New(mode, selector string, log zerolog.Logger) (*Cleaner, error) {
	switch mode {
	case "":
		mode = ModeText
	case ModeText, ModeReadability, ModeMarkdown:
	default:
		return nil, fmt.Errorf("unknown cleaner mode %q", mode)
	}
	return &Cleaner{
		mode:        mode,
		selector:    selector,
		mdConverter: markdownConverter(),
		log:         log,
	}, nil
}

// markdownConverter keeps tables as pipe rows. Spec sheets and contact
// blocks are often tables, and a label next to its value on one row is
// what lets the model pair them up. Padding stays minimal so wide tables
// don't burn tokens on alignment spaces.
func markdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
		),
	)
}

// FromConfig builds a Cleaner from environment configuration.
func FromConfig(cfg config.CleanerConfig, log zerolog.Logger) (*Cleaner, error) {
	return New(cfg.Mode, cfg.Selector, log)
}

// Mode reports the configured text mode.
func (c *Cleaner) Mode() string { return c.mode }

// Text runs the pipeline. sourceURL resolves relative links and feeds
// readability; it may be empty in text mode.
func (c *Cleaner) Text(doc *goquery.Document, sourceURL string) (string, error) {
	// ── 1. Selector ─────────────────────────────────────────────────
	if c.selector != "" {
		narrowed, err := Narrow(doc, c.selector)
		if err != nil {
			return "", models.NewScrapeError(models.ErrCodeInvalidInput, "bad content selector", err)
		}
		doc = narrowed
	}

	if c.mode == ModeText {
		return ToPlainText(doc), nil
	}

	// ── 2. Readability ──────────────────────────────────────────────
	rawHTML, err := doc.Html()
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeRender, "failed to serialize document", err)
	}
	article, ok := ExtractContent(rawHTML, sourceURL, c.log)

	if c.mode == ModeReadability {
		if !ok {
			return ToPlainText(doc), nil
		}
		return squashLines(article.TextContent), nil
	}

	// ── 3. Markdown ─────────────────────────────────────────────────
	content := rawHTML
	if ok {
		content = article.Content
	}
	md, err := c.mdConverter.ConvertString(content, converter.WithDomain(sourceURL))
	if err != nil {
		c.log.Warn().Err(err).Str("url", sourceURL).Msg("markdown conversion failed, using plain text")
		return ToPlainText(doc), nil
	}
	return md, nil
}
