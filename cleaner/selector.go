package cleaner

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Narrow returns a document holding only the elements that match selector,
// in document order, inside a fresh body.
//
// If no elements match, the original document is returned unchanged so that
// downstream processing still has something to work with.
func Narrow(doc *goquery.Document, selector string) (*goquery.Document, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	matches := doc.FindMatcher(m)
	if matches.Length() == 0 {
		return doc, nil
	}

	var buf bytes.Buffer
	buf.WriteString("<html><body>")
	for _, node := range matches.Nodes {
		if err := html.Render(&buf, node); err != nil {
			return nil, err
		}
	}
	buf.WriteString("</body></html>")

	return goquery.NewDocumentFromReader(&buf)
}
