package cleaner

import (
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"
)

// minContentLength is the minimum TextContent length (in characters) for
// readability output to be considered valid. Below this threshold we assume
// the algorithm failed to locate the main content.
const minContentLength = 50

// ExtractContent runs the Mozilla Readability algorithm on rawHTML.
//
// The second return value is false when readability could not be used:
// an unparseable source URL, an extraction error, or text shorter than
// minContentLength. Callers then fall back to the full document.
func ExtractContent(rawHTML string, sourceURL string, log zerolog.Logger) (readability.Article, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		log.Warn().Err(err).Str("url", sourceURL).Msg("readability: invalid source URL")
		return readability.Article{}, false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		log.Warn().Err(err).Str("url", sourceURL).Msg("readability: extraction failed")
		return readability.Article{}, false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		log.Warn().
			Str("url", sourceURL).
			Int("length", len(article.TextContent)).
			Msg("readability: extracted content too short")
		return readability.Article{}, false
	}

	return article, true
}
