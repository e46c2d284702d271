// Package tokens counts and truncates model input.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures text in model tokens.
type Counter interface {
	Count(text string) int
	// Truncate returns the longest prefix of text that fits in max tokens.
	Truncate(text string, max int) string
}

// Heuristic estimates tokens without a vocabulary.
//
// Heuristic: utf8 rune count / 3. English averages ~4 chars/token and CJK
// ~1.5, so dividing by 3 slightly over-estimates mixed content.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if est := n / 3; est > 0 {
		return est
	}
	return 1
}

func (Heuristic) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	limit := max * 3
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	i := 0
	for pos := range text {
		if i == limit {
			return text[:pos]
		}
		i++
	}
	return text
}

// Tiktoken counts with the BPE vocabulary of an OpenAI model.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= max {
		return text
	}
	return t.enc.Decode(ids[:max])
}

var (
	encoderCache   = make(map[string]*tiktoken.Tiktoken)
	encoderCacheMu sync.Mutex
)

// encoderFor returns a cached encoder for model, falling back to
// cl100k_base for models tiktoken does not know.
func encoderFor(model string) (*tiktoken.Tiktoken, error) {
	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()

	if enc, ok := encoderCache[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	encoderCache[model] = enc
	return enc, nil
}

// ForModel returns a tiktoken counter for model, or the Heuristic when the
// vocabulary cannot be loaded (it is fetched on first use).
func ForModel(model string) Counter {
	enc, err := encoderFor(model)
	if err != nil {
		return Heuristic{}
	}
	return &Tiktoken{enc: enc}
}
