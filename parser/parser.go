// Package parser turns free-text model output into a key-complete record.
package parser

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/use-agent/llmscrape/models"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// ErrUnparseable is wrapped by the UNPARSEABLE_RESULT error returned when no
// JSON object can be recovered from the model output.
var ErrUnparseable = errors.New("no JSON object in model output")

const previewLen = 120

// Parse recovers a JSON object from raw and reconciles it against fields.
//
// Recovery order: the whole (fence-stripped) text as one strict JSON value,
// then each top-level balanced {...} span from left to right, tried strictly
// and then as JSON5. An unclosed span ends the search. A top-level array holding exactly one object is unwrapped.
//
// Reconciliation: requested keys are matched exactly, then case-insensitively.
// Missing keys and blank strings become nil. Keys the model invented are
// dropped and returned sorted in dropped.
func Parse(raw string, fields []string) (rec *models.Record, dropped []string, err error) {
	obj, ok := recoverObject(raw)
	if !ok {
		return nil, nil, models.NewScrapeError(models.ErrCodeUnparseable,
			"model output contains no JSON object: "+preview(raw), ErrUnparseable)
	}
	rec, dropped = reconcile(obj, fields)
	return rec, dropped, nil
}

func recoverObject(raw string) (map[string]any, bool) {
	s := stripFences(strings.TrimSpace(raw))
	if s == "" {
		return nil, false
	}
	if obj, ok := decodeStrict(s); ok {
		return obj, true
	}
	// Only top-level spans are candidates. An opener that never closes means
	// the reply was cut off; anything nested inside it is a field value, not
	// the record.
	for start := strings.IndexByte(s, '{'); start >= 0; {
		end := matchBrace(s, start)
		if end < 0 {
			return nil, false
		}
		span := s[start : end+1]
		if obj, ok := decodeStrict(span); ok {
			return obj, true
		}
		if obj, ok := decodeLenient(span); ok {
			return obj, true
		}
		next := strings.IndexByte(s[end+1:], '{')
		if next < 0 {
			break
		}
		start = end + 1 + next
	}
	return nil, false
}

// stripFences removes a surrounding Markdown code fence such as ```json.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside double- or single-quoted strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeStrict accepts exactly one JSON value that is an object or a
// one-element array holding an object.
func decodeStrict(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return asObject(v)
}

func decodeLenient(s string) (map[string]any, bool) {
	var v any
	if err := json5.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return asObject(numbers(v))
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		if len(t) == 1 {
			if m, ok := t[0].(map[string]any); ok {
				return m, true
			}
		}
	}
	return nil, false
}

// numbers rewrites float64 values into json.Number so both decoding paths
// produce the same types.
func numbers(v any) any {
	switch t := v.(type) {
	case float64:
		return json.Number(strconv.FormatFloat(t, 'f', -1, 64))
	case int64:
		return json.Number(strconv.FormatInt(t, 10))
	case int:
		return json.Number(strconv.Itoa(t))
	case map[string]any:
		for k, x := range t {
			t[k] = numbers(x)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = numbers(x)
		}
		return t
	default:
		return v
	}
}

func reconcile(obj map[string]any, fields []string) (*models.Record, []string) {
	rec := models.NewRecord(fields)
	used := make(map[string]bool, len(obj))
	found := make(map[string]bool, len(fields))

	for _, f := range fields {
		if v, ok := obj[f]; ok {
			rec.Set(f, normalize(v))
			used[f] = true
			found[f] = true
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, f := range fields {
		if found[f] {
			continue
		}
		for _, k := range keys {
			if used[k] || !strings.EqualFold(strings.TrimSpace(k), strings.TrimSpace(f)) {
				continue
			}
			rec.Set(f, normalize(obj[k]))
			used[k] = true
			break
		}
	}

	var dropped []string
	for _, k := range keys {
		if !used[k] {
			dropped = append(dropped, k)
		}
	}
	return rec, dropped
}

// normalize maps "not found" spellings to nil.
func normalize(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if t == "" || strings.EqualFold(t, "null") {
		return nil
	}
	return s
}

func preview(raw string) string {
	raw = strings.Join(strings.Fields(raw), " ")
	if len(raw) <= previewLen {
		return strconv.Quote(raw)
	}
	cut := previewLen
	for cut > 0 && !utf8Start(raw[cut]) {
		cut--
	}
	return strconv.Quote(raw[:cut] + "…")
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
