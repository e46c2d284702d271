// Package prompt builds model input asking for a JSON record with a fixed
// set of keys, framed either as chat messages or as a single instruct blob.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/tokens"
)

// Style selects how the request is framed for the model.
type Style string

const (
	// Chat sends a system message and a user message.
	Chat Style = "chat"
	// Instruct sends one text blob with <<SYS>> and [INST] markers, for
	// instruction-tuned completion models.
	Instruct Style = "instruct"
)

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case Chat, Instruct:
		return Style(s), nil
	default:
		return "", fmt.Errorf("unknown prompt style %q", s)
	}
}

// Roles used in chat payloads.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// SystemPrompt is the assistant's standing instruction.
const SystemPrompt = "You are a web-scraping assistant. You receive HTML or raw text and extract the JSON record that matches the user's requested fields."

// Contract is the output requirement shared by both styles.
const Contract = "Return only a valid JSON object and nothing else. The JSON object must contain exactly the keys listed in Required Fields. If an item is not found, use null for its value."

const userTemplate = `Given the following input, extract the JSON record with the required fields.
Input
---
%s
---
Required Fields
---
%s
---
%s`

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Payload is the fully built model input for one extraction call.
type Payload struct {
	Style Style

	// Messages is set for Chat.
	Messages []Message

	// Prompt is set for Instruct.
	Prompt string

	// Fields are the requested keys in request order.
	Fields []string

	// TextTokens is the token count of the embedded text.
	TextTokens int
	// Truncated reports that the text was cut to fit MaxTextTokens.
	Truncated bool
}

// Key returns the exact model input, used as the response cache key.
func (p Payload) Key() string {
	if p.Style == Instruct {
		return p.Prompt
	}
	var b strings.Builder
	for _, m := range p.Messages {
		b.WriteString(m.Role)
		b.WriteByte('\x00')
		b.WriteString(m.Content)
		b.WriteByte('\x00')
	}
	return b.String()
}

// Builder builds payloads for one style.
type Builder struct {
	style         Style
	counter       tokens.Counter
	maxTextTokens int
	log           zerolog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxTextTokens cuts the page text to n tokens. 0 disables the limit.
func WithMaxTextTokens(n int) Option {
	return func(b *Builder) { b.maxTextTokens = n }
}

// WithCounter sets the token counter. Defaults to tokens.Heuristic.
func WithCounter(c tokens.Counter) Option {
	return func(b *Builder) { b.counter = c }
}

// WithLogger sets the logger used for truncation warnings.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// NewBuilder returns a Builder for style.
func NewBuilder(style Style, opts ...Option) (*Builder, error) {
	if _, err := ParseStyle(string(style)); err != nil {
		return nil, err
	}
	b := &Builder{style: style, counter: tokens.Heuristic{}, log: zerolog.Nop()}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Style reports the framing this builder produces.
func (b *Builder) Style() Style { return b.style }

// Build embeds text and fields into a payload. The field list is rendered as
// a JSON array so keys with spaces or punctuation survive intact.
func (b *Builder) Build(text string, fields []string) Payload {
	p := Payload{Style: b.style, Fields: append([]string(nil), fields...)}

	p.TextTokens = b.counter.Count(text)
	if b.maxTextTokens > 0 && p.TextTokens > b.maxTextTokens {
		b.log.Warn().
			Int("tokens", p.TextTokens).
			Int("limit", b.maxTextTokens).
			Msg("page text exceeds token limit, truncating")
		text = b.counter.Truncate(text, b.maxTextTokens)
		p.TextTokens = b.counter.Count(text)
		p.Truncated = true
	}

	user := fmt.Sprintf(userTemplate, text, FieldList(fields), Contract)

	switch b.style {
	case Instruct:
		p.Prompt = "<<SYS>>\n" + SystemPrompt + "\n<</SYS>>\n\n[INST]\n" + user + "\n[/INST]\n"
	default:
		p.Messages = []Message{
			{Role: RoleSystem, Content: SystemPrompt},
			{Role: RoleUser, Content: user},
		}
	}
	return p
}

// FieldList renders fields as a JSON array.
func FieldList(fields []string) string {
	if fields == nil {
		fields = []string{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "[]"
	}
	return string(b)
}
