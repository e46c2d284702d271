package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/llmscrape/tokens"
)

const pageText = "Jordan Parker Senior Engineer Based in Lisbon, Portugal"

var fields = []string{"name", "location", "job title"}

func build(t *testing.T, style Style, opts ...Option) Payload {
	t.Helper()
	b, err := NewBuilder(style, opts...)
	require.NoError(t, err)
	return b.Build(pageText, fields)
}

func TestChatPayload(t *testing.T) {
	p := build(t, Chat)

	assert.Equal(t, Chat, p.Style)
	assert.Empty(t, p.Prompt)
	require.Len(t, p.Messages, 2)
	assert.Equal(t, RoleSystem, p.Messages[0].Role)
	assert.Contains(t, p.Messages[0].Content, "web-scraping assistant")
	assert.Equal(t, RoleUser, p.Messages[1].Role)
	assert.Contains(t, p.Messages[1].Content, pageText)
	assert.Contains(t, p.Messages[1].Content, `["name","location","job title"]`)
	assert.Equal(t, fields, p.Fields)
}

func TestInstructPayload(t *testing.T) {
	p := build(t, Instruct)

	assert.Empty(t, p.Messages)
	assert.True(t, strings.HasPrefix(p.Prompt, "<<SYS>>\n"))
	assert.Contains(t, p.Prompt, "<</SYS>>")
	assert.Contains(t, p.Prompt, "[INST]")
	assert.True(t, strings.HasSuffix(p.Prompt, "[/INST]\n"))
	assert.Less(t, strings.Index(p.Prompt, "<</SYS>>"), strings.Index(p.Prompt, "[INST]"))
}

func TestStylesCarrySameContract(t *testing.T) {
	chat := build(t, Chat)
	inst := build(t, Instruct)

	chatAll := chat.Messages[0].Content + "\n" + chat.Messages[1].Content
	for _, want := range []string{
		pageText,
		FieldList(fields),
		SystemPrompt,
		Contract,
		"valid JSON object and nothing else",
		"use null",
	} {
		assert.Contains(t, chatAll, want)
		assert.Contains(t, inst.Prompt, want)
	}
	assert.Contains(t, inst.Prompt, chat.Messages[1].Content)
	assert.Equal(t, chat.TextTokens, inst.TextTokens)
}

func TestFieldOrderPreserved(t *testing.T) {
	b, err := NewBuilder(Chat)
	require.NoError(t, err)
	p1 := b.Build("x", []string{"b", "a"})
	p2 := b.Build("x", []string{"a", "b"})
	assert.Contains(t, p1.Messages[1].Content, `["b","a"]`)
	assert.NotEqual(t, p1.Key(), p2.Key())
	assert.Equal(t, p1.Key(), b.Build("x", []string{"b", "a"}).Key())
}

func TestTruncation(t *testing.T) {
	long := strings.Repeat("word ", 600)
	b, err := NewBuilder(Chat, WithMaxTextTokens(100), WithCounter(tokens.Heuristic{}))
	require.NoError(t, err)

	p := b.Build(long, fields)
	assert.True(t, p.Truncated)
	assert.LessOrEqual(t, p.TextTokens, 100)
	assert.NotContains(t, p.Messages[1].Content, long)
}

func TestNoTruncationByDefault(t *testing.T) {
	long := strings.Repeat("word ", 600)
	b, err := NewBuilder(Instruct)
	require.NoError(t, err)
	p := b.Build(long, fields)
	assert.False(t, p.Truncated)
	assert.Contains(t, p.Prompt, long)
}

func TestParseStyle(t *testing.T) {
	s, err := ParseStyle("instruct")
	require.NoError(t, err)
	assert.Equal(t, Instruct, s)

	_, err = ParseStyle("completion")
	assert.Error(t, err)

	_, err = NewBuilder("raw")
	assert.Error(t, err)
}

func TestFieldListEscapes(t *testing.T) {
	assert.Equal(t, `["a \"quoted\" key"]`, FieldList([]string{`a "quoted" key`}))
	assert.Equal(t, `[]`, FieldList(nil))
}
