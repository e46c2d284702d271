package llm

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/prompt"
)

// NewOpenAI returns a go-openai client for an OpenAI-compatible endpoint.
// An empty apiKey is allowed for local servers.
func NewOpenAI(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// temperature maps 0 to the smallest positive float32, since go-openai omits
// a zero temperature and the server would fall back to its own default.
func temperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// ChatBackend sends chat payloads to /chat/completions.
type ChatBackend struct {
	client      ChatCompleter
	model       string
	temperature float32
	maxTokens   int
	jsonMode    bool
}

// ChatOption configures a ChatBackend.
type ChatOption func(*ChatBackend)

// WithTemperature sets the sampling temperature. Defaults to 0.
func WithTemperature(t float32) ChatOption {
	return func(b *ChatBackend) { b.temperature = t }
}

// WithMaxTokens caps the reply length. 0 leaves it to the server.
func WithMaxTokens(n int) ChatOption {
	return func(b *ChatBackend) { b.maxTokens = n }
}

// WithJSONMode asks the server to constrain output to a JSON object.
func WithJSONMode(on bool) ChatOption {
	return func(b *ChatBackend) { b.jsonMode = on }
}

// NewChatBackend returns a chat-style backend for model.
func NewChatBackend(client ChatCompleter, model string, opts ...ChatOption) *ChatBackend {
	b := &ChatBackend{client: client, model: model}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *ChatBackend) Style() prompt.Style { return prompt.Chat }
func (b *ChatBackend) Name() string        { return b.model }

// Complete sends the payload's messages.
func (b *ChatBackend) Complete(ctx context.Context, p prompt.Payload) (*Response, error) {
	if p.Style != prompt.Chat {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("chat backend cannot send %q payload", p.Style), nil)
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    msgs,
		Temperature: temperature(b.temperature),
		MaxTokens:   b.maxTokens,
	}
	if b.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "model returned no choices", nil)
	}
	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Usage: usage(resp.Usage),
	}, nil
}

// CompletionBackend sends instruct payloads as raw prompts to /completions.
type CompletionBackend struct {
	client      Completer
	model       string
	temperature float32
	maxTokens   int
	stop        []string
}

// CompletionOption configures a CompletionBackend.
type CompletionOption func(*CompletionBackend)

// WithCompletionTemperature sets the sampling temperature. Defaults to 0.
func WithCompletionTemperature(t float32) CompletionOption {
	return func(b *CompletionBackend) { b.temperature = t }
}

// WithCompletionMaxTokens caps the reply length.
func WithCompletionMaxTokens(n int) CompletionOption {
	return func(b *CompletionBackend) { b.maxTokens = n }
}

// WithStop sets stop sequences, typically the model's turn markers.
func WithStop(stop ...string) CompletionOption {
	return func(b *CompletionBackend) { b.stop = stop }
}

// NewCompletionBackend returns an instruct-style backend for model.
func NewCompletionBackend(client Completer, model string, opts ...CompletionOption) *CompletionBackend {
	b := &CompletionBackend{client: client, model: model}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *CompletionBackend) Style() prompt.Style { return prompt.Instruct }
func (b *CompletionBackend) Name() string        { return b.model }

// Complete sends the payload's prompt text.
func (b *CompletionBackend) Complete(ctx context.Context, p prompt.Payload) (*Response, error) {
	if p.Style != prompt.Instruct {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("completion backend cannot send %q payload", p.Style), nil)
	}

	resp, err := b.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       b.model,
		Prompt:      p.Prompt,
		Temperature: temperature(b.temperature),
		MaxTokens:   b.maxTokens,
		Stop:        b.stop,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "model returned no choices", nil)
	}
	return &Response{
		Text:  resp.Choices[0].Text,
		Usage: usage(resp.Usage),
	}, nil
}
