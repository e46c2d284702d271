// Package llm invokes an OpenAI-compatible model with a built prompt payload
// under a per-attempt timeout and a bounded retry policy.
package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"github.com/use-agent/llmscrape/models"
	"github.com/use-agent/llmscrape/prompt"
)

// Response is the raw model reply for one payload.
type Response struct {
	Text  string
	Usage *models.LLMUsage
	// Cached reports that the reply came from the response cache.
	Cached bool
}

// Backend sends one payload to a model. It performs a single attempt; the
// Client owns timeouts and retries.
type Backend interface {
	// Style is the prompt framing this backend accepts.
	Style() prompt.Style
	// Name identifies the model, for logs and cache keys.
	Name() string
	Complete(ctx context.Context, p prompt.Payload) (*Response, error)
}

// ChatCompleter is the chat-completions subset of *openai.Client.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Completer is the legacy completions subset of *openai.Client, which local
// servers such as llama.cpp and vLLM expose for raw prompts.
type Completer interface {
	CreateCompletion(ctx context.Context, request openai.CompletionRequest) (openai.CompletionResponse, error)
}

func usage(u openai.Usage) *models.LLMUsage {
	return &models.LLMUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
