package llm

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/cache"
	"github.com/use-agent/llmscrape/config"
	"github.com/use-agent/llmscrape/metrics"
	"github.com/use-agent/llmscrape/prompt"
	"github.com/use-agent/llmscrape/retry"
)

// Preset describes a quantized local model served by an OpenAI-compatible
// server (llama.cpp, vLLM) under its model file name.
type Preset struct {
	Repo  string
	Model string
	Style prompt.Style
	Stop  []string
}

// Presets are the known local instruct models.
var Presets = map[string]Preset{
	"llama2": {
		Repo:  "TheBloke/Llama-2-7B-GGUF",
		Model: "llama-2-7b.Q4_K_M.gguf",
		Style: prompt.Instruct,
		Stop:  []string{"[INST]", "</s>"},
	},
	"mistral": {
		Repo:  "TheBloke/Mistral-7B-v0.1-GGUF",
		Model: "mistral-7b-v0.1.Q4_K_M.gguf",
		Style: prompt.Instruct,
		Stop:  []string{"[INST]", "</s>"},
	},
	"mistral-instruct": {
		Repo:  "TheBloke/Mistral-7B-Instruct-v0.1-GGUF",
		Model: "mistral-7b-instruct-v0.1.Q4_K_M.gguf",
		Style: prompt.Instruct,
		Stop:  []string{"[INST]", "</s>"},
	},
}

// PresetNames lists Presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FromConfig builds a Client from environment configuration. A preset fixes
// the style, model and stop sequences; otherwise Style picks the backend.
func FromConfig(cfg config.LLMConfig, rec *metrics.Recorder, log zerolog.Logger) (*Client, error) {
	style, err := prompt.ParseStyle(cfg.Style)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	var stop []string
	if cfg.Preset != "" {
		p, ok := Presets[cfg.Preset]
		if !ok {
			return nil, fmt.Errorf("unknown llm preset %q (known: %v)", cfg.Preset, PresetNames())
		}
		style, model, stop = p.Style, p.Model, p.Stop
	}

	oc := NewOpenAI(cfg.BaseURL, cfg.APIKey)

	var backend Backend
	switch style {
	case prompt.Instruct:
		backend = NewCompletionBackend(oc, model,
			WithCompletionTemperature(cfg.Temperature),
			WithCompletionMaxTokens(cfg.MaxOutputTokens),
			WithStop(stop...),
		)
	default:
		backend = NewChatBackend(oc, model,
			WithTemperature(cfg.Temperature),
			WithMaxTokens(cfg.MaxOutputTokens),
			WithJSONMode(cfg.JSONMode),
		)
	}

	opts := Options{
		Policy: retry.Policy{
			MaxAttempts: cfg.Attempts,
			MinDelay:    cfg.MinDelay,
			MaxDelay:    cfg.MaxDelay,
		},
		Timeout: cfg.Timeout,
		Metrics: rec,
	}
	if cfg.CacheEntries > 0 {
		opts.Cache = cache.New[Response](cfg.CacheEntries, cfg.CacheTTL)
	}

	log.Info().
		Str("style", string(style)).
		Str("model", model).
		Str("base_url", cfg.BaseURL).
		Bool("cache", opts.Cache != nil).
		Msg("model client configured")

	return NewClient(backend, opts, log), nil
}
