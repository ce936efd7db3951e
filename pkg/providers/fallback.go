package providers

import (
	"context"
	"strings"

	"github.com/zhaopengme/toolclaw/pkg/logger"
)

// FallbackProvider is the secondary model the orchestrator turns to when
// the primary tool-calling path cannot produce an answer. It is a plain
// prompt-in, text-out call with no tools.
type FallbackProvider struct {
	provider    LLMProvider
	model       string
	maxTokens   int
	temperature float64
}

func NewFallbackProvider(provider LLMProvider, model string, maxTokens int, temperature float64) *FallbackProvider {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &FallbackProvider{provider: provider, model: model, maxTokens: maxTokens, temperature: temperature}
}

func (f *FallbackProvider) Model() string { return f.model }

// GenerateText sends prompt as a single user message. An empty reply is an
// error, never a valid answer.
func (f *FallbackProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	msgs := []Message{{Role: "user", Content: prompt}}
	opts := map[string]interface{}{
		OptMaxTokens:   f.maxTokens,
		OptTemperature: f.temperature,
	}

	resp, err := f.provider.Chat(ctx, msgs, nil, f.model, opts)
	if err != nil {
		return "", WrapError("fallback", f.model, 0, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", WrapError("fallback", f.model, 0, ErrEmptyResponse)
	}

	logger.DebugCF("provider", "Fallback answer generated", map[string]interface{}{
		"model":  f.model,
		"length": len(text),
	})
	return text, nil
}
