// ToolClaw - tool-calling agent orchestration engine
// License: MIT
//
// Copyright (c) 2026 ToolClaw contributors

package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/zhaopengme/toolclaw/pkg/config"
	anthropicprovider "github.com/zhaopengme/toolclaw/pkg/providers/anthropic"
	openaicompat "github.com/zhaopengme/toolclaw/pkg/providers/openai_compat"
)

type vendorPreset struct {
	apiBase string
	keyEnv  string
}

// Vendors reachable through the OpenAI-compatible adapter.
var openAICompatVendors = map[string]vendorPreset{
	"openai": {"https://api.openai.com/v1", "OPENAI_API_KEY"},
	"groq":   {"https://api.groq.com/openai/v1", "GROQ_API_KEY"},
	"qwen":   {"https://dashscope.aliyuncs.com/compatible-mode/v1", "DASHSCOPE_API_KEY"},
	"gemini": {"https://generativelanguage.googleapis.com/v1beta/openai", "GEMINI_API_KEY"},
	"ollama": {"http://localhost:11434/v1", ""},
	"local":  {"http://localhost:11434/v1", ""},
	"vllm":   {"http://localhost:8000/v1", ""},
}

// CreateProvider builds the adapter for one model_list entry and returns it
// together with the vendor-local model id to pass to Chat.
func CreateProvider(mc *config.ModelConfig) (LLMProvider, string, error) {
	if mc == nil {
		return nil, "", fmt.Errorf("nil model config")
	}
	vendor := mc.Vendor()
	modelID := mc.ModelID()
	if vendor == "" {
		vendor = inferVendor(modelID)
	}

	var p LLMProvider
	switch vendor {
	case "anthropic", "claude":
		key := firstNonEmpty(mc.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, "", fmt.Errorf("no API key configured for %s", mc.ModelName)
		}
		p = anthropicprovider.NewProvider(key, mc.APIBase, modelID)
	default:
		preset, ok := openAICompatVendors[vendor]
		if !ok {
			return nil, "", fmt.Errorf("unsupported provider %q for model %s", vendor, mc.ModelName)
		}
		key := mc.APIKey
		if key == "" && preset.keyEnv != "" {
			key = os.Getenv(preset.keyEnv)
		}
		if key == "" && preset.keyEnv != "" {
			return nil, "", fmt.Errorf("no API key configured for %s", mc.ModelName)
		}
		p = openaicompat.NewProvider(vendor, key, firstNonEmpty(mc.APIBase, preset.apiBase), modelID)
	}

	return &classifying{inner: p, vendor: vendor}, modelID, nil
}

func inferVendor(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gemini"):
		return "gemini"
	case strings.HasPrefix(m, "qwen"):
		return "qwen"
	case strings.HasPrefix(m, "llama"), strings.HasPrefix(m, "mixtral"):
		return "groq"
	default:
		return "openai"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// classifying wraps every adapter error in a *ProviderError so callers can
// branch on the reason without knowing the vendor SDK.
type classifying struct {
	inner  LLMProvider
	vendor string
}

func (c *classifying) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	resp, err := c.inner.Chat(ctx, messages, tools, model, options)
	if err != nil {
		return nil, WrapError(c.vendor, model, 0, err)
	}
	return resp, nil
}

func (c *classifying) GetDefaultModel() string {
	return c.inner.GetDefaultModel()
}
