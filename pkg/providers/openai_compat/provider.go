// ToolClaw - tool-calling agent orchestration engine
// License: MIT
//
// Copyright (c) 2026 ToolClaw contributors

// Package openaicompat adapts any OpenAI Chat Completions compatible endpoint
// (OpenAI, Groq, Qwen/DashScope, Gemini's compatibility layer, Ollama) to
// providers.LLMProvider.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/zhaopengme/toolclaw/pkg/providers/protocoltypes"
)

type (
	ToolCall       = protocoltypes.ToolCall
	LLMResponse    = protocoltypes.LLMResponse
	UsageInfo      = protocoltypes.UsageInfo
	Message        = protocoltypes.Message
	ToolDefinition = protocoltypes.ToolDefinition
)

type Provider struct {
	client  *openai.Client
	name    string
	baseURL string
	model   string
}

// NewProvider builds an adapter named name (used in errors and logs). An
// empty apiKey is allowed for local servers.
func NewProvider(name, apiKey, apiBase, model string) *Provider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		opts = append(opts, option.WithAPIKey("unused"))
	}
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	client := openai.NewClient(opts...)
	return &Provider{client: &client, name: name, baseURL: base, model: model}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) GetDefaultModel() string { return p.model }

func (p *Provider) BaseURL() string { return p.baseURL }

func (p *Provider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	if model == "" {
		model = p.model
	}
	params := buildParams(messages, tools, model, options)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &StatusError{Provider: p.name, Status: statusOf(err), Err: err}
	}
	return parseResponse(resp), nil
}

// StatusError carries the HTTP status of a failed call, 0 for transport
// failures.
type StatusError struct {
	Provider string
	Status   int
	Err      error
}

func (e *StatusError) Error() string   { return e.Provider + ": " + e.Err.Error() }
func (e *StatusError) Unwrap() error   { return e.Err }
func (e *StatusError) HTTPStatus() int { return e.Status }

func statusOf(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func buildParams(messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) openai.ChatCompletionNewParams {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case protocoltypes.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case protocoltypes.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case protocoltypes.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				if msg.Content != "" {
					out = append(out, openai.AssistantMessage(msg.Content))
				}
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			for _, tc := range msg.ToolCalls {
				args := "{}"
				if tc.Function != nil && tc.Function.Arguments != "" {
					args = tc.Function.Arguments
				} else if tc.Arguments != nil {
					if b, err := json.Marshal(tc.Arguments); err == nil {
						args = string(b)
					}
				}
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: args,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case protocoltypes.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: out,
	}
	if mt, ok := options["max_tokens"].(int); ok && mt > 0 {
		params.MaxTokens = openai.Int(int64(mt))
	}
	if temp, ok := options["temperature"].(float64); ok {
		params.Temperature = openai.Float(temp)
	}
	for _, t := range tools {
		fn := openai.FunctionDefinitionParam{
			Name:       t.Function.Name,
			Parameters: openai.FunctionParameters(t.Function.Parameters),
		}
		if t.Function.Description != "" {
			fn.Description = openai.String(t.Function.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(fn))
	}
	return params
}

func parseResponse(resp *openai.ChatCompletion) *LLMResponse {
	out := &LLMResponse{FinishReason: "stop"}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &UsageInfo{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	if choice.FinishReason != "" {
		out.FinishReason = string(choice.FinishReason)
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{"raw": tc.Function.Arguments}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: args,
			Function:  &protocoltypes.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return out
}
