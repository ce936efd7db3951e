package providers

import (
	"context"

	"github.com/zhaopengme/toolclaw/pkg/providers/protocoltypes"
)

type ToolCall = protocoltypes.ToolCall
type FunctionCall = protocoltypes.FunctionCall
type LLMResponse = protocoltypes.LLMResponse
type UsageInfo = protocoltypes.UsageInfo
type Message = protocoltypes.Message
type ToolDefinition = protocoltypes.ToolDefinition
type ToolFunctionDefinition = protocoltypes.ToolFunctionDefinition

// LLMProvider is one model backend. Transport and timeout failures are
// returned as errors, never encoded in the response.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// Option keys understood by every adapter.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"
)

const (
	RoleSystem    = protocoltypes.RoleSystem
	RoleUser      = protocoltypes.RoleUser
	RoleAssistant = protocoltypes.RoleAssistant
	RoleTool      = protocoltypes.RoleTool
)
