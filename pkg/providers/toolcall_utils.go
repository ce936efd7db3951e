// ToolClaw - tool-calling agent orchestration engine
// License: MIT
//
// Copyright (c) 2026 ToolClaw contributors

package providers

import (
	"encoding/json"

	"github.com/google/uuid"
)

// NormalizeToolCall makes Name/Arguments and the Function wire form agree,
// whichever side the adapter filled in, and assigns an id when the vendor
// did not send one.
func NormalizeToolCall(tc ToolCall) ToolCall {
	normalized := tc

	if normalized.Name == "" && normalized.Function != nil {
		normalized.Name = normalized.Function.Name
	}

	if len(normalized.Arguments) == 0 && normalized.Function != nil && normalized.Function.Arguments != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(normalized.Function.Arguments), &parsed); err == nil && parsed != nil {
			normalized.Arguments = parsed
		}
	}
	if normalized.Arguments == nil {
		normalized.Arguments = map[string]interface{}{}
	}

	argsJSON, _ := json.Marshal(normalized.Arguments)
	fn := FunctionCall{Name: normalized.Name, Arguments: string(argsJSON)}
	if normalized.Function != nil {
		if normalized.Function.Name != "" {
			fn.Name = normalized.Function.Name
		}
		if normalized.Function.Arguments != "" {
			fn.Arguments = normalized.Function.Arguments
		}
	}
	normalized.Function = &fn

	if normalized.Type == "" {
		normalized.Type = "function"
	}
	if normalized.ID == "" {
		normalized.ID = "call_" + uuid.NewString()
	}
	return normalized
}

// NormalizeToolCalls applies NormalizeToolCall to every call and drops calls
// that still have no name.
func NormalizeToolCalls(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		n := NormalizeToolCall(tc)
		if n.Name == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}
