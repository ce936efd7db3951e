package protocoltypes

import (
	"encoding/json"
	"strings"
)

// ExtractToolCallsFromText recovers tool calls that a model wrote into its
// text reply as a {"tool_calls": [...]} object instead of issuing them
// through the function-calling channel.
func ExtractToolCallsFromText(text string) []ToolCall {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		return nil
	}
	end := FindMatchingBrace(text, start)
	if end == start {
		return nil
	}

	var wrapper struct {
		ToolCalls []struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(text[start:end]), &wrapper); err != nil {
		return nil
	}

	var calls []ToolCall
	for _, tc := range wrapper.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		raw := decodeArguments(tc.Function.Arguments)
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(raw), &args)

		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: args,
			Function:  &FunctionCall{Name: tc.Function.Name, Arguments: raw},
		})
	}
	return calls
}

// decodeArguments accepts arguments either as a JSON object or as a JSON
// string holding an object, which is what OpenAI-style payloads use.
func decodeArguments(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// StripToolCallsFromText removes the {"tool_calls": ...} object from text.
func StripToolCallsFromText(text string) string {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		return text
	}
	end := FindMatchingBrace(text, start)
	if end == start {
		return text
	}
	return strings.TrimSpace(text[:start] + text[end:])
}

// FindMatchingBrace returns the index just past the brace that closes the one
// at pos, or pos when it is unbalanced. Braces inside JSON strings are
// ignored.
func FindMatchingBrace(text string, pos int) int {
	depth := 0
	inString := false
	escaped := false
	for i := pos; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return pos
}
