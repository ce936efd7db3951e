package tools

import "context"

// Tool is the interface that all tools must implement. Parameters returns a
// JSON schema object describing the accepted arguments; the registry
// validates every call against it before Execute runs.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// SideEffectTool is implemented by tools that change state outside the
// conversation. A tool reporting side effects is executed exactly once; it is
// never retried.
type SideEffectTool interface {
	Tool
	HasSideEffects() bool
}

func hasSideEffects(t Tool) bool {
	se, ok := t.(SideEffectTool)
	return ok && se.HasSideEffects()
}

func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}

func stringArg(args map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}
