package tools

import "time"

// ToolResult is what a Tool returns. ForLLM is the payload fed back to the
// model. IsError marks a failed execution; Err optionally carries the cause.
type ToolResult struct {
	ForLLM  string
	IsError bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// ToolExecutionResult is the registry's record of one (possibly retried)
// execution. It lives for a single loop iteration.
type ToolExecutionResult struct {
	ToolName string
	Content  string
	Success  bool
	Elapsed  time.Duration
	Attempts int
	Err      error
}
