package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/xeipuuv/gojsonschema"

	"github.com/zhaopengme/toolclaw/pkg/logger"
	"github.com/zhaopengme/toolclaw/pkg/providers"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = time.Second
)

type registeredTool struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// ToolRegistry resolves tools by name and advertises them in registration
// order.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
	order []string

	maxRetries int
	retryBase  time.Duration
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:      make(map[string]*registeredTool),
		maxRetries: DefaultMaxRetries,
		retryBase:  DefaultRetryBase,
	}
}

// SetRetryPolicy sets the total number of attempts per call and the first
// backoff delay; each later wait doubles.
func (r *ToolRegistry) SetRetryPolicy(maxRetries int, base time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxRetries < 1 {
		maxRetries = 1
	}
	if base <= 0 {
		base = DefaultRetryBase
	}
	r.maxRetries = maxRetries
	r.retryBase = base
}

// Register adds or replaces a tool. Replacing keeps the original position.
func (r *ToolRegistry) Register(tool Tool) {
	rt := &registeredTool{tool: tool}
	if params := tool.Parameters(); params != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
		if err != nil {
			logger.WarnCF("tool", "Tool schema does not compile, arguments will not be validated", map[string]interface{}{
				"tool":  tool.Name(),
				"error": err.Error(),
			})
		} else {
			rt.schema = schema
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = rt
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Validate checks args against the tool's declared schema.
func (r *ToolRegistry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &UnknownToolError{Name: name}
	}
	return validateArgs(rt, args)
}

func validateArgs(rt *registeredTool, args map[string]interface{}) error {
	if rt.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	res, err := rt.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &SchemaMismatchError{Tool: rt.tool.Name(), Problems: []string{err.Error()}}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return &SchemaMismatchError{Tool: rt.tool.Name(), Problems: problems}
}

// Execute resolves and runs one tool call. Unknown tools and schema
// violations fail immediately. Other failures are retried with exponential
// backoff unless the tool declares side effects; the last error is reported
// in the result once attempts run out.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) ToolExecutionResult {
	start := time.Now()
	out := ToolExecutionResult{ToolName: name}

	r.mu.RLock()
	rt, ok := r.tools[name]
	maxRetries, base := r.maxRetries, r.retryBase
	r.mu.RUnlock()

	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]interface{}{"tool": name})
		out.Err = &UnknownToolError{Name: name}
		out.Elapsed = time.Since(start)
		return out
	}
	if err := validateArgs(rt, args); err != nil {
		logger.WarnCF("tool", "Tool arguments rejected", map[string]interface{}{
			"tool":  name,
			"error": err.Error(),
		})
		out.Err = err
		out.Elapsed = time.Since(start)
		return out
	}

	attempts := maxRetries
	if hasSideEffects(rt.tool) {
		attempts = 1
	}

	logger.InfoCF("tool", "Tool execution started", map[string]interface{}{
		"tool": name,
		"args": args,
	})

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out.Attempts++
		result := rt.tool.Execute(ctx, args)
		if result == nil {
			return retry.RetryableError(fmt.Errorf("%w: %s returned no result", ErrToolFailed, name))
		}
		if !result.IsError {
			out.Content = result.ForLLM
			return nil
		}

		cause := result.Err
		if cause == nil {
			cause = fmt.Errorf("%w: %s", ErrToolFailed, result.ForLLM)
		}
		logger.WarnCF("tool", "Tool attempt failed", map[string]interface{}{
			"tool":    name,
			"attempt": out.Attempts,
			"error":   cause.Error(),
		})
		out.Content = result.ForLLM
		if !IsRetryable(cause) {
			return cause
		}
		return retry.RetryableError(cause)
	})

	out.Elapsed = time.Since(start)
	if err != nil {
		out.Err = err
		logger.ErrorCF("tool", "Tool execution failed", map[string]interface{}{
			"tool":        name,
			"attempts":    out.Attempts,
			"duration_ms": out.Elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		return out
	}

	out.Success = true
	logger.InfoCF("tool", "Tool execution completed", map[string]interface{}{
		"tool":          name,
		"attempts":      out.Attempts,
		"duration_ms":   out.Elapsed.Milliseconds(),
		"result_length": len(out.Content),
	})
	return out
}

// ToProviderDefs converts registered tools to provider tool definitions, in
// registration order.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// List returns registered tool names in registration order.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// GetSummaries returns "- `name` - description" lines for prompts.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]string, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		summaries = append(summaries, fmt.Sprintf("- `%s` - %s", t.Name(), t.Description()))
	}
	return summaries
}
