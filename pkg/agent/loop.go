// ToolClaw - tool-calling agent orchestration engine
// License: MIT
//
// Copyright (c) 2026 ToolClaw contributors

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhaopengme/toolclaw/pkg/breaker"
	"github.com/zhaopengme/toolclaw/pkg/bus"
	"github.com/zhaopengme/toolclaw/pkg/cache"
	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/history"
	"github.com/zhaopengme/toolclaw/pkg/logger"
	"github.com/zhaopengme/toolclaw/pkg/providers"
	"github.com/zhaopengme/toolclaw/pkg/providers/protocoltypes"
	"github.com/zhaopengme/toolclaw/pkg/tools"
	"github.com/zhaopengme/toolclaw/pkg/utils"
)

const (
	DefaultThreadID        = "default"
	DefaultProviderTimeout = 30 * time.Second

	continuationResultChars = 2000
	fallbackResultChars     = 1000
	fallbackMaxResults      = 5
	maxConsecutiveThinks    = 2
)

// Source says which path produced an Answer.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
	SourcePartial  Source = "partial"
)

type Request struct {
	Query    string
	ThreadID string
	// Resume continues from a snapshot instead of starting fresh. Without
	// it, a stored snapshot for the same thread and query is picked up.
	Resume *Snapshot
}

type Answer struct {
	Text       string
	Source     Source
	Iterations int
	ToolCalls  int
	PlanSteps  []string
}

// Deps are the collaborators of an Orchestrator. Provider, Tools and
// History are required.
type Deps struct {
	Provider  providers.LLMProvider
	Fallback  *providers.FallbackProvider
	Tools     *tools.ToolRegistry
	Breaker   *breaker.CircuitBreaker
	History   *history.Manager
	Cache     *cache.ResponseCache
	Snapshots SnapshotStore
	Progress  bus.Publisher
	Clock     clock.Clock
}

type Options struct {
	Model               string
	MaxTokens           int
	Temperature         float64
	BaseCallLimit       int
	MaxComplexityFactor int
	ProviderTimeout     time.Duration
	ToolSignatureWindow int
	// DefaultTool replaces a second consecutive think call.
	DefaultTool      string
	CacheEnabled     bool
	MaxContextTokens int
	SystemPrompt     string
	Workspace        string
}

// Orchestrator drives the tool-calling loop for any number of threads, one
// run per thread at a time.
type Orchestrator struct {
	deps    Deps
	opts    Options
	context *ContextBuilder
	runs    *runRegistry
}

type usageRecorder interface {
	RecordUsage(chars, actualTokens int)
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Breaker == nil {
		deps.Breaker = breaker.New("primary", breaker.DefaultOptions(), deps.Clock)
	}
	if deps.Progress == nil {
		deps.Progress = bus.Discard
	}
	if opts.Model == "" {
		opts.Model = deps.Provider.GetDefaultModel()
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.ToolSignatureWindow <= 0 {
		opts.ToolSignatureWindow = DefaultToolSignatureWindow
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		context: NewContextBuilder(opts.Workspace, opts.SystemPrompt, deps.Tools),
		runs:    newRunRegistry(),
	}
}

// Cancel marks the active run of threadID. The run stops at its next
// iteration boundary and keeps its snapshot. It reports whether a run was
// active.
func (o *Orchestrator) Cancel(threadID string) bool {
	s, ok := o.runs.get(threadID)
	if !ok {
		return false
	}
	s.Cancel()
	logger.InfoCF("agent", "Run cancellation requested", map[string]interface{}{
		"thread_id": threadID,
		"run_id":    s.ID,
	})
	return true
}

// ActiveThreads lists threads with a run in progress.
func (o *Orchestrator) ActiveThreads() []string {
	return o.runs.active()
}

// Run answers one query. Failures are always returned as *Error, except an
// empty query which is rejected with ErrEmptyQuery.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Answer, error) {
	query := req.Query
	if strings.TrimSpace(query) == "" && req.Resume != nil {
		query = req.Resume.Query
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = DefaultThreadID
	}

	if o.opts.CacheEnabled && o.deps.Cache != nil {
		if text, ok := o.deps.Cache.Get(query); ok {
			logger.InfoCF("agent", "Answer served from cache", map[string]interface{}{
				"thread_id": threadID,
			})
			return &Answer{Text: text, Source: SourceCache}, nil
		}
	}

	s, resumed := o.newSession(ctx, threadID, query, req.Resume)
	if !o.runs.begin(s) {
		return nil, newError(KindThreadBusy, ErrThreadBusy, nil)
	}
	defer o.runs.end(s)

	if !resumed {
		o.deps.History.AppendUserTurn(ctx, threadID, query)
	} else if o.deps.History.Len(ctx, threadID) == 0 {
		o.deps.History.AppendUserTurn(ctx, threadID, query)
		if s.CurrentQuery != query {
			o.deps.History.AppendUserTurn(ctx, threadID, s.CurrentQuery)
		}
	}

	logger.InfoCF("agent", "Run started", map[string]interface{}{
		"thread_id":  threadID,
		"run_id":     s.ID,
		"budget":     s.Budget,
		"call_count": s.CallCount,
		"resumed":    resumed,
	})
	o.publish(s, bus.KindStarted, 0, "", "")

	return o.loop(ctx, s)
}

func (o *Orchestrator) newSession(ctx context.Context, threadID, query string, resume *Snapshot) (*LoopSession, bool) {
	now := o.deps.Clock.Now()
	snap := resume
	if snap == nil && o.deps.Snapshots != nil {
		stored, err := o.deps.Snapshots.Load(ctx, threadID)
		if err != nil {
			logger.WarnCF("agent", "Snapshot load failed, starting fresh", map[string]interface{}{
				"thread_id": threadID,
				"error":     err.Error(),
			})
		}
		if stored != nil && stored.Query == query {
			snap = stored
		}
	}
	if snap == nil {
		budget := DynamicCallLimit(utf8.RuneCountInString(query), o.opts.BaseCallLimit, o.opts.MaxComplexityFactor)
		return newLoopSession(threadID, query, budget, o.opts.ToolSignatureWindow, now), false
	}

	s := restoreSession(snap, o.opts.ToolSignatureWindow)
	s.ThreadID = threadID
	if s.Query == "" {
		s.Query = query
		s.CurrentQuery = query
	}
	if s.Budget <= 0 {
		s.Budget = DynamicCallLimit(utf8.RuneCountInString(s.Query), o.opts.BaseCallLimit, o.opts.MaxComplexityFactor)
	}
	return s, true
}

func (o *Orchestrator) loop(ctx context.Context, s *LoopSession) (*Answer, error) {
	systemTokens := o.deps.History.Counter().Estimate(o.context.BuildSystemPrompt())
	defs := o.deps.Tools.ToProviderDefs()
	iteration := 0

	for s.CallCount < s.Budget {
		iteration++

		if s.Cancelled() || ctx.Err() != nil {
			return nil, o.cancelled(s, iteration, ctx.Err())
		}

		if s.SeeQuery(QuerySignature(s.CurrentQuery)) {
			logger.WarnCF("agent", "Repeated query detected", map[string]interface{}{
				"thread_id": s.ThreadID,
				"iteration": iteration,
			})
			if s.partial() != "" {
				return o.partialAnswer(ctx, s, iteration), nil
			}
			return o.fallback(ctx, s, iteration, ErrLoopDetected)
		}

		if o.opts.MaxContextTokens > 0 {
			o.deps.History.Compact(ctx, s.ThreadID, history.Budget{
				MaxTokens:    o.opts.MaxContextTokens,
				SystemTokens: systemTokens,
			})
		}
		messages := o.context.BuildMessages(o.deps.History.GetHistory(ctx, s.ThreadID))

		o.publish(s, bus.KindStrategizing, iteration, "", "")
		logger.DebugCF("agent", "LLM request", map[string]interface{}{
			"thread_id":      s.ThreadID,
			"iteration":      iteration,
			"call_count":     s.CallCount + 1,
			"budget":         s.Budget,
			"model":          o.opts.Model,
			"messages_count": len(messages),
			"tools_count":    len(defs),
			"prompt_tokens":  estimateMessages(o.deps.History.Counter(), messages),
		})

		s.CallCount++
		start := o.deps.Clock.Now()
		resp, err := o.callProvider(ctx, messages, defs)
		if err != nil {
			logger.ErrorCF("agent", "LLM call failed", map[string]interface{}{
				"thread_id":   s.ThreadID,
				"iteration":   iteration,
				"duration_ms": clock.Since(o.deps.Clock, start).Milliseconds(),
				"error":       err.Error(),
			})
			return o.recover(ctx, s, iteration, err)
		}
		o.recordUsage(messages, resp)

		calls, text := o.extractCalls(resp)
		if len(calls) == 0 {
			text = strings.TrimSpace(text)
			forced, ok := o.impliedCall(s, text)
			if !ok {
				if text == "" {
					return o.recover(ctx, s, iteration, providers.WrapError("primary", o.opts.Model, 0, providers.ErrEmptyResponse))
				}
				return o.finish(ctx, s, text), nil
			}
			calls = []providers.ToolCall{forced}
		}

		calls = o.applyThink(s, calls)
		if s.SeeToolSignature(ToolCallSignature(calls)) {
			logger.WarnCF("agent", "Repeated tool call detected", map[string]interface{}{
				"thread_id": s.ThreadID,
				"iteration": iteration,
				"calls":     len(calls),
			})
			return o.fallback(ctx, s, iteration, ErrLoopDetected)
		}

		if err := o.executeCalls(ctx, s, iteration, text, calls); err != nil {
			return o.recover(ctx, s, iteration, err)
		}
	}

	logger.WarnCF("agent", "Call budget exhausted", map[string]interface{}{
		"thread_id":  s.ThreadID,
		"call_count": s.CallCount,
		"budget":     s.Budget,
	})
	return o.fallback(ctx, s, iteration, ErrNoFinalResult)
}

// callProvider runs one Chat call through the breaker, racing it against
// the provider timeout. The abandoned call sees its context cancelled. The
// caller's own cancellation is not counted against the breaker.
func (o *Orchestrator) callProvider(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
	return breaker.Execute(o.deps.Breaker, func() (*providers.LLMResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
		defer cancel()

		type result struct {
			resp *providers.LLMResponse
			err  error
		}
		done := make(chan result, 1)
		go func() {
			resp, err := o.deps.Provider.Chat(callCtx, messages, defs, o.opts.Model, map[string]interface{}{
				providers.OptMaxTokens:   o.opts.MaxTokens,
				providers.OptTemperature: o.opts.Temperature,
			})
			done <- result{resp, err}
		}()

		select {
		case r := <-done:
			if r.err != nil && ctx.Err() != nil {
				return nil, breaker.Ignore(r.err)
			}
			if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", ErrProviderTimeout, r.err)
			}
			if r.err == nil && r.resp == nil {
				return nil, providers.ErrEmptyResponse
			}
			return r.resp, r.err
		case <-callCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, breaker.Ignore(err)
			}
			return nil, fmt.Errorf("%w after %s", ErrProviderTimeout, o.opts.ProviderTimeout)
		}
	})
}

func (o *Orchestrator) recordUsage(messages []providers.Message, resp *providers.LLMResponse) {
	if resp.Usage == nil || resp.Usage.PromptTokens <= 0 {
		return
	}
	rec, ok := o.deps.History.Counter().(usageRecorder)
	if !ok {
		return
	}
	chars := 0
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
	}
	rec.RecordUsage(chars, resp.Usage.PromptTokens)
}

// extractCalls returns the response's tool calls, recovering calls the
// model embedded in its text as JSON.
func (o *Orchestrator) extractCalls(resp *providers.LLMResponse) ([]providers.ToolCall, string) {
	if len(resp.ToolCalls) > 0 {
		return providers.NormalizeToolCalls(resp.ToolCalls), resp.Content
	}
	embedded := protocoltypes.ExtractToolCallsFromText(resp.Content)
	if len(embedded) == 0 {
		return nil, resp.Content
	}
	logger.DebugCF("agent", "Recovered tool calls from response text", map[string]interface{}{
		"count": len(embedded),
	})
	return providers.NormalizeToolCalls(embedded), protocoltypes.StripToolCallsFromText(resp.Content)
}

// impliedCall builds the tool call a degenerate text reply describes.
func (o *Orchestrator) impliedCall(s *LoopSession, text string) (providers.ToolCall, bool) {
	name := detectImpliedTool(text)
	if name == "" {
		return providers.ToolCall{}, false
	}
	if _, ok := o.deps.Tools.Get(name); !ok {
		return providers.ToolCall{}, false
	}
	logger.WarnCF("agent", "Model described a tool call without issuing it, forcing it", map[string]interface{}{
		"thread_id": s.ThreadID,
		"tool":      name,
	})
	return o.queryCall(name, s.Query), true
}

func (o *Orchestrator) queryCall(name, query string) providers.ToolCall {
	return providers.NormalizeToolCall(providers.ToolCall{
		Name:      name,
		Arguments: map[string]interface{}{"query": query},
	})
}

// applyThink records plan steps from think calls that will run. After two
// think-only iterations in a row, think calls are swapped for the default
// tool.
func (o *Orchestrator) applyThink(s *LoopSession, calls []providers.ToolCall) []providers.ToolCall {
	_, canForce := o.deps.Tools.Get(o.opts.DefaultTool)
	out := make([]providers.ToolCall, 0, len(calls))
	thinkOnly := true

	for _, tc := range calls {
		if tc.Name != tools.ThinkToolName {
			thinkOnly = false
			out = append(out, tc)
			continue
		}
		if s.ConsecutiveThinkCalls >= maxConsecutiveThinks && canForce {
			logger.InfoCF("agent", "Consecutive think calls, forcing default tool", map[string]interface{}{
				"thread_id": s.ThreadID,
				"tool":      o.opts.DefaultTool,
			})
			thinkOnly = false
			out = append(out, o.queryCall(o.opts.DefaultTool, s.Query))
			continue
		}
		thought, _ := tc.Arguments["thought"].(string)
		if steps := tools.ParsePlanSteps(thought); len(steps) > 0 {
			s.PlanSteps = steps
		}
		out = append(out, tc)
	}

	if thinkOnly {
		s.ConsecutiveThinkCalls++
	} else {
		s.ConsecutiveThinkCalls = 0
	}
	return out
}

// executeCalls runs calls in order and folds the results into history. On
// the first failure the remaining calls are marked as skipped so the
// assistant turn stays complete.
func (o *Orchestrator) executeCalls(ctx context.Context, s *LoopSession, iteration int, text string, calls []providers.ToolCall) error {
	o.deps.History.AppendModelToolTurn(ctx, s.ThreadID, text, calls)

	var executed []providers.ToolCall
	lastContent := ""
	for i, call := range calls {
		o.publish(s, bus.KindToolCall, iteration, call.Name, "")
		res := o.deps.Tools.Execute(ctx, call.Name, call.Arguments)
		s.toolCalls++

		if !res.Success {
			content := res.Content
			if content == "" {
				content = "tool execution failed"
			}
			o.deps.History.AppendToolResultTurn(ctx, s.ThreadID, call.ID, call.Name, "Error: "+content)
			for _, rest := range calls[i+1:] {
				o.deps.History.AppendToolResultTurn(ctx, s.ThreadID, rest.ID, rest.Name, "Error: skipped after an earlier failure")
			}
			return res.Err
		}

		o.deps.History.AppendToolResultTurn(ctx, s.ThreadID, call.ID, call.Name, res.Content)
		if call.Name != tools.ThinkToolName {
			s.recordResult(call, res.Content)
		}
		executed = append(executed, call)
		lastContent = res.Content
	}

	s.CurrentQuery = continuationQuery(lastContent)
	o.deps.History.AppendUserTurn(ctx, s.ThreadID, s.CurrentQuery)

	snap := o.checkpoint(ctx, s)
	for i, call := range executed {
		ev := bus.ProgressEvent{
			ThreadID:  s.ThreadID,
			Kind:      bus.KindToolResult,
			Iteration: iteration,
			Tool:      call.Name,
			Time:      o.deps.Clock.Now(),
		}
		if i == len(executed)-1 {
			ev.Snapshot = snap
		}
		o.deps.Progress.Publish(ev)
	}
	return nil
}

func continuationQuery(result string) string {
	return "Tool result: " + utils.Truncate(result, continuationResultChars) + "\n\nBased on this result, what is your next step?"
}

// checkpoint saves the session snapshot and returns its encoding.
func (o *Orchestrator) checkpoint(ctx context.Context, s *LoopSession) []byte {
	snap := s.Snapshot(o.deps.Clock.Now())
	if o.deps.Snapshots != nil {
		if err := o.deps.Snapshots.Save(ctx, snap); err != nil {
			logger.WarnCF("agent", "Snapshot save failed", map[string]interface{}{
				"thread_id": s.ThreadID,
				"error":     err.Error(),
			})
		}
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		logger.WarnCF("agent", "Snapshot encode failed", map[string]interface{}{
			"thread_id": s.ThreadID,
			"error":     err.Error(),
		})
		return nil
	}
	return data
}

// recover is the per-iteration error path. The first iteration and an
// open circuit go straight to the fallback; later iterations prefer the
// partial result gathered so far.
func (o *Orchestrator) recover(ctx context.Context, s *LoopSession, iteration int, cause error) (*Answer, error) {
	kind := Classify(cause)
	if kind == KindCancelled || s.Cancelled() {
		return nil, o.cancelled(s, iteration, cause)
	}
	if iteration > 1 && kind != KindCircuitOpen && s.partial() != "" {
		return o.partialAnswer(ctx, s, iteration), nil
	}
	return o.fallback(ctx, s, iteration, cause)
}

// fallback asks the secondary model for an answer built from what the run
// gathered. Without a fallback model the cause becomes the run's error.
func (o *Orchestrator) fallback(ctx context.Context, s *LoopSession, iteration int, cause error) (*Answer, error) {
	if o.deps.Fallback == nil {
		kind := Classify(cause)
		if kind == KindLoopDetected {
			kind = KindNoFinalResult
		}
		return nil, o.fail(ctx, s, iteration, newError(kind, cause, nil))
	}

	logger.InfoCF("agent", "Switching to fallback model", map[string]interface{}{
		"thread_id": s.ThreadID,
		"model":     o.deps.Fallback.Model(),
		"reason":    string(Classify(cause)),
	})
	o.publish(s, bus.KindFallback, iteration, "", "")

	text, err := o.deps.Fallback.GenerateText(ctx, o.fallbackPrompt(s))
	if err != nil {
		if ctx.Err() != nil || s.Cancelled() {
			return nil, o.cancelled(s, iteration, ctx.Err())
		}
		return nil, o.fail(ctx, s, iteration, newError(KindBothProvidersFailed, cause, err))
	}

	o.deps.History.AppendModelTurn(ctx, s.ThreadID, text)
	o.clearSnapshot(ctx, s)
	s.ConsecutiveThinkCalls = 0
	o.publish(s, bus.KindResponse, iteration, "", string(SourceFallback))
	return &Answer{
		Text:       text,
		Source:     SourceFallback,
		Iterations: s.CallCount,
		ToolCalls:  s.toolCalls,
		PlanSteps:  s.PlanSteps,
	}, nil
}

func (o *Orchestrator) fallbackPrompt(s *LoopSession) string {
	var sb strings.Builder
	sb.WriteString("Answer the user's question as well as you can.\n\nQuestion: ")
	sb.WriteString(s.Query)
	sb.WriteString("\n")

	if len(s.PlanSteps) > 0 {
		sb.WriteString("\nPlan:\n")
		for i, step := range s.PlanSteps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
	}

	results := s.results
	if len(results) > fallbackMaxResults {
		results = results[len(results)-fallbackMaxResults:]
	}
	if len(results) > 0 {
		sb.WriteString("\nFindings so far:\n")
		for _, r := range results {
			sb.WriteString("- ")
			sb.WriteString(utils.Truncate(r.Result, fallbackResultChars))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nReply with the answer only. Do not mention tools or internal steps.")
	return sb.String()
}

func (o *Orchestrator) finish(ctx context.Context, s *LoopSession, text string) *Answer {
	o.deps.History.AppendModelTurn(ctx, s.ThreadID, text)
	o.clearSnapshot(ctx, s)
	s.ConsecutiveThinkCalls = 0
	if o.opts.CacheEnabled && o.deps.Cache != nil {
		o.deps.Cache.Set(s.Query, text)
	}

	logger.InfoCF("agent", "Run completed", map[string]interface{}{
		"thread_id":  s.ThreadID,
		"call_count": s.CallCount,
		"tool_calls": s.toolCalls,
		"length":     len(text),
	})
	o.publish(s, bus.KindResponse, s.CallCount, "", string(SourcePrimary))
	return &Answer{
		Text:       text,
		Source:     SourcePrimary,
		Iterations: s.CallCount,
		ToolCalls:  s.toolCalls,
		PlanSteps:  s.PlanSteps,
	}
}

func (o *Orchestrator) partialAnswer(ctx context.Context, s *LoopSession, iteration int) *Answer {
	text := s.partial()
	o.deps.History.AppendModelTurn(ctx, s.ThreadID, text)
	o.clearSnapshot(ctx, s)
	s.ConsecutiveThinkCalls = 0

	logger.InfoCF("agent", "Returning partial result", map[string]interface{}{
		"thread_id":  s.ThreadID,
		"call_count": s.CallCount,
	})
	o.publish(s, bus.KindResponse, iteration, "", string(SourcePartial))
	return &Answer{
		Text:       text,
		Source:     SourcePartial,
		Iterations: s.CallCount,
		ToolCalls:  s.toolCalls,
		PlanSteps:  s.PlanSteps,
	}
}

// fail ends the run with e. The snapshot is dropped since there is nothing
// worth resuming.
func (o *Orchestrator) fail(ctx context.Context, s *LoopSession, iteration int, e *Error) *Error {
	o.clearSnapshot(ctx, s)
	fields := map[string]interface{}{
		"thread_id": s.ThreadID,
		"kind":      string(e.Kind),
	}
	if cause := errors.Join(e.Unwrap()...); cause != nil {
		fields["error"] = cause.Error()
	}
	logger.ErrorCF("agent", "Run failed", fields)
	o.publish(s, bus.KindError, iteration, "", e.UserMessage())
	return e
}

// cancelled ends the run without touching its snapshot, so it can be
// resumed.
func (o *Orchestrator) cancelled(s *LoopSession, iteration int, cause error) *Error {
	if cause == nil {
		cause = ErrCancelled
	}
	logger.InfoCF("agent", "Run cancelled", map[string]interface{}{
		"thread_id":  s.ThreadID,
		"call_count": s.CallCount,
	})
	e := newError(KindCancelled, cause, nil)
	o.publish(s, bus.KindError, iteration, "", e.UserMessage())
	return e
}

func (o *Orchestrator) clearSnapshot(ctx context.Context, s *LoopSession) {
	if o.deps.Snapshots == nil {
		return
	}
	if err := o.deps.Snapshots.Clear(ctx, s.ThreadID); err != nil {
		logger.WarnCF("agent", "Snapshot clear failed", map[string]interface{}{
			"thread_id": s.ThreadID,
			"error":     err.Error(),
		})
	}
}

func (o *Orchestrator) publish(s *LoopSession, kind bus.ProgressKind, iteration int, tool, message string) {
	o.deps.Progress.Publish(bus.ProgressEvent{
		ThreadID:  s.ThreadID,
		Kind:      kind,
		Iteration: iteration,
		Tool:      tool,
		Message:   message,
		Time:      o.deps.Clock.Now(),
	})
}
