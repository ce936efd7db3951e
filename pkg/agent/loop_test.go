package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaopengme/toolclaw/pkg/breaker"
	"github.com/zhaopengme/toolclaw/pkg/bus"
	"github.com/zhaopengme/toolclaw/pkg/cache"
	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/history"
	"github.com/zhaopengme/toolclaw/pkg/providers"
	"github.com/zhaopengme/toolclaw/pkg/storage"
	"github.com/zhaopengme/toolclaw/pkg/tools"
)

type mockResponse struct {
	resp *providers.LLMResponse
	err  error
}

func textResponse(text string) mockResponse {
	return mockResponse{resp: &providers.LLMResponse{Content: text, FinishReason: "stop"}}
}

func toolResponse(name string, args map[string]interface{}) mockResponse {
	return mockResponse{resp: &providers.LLMResponse{
		ToolCalls: []providers.ToolCall{{
			ID:        "call_" + name,
			Type:      "function",
			Name:      name,
			Arguments: args,
		}},
		FinishReason: "tool_calls",
	}}
}

func errorResponse(err error) mockResponse {
	return mockResponse{err: err}
}

// mockProvider replays responses in order and repeats the last one.
type mockProvider struct {
	mu        sync.Mutex
	responses []mockResponse
	calls     int
	prompts   [][]providers.Message

	// block makes Chat wait for its context.
	block bool
	// gate, when set, holds Chat until it is closed.
	gate   chan struct{}
	onCall func(n int)
}

func (m *mockProvider) Chat(ctx context.Context, messages []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	m.mu.Lock()
	n := m.calls
	m.calls++
	m.prompts = append(m.prompts, messages)
	onCall, gate, block := m.onCall, m.gate, m.block
	m.mu.Unlock()

	if onCall != nil {
		onCall(n)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(m.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	if n >= len(m.responses) {
		n = len(m.responses) - 1
	}
	r := m.responses[n]
	return r.resp, r.err
}

func (m *mockProvider) GetDefaultModel() string { return "mock-model" }

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	msgs := m.prompts[len(m.prompts)-1]
	return msgs[len(msgs)-1].Content
}

// stubTool records its calls and answers through result.
type stubTool struct {
	name   string
	mu     sync.Mutex
	calls  []map[string]interface{}
	result func(n int) *tools.ToolResult
}

func newStubTool(name string) *stubTool {
	return &stubTool{name: name}
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }
func (t *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *stubTool) Execute(_ context.Context, args map[string]interface{}) *tools.ToolResult {
	t.mu.Lock()
	n := len(t.calls)
	t.calls = append(t.calls, args)
	t.mu.Unlock()
	if t.result != nil {
		return t.result(n)
	}
	return tools.NewToolResult(t.name + " output")
}

func (t *stubTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *stubTool) Args(i int) map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[i]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []bus.ProgressEvent
}

func (r *eventRecorder) Publish(ev bus.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Kinds() []bus.ProgressKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]bus.ProgressKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *eventRecorder) Last(kind bus.ProgressKind) (bus.ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return bus.ProgressEvent{}, false
}

type harness struct {
	orch      *Orchestrator
	primary   *mockProvider
	fallback  *mockProvider
	registry  *tools.ToolRegistry
	history   *history.Manager
	cache     *cache.ResponseCache
	snapshots *StoreSnapshots
	breaker   *breaker.CircuitBreaker
	events    *eventRecorder
	clk       *clock.FakeClock
}

type harnessOption func(*Deps, *Options)

func withoutFallback() harnessOption {
	return func(d *Deps, _ *Options) { d.Fallback = nil }
}

func withProviderTimeout(timeout time.Duration) harnessOption {
	return func(_ *Deps, o *Options) { o.ProviderTimeout = timeout }
}

func withBreakerThreshold(n int) harnessOption {
	return func(d *Deps, _ *Options) {
		d.Breaker = breaker.New("primary", breaker.Options{FailureThreshold: n, ResetTimeout: time.Minute}, d.Clock)
	}
}

func newHarness(t *testing.T, primary *mockProvider, stubs []tools.Tool, opts ...harnessOption) *harness {
	t.Helper()

	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore()
	registry := tools.NewToolRegistry()
	registry.SetRetryPolicy(1, time.Millisecond)
	for _, st := range stubs {
		registry.Register(st)
	}

	fb := &mockProvider{responses: []mockResponse{textResponse("fallback answer")}}
	h := &harness{
		primary:   primary,
		fallback:  fb,
		registry:  registry,
		history:   history.NewManager(history.Options{Store: store, Clock: clk}),
		cache:     cache.New(time.Minute, time.Minute, clk),
		snapshots: NewSnapshotStore(store, 0, clk),
		events:    &eventRecorder{},
		clk:       clk,
	}

	deps := Deps{
		Provider:  primary,
		Fallback:  providers.NewFallbackProvider(fb, "fallback-model", 0, 0),
		Tools:     registry,
		History:   h.history,
		Cache:     h.cache,
		Snapshots: h.snapshots,
		Progress:  h.events,
		Clock:     clk,
	}
	deps.Breaker = breaker.New("primary", breaker.Options{FailureThreshold: 5, ResetTimeout: time.Minute}, clk)
	options := Options{
		Model:        "mock-model",
		DefaultTool:  "search_codebase",
		CacheEnabled: true,
	}
	for _, opt := range opts {
		opt(&deps, &options)
	}
	h.breaker = deps.Breaker
	h.orch = NewOrchestrator(deps, options)
	return h
}

func requireAgentError(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	require.Error(t, err)
	var ae *Error
	require.True(t, errors.As(err, &ae), "expected *agent.Error, got %T", err)
	assert.Equal(t, kind, ae.Kind)
	return ae
}

func TestRunNormalFlow(t *testing.T) {
	analyze := newStubTool("analyze_files")
	analyze.result = func(int) *tools.ToolResult {
		return tools.NewToolResult("func X() { return Y }")
	}
	primary := &mockProvider{responses: []mockResponse{
		toolResponse("analyze_files", map[string]interface{}{"file": "x.ts"}),
		textResponse("X does Y"),
	}}
	h := newHarness(t, primary, []tools.Tool{analyze})
	ctx := context.Background()

	answer, err := h.orch.Run(ctx, Request{Query: "What does function X do?", ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, "X does Y", answer.Text)
	assert.Equal(t, SourcePrimary, answer.Source)
	assert.Equal(t, 2, answer.Iterations)
	assert.Equal(t, 1, answer.ToolCalls)
	assert.Equal(t, 1, analyze.Calls())
	assert.Equal(t, "x.ts", analyze.Args(0)["file"])
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 0, h.fallback.Calls())

	turns := h.history.GetHistory(ctx, "t1")
	require.Len(t, turns, 5)
	assert.Equal(t, history.RoleHuman, turns[0].Role)
	assert.Equal(t, history.RoleModel, turns[1].Role)
	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, history.RoleToolResult, turns[2].Role)
	assert.Equal(t, "call_analyze_files", turns[2].ToolCallID)
	assert.Equal(t, history.RoleHuman, turns[3].Role)
	assert.Contains(t, turns[3].Content, "Tool result: func X() { return Y }")
	assert.Equal(t, history.RoleModel, turns[4].Role)
	assert.Equal(t, "X does Y", turns[4].Content)

	cached, ok := h.cache.Get("What does function X do?")
	assert.True(t, ok)
	assert.Equal(t, "X does Y", cached)

	snap, err := h.snapshots.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap, "snapshot should be cleared after success")
}

func TestRunPublishesProgress(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{
		toolResponse("analyze_files", map[string]interface{}{"file": "x.go"}),
		textResponse("done"),
	}}
	h := newHarness(t, primary, []tools.Tool{newStubTool("analyze_files")})

	_, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, []bus.ProgressKind{
		bus.KindStarted,
		bus.KindStrategizing,
		bus.KindToolCall,
		bus.KindToolResult,
		bus.KindStrategizing,
		bus.KindResponse,
	}, h.events.Kinds())

	ev, ok := h.events.Last(bus.KindToolResult)
	require.True(t, ok)
	assert.Equal(t, "analyze_files", ev.Tool)
	require.NotEmpty(t, ev.Snapshot)
	snap, err := DecodeSnapshot(ev.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, "q", snap.Query)
	assert.Equal(t, 1, snap.CallCount)
	assert.Equal(t, "analyze_files output", snap.LastResult)
}

func TestRunLoopGuardFallsBackOnce(t *testing.T) {
	search := newStubTool("web_search")
	primary := &mockProvider{responses: []mockResponse{
		toolResponse("web_search", map[string]interface{}{"q": "a"}),
	}}
	h := newHarness(t, primary, []tools.Tool{search})

	answer, err := h.orch.Run(context.Background(), Request{Query: "find a", ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, SourceFallback, answer.Source)
	assert.Equal(t, "fallback answer", answer.Text)
	assert.Equal(t, 1, h.fallback.Calls())
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 1, search.Calls())

	_, ok := h.cache.Get("find a")
	assert.False(t, ok, "fallback answers are not cached")
}

func TestRunTimeoutFallsBack(t *testing.T) {
	primary := &mockProvider{block: true}
	h := newHarness(t, primary, nil, withProviderTimeout(20*time.Millisecond))

	answer, err := h.orch.Run(context.Background(), Request{Query: "slow question", ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, SourceFallback, answer.Source)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, h.fallback.Calls())
	assert.Equal(t, 1, h.breaker.Stats().ConsecutiveFailures)
}

func TestRunTimeoutWithoutFallback(t *testing.T) {
	primary := &mockProvider{block: true}
	h := newHarness(t, primary, nil, withProviderTimeout(20*time.Millisecond), withoutFallback())

	_, err := h.orch.Run(context.Background(), Request{Query: "slow question", ThreadID: "t1"})
	ae := requireAgentError(t, err, KindTimeout)
	assert.ErrorIs(t, err, ErrProviderTimeout)
	assert.NotContains(t, ae.Error(), "mock")
}

func TestRunBudgetExhaustedWithoutFallback(t *testing.T) {
	analyze := newStubTool("analyze_files")
	analyze.result = func(n int) *tools.ToolResult {
		return tools.NewToolResult(fmt.Sprintf("result %d", n+1))
	}
	var responses []mockResponse
	for i := 0; i < 20; i++ {
		responses = append(responses, toolResponse("analyze_files", map[string]interface{}{"file": fmt.Sprintf("f%d.go", i)}))
	}
	primary := &mockProvider{responses: responses}
	h := newHarness(t, primary, []tools.Tool{analyze}, withoutFallback())

	_, err := h.orch.Run(context.Background(), Request{Query: "short", ThreadID: "t1"})
	requireAgentError(t, err, KindNoFinalResult)
	assert.ErrorIs(t, err, ErrNoFinalResult)
	assert.Equal(t, DynamicCallLimit(len("short"), 0, 0), primary.Calls())
	assert.Equal(t, 5, analyze.Calls())
}

func TestRunBudgetExhaustedFallsBack(t *testing.T) {
	analyze := newStubTool("analyze_files")
	analyze.result = func(n int) *tools.ToolResult {
		return tools.NewToolResult(fmt.Sprintf("result %d", n+1))
	}
	var responses []mockResponse
	for i := 0; i < 20; i++ {
		responses = append(responses, toolResponse("analyze_files", map[string]interface{}{"file": fmt.Sprintf("f%d.go", i)}))
	}
	primary := &mockProvider{responses: responses}
	h := newHarness(t, primary, []tools.Tool{analyze})

	answer, err := h.orch.Run(context.Background(), Request{Query: "short", ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, SourceFallback, answer.Source)
	assert.Equal(t, 5, primary.Calls())
	assert.Equal(t, 1, h.fallback.Calls())

	prompt := h.fallback.LastPrompt()
	assert.Contains(t, prompt, "Question: short")
	assert.Contains(t, prompt, "result 5")
	assert.NotContains(t, prompt, "analyze_files")
}

func TestRunBothProvidersFailed(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{errorResponse(errors.New("primary exploded"))}}
	h := newHarness(t, primary, nil)
	h.fallback.responses = []mockResponse{errorResponse(errors.New("fallback exploded"))}

	_, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
	ae := requireAgentError(t, err, KindBothProvidersFailed)
	require.Error(t, ae.Primary)
	require.Error(t, ae.Fallback)
	assert.Contains(t, ae.Primary.Error(), "primary exploded")
	assert.Contains(t, ae.Fallback.Error(), "fallback exploded")
	assert.NotContains(t, ae.Error(), "exploded")
	assert.NotContains(t, ae.UserMessage(), "exploded")
}

func TestRunCircuitOpenSkipsPrimary(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{errorResponse(errors.New("connection refused"))}}
	h := newHarness(t, primary, nil, withBreakerThreshold(1))
	ctx := context.Background()

	answer, err := h.orch.Run(ctx, Request{Query: "first", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, answer.Source)
	assert.Equal(t, breaker.Open, h.breaker.State())

	answer, err = h.orch.Run(ctx, Request{Query: "second", ThreadID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, answer.Source)
	assert.Equal(t, 1, primary.Calls(), "open circuit must not reach the provider")
	assert.Equal(t, 2, h.fallback.Calls())
}

func TestRunCircuitOpenWithoutFallback(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{errorResponse(errors.New("connection refused"))}}
	h := newHarness(t, primary, nil, withBreakerThreshold(1), withoutFallback())
	ctx := context.Background()

	_, err := h.orch.Run(ctx, Request{Query: "first", ThreadID: "t1"})
	requireAgentError(t, err, KindTransport)

	_, err = h.orch.Run(ctx, Request{Query: "second", ThreadID: "t1"})
	requireAgentError(t, err, KindCircuitOpen)
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
}

func TestRunThirdThinkForcesDefaultTool(t *testing.T) {
	search := newStubTool("search_codebase")
	primary := &mockProvider{responses: []mockResponse{
		toolResponse(tools.ThinkToolName, map[string]interface{}{"thought": "1. look around\n2. answer"}),
		toolResponse(tools.ThinkToolName, map[string]interface{}{"thought": "1. look again"}),
		toolResponse(tools.ThinkToolName, map[string]interface{}{"thought": "1. keep looking"}),
		textResponse("done"),
	}}
	h := newHarness(t, primary, []tools.Tool{tools.NewThinkTool(), search})
	ctx := context.Background()

	answer, err := h.orch.Run(ctx, Request{Query: "where is main", ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, "done", answer.Text)
	assert.Equal(t, []string{"look again"}, answer.PlanSteps)
	require.Equal(t, 1, search.Calls())
	assert.Equal(t, "where is main", search.Args(0)["query"])

	var called []string
	for _, turn := range h.history.GetHistory(ctx, "t1") {
		for _, tc := range turn.ToolCalls {
			called = append(called, tc.Name)
		}
	}
	assert.Equal(t, []string{tools.ThinkToolName, tools.ThinkToolName, "search_codebase"}, called)
}

func TestRunThinkCounterResetsAfterAction(t *testing.T) {
	search := newStubTool("search_codebase")
	primary := &mockProvider{responses: []mockResponse{
		toolResponse(tools.ThinkToolName, map[string]interface{}{"thought": "1. a"}),
		toolResponse(tools.ThinkToolName, map[string]interface{}{"thought": "1. b"}),
		toolResponse("search_codebase", map[string]interface{}{"query": "main"}),
		toolResponse(tools.ThinkToolName, map[string]interface{}{"thought": "1. c"}),
		textResponse("done"),
	}}
	h := newHarness(t, primary, []tools.Tool{tools.NewThinkTool(), search})

	answer, err := h.orch.Run(context.Background(), Request{Query: strings.Repeat("where is main ", 10), ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, "done", answer.Text)
	assert.Equal(t, []string{"c"}, answer.PlanSteps)
	assert.Equal(t, 1, search.Calls())
}

func TestRunForcesToolDescribedInText(t *testing.T) {
	web := newStubTool("web_search")
	primary := &mockProvider{responses: []mockResponse{
		textResponse("Sure, I will use the web_search tool to look that up."),
		textResponse("final answer"),
	}}
	h := newHarness(t, primary, []tools.Tool{web})

	answer, err := h.orch.Run(context.Background(), Request{Query: "latest go release", ThreadID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, "final answer", answer.Text)
	require.Equal(t, 1, web.Calls())
	assert.Equal(t, "latest go release", web.Args(0)["query"])
	assert.Equal(t, 2, primary.Calls())
}

func TestRunDescribedToolNotRegistered(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{
		textResponse("You could use the web_search tool for that."),
	}}
	h := newHarness(t, primary, nil)

	answer, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, answer.Source)
	assert.Equal(t, "You could use the web_search tool for that.", answer.Text)
}

func TestRunRecoversToolCallsFromText(t *testing.T) {
	analyze := newStubTool("analyze_files")
	primary := &mockProvider{responses: []mockResponse{
		textResponse(`Checking. {"tool_calls":[{"id":"c1","type":"function","function":{"name":"analyze_files","arguments":"{\"file\":\"a.go\"}"}}]}`),
		textResponse("ok"),
	}}
	h := newHarness(t, primary, []tools.Tool{analyze})

	answer, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer.Text)
	require.Equal(t, 1, analyze.Calls())
	assert.Equal(t, "a.go", analyze.Args(0)["file"])
}

func TestRunEmptyReplyFallsBack(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{textResponse("   ")}}
	h := newHarness(t, primary, nil)

	answer, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, answer.Source)
}

func TestRunCacheHit(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{textResponse("fresh")}}
	h := newHarness(t, primary, nil)
	ctx := context.Background()
	h.cache.Set("cached question", "cached answer")

	answer, err := h.orch.Run(ctx, Request{Query: "cached question", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, answer.Source)
	assert.Equal(t, "cached answer", answer.Text)
	assert.Equal(t, 0, primary.Calls())
	assert.Equal(t, 0, h.history.Len(ctx, "t1"))

	answer, err = h.orch.Run(ctx, Request{Query: "cached question ", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, answer.Source, "keys are not normalized")
}

func TestRunUnknownTool(t *testing.T) {
	t.Run("falls back on first iteration", func(t *testing.T) {
		primary := &mockProvider{responses: []mockResponse{toolResponse("nope", nil)}}
		h := newHarness(t, primary, nil)

		answer, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, SourceFallback, answer.Source)
	})

	t.Run("surfaces kind without fallback", func(t *testing.T) {
		primary := &mockProvider{responses: []mockResponse{toolResponse("nope", nil)}}
		h := newHarness(t, primary, nil, withoutFallback())

		_, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
		ae := requireAgentError(t, err, KindUnknownTool)
		assert.NotContains(t, ae.UserMessage(), "nope")
	})
}

func TestRunLaterToolFailureReturnsPartial(t *testing.T) {
	analyze := newStubTool("analyze_files")
	analyze.result = func(int) *tools.ToolResult { return tools.NewToolResult("partial finding") }
	broken := newStubTool("search_codebase")
	broken.result = func(int) *tools.ToolResult { return tools.ErrorResult("index unavailable") }
	primary := &mockProvider{responses: []mockResponse{
		toolResponse("analyze_files", map[string]interface{}{"file": "a.go"}),
		toolResponse("search_codebase", map[string]interface{}{"query": "x"}),
	}}
	h := newHarness(t, primary, []tools.Tool{analyze, broken})

	answer, err := h.orch.Run(context.Background(), Request{Query: "q", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, SourcePartial, answer.Source)
	assert.Equal(t, "partial finding", answer.Text)
	assert.Equal(t, 0, h.fallback.Calls())
}

func TestRunCancelKeepsSnapshotForResume(t *testing.T) {
	analyze := newStubTool("analyze_files")
	primary := &mockProvider{responses: []mockResponse{
		toolResponse("analyze_files", map[string]interface{}{"file": "a.go"}),
		textResponse("resumed answer"),
	}}
	h := newHarness(t, primary, []tools.Tool{analyze})
	primary.onCall = func(n int) {
		if n == 0 {
			assert.True(t, h.orch.Cancel("t1"))
		}
	}
	ctx := context.Background()

	_, err := h.orch.Run(ctx, Request{Query: "long task", ThreadID: "t1"})
	requireAgentError(t, err, KindCancelled)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, primary.Calls())

	snap, err := h.snapshots.Load(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.CallCount)
	assert.False(t, h.orch.Cancel("t1"), "no run is active any more")

	primary.onCall = nil
	answer, err := h.orch.Run(ctx, Request{Query: "long task", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "resumed answer", answer.Text)
	assert.Equal(t, 2, answer.Iterations)
	assert.Equal(t, 1, analyze.Calls())

	snap, err = h.snapshots.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRunResumeFromExplicitSnapshot(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{textResponse("picked up")}}
	h := newHarness(t, primary, nil)

	snap := &Snapshot{
		ID:           "run-1",
		ThreadID:     "t1",
		Query:        "old question",
		CurrentQuery: continuationQuery("earlier finding"),
		Budget:       5,
		CallCount:    3,
		LastResult:   "earlier finding",
	}
	answer, err := h.orch.Run(context.Background(), Request{ThreadID: "t1", Resume: snap})
	require.NoError(t, err)
	assert.Equal(t, "picked up", answer.Text)
	assert.Equal(t, 4, answer.Iterations)

	turns := h.history.GetHistory(context.Background(), "t1")
	require.NotEmpty(t, turns)
	assert.Contains(t, turns[0].Content, "old question")
}

func TestRunRefusesConcurrentRunOnThread(t *testing.T) {
	primary := &mockProvider{
		responses: []mockResponse{textResponse("slow answer")},
		gate:      make(chan struct{}),
	}
	h := newHarness(t, primary, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Run(ctx, Request{Query: "first", ThreadID: "t1"})
		done <- err
	}()
	require.Eventually(t, func() bool { return primary.Calls() == 1 }, time.Second, 5*time.Millisecond)

	_, err := h.orch.Run(ctx, Request{Query: "second", ThreadID: "t1"})
	requireAgentError(t, err, KindThreadBusy)

	close(primary.gate)
	require.NoError(t, <-done)
}

func TestRunContextCancelled(t *testing.T) {
	primary := &mockProvider{block: true}
	h := newHarness(t, primary, nil)
	ctx, cancel := context.WithCancel(context.Background())
	primary.onCall = func(int) { cancel() }

	_, err := h.orch.Run(ctx, Request{Query: "q", ThreadID: "t1"})
	requireAgentError(t, err, KindCancelled)
	assert.Equal(t, 0, h.fallback.Calls())
}

func TestRunCallerCancellationDoesNotTripBreaker(t *testing.T) {
	primary := &mockProvider{
		responses: []mockResponse{textResponse("hello")},
		gate:      make(chan struct{}),
	}
	h := newHarness(t, primary, nil, withBreakerThreshold(2))

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		primary.onCall = func(int) { cancel() }
		_, err := h.orch.Run(ctx, Request{Query: fmt.Sprintf("question %d", i), ThreadID: fmt.Sprintf("t%d", i)})
		requireAgentError(t, err, KindCancelled)
		cancel()
	}
	assert.Equal(t, breaker.Closed, h.breaker.State())
	assert.Equal(t, 0, h.breaker.Stats().ConsecutiveFailures)

	primary.onCall = nil
	close(primary.gate)
	answer, err := h.orch.Run(context.Background(), Request{Query: "fresh question", ThreadID: "other"})
	require.NoError(t, err)
	assert.Equal(t, "hello", answer.Text)
	assert.Equal(t, SourcePrimary, answer.Source)
	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, 0, h.fallback.Calls())
}

func TestRunEmptyQuery(t *testing.T) {
	h := newHarness(t, &mockProvider{}, nil)
	_, err := h.orch.Run(context.Background(), Request{Query: "  ", ThreadID: "t1"})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRunCompactsLongHistory(t *testing.T) {
	primary := &mockProvider{responses: []mockResponse{textResponse("short reply")}}
	h := newHarness(t, primary, nil, func(_ *Deps, o *Options) { o.MaxContextTokens = 2000 })
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		h.history.AppendUserTurn(ctx, "t1", strings.Repeat("question ", 200))
		h.history.AppendModelTurn(ctx, "t1", strings.Repeat("answer ", 200))
	}
	before := h.history.Len(ctx, "t1")

	_, err := h.orch.Run(ctx, Request{Query: "and now?", ThreadID: "t1"})
	require.NoError(t, err)
	assert.Less(t, h.history.Len(ctx, "t1"), before)
	turns := h.history.GetHistory(ctx, "t1")
	assert.Equal(t, history.RoleHuman, turns[0].Role)
}
