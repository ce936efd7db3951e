package agent

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhaopengme/toolclaw/pkg/providers"
)

const DefaultToolSignatureWindow = 10

// signatureWindow is a set that remembers only the most recent cap entries.
type signatureWindow struct {
	cap   int
	order []string
	set   map[string]struct{}
}

func newSignatureWindow(capacity int) *signatureWindow {
	if capacity <= 0 {
		capacity = DefaultToolSignatureWindow
	}
	return &signatureWindow{cap: capacity, set: make(map[string]struct{})}
}

func (w *signatureWindow) Contains(sig string) bool {
	_, ok := w.set[sig]
	return ok
}

func (w *signatureWindow) Add(sig string) {
	if w.Contains(sig) {
		return
	}
	if len(w.order) == w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.set, oldest)
	}
	w.order = append(w.order, sig)
	w.set[sig] = struct{}{}
}

func (w *signatureWindow) Items() []string {
	return append([]string(nil), w.order...)
}

// toolOutcome is a successful tool result kept for the fallback prompt.
type toolOutcome struct {
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

// LoopSession is the working state of one Run. Only the run's goroutine
// touches it, except for the cancel flag.
type LoopSession struct {
	ID       string
	ThreadID string
	Query    string
	// CurrentQuery is the effective query of the next iteration: the user
	// query first, then each synthesized continuation.
	CurrentQuery string
	Budget       int
	CallCount    int

	seenQueries           map[string]struct{}
	seenQueryOrder        []string
	seenTools             *signatureWindow
	PlanSteps             []string
	ConsecutiveThinkCalls int

	LastToolCall *providers.ToolCall
	LastResult   string
	results      []toolOutcome
	toolCalls    int

	CreatedAt time.Time
	cancelled atomic.Bool
}

func newLoopSession(threadID, query string, budget, window int, now time.Time) *LoopSession {
	return &LoopSession{
		ID:           uuid.NewString(),
		ThreadID:     threadID,
		Query:        query,
		CurrentQuery: query,
		Budget:       budget,
		seenQueries:  make(map[string]struct{}),
		seenTools:    newSignatureWindow(window),
		CreatedAt:    now,
	}
}

// Cancel marks the session; the loop stops at its next iteration boundary.
func (s *LoopSession) Cancel() { s.cancelled.Store(true) }

func (s *LoopSession) Cancelled() bool { return s.cancelled.Load() }

// SeeQuery records sig and reports whether it was already seen in this run.
func (s *LoopSession) SeeQuery(sig string) bool {
	if _, ok := s.seenQueries[sig]; ok {
		return true
	}
	s.seenQueries[sig] = struct{}{}
	s.seenQueryOrder = append(s.seenQueryOrder, sig)
	return false
}

// SeeToolSignature records sig in the bounded window and reports whether it
// was already there.
func (s *LoopSession) SeeToolSignature(sig string) bool {
	if s.seenTools.Contains(sig) {
		return true
	}
	s.seenTools.Add(sig)
	return false
}

func (s *LoopSession) recordResult(call providers.ToolCall, result string) {
	c := call
	s.LastToolCall = &c
	s.LastResult = result
	s.results = append(s.results, toolOutcome{Tool: call.Name, Result: result})
}

// partial is the best answer-like text produced so far: the most recent
// successful tool result.
func (s *LoopSession) partial() string {
	return s.LastResult
}

// Snapshot captures the resumable part of the session.
func (s *LoopSession) Snapshot(now time.Time) *Snapshot {
	snap := &Snapshot{
		ID:                    s.ID,
		ThreadID:              s.ThreadID,
		Query:                 s.Query,
		CurrentQuery:          s.CurrentQuery,
		Budget:                s.Budget,
		CallCount:             s.CallCount,
		SeenQuerySignatures:   append([]string(nil), s.seenQueryOrder...),
		SeenToolSignatures:    s.seenTools.Items(),
		PlanSteps:             append([]string(nil), s.PlanSteps...),
		ConsecutiveThinkCalls: s.ConsecutiveThinkCalls,
		LastResult:            s.LastResult,
		Results:               append([]toolOutcome(nil), s.results...),
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             now,
	}
	if s.LastToolCall != nil {
		tc := *s.LastToolCall
		snap.LastToolCall = &tc
	}
	return snap
}

// restoreSession rebuilds a session from snap. The window capacity comes
// from the current configuration, not the snapshot.
func restoreSession(snap *Snapshot, window int) *LoopSession {
	s := &LoopSession{
		ID:                    snap.ID,
		ThreadID:              snap.ThreadID,
		Query:                 snap.Query,
		CurrentQuery:          snap.CurrentQuery,
		Budget:                snap.Budget,
		CallCount:             snap.CallCount,
		seenQueries:           make(map[string]struct{}),
		seenTools:             newSignatureWindow(window),
		PlanSteps:             append([]string(nil), snap.PlanSteps...),
		ConsecutiveThinkCalls: snap.ConsecutiveThinkCalls,
		LastResult:            snap.LastResult,
		results:               append([]toolOutcome(nil), snap.Results...),
		CreatedAt:             snap.CreatedAt,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CurrentQuery == "" {
		s.CurrentQuery = s.Query
	}
	for _, sig := range snap.SeenQuerySignatures {
		s.SeeQuery(sig)
	}
	for _, sig := range snap.SeenToolSignatures {
		s.seenTools.Add(sig)
	}
	if snap.LastToolCall != nil {
		tc := *snap.LastToolCall
		s.LastToolCall = &tc
	}
	return s
}
