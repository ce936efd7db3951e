package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/codec"
	"github.com/zhaopengme/toolclaw/pkg/logger"
	"github.com/zhaopengme/toolclaw/pkg/providers"
	"github.com/zhaopengme/toolclaw/pkg/storage"
	"github.com/zhaopengme/toolclaw/pkg/tokens"
)

const (
	DefaultMaxTurns   = 50
	DefaultRecentKeep = 4
	DefaultTTL        = 7 * 24 * time.Hour

	keyPrefix = "conversation:"
	indexKey  = "conversations:index"
)

// Summarizer condenses a run of turns into a short text. It is usually an
// LLM round trip.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (string, error)
}

type Options struct {
	MaxTurns   int
	RecentKeep int
	TTL        time.Duration

	// Store persists conversations; nil keeps everything in memory.
	Store      storage.Store
	Counter    tokens.Counter
	Summarizer Summarizer
	Clock      clock.Clock
}

// Manager owns the conversation of every thread. Every append enforces the
// turn cap and keeps the sequence starting with a human turn.
type Manager struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	// thread ids known from the persisted index
	index       map[string]bool
	indexLoaded bool
	// bumped on every mutation of a thread
	rev map[string]uint64

	opts Options
}

func NewManager(opts Options) *Manager {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.RecentKeep <= 0 {
		opts.RecentKeep = DefaultRecentKeep
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Counter == nil {
		opts.Counter = tokens.NewApproximator("")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Manager{
		convs: make(map[string]*Conversation),
		index: make(map[string]bool),
		rev:   make(map[string]uint64),
		opts:  opts,
	}
}

// SetSummarizer installs the summarizer used by Compact.
func (m *Manager) SetSummarizer(s Summarizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Summarizer = s
}

func (m *Manager) Counter() tokens.Counter { return m.opts.Counter }

// AppendUserTurn appends a human turn. Turns are never edited once
// appended; adjacent human turns are merged only when messages are built.
func (m *Manager) AppendUserTurn(ctx context.Context, threadID, content string) {
	m.append(ctx, threadID, Turn{Role: RoleHuman, Content: content})
}

// AppendModelTurn appends the model's terminal text answer.
func (m *Manager) AppendModelTurn(ctx context.Context, threadID, content string) {
	m.append(ctx, threadID, Turn{Role: RoleModel, Content: content})
}

// AppendModelToolTurn appends a model turn that requests tool calls.
func (m *Manager) AppendModelToolTurn(ctx context.Context, threadID, content string, calls []providers.ToolCall) {
	cp := make([]providers.ToolCall, len(calls))
	copy(cp, calls)
	m.append(ctx, threadID, Turn{Role: RoleModel, Content: content, ToolCalls: cp})
}

// AppendToolResultTurn appends the result of one tool call.
func (m *Manager) AppendToolResultTurn(ctx context.Context, threadID, toolCallID, toolName, content string) {
	m.append(ctx, threadID, Turn{
		Role:       RoleToolResult,
		Content:    content,
		ToolCallID: toolCallID,
		ToolName:   toolName,
	})
}

func (m *Manager) append(ctx context.Context, threadID string, turn Turn) {
	m.mu.Lock()
	conv := m.loadLocked(ctx, threadID)
	now := m.opts.Clock.Now()
	turn.Timestamp = now

	conv.Turns = append(conv.Turns, turn)

	dropped := m.enforceCapLocked(conv)
	conv.UpdatedAt = now
	m.rev[threadID]++
	data, err := codec.Marshal(conv)
	m.mu.Unlock()

	if dropped > 0 {
		logger.DebugCF("history", "Trimmed conversation to turn cap", map[string]interface{}{
			"thread_id": threadID,
			"dropped":   dropped,
			"max_turns": m.opts.MaxTurns,
		})
	}
	m.persist(ctx, threadID, data, err)
}

// enforceCapLocked trims from the oldest end until the cap holds and the
// first turn is human.
func (m *Manager) enforceCapLocked(conv *Conversation) int {
	dropped := 0
	if over := len(conv.Turns) - m.opts.MaxTurns; over > 0 {
		conv.Turns = conv.Turns[over:]
		dropped += over
	}
	var lead int
	conv.Turns, lead = trimLeadingNonHuman(conv.Turns)
	dropped += lead
	if dropped > 0 {
		conv.Turns = append([]Turn(nil), conv.Turns...)
	}
	return dropped
}

// GetHistory returns a copy of the thread's turns.
func (m *Manager) GetHistory(ctx context.Context, threadID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.loadLocked(ctx, threadID)
	out := make([]Turn, len(conv.Turns))
	copy(out, conv.Turns)
	return out
}

func (m *Manager) Len(ctx context.Context, threadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loadLocked(ctx, threadID).Turns)
}

// Clear destroys the thread's conversation in memory and in storage.
func (m *Manager) Clear(ctx context.Context, threadID string) {
	m.mu.Lock()
	delete(m.convs, threadID)
	m.rev[threadID]++
	m.ensureIndexLocked(ctx)
	delete(m.index, threadID)
	idx := m.indexBytesLocked()
	m.mu.Unlock()

	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.Delete(ctx, keyPrefix+threadID); err != nil {
		logger.WarnCF("history", "Failed to delete persisted conversation", map[string]interface{}{
			"thread_id": threadID,
			"error":     err.Error(),
		})
	}
	m.writeIndex(ctx, idx)
}

// Threads lists every known thread id, persisted or in memory, sorted.
func (m *Manager) Threads(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureIndexLocked(ctx)
	seen := make(map[string]bool, len(m.index)+len(m.convs))
	for id := range m.index {
		seen[id] = true
	}
	for id := range m.convs {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupExpired removes conversations not updated within the TTL and
// returns how many were removed.
func (m *Manager) CleanupExpired(ctx context.Context, now time.Time) int {
	var expired []string
	for _, id := range m.Threads(ctx) {
		m.mu.Lock()
		conv := m.loadLocked(ctx, id)
		stale := now.Sub(conv.UpdatedAt) > m.opts.TTL
		m.mu.Unlock()
		if stale {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.Clear(ctx, id)
	}
	if len(expired) > 0 {
		logger.InfoCF("history", "Expired conversations removed", map[string]interface{}{
			"count": len(expired),
			"ttl":   m.opts.TTL.String(),
		})
	}
	return len(expired)
}

// loadLocked returns the thread's conversation, reading it from storage on
// first touch. Storage failures degrade to an empty in-memory conversation.
func (m *Manager) loadLocked(ctx context.Context, threadID string) *Conversation {
	if conv, ok := m.convs[threadID]; ok {
		return conv
	}
	now := m.opts.Clock.Now()
	conv := &Conversation{ThreadID: threadID, CreatedAt: now, UpdatedAt: now}

	if m.opts.Store != nil {
		data, err := m.opts.Store.Get(ctx, keyPrefix+threadID)
		switch {
		case err == nil:
			var stored Conversation
			if err := codec.Unmarshal(data, &stored); err != nil {
				logger.WarnCF("history", "Discarding unreadable conversation", map[string]interface{}{
					"thread_id": threadID,
					"error":     err.Error(),
				})
			} else {
				conv = &stored
				conv.ThreadID = threadID
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			logger.WarnCF("history", "Conversation storage unavailable, continuing in memory", map[string]interface{}{
				"thread_id": threadID,
				"error":     err.Error(),
			})
		}
	}
	m.convs[threadID] = conv
	return conv
}

func (m *Manager) persist(ctx context.Context, threadID string, data []byte, encErr error) {
	if m.opts.Store == nil {
		return
	}
	if encErr != nil {
		logger.ErrorCF("history", "Failed to encode conversation", map[string]interface{}{
			"thread_id": threadID,
			"error":     encErr.Error(),
		})
		return
	}
	if err := m.opts.Store.Set(ctx, keyPrefix+threadID, data); err != nil {
		logger.WarnCF("history", "Failed to persist conversation, continuing in memory", map[string]interface{}{
			"thread_id": threadID,
			"error":     err.Error(),
		})
		return
	}

	m.mu.Lock()
	m.ensureIndexLocked(ctx)
	known := m.index[threadID]
	m.index[threadID] = true
	idx := m.indexBytesLocked()
	m.mu.Unlock()
	if !known {
		m.writeIndex(ctx, idx)
	}
}

func (m *Manager) ensureIndexLocked(ctx context.Context) {
	if m.indexLoaded || m.opts.Store == nil {
		return
	}
	m.indexLoaded = true
	data, err := m.opts.Store.Get(ctx, indexKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.WarnCF("history", "Failed to read conversation index", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	var ids []string
	if err := codec.Unmarshal(data, &ids); err != nil {
		logger.WarnCF("history", "Discarding unreadable conversation index", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, id := range ids {
		m.index[id] = true
	}
}

func (m *Manager) indexBytesLocked() []byte {
	if m.opts.Store == nil {
		return nil
	}
	ids := make([]string, 0, len(m.index))
	for id := range m.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, _ := codec.Marshal(ids)
	return data
}

func (m *Manager) writeIndex(ctx context.Context, data []byte) {
	if m.opts.Store == nil || data == nil {
		return
	}
	if err := m.opts.Store.Set(ctx, indexKey, data); err != nil {
		logger.WarnCF("history", "Failed to persist conversation index", map[string]interface{}{"error": err.Error()})
	}
}
