package agent

import (
	"context"
	"errors"
	"time"

	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/codec"
	"github.com/zhaopengme/toolclaw/pkg/logger"
	"github.com/zhaopengme/toolclaw/pkg/providers"
	"github.com/zhaopengme/toolclaw/pkg/storage"
)

const DefaultSnapshotTTL = 24 * time.Hour

// Snapshot is a resumable checkpoint of a run, written after every
// successful tool call and cleared when the run finishes.
type Snapshot struct {
	ID                    string              `json:"id"`
	ThreadID              string              `json:"thread_id"`
	Query                 string              `json:"query"`
	CurrentQuery          string              `json:"current_query"`
	Budget                int                 `json:"budget"`
	CallCount             int                 `json:"call_count"`
	SeenQuerySignatures   []string            `json:"seen_query_signatures,omitempty"`
	SeenToolSignatures    []string            `json:"seen_tool_signatures,omitempty"`
	PlanSteps             []string            `json:"plan_steps,omitempty"`
	ConsecutiveThinkCalls int                 `json:"consecutive_think_calls"`
	LastToolCall          *providers.ToolCall `json:"last_tool_call,omitempty"`
	LastResult            string              `json:"last_result,omitempty"`
	Results               []toolOutcome       `json:"results,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	return codec.Marshal(s)
}

func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := codec.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SnapshotStore persists at most one snapshot per thread. Load returns
// nil, nil when there is none.
type SnapshotStore interface {
	Load(ctx context.Context, threadID string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Clear(ctx context.Context, threadID string) error
}

// StoreSnapshots keeps snapshots in a storage.Store and treats snapshots
// older than the TTL as absent.
type StoreSnapshots struct {
	store storage.Store
	ttl   time.Duration
	clk   clock.Clock
}

func NewSnapshotStore(store storage.Store, ttl time.Duration, clk clock.Clock) *StoreSnapshots {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &StoreSnapshots{store: store, ttl: ttl, clk: clk}
}

func snapshotKey(threadID string) string { return "snapshot:" + threadID }

func (s *StoreSnapshots) Load(ctx context.Context, threadID string) (*Snapshot, error) {
	data, err := s.store.Get(ctx, snapshotKey(threadID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		logger.WarnCF("agent", "Discarding unreadable snapshot", map[string]interface{}{
			"thread_id": threadID,
			"error":     err.Error(),
		})
		_ = s.store.Delete(ctx, snapshotKey(threadID))
		return nil, nil
	}
	if s.clk.Now().Sub(snap.UpdatedAt) > s.ttl {
		logger.DebugCF("agent", "Snapshot expired", map[string]interface{}{
			"thread_id":  threadID,
			"updated_at": snap.UpdatedAt,
		})
		_ = s.store.Delete(ctx, snapshotKey(threadID))
		return nil, nil
	}
	return snap, nil
}

func (s *StoreSnapshots) Save(ctx context.Context, snap *Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, snapshotKey(snap.ThreadID), data)
}

func (s *StoreSnapshots) Clear(ctx context.Context, threadID string) error {
	return s.store.Delete(ctx, snapshotKey(threadID))
}
