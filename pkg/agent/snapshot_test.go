package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaopengme/toolclaw/pkg/clock"
	"github.com/zhaopengme/toolclaw/pkg/storage"
)

func TestSnapshotStoreSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewSnapshotStore(storage.NewMemoryStore(), 0, clk)

	snap, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, store.Save(ctx, &Snapshot{ThreadID: "t1", Query: "q", CallCount: 2, UpdatedAt: clk.Now()}))
	snap, err = store.Load(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.CallCount)

	require.NoError(t, store.Clear(ctx, "t1"))
	snap, err = store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshotStoreExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backing := storage.NewMemoryStore()
	store := NewSnapshotStore(backing, 0, clk)

	require.NoError(t, store.Save(ctx, &Snapshot{ThreadID: "t1", Query: "q", UpdatedAt: clk.Now()}))

	clk.Advance(23 * time.Hour)
	snap, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.NotNil(t, snap)

	clk.Advance(2 * time.Hour)
	snap, err = store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = backing.Get(ctx, snapshotKey("t1"))
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired snapshots are deleted")
}

func TestSnapshotStoreDropsCorruptData(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	require.NoError(t, backing.Set(ctx, snapshotKey("t1"), []byte("not cbor")))

	snap, err := NewSnapshotStore(backing, 0, nil).Load(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}
