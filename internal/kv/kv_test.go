package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", "v1", 0))
	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", value)

	// Full-value overwrite.
	require.NoError(t, store.Put(ctx, "k", "v2", 0))
	value, _, _ = store.Get(ctx, "k")
	assert.Equal(t, "v2", value)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "counter", "3", 24*time.Hour))

	_, ok, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(24*time.Hour - time.Second)
	_, ok, _ = store.Get(ctx, "counter")
	assert.True(t, ok, "entry must survive until the TTL elapses")

	now = now.Add(2 * time.Second)
	_, ok, _ = store.Get(ctx, "counter")
	assert.False(t, ok, "entry must expire after its TTL")
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ABCD-EFGH-1234-5678", `{"mac":"AA:BB:CC:DD:EE:FF"}`, 0))
	value, ok, err := store.Get(ctx, "ABCD-EFGH-1234-5678")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"mac":"AA:BB:CC:DD:EE:FF"}`, value)

	_, ok, err = store.Get(ctx, "never-written")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "ABCD-EFGH-1234-5678"))
	_, ok, _ = store.Get(ctx, "ABCD-EFGH-1234-5678")
	assert.False(t, ok)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "dl:AABBCCDDEEFF:2025-06-01", "20", 24*time.Hour))
	require.NoError(t, store.Put(ctx, "permanent", "x", 0))

	now = now.Add(25 * time.Hour)

	_, ok, err := store.Get(ctx, "dl:AABBCCDDEEFF:2025-06-01")
	require.NoError(t, err)
	assert.False(t, ok, "counter must self-clear after one day")

	_, ok, err = store.Get(ctx, "permanent")
	require.NoError(t, err)
	assert.True(t, ok, "zero TTL entries never expire")

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged, "expired row already removed by the read")
}
