package zenq_test

import (
	"context"
	"testing"

	"zenq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_ReadWriteDelete(t *testing.T) {
	storage := zenq.NewMemoryStorage()
	ctx := context.Background()

	// Miss before any write.
	_, err := storage.Read(ctx, "missing")
	assert.ErrorIs(t, err, zenq.ErrNotFound)

	require.NoError(t, storage.Write(ctx, "k1", []byte(`{"a":1}`)))
	got, err := storage.Read(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	require.NoError(t, storage.Delete(ctx, "k1"))
	_, err = storage.Read(ctx, "k1")
	assert.ErrorIs(t, err, zenq.ErrNotFound)
}

func TestMemoryStorage_DefensiveCopies(t *testing.T) {
	storage := zenq.NewMemoryStorage()
	ctx := context.Background()

	payload := []byte("original")
	require.NoError(t, storage.Write(ctx, "k", payload))

	// Mutating the caller's slice must not affect the stored value.
	payload[0] = 'X'
	got, err := storage.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	// Mutating a returned slice must not affect later reads.
	got[0] = 'Y'
	again, err := storage.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestMemoryStorage_Stats(t *testing.T) {
	storage := zenq.NewMemoryStorage()
	ctx := context.Background()

	provider, ok := storage.(zenq.StorageStatsProvider)
	require.True(t, ok, "memory storage should expose stats")

	_ = storage.Write(ctx, "k", []byte("v"))
	_, _ = storage.Read(ctx, "k")
	_, _ = storage.Read(ctx, "absent")
	_ = storage.Delete(ctx, "k")

	stats := provider.GetStorageStats(ctx)
	assert.Equal(t, 1, stats.Counters["Write"])
	assert.Equal(t, 2, stats.Counters["Read"])
	assert.Equal(t, 1, stats.Counters["ReadHit"])
	assert.Equal(t, 1, stats.Counters["ReadMiss"])
	assert.Equal(t, 1, stats.Counters["Delete"])
}
