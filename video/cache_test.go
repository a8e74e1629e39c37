package video

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdex/clipdex/classify"
	"github.com/clipdex/clipdex/kv"
)

func TestStatsCacheComputesOnMiss(t *testing.T) {
	// Given a library with one classified video out of two
	store := newTestStore(t)
	ctx := context.Background()
	addVideo(t, store, "v1", "owner-1")
	addVideo(t, store, "v2", "owner-1")
	require.NoError(t, store.Apply(ctx, "v1", classify.Result{Success: true}))

	cache := NewStatsCache(kv.NewMemory(), store)

	// When reading stats for the first time
	stats, err := cache.Stats(ctx, "owner-1")

	// Then they reflect the database
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Classified)
	assert.Equal(t, 1, stats.Unclassified)
}

func TestStatsCacheServesCachedUntilInvalidated(t *testing.T) {
	// Given cached stats
	store := newTestStore(t)
	ctx := context.Background()
	addVideo(t, store, "v1", "owner-1")

	cache := NewStatsCache(kv.NewMemory(), store)
	stats, err := cache.Stats(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Classified)

	// When the database changes behind the cache
	require.NoError(t, store.Apply(ctx, "v1", classify.Result{Success: true}))

	// Then reads stay stale until Invalidate
	stats, err = cache.Stats(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Classified)

	require.NoError(t, cache.Invalidate(ctx, "owner-1"))

	stats, err = cache.Stats(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classified)
}
