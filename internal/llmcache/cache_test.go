package llmcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_PutThenGetIsAHit(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{})
	ctx := context.Background()
	key := NewKey("system", "user")

	require.NoError(t, c.Put(ctx, key, &Result{Text: "result", Provider: "anthropic"}, time.Minute))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "result", got.Text)
	assert.Equal(t, 1, got.HitCount)
}

func TestMemoryCache_UnknownKeyIsAMiss(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{})
	got, err := c.Get(context.Background(), NewKey("a", "b"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{})
	ctx := context.Background()
	key := NewKey("system", "user")

	require.NoError(t, c.Put(ctx, key, &Result{Text: "stale"}, -time.Second))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, NewKey("a", "1"), &Result{Text: "1", CreatedAt: time.Now().Add(-2 * time.Hour)}, time.Hour))
	require.NoError(t, c.Put(ctx, NewKey("a", "2"), &Result{Text: "2", CreatedAt: time.Now().Add(-time.Hour)}, time.Hour))
	require.NoError(t, c.Put(ctx, NewKey("a", "3"), &Result{Text: "3", CreatedAt: time.Now()}, time.Hour))

	got1, _ := c.Get(ctx, NewKey("a", "1"))
	assert.Nil(t, got1, "oldest entry must be evicted once capacity is exceeded")

	got3, _ := c.Get(ctx, NewKey("a", "3"))
	assert.NotNil(t, got3)
}

func TestNewKey_SamePromptsProduceSameKey(t *testing.T) {
	assert.Equal(t, NewKey("sys", "user"), NewKey("sys", "user"))
	assert.NotEqual(t, NewKey("sys", "user1"), NewKey("sys", "user2"))
}

func TestNoOpCache_NeverHits(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()
	key := NewKey("a", "b")

	require.NoError(t, c.Put(ctx, key, &Result{Text: "ignored"}, time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStats_ComputesHitRate(t *testing.T) {
	c := NewMemoryCache(MemoryCacheConfig{})
	ctx := context.Background()
	key := NewKey("a", "b")

	_, _ = c.Get(ctx, key) // miss
	require.NoError(t, c.Put(ctx, key, &Result{Text: "x"}, time.Minute))
	_, _ = c.Get(ctx, key) // hit

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}
