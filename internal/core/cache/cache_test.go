package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-recommender/internal/core/recommend"
)

func samplePage(page int) *recommend.Page {
	return &recommend.Page{
		Combinations: []recommend.Combination{{
			Key:                 recommend.CombinationKey(fmt.Sprintf("%d", page)),
			Recipes:             []recommend.RecommendedRecipe{{RecipeID: int64(page), Title: "계란볶음밥"}},
			CoveredIngredients:  []string{"egg"},
			LeftoverIngredients: []string{"rice"},
			CoverageRatio:       0.5,
		}},
		Page:        page,
		PageSize:    1,
		HasMore:     true,
		Fingerprint: "inv:abc",
	}
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "test", time.Minute), s
}

func caches(t *testing.T) map[string]recommend.Cache {
	rc, _ := newRedisCache(t)
	return map[string]recommend.Cache{
		"memory": NewMemoryCache(100, 4, time.Minute),
		"redis":  rc,
	}
}

func TestCacheGetPut(t *testing.T) {
	ctx := context.Background()
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := c.Get(ctx, "s|inv:abc", 1)
			assert.False(t, ok)

			want := samplePage(1)
			c.Put(ctx, "s|inv:abc", 1, want, 0)

			got, ok := c.Get(ctx, "s|inv:abc", 1)
			require.True(t, ok)
			assert.Equal(t, want.Combinations, got.Combinations)
			assert.Equal(t, want.HasMore, got.HasMore)

			_, ok = c.Get(ctx, "s|inv:abc", 2)
			assert.False(t, ok, "pages are cached independently")
			_, ok = c.Get(ctx, "other|inv:abc", 1)
			assert.False(t, ok, "scopes are cached independently")
		})
	}
}

func TestCacheFlush(t *testing.T) {
	ctx := context.Background()
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			c.Put(ctx, "s|inv:abc", 1, samplePage(1), 0)
			c.Put(ctx, "s|inv:abc", 2, samplePage(2), 0)
			c.Put(ctx, "keep|inv:abc", 1, samplePage(1), 0)

			c.Flush(ctx, "s|inv:abc")

			_, ok := c.Get(ctx, "s|inv:abc", 1)
			assert.False(t, ok)
			_, ok = c.Get(ctx, "s|inv:abc", 2)
			assert.False(t, ok)
			_, ok = c.Get(ctx, "keep|inv:abc", 1)
			assert.True(t, ok)
		})
	}
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, 1, time.Minute)

	c.Put(ctx, "a", 1, samplePage(1), 0)
	c.Put(ctx, "b", 1, samplePage(1), 0)
	_, ok := c.Get(ctx, "a", 1)
	require.True(t, ok)

	c.Put(ctx, "c", 1, samplePage(1), 0)

	_, ok = c.Get(ctx, "b", 1)
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get(ctx, "a", 1)
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c", 1)
	assert.True(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats["evictions"])
	assert.Equal(t, 2, stats["size"])
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10, 1, time.Minute)
	c.now = func() time.Time { return now }

	c.Put(ctx, "s", 1, samplePage(1), 0)
	c.Put(ctx, "s", 2, samplePage(2), 10*time.Minute)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get(ctx, "s", 1)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "s", 2)
	assert.True(t, ok)

	now = now.Add(20 * time.Minute)
	assert.Equal(t, 1, c.cleanup())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(64, 8, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scope := fmt.Sprintf("s%d", i%4)
			for p := 1; p <= 20; p++ {
				c.Put(ctx, scope, p, samplePage(p), 0)
				c.Get(ctx, scope, p)
			}
			c.Flush(ctx, scope)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func TestRedisCacheTTLAndStats(t *testing.T) {
	ctx := context.Background()
	c, s := newRedisCache(t)

	c.Put(ctx, "s", 1, samplePage(1), 30*time.Second)
	assert.Equal(t, 30*time.Second, s.TTL("test:page:s:1"))

	_, ok := c.Get(ctx, "s", 1)
	require.True(t, ok)

	s.FastForward(time.Minute)
	_, ok = c.Get(ctx, "s", 1)
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
}

func TestRedisCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, s := newRedisCache(t)
	require.NoError(t, s.Set("test:page:s:1", "{not json"))

	_, ok := c.Get(ctx, "s", 1)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats()["errors"])
}
