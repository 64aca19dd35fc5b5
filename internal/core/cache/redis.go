package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"
)

var _ recommend.Cache = (*RedisCache)(nil)

// RedisCache 共用的推薦結果快取。
// 每頁一個 key，另以 set 記錄範圍內的頁以便 Flush。
// Redis 錯誤只記錄日誌並視為未命中。
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewRedisCache 創建快取服務
func NewRedisCache(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "recrec"
	}
	return &RedisCache{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

func (c *RedisCache) pageKey(scope string, page int) string {
	return fmt.Sprintf("%s:page:%s:%d", c.prefix, scope, page)
}

func (c *RedisCache) indexKey(scope string) string {
	return fmt.Sprintf("%s:pages:%s", c.prefix, scope)
}

// Get 獲取緩存
func (c *RedisCache) Get(ctx context.Context, scope string, page int) (*recommend.Page, bool) {
	data, err := c.client.Get(ctx, c.pageKey(scope, page)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.errors.Add(1)
			common.LogWarn("讀取快取失敗", zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}

	var p recommend.Page
	if err := common.UnmarshalJSON(data, &p); err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		common.LogWarn("快取內容無法解析", zap.Error(err))
		return nil, false
	}
	c.hits.Add(1)
	return &p, true
}

// Put 設置緩存
func (c *RedisCache) Put(ctx context.Context, scope string, page int, value *recommend.Page, ttl time.Duration) {
	if value == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := common.MarshalJSON(value)
	if err != nil {
		c.errors.Add(1)
		common.LogError("快取序列化失敗", zap.Error(err))
		return
	}

	key := c.pageKey(scope, page)
	index := c.indexKey(scope)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	if err != nil {
		c.errors.Add(1)
		common.LogWarn("寫入快取失敗", zap.Error(err))
	}
}

// Flush 刪除範圍內的所有頁
func (c *RedisCache) Flush(ctx context.Context, scope string) {
	index := c.indexKey(scope)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		c.errors.Add(1)
		common.LogWarn("讀取快取索引失敗", zap.Error(err))
		return
	}
	if err := c.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		c.errors.Add(1)
		common.LogWarn("清除快取失敗", zap.Error(err))
	}
}

// GetStats 獲取緩存統計信息
func (c *RedisCache) GetStats() map[string]interface{} {
	hits, misses := c.hits.Load(), c.misses.Load()
	ratio := 0.0
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}
	return map[string]interface{}{
		"backend":   "redis",
		"hits":      hits,
		"misses":    misses,
		"errors":    c.errors.Load(),
		"hit_ratio": ratio,
	}
}
