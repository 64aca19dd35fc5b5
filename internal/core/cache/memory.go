// Package cache 推薦結果頁快取
package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"
)

var _ recommend.Cache = (*MemoryCache)(nil)

type pageKey struct {
	scope string
	page  int
}

// cacheEntry 快取條目
type cacheEntry struct {
	key       pageKey
	value     *recommend.Page
	expiresAt time.Time
}

// lruShard 同一範圍的所有頁都落在同一個 shard，Flush 只需鎖一個 shard
type lruShard struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[pageKey]*list.Element
	byScope  map[string]map[int]*list.Element
}

// cacheStats 快取統計
type cacheStats struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// MemoryCache 分片的 LRU 快取，容量達上限時淘汰最久未使用的頁
type MemoryCache struct {
	shards     []*lruShard
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	stats      cacheStats

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryCache 建立記憶體快取；maxSize 平均分配到各 shard
func NewMemoryCache(maxSize, shards int, defaultTTL time.Duration) *MemoryCache {
	if shards <= 0 {
		shards = 16
	}
	if maxSize < shards {
		shards = 1
	}
	per := maxSize / shards
	if per <= 0 {
		per = 1
	}

	c := &MemoryCache{
		shards:     make([]*lruShard, shards),
		maxSize:    per * shards,
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &lruShard{
			capacity: per,
			ll:       list.New(),
			items:    make(map[pageKey]*list.Element),
			byScope:  make(map[string]map[int]*list.Element),
		}
	}

	common.LogInfo("快取管理員已初始化",
		zap.Int("最大容量", c.maxSize),
		zap.Int("分片數", shards),
		zap.Duration("存活時間", defaultTTL),
	)
	return c
}

func (c *MemoryCache) shardFor(scope string) *lruShard {
	h := fnv.New32a()
	h.Write([]byte(scope))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get 取得快取頁，過期的條目會在此時移除
func (c *MemoryCache) Get(_ context.Context, scope string, page int) (*recommend.Page, bool) {
	sh := c.shardFor(scope)
	k := pageKey{scope: scope, page: page}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.items[k]
	if !ok {
		c.stats.misses.Add(1)
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		sh.remove(el)
		c.stats.expired.Add(1)
		c.stats.misses.Add(1)
		return nil, false
	}

	sh.ll.MoveToFront(el)
	c.stats.hits.Add(1)
	return entry.value, true
}

// Put 寫入快取頁；ttl <= 0 時使用預設值
func (c *MemoryCache) Put(_ context.Context, scope string, page int, value *recommend.Page, ttl time.Duration) {
	if value == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	sh := c.shardFor(scope)
	k := pageKey{scope: scope, page: page}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := sh.items[k]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		sh.ll.MoveToFront(el)
		return
	}

	el := sh.ll.PushFront(&cacheEntry{key: k, value: value, expiresAt: expiresAt})
	sh.items[k] = el
	pages, ok := sh.byScope[scope]
	if !ok {
		pages = make(map[int]*list.Element)
		sh.byScope[scope] = pages
	}
	pages[page] = el

	for sh.ll.Len() > sh.capacity {
		sh.remove(sh.ll.Back())
		c.stats.evictions.Add(1)
	}
}

// Flush 移除範圍內的所有頁
func (c *MemoryCache) Flush(_ context.Context, scope string) {
	sh := c.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, el := range sh.byScope[scope] {
		sh.remove(el)
	}
}

func (sh *lruShard) remove(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	sh.ll.Remove(el)
	delete(sh.items, entry.key)
	if pages, ok := sh.byScope[entry.key.scope]; ok {
		delete(pages, entry.key.page)
		if len(pages) == 0 {
			delete(sh.byScope, entry.key.scope)
		}
	}
}

// StartCleanup 定期清除過期條目，直到 Close
func (c *MemoryCache) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.cleanup()
			case <-c.stop:
				return
			}
		}
	}()
}

// cleanup 清理過期的緩存
func (c *MemoryCache) cleanup() int {
	now := c.now()
	count := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for el := sh.ll.Back(); el != nil; {
			prev := el.Prev()
			if now.After(el.Value.(*cacheEntry).expiresAt) {
				sh.remove(el)
				count++
			}
			el = prev
		}
		sh.mu.Unlock()
	}

	if count > 0 {
		c.stats.expired.Add(int64(count))
		common.LogDebug("Cleaned up expired cache entries",
			zap.Int("count", count),
			zap.Int("remaining_size", c.Len()),
		)
	}
	return count
}

// Len 目前條目數
func (c *MemoryCache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += sh.ll.Len()
		sh.mu.Unlock()
	}
	return n
}

// GetStats 獲取緩存統計信息
func (c *MemoryCache) GetStats() map[string]interface{} {
	hits := c.stats.hits.Load()
	misses := c.stats.misses.Load()
	ratio := 0.0
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}
	return map[string]interface{}{
		"backend":   "memory",
		"size":      c.Len(),
		"max_size":  c.maxSize,
		"hits":      hits,
		"misses":    misses,
		"evictions": c.stats.evictions.Load(),
		"expired":   c.stats.expired.Load(),
		"hit_ratio": ratio,
	}
}

// Close 停止清理並清空快取
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()

	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.ll.Init()
		sh.items = make(map[pageKey]*list.Element)
		sh.byScope = make(map[string]map[int]*list.Element)
		sh.mu.Unlock()
	}
	common.LogInfo("快取管理員已關閉",
		zap.Int64("命中次數", c.stats.hits.Load()),
		zap.Int64("未命中次數", c.stats.misses.Load()),
		zap.Int64("淘汰次數", c.stats.evictions.Load()),
	)
	return nil
}
