// Package tracker 記錄每個 (session, fingerprint) 範圍已送出的食譜組合
package tracker

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"
)

// session 單一範圍的狀態；served 只能在持有 mu 時修改
type session struct {
	mu         sync.Mutex
	served     map[recommend.CombinationKey]struct{}
	order      []recommend.CombinationKey
	createdAt  time.Time
	lastAccess time.Time
	// dead 代表已從 shard 移除，持有舊指標的呼叫者必須重新取得
	dead bool
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*session
}

var _ recommend.Tracker = (*MemoryTracker)(nil)

// MemoryTracker 行程內的組合追蹤器。
// 以 shard 分散範圍，每個範圍有自己的鎖，不同範圍之間不互相等待。
type MemoryTracker struct {
	shards  []*shard
	idleTTL time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryTracker 建立追蹤器；idleTTL 為範圍閒置多久後可被清除
func NewMemoryTracker(idleTTL time.Duration, shards int) *MemoryTracker {
	if shards <= 0 {
		shards = 32
	}
	t := &MemoryTracker{
		shards:  make([]*shard, shards),
		idleTTL: idleTTL,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[string]*session)}
	}
	return t
}

// StartSweeper 定期清除閒置範圍，直到 Close
func (t *MemoryTracker) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, _ := t.EvictExpired(context.Background()); n > 0 {
					common.LogInfo("已清除閒置的推薦紀錄", zap.Int("count", n))
				}
			case <-t.stop:
				return
			}
		}
	}()
}

// Close 停止背景清理
func (t *MemoryTracker) Close() error {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
	return nil
}

func (t *MemoryTracker) shardFor(scope string) *shard {
	h := fnv.New32a()
	h.Write([]byte(scope))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// lockSession 取得並鎖定範圍，必要時建立
func (t *MemoryTracker) lockSession(scope string, create bool) *session {
	sh := t.shardFor(scope)
	for {
		sh.mu.Lock()
		s, ok := sh.sessions[scope]
		if !ok {
			if !create {
				sh.mu.Unlock()
				return nil
			}
			now := t.now()
			s = &session{
				served:     make(map[recommend.CombinationKey]struct{}),
				createdAt:  now,
				lastAccess: now,
			}
			sh.sessions[scope] = s
		}
		sh.mu.Unlock()

		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// Reserve 原子地檢查並寫入組合；已存在時回傳 false
func (t *MemoryTracker) Reserve(_ context.Context, scope string, key recommend.CombinationKey) (bool, error) {
	s := t.lockSession(scope, true)
	defer s.mu.Unlock()

	s.lastAccess = t.now()
	if _, ok := s.served[key]; ok {
		return false, nil
	}
	s.served[key] = struct{}{}
	s.order = append(s.order, key)
	return true, nil
}

// Release 撤回保留
func (t *MemoryTracker) Release(_ context.Context, scope string, key recommend.CombinationKey) error {
	s := t.lockSession(scope, false)
	if s == nil {
		return nil
	}
	defer s.mu.Unlock()

	if _, ok := s.served[key]; !ok {
		return nil
	}
	delete(s.served, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Served 依送出順序回傳已送出的組合
func (t *MemoryTracker) Served(_ context.Context, scope string) ([]recommend.CombinationKey, error) {
	s := t.lockSession(scope, false)
	if s == nil {
		return nil, nil
	}
	defer s.mu.Unlock()

	s.lastAccess = t.now()
	out := make([]recommend.CombinationKey, len(s.order))
	copy(out, s.order)
	return out, nil
}

// Reset 移除整個範圍
func (t *MemoryTracker) Reset(_ context.Context, scope string) error {
	sh := t.shardFor(scope)
	sh.mu.Lock()
	s, ok := sh.sessions[scope]
	if ok {
		delete(sh.sessions, scope)
	}
	sh.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.dead = true
		s.mu.Unlock()
	}
	return nil
}

// EvictExpired 清除閒置超過 idleTTL 的範圍
func (t *MemoryTracker) EvictExpired(_ context.Context) (int, error) {
	if t.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := t.now().Add(-t.idleTTL)
	evicted := 0

	for _, sh := range t.shards {
		sh.mu.Lock()
		for scope, s := range sh.sessions {
			// 正在使用中的範圍跳過，下一輪再檢查
			if !s.mu.TryLock() {
				continue
			}
			if s.lastAccess.Before(cutoff) {
				s.dead = true
				delete(sh.sessions, scope)
				evicted++
			}
			s.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return evicted, nil
}

// Sessions 目前追蹤中的範圍數量
func (t *MemoryTracker) Sessions() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
