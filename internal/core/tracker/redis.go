package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"recipe-recommender/internal/core/recommend"
)

var _ recommend.Tracker = (*RedisTracker)(nil)

// RedisTracker 以 Redis set 記錄已送出的組合，供多個實例共用。
// SADD 的回傳值即為原子的檢查並寫入結果，閒置過期交給 key TTL。
type RedisTracker struct {
	client  redis.UniversalClient
	prefix  string
	idleTTL time.Duration
}

// NewRedisTracker 建立 Redis 追蹤器
func NewRedisTracker(client redis.UniversalClient, prefix string, idleTTL time.Duration) *RedisTracker {
	if prefix == "" {
		prefix = "recrec"
	}
	return &RedisTracker{client: client, prefix: prefix, idleTTL: idleTTL}
}

func (t *RedisTracker) key(scope string) string {
	return fmt.Sprintf("%s:served:%s", t.prefix, scope)
}

// Reserve 以 SADD 保留組合並延長範圍存活時間
func (t *RedisTracker) Reserve(ctx context.Context, scope string, key recommend.CombinationKey) (bool, error) {
	k := t.key(scope)
	var added *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, k, string(key))
		if t.idleTTL > 0 {
			pipe.Expire(ctx, k, t.idleTTL)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reserve combination: %w", err)
	}
	return added.Val() == 1, nil
}

// Release 撤回保留
func (t *RedisTracker) Release(ctx context.Context, scope string, key recommend.CombinationKey) error {
	if err := t.client.SRem(ctx, t.key(scope), string(key)).Err(); err != nil {
		return fmt.Errorf("release combination: %w", err)
	}
	return nil
}

// Served 回傳已送出的組合，順序不保證
func (t *RedisTracker) Served(ctx context.Context, scope string) ([]recommend.CombinationKey, error) {
	members, err := t.client.SMembers(ctx, t.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("load served combinations: %w", err)
	}
	keys := make([]recommend.CombinationKey, len(members))
	for i, m := range members {
		keys[i] = recommend.CombinationKey(m)
	}
	return keys, nil
}

// Reset 刪除整個範圍
func (t *RedisTracker) Reset(ctx context.Context, scope string) error {
	if err := t.client.Del(ctx, t.key(scope)).Err(); err != nil {
		return fmt.Errorf("reset scope: %w", err)
	}
	return nil
}

// EvictExpired Redis 依 TTL 自行過期，這裡不需要掃描
func (t *RedisTracker) EvictExpired(context.Context) (int, error) {
	return 0, nil
}
