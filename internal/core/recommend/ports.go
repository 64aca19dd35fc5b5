package recommend

import (
	"context"
	"time"
)

// RankedID 向量排序結果
type RankedID struct {
	RecipeID int64
	Score    float64
}

// RankingClient 遠端向量排序服務。
// 所有失敗都必須以 ErrRemoteUnavailable 包裝回傳。
type RankingClient interface {
	Rank(ctx context.Context, query string, limit int) ([]RankedID, error)
}

// CatalogGateway 食譜資料庫。
// FetchDetails 必須以單次查詢取回全部 ID，不存在的 ID 直接略過。
type CatalogGateway interface {
	SearchByKeyword(ctx context.Context, text string, limit int) ([]int64, error)
	SearchByIngredients(ctx context.Context, ingredients []string, limit int) ([]int64, error)
	FetchDetails(ctx context.Context, ids []int64) (map[int64]RecipeCandidate, error)
}

// Tracker 每個範圍 (session, fingerprint) 已送出的組合。
// Reserve 是唯一的同步點，必須在單一原子步驟內完成檢查與寫入。
type Tracker interface {
	Reserve(ctx context.Context, scope string, key CombinationKey) (bool, error)
	// Release 撤回尚未回應給使用者的保留
	Release(ctx context.Context, scope string, key CombinationKey) error
	Served(ctx context.Context, scope string) ([]CombinationKey, error)
	Reset(ctx context.Context, scope string) error
	EvictExpired(ctx context.Context) (int, error)
}

// Cache 推薦結果頁快取，只影響延遲不影響結果
type Cache interface {
	Get(ctx context.Context, scope string, page int) (*Page, bool)
	Put(ctx context.Context, scope string, page int, value *Page, ttl time.Duration)
	Flush(ctx context.Context, scope string)
}

// Event 推薦完成後送給觀察者的事件
type Event struct {
	RequestID   string
	SessionID   string
	Fingerprint string
	Mode        string
	Page        int
	Keys        []CombinationKey
	HasMore     bool
	Degraded    bool
	Cached      bool
	Duration    time.Duration
	OccurredAt  time.Time
}

// Observer 在回應產生後被呼叫，不得阻塞請求
type Observer interface {
	OnRecommendation(ctx context.Context, event Event)
}
