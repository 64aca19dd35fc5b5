// Package recommendtest 提供推薦流程外部元件的測試替身
package recommendtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"recipe-recommender/internal/core/recommend"
)

// Recipe 建立測試用候選食譜
func Recipe(id int64, title string, popularity float64, ingredients ...string) recommend.RecipeCandidate {
	return recommend.RecipeCandidate{
		ID:          id,
		Title:       title,
		Popularity:  popularity,
		Ingredients: recommend.NewIngredientSet(ingredients),
	}
}

// Items 由名稱建立庫存項目
func Items(names ...string) []recommend.InventoryItem {
	items := make([]recommend.InventoryItem, len(names))
	for i, n := range names {
		items[i] = recommend.InventoryItem{Name: n}
	}
	return items
}

// Ranking 可程式化的排序服務
type Ranking struct {
	mu sync.Mutex

	Results []recommend.RankedID
	Err     error
	// Block 為 true 時阻塞直到 context 結束，模擬逾時
	Block bool
	Delay time.Duration

	calls   int
	queries []string
}

func (r *Ranking) Rank(ctx context.Context, query string, limit int) ([]recommend.RankedID, error) {
	r.mu.Lock()
	r.calls++
	r.queries = append(r.queries, query)
	results, err, block, delay := r.Results, r.Err, r.Block, r.Delay
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", recommend.ErrRemoteUnavailable, ctx.Err())
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", recommend.ErrRemoteUnavailable, ctx.Err())
		}
	}
	if err != nil {
		if !errors.Is(err, recommend.ErrRemoteUnavailable) {
			err = fmt.Errorf("%w: %w", recommend.ErrRemoteUnavailable, err)
		}
		return nil, err
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]recommend.RankedID, len(results))
	copy(out, results)
	return out, nil
}

// Calls 呼叫次數
func (r *Ranking) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Queries 收到的查詢字串
func (r *Ranking) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.queries))
	copy(out, r.queries)
	return out
}

// Catalog 記憶體中的食譜資料庫
type Catalog struct {
	mu sync.Mutex

	recipes map[int64]recommend.RecipeCandidate

	SearchErr error
	FetchErr  error

	searchCalls int
	fetchCalls  int
	fetched     [][]int64
}

// NewCatalog 建立含指定食譜的資料庫
func NewCatalog(recipes ...recommend.RecipeCandidate) *Catalog {
	c := &Catalog{recipes: make(map[int64]recommend.RecipeCandidate, len(recipes))}
	for _, r := range recipes {
		c.recipes[r.ID] = r
	}
	return c
}

func (c *Catalog) SearchByKeyword(ctx context.Context, text string, limit int) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchCalls++
	if c.SearchErr != nil {
		return nil, c.SearchErr
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	var hits []recommend.RecipeCandidate
	for _, r := range c.recipes {
		if strings.Contains(strings.ToLower(r.Title), needle) {
			hits = append(hits, r)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Popularity != hits[j].Popularity {
			return hits[i].Popularity > hits[j].Popularity
		}
		return hits[i].ID < hits[j].ID
	})
	return idsOf(hits, limit), nil
}

func (c *Catalog) SearchByIngredients(ctx context.Context, ingredients []string, limit int) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchCalls++
	if c.SearchErr != nil {
		return nil, c.SearchErr
	}

	inv := recommend.NewIngredientSet(ingredients)
	matched := make(map[int64]int)
	var hits []recommend.RecipeCandidate
	for _, r := range c.recipes {
		covered, _ := r.Ingredients.Partition(inv)
		if len(covered) == 0 {
			continue
		}
		matched[r.ID] = len(covered)
		hits = append(hits, r)
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if matched[a.ID] != matched[b.ID] {
			return matched[a.ID] > matched[b.ID]
		}
		if a.Popularity != b.Popularity {
			return a.Popularity > b.Popularity
		}
		return a.ID < b.ID
	})
	return idsOf(hits, limit), nil
}

func (c *Catalog) FetchDetails(ctx context.Context, ids []int64) (map[int64]recommend.RecipeCandidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls++
	c.fetched = append(c.fetched, append([]int64(nil), ids...))
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}

	out := make(map[int64]recommend.RecipeCandidate, len(ids))
	for _, id := range ids {
		if r, ok := c.recipes[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// SearchCalls 搜尋次數
func (c *Catalog) SearchCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchCalls
}

// FetchCalls 批次明細查詢次數
func (c *Catalog) FetchCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchCalls
}

// Fetched 每次明細查詢的 ID 清單
func (c *Catalog) Fetched() [][]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]int64(nil), c.fetched...)
}

// Observer 收集事件
type Observer struct {
	mu     sync.Mutex
	events []recommend.Event
}

func (o *Observer) OnRecommendation(_ context.Context, e recommend.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

// Events 已收到的事件
func (o *Observer) Events() []recommend.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]recommend.Event(nil), o.events...)
}

func idsOf(recipes []recommend.RecipeCandidate, limit int) []int64 {
	if limit > 0 && len(recipes) > limit {
		recipes = recipes[:limit]
	}
	ids := make([]int64, len(recipes))
	for i, r := range recipes {
		ids[i] = r.ID
	}
	return ids
}
