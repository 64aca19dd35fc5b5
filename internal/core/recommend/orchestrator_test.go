package recommend_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-recommender/internal/core/cache"
	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/core/recommend/recommendtest"
	"recipe-recommender/internal/core/tracker"
)

type fixture struct {
	orch     *recommend.Orchestrator
	catalog  *recommendtest.Catalog
	ranking  *recommendtest.Ranking
	tracker  *tracker.MemoryTracker
	cache    *cache.MemoryCache
	observer *recommendtest.Observer
}

func scenarioRecipes() []recommend.RecipeCandidate {
	r1 := recommendtest.Recipe(1, "계란양파볶음", 50, "egg", "onion")
	r1.Measures = map[string]recommend.Measure{
		"egg":   recommend.NewMeasure("3", "개"),
		"onion": recommend.NewMeasure("1", "개"),
	}
	return []recommend.RecipeCandidate{
		r1,
		recommendtest.Recipe(2, "계란볶음밥", 10, "egg", "rice", "beef"),
		recommendtest.Recipe(3, "양파수프", 5, "onion"),
	}
}

func amount(v float64) *float64 { return &v }

func newFixture(t *testing.T, withCache bool, mutate func(*recommend.Options), recipes ...recommend.RecipeCandidate) *fixture {
	t.Helper()
	if len(recipes) == 0 {
		recipes = scenarioRecipes()
	}

	f := &fixture{
		catalog:  recommendtest.NewCatalog(recipes...),
		ranking:  &recommendtest.Ranking{},
		tracker:  tracker.NewMemoryTracker(time.Hour, 4),
		observer: &recommendtest.Observer{},
	}
	t.Cleanup(func() { _ = f.tracker.Close() })

	deps := recommend.Dependencies{
		Ranking:  f.ranking,
		Catalog:  f.catalog,
		Tracker:  f.tracker,
		Observer: f.observer,
	}
	if withCache {
		f.cache = cache.NewMemoryCache(100, 4, time.Minute)
		t.Cleanup(func() { _ = f.cache.Close() })
		deps.Cache = f.cache
	}

	opts := recommend.Options{
		DefaultPageSize:   1,
		MaxPageSize:       5,
		MaxSelectAttempts: 10,
		CandidateLimit:    100,
		RankingTimeout:    200 * time.Millisecond,
		CacheTTL:          time.Minute,
		RecipeURLTemplate: "https://www.10000recipe.com/recipe/%d",
	}
	if mutate != nil {
		mutate(&opts)
	}

	orch, err := recommend.NewOrchestrator(deps, opts)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func scenarioRequest(page int) recommend.Request {
	return recommend.Request{
		SessionID: "s1",
		Ingredients: []recommend.InventoryItem{
			{Name: "Egg", Amount: "2", Unit: "개"},
			{Name: "onion"},
			{Name: "rice", Amount: "1", Unit: "공기"},
		},
		Page: page,
	}
}

func keysOf(p *recommend.Page) []recommend.CombinationKey {
	keys := make([]recommend.CombinationKey, len(p.Combinations))
	for i, c := range p.Combinations {
		keys[i] = c.Key
	}
	return keys
}

func TestNewOrchestratorRequiresCatalogAndTracker(t *testing.T) {
	_, err := recommend.NewOrchestrator(recommend.Dependencies{Tracker: tracker.NewMemoryTracker(time.Hour, 1)}, recommend.Options{})
	assert.Error(t, err)

	_, err = recommend.NewOrchestrator(recommend.Dependencies{Catalog: recommendtest.NewCatalog()}, recommend.Options{})
	assert.Error(t, err)
}

func TestRecommendScenario(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	page, err := f.orch.Recommend(ctx, scenarioRequest(1))
	require.NoError(t, err)
	require.Len(t, page.Combinations, 1)
	assert.True(t, page.HasMore)
	assert.False(t, page.Degraded)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.PageSize)

	comb := page.Combinations[0]
	assert.Equal(t, recommend.CombinationKey("1"), comb.Key, "R1 and R2 tie on coverage, popularity decides")
	assert.Equal(t, []string{"egg", "onion"}, comb.CoveredIngredients)
	assert.Equal(t, []string{"rice"}, comb.LeftoverIngredients)
	assert.InDelta(t, 2.0/3.0, comb.CoverageRatio, 1e-9)

	r := comb.Recipes[0]
	assert.Equal(t, "https://www.10000recipe.com/recipe/1", r.RecipeURL)
	assert.Equal(t, 2, r.MatchedIngredientCount)
	assert.Equal(t, 2, r.TotalIngredientsCount)
	assert.Equal(t, []string{}, r.MissingIngredients)
	assert.Equal(t, []recommend.UsedIngredient{
		{Name: "egg", Amount: amount(2), Unit: "개", RequiredAmount: amount(3)},
		{Name: "onion", Amount: amount(1), Unit: "개", RequiredAmount: amount(1)},
	}, r.UsedIngredients, "stock caps the used amount; unmeasured stock reports the requirement")
	assert.Equal(t, []recommend.StockItem{
		{Name: "egg", Amount: 0, Unit: "개"},
		{Name: "rice", Amount: 1, Unit: "공기"},
	}, comb.RemainingStock)

	page, err = f.orch.Recommend(ctx, scenarioRequest(2))
	require.NoError(t, err)
	assert.Equal(t, []recommend.CombinationKey{"2"}, keysOf(page), "page 2 never repeats page 1")
	assert.Equal(t, []string{"beef"}, page.Combinations[0].Recipes[0].MissingIngredients)

	page, err = f.orch.Recommend(ctx, scenarioRequest(3))
	require.NoError(t, err)
	assert.Equal(t, []recommend.CombinationKey{"3"}, keysOf(page))
	assert.False(t, page.HasMore)

	page, err = f.orch.Recommend(ctx, scenarioRequest(4))
	require.NoError(t, err, "exhaustion is not an error")
	assert.Empty(t, page.Combinations)
	assert.False(t, page.HasMore)
}

func TestRecommendDeductsStockAcrossCombination(t *testing.T) {
	stew := recommendtest.Recipe(1, "계란찜", 10, "egg", "onion")
	stew.Measures = map[string]recommend.Measure{"egg": recommend.NewMeasure("3", "개")}
	rice := recommendtest.Recipe(2, "계란밥", 5, "egg", "rice")
	rice.Measures = map[string]recommend.Measure{
		"egg":  recommend.NewMeasure("2", "개"),
		"rice": recommend.NewMeasure("1", "공기"),
	}
	f := newFixture(t, false, nil, stew, rice)

	page, err := f.orch.Recommend(context.Background(), recommend.Request{
		SessionID: "s1",
		Ingredients: []recommend.InventoryItem{
			{Name: "egg", Amount: "4", Unit: "개"},
			{Name: "onion"},
			{Name: "rice", Amount: "2", Unit: "공기"},
		},
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, page.Combinations, 1)

	comb := page.Combinations[0]
	assert.Equal(t, recommend.CombinationKey("1-2"), comb.Key)
	require.Len(t, comb.Recipes, 2)
	assert.Equal(t, []recommend.UsedIngredient{
		{Name: "egg", Amount: amount(3), Unit: "개", RequiredAmount: amount(3)},
		{Name: "onion"},
	}, comb.Recipes[0].UsedIngredients)
	assert.Equal(t, []recommend.UsedIngredient{
		{Name: "egg", Amount: amount(1), Unit: "개", RequiredAmount: amount(2)},
		{Name: "rice", Amount: amount(1), Unit: "공기", RequiredAmount: amount(1)},
	}, comb.Recipes[1].UsedIngredients, "the second recipe only gets what the first one left")
	assert.Equal(t, []recommend.StockItem{
		{Name: "egg", Amount: 0, Unit: "개"},
		{Name: "rice", Amount: 1, Unit: "공기"},
	}, comb.RemainingStock)
}

func TestRecommendNeverRepeatsWithinScope(t *testing.T) {
	inventory := []string{"egg", "onion", "rice", "kimchi", "tofu"}
	var recipes []recommend.RecipeCandidate
	for i := 0; i < 12; i++ {
		recipes = append(recipes, recommendtest.Recipe(int64(i+1), fmt.Sprintf("recipe %d", i+1), float64(i),
			inventory[i%5], inventory[(i+1)%5], inventory[(i*3)%5], "salt"))
	}
	f := newFixture(t, false, nil, recipes...)

	seen := map[recommend.CombinationKey]int{}
	for page := 1; page <= 30; page++ {
		p, err := f.orch.Recommend(context.Background(), recommend.Request{
			SessionID:   "s1",
			Ingredients: recommendtest.Items(inventory...),
			Page:        page,
			PageSize:    2,
		})
		require.NoError(t, err)
		if len(p.Combinations) == 0 {
			assert.False(t, p.HasMore)
			break
		}
		for _, k := range keysOf(p) {
			prev, dup := seen[k]
			require.False(t, dup, "key %s served on page %d and %d", k, prev, page)
			seen[k] = page
		}
	}
	assert.NotEmpty(t, seen)
}

func TestRecommendScopesAreIndependent(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	a, err := f.orch.Recommend(ctx, scenarioRequest(1))
	require.NoError(t, err)

	other := scenarioRequest(1)
	other.SessionID = "s2"
	b, err := f.orch.Recommend(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, keysOf(a), keysOf(b))

	// 不同的庫存是不同的範圍
	narrower := scenarioRequest(1)
	narrower.Ingredients = recommendtest.Items("onion")
	c, err := f.orch.Recommend(ctx, narrower)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
	assert.NotEmpty(t, c.Combinations)
}

func TestRecommendCacheIsTransparent(t *testing.T) {
	withCache := newFixture(t, true, nil)
	without := newFixture(t, false, nil)
	ctx := context.Background()

	for page := 1; page <= 4; page++ {
		a, err := withCache.orch.Recommend(ctx, scenarioRequest(page))
		require.NoError(t, err)
		b, err := without.orch.Recommend(ctx, scenarioRequest(page))
		require.NoError(t, err)

		assert.Equal(t, keysOf(b), keysOf(a), "page %d", page)
		assert.Equal(t, b.HasMore, a.HasMore, "page %d", page)
		assert.False(t, a.Cached)
	}

	searches := withCache.catalog.SearchCalls()
	again, err := withCache.orch.Recommend(ctx, scenarioRequest(1))
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, []recommend.CombinationKey{"1"}, keysOf(again))
	assert.Equal(t, searches, withCache.catalog.SearchCalls(), "cache hit skips the catalog")
}

func TestRecommendCachedPageIsNotMutated(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	first, err := f.orch.Recommend(ctx, scenarioRequest(1))
	require.NoError(t, err)
	_, err = f.orch.Recommend(ctx, scenarioRequest(1))
	require.NoError(t, err)

	assert.False(t, first.Cached)
}

func TestRecommendPageSizeChangeBypassesCache(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	_, err := f.orch.Recommend(ctx, scenarioRequest(1))
	require.NoError(t, err)

	req := scenarioRequest(1)
	req.PageSize = 2
	p, err := f.orch.Recommend(ctx, req)
	require.NoError(t, err)
	assert.False(t, p.Cached)
	assert.Equal(t, 2, p.PageSize)
}

func TestRecommendConcurrentSamePageComputesOnce(t *testing.T) {
	f := newFixture(t, true, nil)

	var wg sync.WaitGroup
	results := make([]*recommend.Page, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.orch.Recommend(context.Background(), scenarioRequest(1))
			if err == nil {
				results[i] = p
			}
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, []recommend.CombinationKey{"1"}, keysOf(p))
	}
	served, err := f.tracker.Served(context.Background(), recommend.ScopeKey("s1", results[0].Fingerprint))
	require.NoError(t, err)
	assert.Len(t, served, 1)
}

func TestRecommendFollowerSurvivesCanceledLeader(t *testing.T) {
	f := newFixture(t, false, nil)
	f.ranking.Delay = 150 * time.Millisecond

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.orch.Recommend(leaderCtx, scenarioRequest(1))
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return f.ranking.Calls() == 1 }, time.Second, time.Millisecond)

	type result struct {
		page *recommend.Page
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		p, err := f.orch.Recommend(context.Background(), scenarioRequest(1))
		follower <- result{p, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	got := <-follower
	require.NoError(t, got.err, "a live request must not fail because another one disconnected")
	assert.Equal(t, []recommend.CombinationKey{"1"}, keysOf(got.page))

	served, err := f.tracker.Served(context.Background(), recommend.ScopeKey("s1", got.page.Fingerprint))
	require.NoError(t, err)
	assert.Equal(t, []recommend.CombinationKey{"1"}, served)
}

func TestRecommendFollowerReturnsOnOwnCancel(t *testing.T) {
	f := newFixture(t, false, nil)
	f.ranking.Delay = 300 * time.Millisecond

	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = f.orch.Recommend(context.Background(), scenarioRequest(1))
	}()
	require.Eventually(t, func() bool { return f.ranking.Calls() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := f.orch.Recommend(ctx, scenarioRequest(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "a follower does not wait for the shared computation past its deadline")
	<-leaderDone
}

func TestRecommendConcurrentPageSizesAreNotShared(t *testing.T) {
	f := newFixture(t, false, nil)
	f.ranking.Delay = 50 * time.Millisecond

	sizes := []int{1, 3}
	pages := make([]*recommend.Page, len(sizes))
	var wg sync.WaitGroup
	for i, size := range sizes {
		wg.Add(1)
		go func(i, size int) {
			defer wg.Done()
			req := scenarioRequest(1)
			req.PageSize = size
			p, err := f.orch.Recommend(context.Background(), req)
			if err == nil {
				pages[i] = p
			}
		}(i, size)
	}
	wg.Wait()

	for i, size := range sizes {
		require.NotNil(t, pages[i])
		assert.Equal(t, size, pages[i].PageSize)
	}
	assert.Equal(t, 2, f.ranking.Calls())
}

func TestRecommendConcurrentPagesNeverShareKeys(t *testing.T) {
	var recipes []recommend.RecipeCandidate
	for i := 1; i <= 10; i++ {
		recipes = append(recipes, recommendtest.Recipe(int64(i), fmt.Sprintf("r%d", i), float64(i), "egg", fmt.Sprintf("extra%d", i)))
	}
	f := newFixture(t, false, nil, recipes...)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys []recommend.CombinationKey
	)
	for page := 1; page <= 16; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			p, err := f.orch.Recommend(context.Background(), recommend.Request{
				SessionID:   "s1",
				Ingredients: recommendtest.Items("egg"),
				Page:        page,
			})
			if err != nil {
				return
			}
			mu.Lock()
			keys = append(keys, keysOf(p)...)
			mu.Unlock()
		}(page)
	}
	wg.Wait()

	unique := map[recommend.CombinationKey]struct{}{}
	for _, k := range keys {
		_, dup := unique[k]
		require.False(t, dup, "key %s served twice", k)
		unique[k] = struct{}{}
	}
	fp := recommend.InventoryFingerprint(recommend.NewInventorySet(recommendtest.Items("egg")))
	served, err := f.tracker.Served(context.Background(), recommend.ScopeKey("s1", fp))
	require.NoError(t, err)
	assert.Len(t, served, len(keys))
}

func TestRecommendDegradesWhenRankingFails(t *testing.T) {
	f := newFixture(t, false, nil)
	f.ranking.Err = errors.New("connection refused")

	page, err := f.orch.Recommend(context.Background(), scenarioRequest(1))
	require.NoError(t, err)
	assert.True(t, page.Degraded)
	assert.Equal(t, []recommend.CombinationKey{"1"}, keysOf(page))
	assert.Nil(t, page.Combinations[0].Recipes[0].RankScore)
	assert.Equal(t, 1, f.ranking.Calls())
}

func TestRecommendRankingTimeoutIsBounded(t *testing.T) {
	f := newFixture(t, false, func(o *recommend.Options) {
		o.RankingTimeout = 50 * time.Millisecond
	})
	f.ranking.Block = true

	start := time.Now()
	page, err := f.orch.Recommend(context.Background(), scenarioRequest(1))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, page.Degraded)
	assert.NotEmpty(t, page.Combinations)
	assert.Less(t, elapsed, time.Second)
}

func TestRecommendWithoutRankingIsNotDegraded(t *testing.T) {
	orch, err := recommend.NewOrchestrator(recommend.Dependencies{
		Catalog: recommendtest.NewCatalog(scenarioRecipes()...),
		Tracker: tracker.NewMemoryTracker(time.Hour, 1),
	}, recommend.Options{DefaultPageSize: 1})
	require.NoError(t, err)

	page, err := orch.Recommend(context.Background(), scenarioRequest(1))
	require.NoError(t, err)
	assert.False(t, page.Degraded)
	assert.Len(t, page.Combinations, 1)
}

func TestRecommendQueryModeMergesRankedCandidates(t *testing.T) {
	f := newFixture(t, false, nil)
	f.ranking.Results = []recommend.RankedID{
		{RecipeID: 3, Score: 0.9},
		{RecipeID: 2, Score: 0.7},
		{RecipeID: 99, Score: 0.1},
	}
	ctx := context.Background()
	req := recommend.Request{SessionID: "s1", Query: " 볶음 ", Page: 1, PageSize: 2}

	page, err := f.orch.Recommend(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Combinations, 1)
	assert.Equal(t, recommend.CombinationKey("1-2"), page.Combinations[0].Key)
	assert.True(t, page.HasMore)

	recipes := page.Combinations[0].Recipes
	assert.Nil(t, recipes[0].RankScore)
	require.NotNil(t, recipes[1].RankScore)
	assert.InDelta(t, 0.7, *recipes[1].RankScore, 1e-9)

	assert.Equal(t, []string{"볶음"}, f.ranking.Queries())
	assert.Equal(t, [][]int64{{1, 2, 3, 99}}, f.catalog.Fetched(), "keyword hits first, then ranked ids, one detail fetch")

	req.Page = 2
	page, err = f.orch.Recommend(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []recommend.CombinationKey{"3"}, keysOf(page))
	assert.False(t, page.HasMore)
}

func TestRecommendFetchesDetailsOnce(t *testing.T) {
	f := newFixture(t, false, nil)
	f.ranking.Results = []recommend.RankedID{{RecipeID: 2, Score: 0.5}}

	_, err := f.orch.Recommend(context.Background(), scenarioRequest(1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.catalog.FetchCalls())
	assert.Equal(t, []string{"egg, onion, rice"}, f.ranking.Queries())
}

func TestRecommendCatalogUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*recommendtest.Catalog)
	}{
		{"search", func(c *recommendtest.Catalog) { c.SearchErr = errors.New("db down") }},
		{"details", func(c *recommendtest.Catalog) { c.FetchErr = errors.New("db down") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true, nil)
			tt.setup(f.catalog)

			_, err := f.orch.Recommend(context.Background(), scenarioRequest(1))
			assert.ErrorIs(t, err, recommend.ErrCatalogUnavailable)
			assert.Zero(t, f.cache.Len(), "failures are not cached")
		})
	}
}

func TestRecommendInvalidInventory(t *testing.T) {
	f := newFixture(t, false, func(o *recommend.Options) {
		o.MaxIngredients = 3
		o.MinIngredients = 2
	})

	tests := []struct {
		name string
		req  recommend.Request
	}{
		{"empty", recommend.Request{}},
		{"blank query", recommend.Request{Query: "   "}},
		{"blank name", recommend.Request{Ingredients: recommendtest.Items("egg", " ")}},
		{"too many", recommend.Request{Ingredients: recommendtest.Items("a", "b", "c", "d")}},
		{"too few after dedup", recommend.Request{Ingredients: recommendtest.Items("egg", "EGG")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Recommend(context.Background(), tt.req)
			assert.ErrorIs(t, err, recommend.ErrInvalidInventory)
		})
	}
	assert.Zero(t, f.catalog.SearchCalls())
}

func TestRecommendClampsPaging(t *testing.T) {
	f := newFixture(t, false, func(o *recommend.Options) { o.MaxPageSize = 2 })

	req := scenarioRequest(0)
	req.PageSize = 50
	page, err := f.orch.Recommend(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)
}

// cancelingTracker 在保留成功後取消請求，模擬回應送出前客戶端斷線
type cancelingTracker struct {
	*tracker.MemoryTracker
	cancel context.CancelFunc
}

func (c *cancelingTracker) Reserve(ctx context.Context, scope string, key recommend.CombinationKey) (bool, error) {
	won, err := c.MemoryTracker.Reserve(ctx, scope, key)
	c.cancel()
	return won, err
}

func TestRecommendCancellationReleasesReservation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &cancelingTracker{MemoryTracker: tracker.NewMemoryTracker(time.Hour, 1), cancel: cancel}
	orch, err := recommend.NewOrchestrator(recommend.Dependencies{
		Catalog: recommendtest.NewCatalog(scenarioRecipes()...),
		Tracker: tr,
	}, recommend.Options{DefaultPageSize: 1})
	require.NoError(t, err)

	_, err = orch.Recommend(ctx, scenarioRequest(1))
	require.ErrorIs(t, err, context.Canceled)

	fp := recommend.InventoryFingerprint(recommend.NewInventorySet(scenarioRequest(1).Ingredients))
	served, err := tr.Served(context.Background(), recommend.ScopeKey("s1", fp))
	require.NoError(t, err)
	assert.Empty(t, served, "canceled request must not consume a combination")
}

func TestRecommendNotifiesObserver(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	req := scenarioRequest(1)
	req.RequestID = "req-1"
	_, err := f.orch.Recommend(ctx, req)
	require.NoError(t, err)
	_, err = f.orch.Recommend(ctx, req)
	require.NoError(t, err)

	events := f.observer.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, recommend.ModeIngredients, events[0].Mode)
	assert.Equal(t, []recommend.CombinationKey{"1"}, events[0].Keys)
	assert.False(t, events[0].Cached)
	assert.True(t, events[1].Cached)
}

func TestResetClearsScope(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	for page := 1; page <= 2; page++ {
		_, err := f.orch.Recommend(ctx, scenarioRequest(page))
		require.NoError(t, err)
	}

	req := scenarioRequest(1)
	fp, err := f.orch.Reset(ctx, req.SessionID, req.Ingredients, "")
	require.NoError(t, err)
	assert.Equal(t, recommend.InventoryFingerprint(recommend.NewInventorySet(req.Ingredients)), fp)

	page, err := f.orch.Recommend(ctx, req)
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.Equal(t, []recommend.CombinationKey{"1"}, keysOf(page))

	_, err = f.orch.Reset(ctx, "s1", nil, "")
	assert.ErrorIs(t, err, recommend.ErrInvalidInventory)
}
