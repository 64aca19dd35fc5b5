package recommend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"recipe-recommender/internal/pkg/common"
	"recipe-recommender/internal/pkg/metrics"
)

// 推薦模式
const (
	ModeIngredients = "ingredients"
	ModeQuery       = "query"
)

// Request 單次推薦請求
type Request struct {
	RequestID   string
	SessionID   string
	Ingredients []InventoryItem
	Query       string
	Page        int
	PageSize    int
}

// Options 推薦流程參數
type Options struct {
	MinCoverage       float64
	DefaultPageSize   int
	MaxPageSize       int
	MaxSelectAttempts int
	CandidateLimit    int
	MinIngredients    int
	MaxIngredients    int
	RankingTimeout    time.Duration
	RankingTopK       int
	CacheTTL          time.Duration
	RecipeURLTemplate string
	Filter            *CandidateFilter
}

// Dependencies 推薦流程使用的外部元件。
// Ranking、Cache、Observer 可為 nil。
type Dependencies struct {
	Ranking  RankingClient
	Catalog  CatalogGateway
	Tracker  Tracker
	Cache    Cache
	Observer Observer
}

// Orchestrator 串接快取、候選擷取、比對、挑選與追蹤
type Orchestrator struct {
	deps    Dependencies
	opts    Options
	flights singleflight.Group
	now     func() time.Time
}

// plan 正規化後的請求
type plan struct {
	mode        string
	inventory   InventorySet
	query       string
	fingerprint string
	scope       string
	page        int
	size        int
}

// NewOrchestrator 建立推薦流程
func NewOrchestrator(deps Dependencies, opts Options) (*Orchestrator, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog gateway is required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("combination tracker is required")
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 1
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	if opts.MaxSelectAttempts <= 0 {
		opts.MaxSelectAttempts = 10
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 200
	}
	if opts.MinIngredients <= 0 {
		opts.MinIngredients = 1
	}
	if opts.RankingTimeout <= 0 {
		opts.RankingTimeout = 5 * time.Second
	}
	if opts.RankingTopK <= 0 {
		opts.RankingTopK = opts.CandidateLimit
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}, nil
}

// Recommend 產生指定頁的推薦組合。
// 同一範圍內第 N 頁會排除所有已送出的組合；已無新組合時回傳空頁且 HasMore 為 false。
func (o *Orchestrator) Recommend(ctx context.Context, req Request) (*Page, error) {
	start := o.now()

	p, err := o.plan(req)
	if err != nil {
		metrics.RecommendationsTotal.WithLabelValues(modeOf(req), "invalid").Inc()
		return nil, err
	}

	if page, ok := o.cached(ctx, p); ok {
		metrics.CacheHits.Inc()
		common.LogCacheHit("recommendation", p.fingerprint)
		o.finish(ctx, req, p, page, start)
		return page, nil
	}
	if o.deps.Cache != nil {
		metrics.CacheMisses.Inc()
		common.LogCacheMiss("recommendation", p.fingerprint)
	}

	page, err := o.shared(ctx, p)
	if err != nil {
		metrics.RecommendationsTotal.WithLabelValues(p.mode, outcomeOf(err)).Inc()
		return nil, err
	}

	o.finish(ctx, req, p, page, start)
	return page, nil
}

// shared 同一範圍、同一頁、同一頁大小的並行請求只計算一次。
// 計算綁定發起者的 context；跟隨者只等待到自己的 context 結束，
// 發起者取消導致的失敗由仍存活的跟隨者重新發起。
func (o *Orchestrator) shared(ctx context.Context, p plan) (*Page, error) {
	key := p.scope + "#" + strconv.Itoa(p.page) + "#" + strconv.Itoa(p.size)
	for {
		var leader atomic.Bool
		ch := o.flights.DoChan(key, func() (interface{}, error) {
			leader.Store(true)
			if page, ok := o.cached(ctx, p); ok {
				return page, nil
			}
			return o.compute(ctx, p)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			if !leader.Load() {
				return nil, ctx.Err()
			}
			// 發起者等待計算結束，確保已保留的組合被撤回
			res = <-ch
		}

		if res.Err == nil {
			return res.Val.(*Page), nil
		}
		if ctx.Err() == nil && canceledElsewhere(res.Err) {
			common.LogDebug("共用計算被其他請求取消，重新計算",
				zap.String("fingerprint", p.fingerprint),
				zap.Int("page", p.page),
			)
			continue
		}
		return nil, res.Err
	}
}

// Reset 清除範圍內的追蹤紀錄與快取，回傳該範圍的指紋
func (o *Orchestrator) Reset(ctx context.Context, sessionID string, ingredients []InventoryItem, query string) (string, error) {
	p, err := o.plan(Request{SessionID: sessionID, Ingredients: ingredients, Query: query})
	if err != nil {
		return "", err
	}
	if err := o.deps.Tracker.Reset(ctx, p.scope); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTrackerUnavailable, err)
	}
	if o.deps.Cache != nil {
		o.deps.Cache.Flush(ctx, p.scope)
	}
	common.LogInfo("推薦紀錄已重置", zap.String("fingerprint", p.fingerprint))
	return p.fingerprint, nil
}

func (o *Orchestrator) plan(req Request) (plan, error) {
	p := plan{page: req.Page, size: req.PageSize}
	if p.page <= 0 {
		p.page = 1
	}
	if p.size <= 0 {
		p.size = o.opts.DefaultPageSize
	}
	if p.size > o.opts.MaxPageSize {
		p.size = o.opts.MaxPageSize
	}

	switch {
	case len(req.Ingredients) > 0:
		if o.opts.MaxIngredients > 0 && len(req.Ingredients) > o.opts.MaxIngredients {
			return plan{}, fmt.Errorf("%w: at most %d ingredients allowed", ErrInvalidInventory, o.opts.MaxIngredients)
		}
		for i, it := range req.Ingredients {
			if Canonicalize(it.Name) == "" {
				return plan{}, fmt.Errorf("%w: ingredient #%d has an empty name", ErrInvalidInventory, i+1)
			}
		}
		p.mode = ModeIngredients
		p.inventory = NewInventorySet(req.Ingredients)
		if p.inventory.Len() < o.opts.MinIngredients {
			return plan{}, fmt.Errorf("%w: at least %d distinct ingredients required", ErrInvalidInventory, o.opts.MinIngredients)
		}
		p.fingerprint = InventoryFingerprint(p.inventory)
	case strings.TrimSpace(req.Query) != "":
		p.mode = ModeQuery
		p.query = strings.TrimSpace(req.Query)
		p.fingerprint = QueryFingerprint(p.query)
	default:
		return plan{}, fmt.Errorf("%w: ingredients or query required", ErrInvalidInventory)
	}

	p.scope = ScopeKey(req.SessionID, p.fingerprint)
	return p, nil
}

func (o *Orchestrator) cached(ctx context.Context, p plan) (*Page, bool) {
	if o.deps.Cache == nil {
		return nil, false
	}
	page, ok := o.deps.Cache.Get(ctx, p.scope, p.page)
	if !ok || page.PageSize != p.size {
		return nil, false
	}
	out := *page
	out.Cached = true
	return &out, true
}

func (o *Orchestrator) compute(ctx context.Context, p plan) (*Page, error) {
	candidates, degraded, err := o.fetchCandidates(ctx, p)
	if err != nil {
		return nil, err
	}
	candidates = o.opts.Filter.Apply(candidates)

	var pool []CoverageResult
	if p.mode == ModeIngredients {
		pool = Match(candidates, p.inventory, o.opts.MinCoverage)
	} else {
		pool = make([]CoverageResult, len(candidates))
		for i, c := range candidates {
			pool[i] = CoverageResult{Candidate: c, Covered: []string{}, Missing: c.Ingredients.Names()}
		}
	}

	served, err := o.servedSet(ctx, p.scope)
	if err != nil {
		return nil, err
	}

	selector := Selector{Size: p.size, MaxAttempts: o.opts.MaxSelectAttempts}
	page := &Page{
		Combinations: []Combination{},
		Page:         p.page,
		PageSize:     p.size,
		Degraded:     degraded,
		Fingerprint:  p.fingerprint,
	}

	sel, err := o.reserveNext(ctx, p, selector, pool, served)
	switch {
	case errors.Is(err, ErrExhaustedCombinations):
		page.HasMore = false
	case err != nil:
		return nil, err
	default:
		page.Combinations = append(page.Combinations, o.buildCombination(p, sel))
		served[sel.Key] = struct{}{}
		_, nextErr := o.selectNext(p, selector, pool, served)
		page.HasMore = nextErr == nil
	}

	if o.deps.Cache != nil {
		o.deps.Cache.Put(ctx, p.scope, p.page, page, o.opts.CacheTTL)
	}
	return page, nil
}

// fetchCandidates 同時呼叫排序服務與資料庫搜尋，合併後一次取回明細。
// 排序服務失敗時只使用資料庫候選並標記為降級。
func (o *Orchestrator) fetchCandidates(ctx context.Context, p plan) ([]RecipeCandidate, bool, error) {
	var (
		localIDs []int64
		ranked   []RankedID
		rankErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	if o.deps.Ranking != nil {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, o.opts.RankingTimeout)
			defer cancel()
			started := o.now()
			ranked, rankErr = o.deps.Ranking.Rank(rctx, p.rankingQuery(), o.opts.RankingTopK)
			common.LogRankingCall(o.now().Sub(started), len(ranked), rankErr)
			return nil
		})
	}
	g.Go(func() error {
		var err error
		if p.mode == ModeIngredients {
			localIDs, err = o.deps.Catalog.SearchByIngredients(gctx, p.inventory.Names(), o.opts.CandidateLimit)
		} else {
			localIDs, err = o.deps.Catalog.SearchByKeyword(gctx, p.query, o.opts.CandidateLimit)
		}
		return catalogErr(err)
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, err
	}

	degraded := false
	if rankErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		degraded = true
		ranked = nil
		metrics.DegradedTotal.Inc()
		common.LogWarn("排序服務不可用，改用關鍵字候選",
			zap.String("fingerprint", p.fingerprint),
			zap.Error(rankErr),
		)
	}

	ids, scores := mergeCandidateIDs(localIDs, ranked)
	if len(ids) == 0 {
		return nil, degraded, nil
	}

	details, err := o.deps.Catalog.FetchDetails(ctx, ids)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, catalogErr(err)
	}

	candidates := make([]RecipeCandidate, 0, len(ids))
	for _, id := range ids {
		c, ok := details[id]
		if !ok {
			continue
		}
		if s, ok := scores[id]; ok {
			score := s
			c.RankScore = &score
		}
		candidates = append(candidates, c)
	}
	return candidates, degraded, nil
}

// mergeCandidateIDs 資料庫結果在前、向量結果在後，以 ID 去重
func mergeCandidateIDs(local []int64, ranked []RankedID) ([]int64, map[int64]float64) {
	seen := make(map[int64]struct{}, len(local)+len(ranked))
	ids := make([]int64, 0, len(local)+len(ranked))
	scores := make(map[int64]float64, len(ranked))

	for _, r := range ranked {
		if _, ok := scores[r.RecipeID]; !ok {
			scores[r.RecipeID] = r.Score
		}
	}
	for _, id := range local {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, r := range ranked {
		if _, ok := seen[r.RecipeID]; ok {
			continue
		}
		seen[r.RecipeID] = struct{}{}
		ids = append(ids, r.RecipeID)
	}
	return ids, scores
}

func (o *Orchestrator) servedSet(ctx context.Context, scope string) (map[CombinationKey]struct{}, error) {
	keys, err := o.deps.Tracker.Served(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrackerUnavailable, err)
	}
	served := make(map[CombinationKey]struct{}, len(keys))
	for _, k := range keys {
		served[k] = struct{}{}
	}
	return served, nil
}

func (o *Orchestrator) selectNext(p plan, s Selector, pool []CoverageResult, served map[CombinationKey]struct{}) (Selection, error) {
	if p.mode == ModeIngredients {
		return s.Next(pool, served)
	}
	return s.NextInOrder(pool, served)
}

// reserveNext 挑選並保留組合；保留被其他請求搶先時把該組合視為已送出後重選。
// 保留成功但請求已取消時會撤回保留。
func (o *Orchestrator) reserveNext(ctx context.Context, p plan, s Selector, pool []CoverageResult, served map[CombinationKey]struct{}) (Selection, error) {
	for attempt := 0; attempt < o.opts.MaxSelectAttempts; attempt++ {
		sel, err := o.selectNext(p, s, pool, served)
		if err != nil {
			return Selection{}, err
		}
		if err := ctx.Err(); err != nil {
			return Selection{}, err
		}

		won, err := o.deps.Tracker.Reserve(ctx, p.scope, sel.Key)
		if err != nil {
			return Selection{}, fmt.Errorf("%w: %w", ErrTrackerUnavailable, err)
		}
		if !won {
			metrics.Reservations.WithLabelValues("lost").Inc()
			served[sel.Key] = struct{}{}
			continue
		}
		metrics.Reservations.WithLabelValues("won").Inc()

		if err := ctx.Err(); err != nil {
			if relErr := o.deps.Tracker.Release(context.WithoutCancel(ctx), p.scope, sel.Key); relErr != nil {
				common.LogError("撤回組合保留失敗", zap.String("key", string(sel.Key)), zap.Error(relErr))
			}
			return Selection{}, err
		}
		return sel, nil
	}
	return Selection{}, ErrExhaustedCombinations
}

func (o *Orchestrator) buildCombination(p plan, sel Selection) Combination {
	comb := Combination{
		Key:                 sel.Key,
		Recipes:             make([]RecommendedRecipe, 0, len(sel.Picks)),
		CoveredIngredients:  []string{},
		LeftoverIngredients: []string{},
		RemainingStock:      []StockItem{},
	}

	// 依挑選順序扣除份量，後面的食譜只能用剩下的庫存
	ledger := newStockLedger(p.inventory)
	for _, pick := range sel.Picks {
		c := pick.Candidate
		comb.Recipes = append(comb.Recipes, RecommendedRecipe{
			RecipeID:               c.ID,
			Title:                  c.Title,
			CookingName:            c.CookingName,
			Popularity:             c.Popularity,
			ThumbnailURL:           c.ThumbnailURL,
			RecipeURL:              o.recipeURL(c.ID),
			RankScore:              c.RankScore,
			CoverageRatio:          pick.Ratio,
			MatchedIngredientCount: len(pick.Covered),
			TotalIngredientsCount:  c.Ingredients.Len(),
			UsedIngredients:        ledger.use(c, pick.Covered),
			MissingIngredients:     nonNil(pick.Missing),
		})
	}

	if p.mode == ModeIngredients {
		covered := NewIngredientSet(sel.Covered)
		_, leftover := p.inventory.Partition(covered)
		comb.CoveredIngredients = nonNil(sel.Covered)
		comb.LeftoverIngredients = nonNil(leftover)
		comb.RemainingStock = ledger.remaining()
		if n := p.inventory.Len(); n > 0 {
			comb.CoverageRatio = float64(len(sel.Covered)) / float64(n)
		}
	}
	return comb
}

func (o *Orchestrator) recipeURL(id int64) string {
	if o.opts.RecipeURLTemplate == "" {
		return ""
	}
	return fmt.Sprintf(o.opts.RecipeURLTemplate, id)
}

// finish 記錄指標並在回應產生後通知觀察者
func (o *Orchestrator) finish(ctx context.Context, req Request, p plan, page *Page, start time.Time) {
	elapsed := o.now().Sub(start)

	outcome := "ok"
	if len(page.Combinations) == 0 {
		outcome = "exhausted"
	}
	metrics.RecommendationsTotal.WithLabelValues(p.mode, outcome).Inc()
	metrics.RecommendDuration.WithLabelValues(p.mode, strconv.FormatBool(page.Cached)).Observe(elapsed.Seconds())

	if o.deps.Observer == nil {
		return
	}
	keys := make([]CombinationKey, 0, len(page.Combinations))
	for _, c := range page.Combinations {
		keys = append(keys, c.Key)
	}
	o.deps.Observer.OnRecommendation(context.WithoutCancel(ctx), Event{
		RequestID:   req.RequestID,
		SessionID:   req.SessionID,
		Fingerprint: p.fingerprint,
		Mode:        p.mode,
		Page:        p.page,
		Keys:        keys,
		HasMore:     page.HasMore,
		Degraded:    page.Degraded,
		Cached:      page.Cached,
		Duration:    elapsed,
		OccurredAt:  o.now(),
	})
}

func (p plan) rankingQuery() string {
	if p.mode == ModeIngredients {
		return strings.Join(p.inventory.Names(), ", ")
	}
	return p.query
}

func catalogErr(err error) error {
	if err == nil || errors.Is(err, ErrCatalogUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
}

// canceledElsewhere 錯誤僅來自 context 取消或逾時，而非資料庫或追蹤器失敗
func canceledElsewhere(err error) bool {
	if errors.Is(err, ErrCatalogUnavailable) || errors.Is(err, ErrTrackerUnavailable) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func modeOf(req Request) string {
	if len(req.Ingredients) > 0 {
		return ModeIngredients
	}
	return ModeQuery
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
