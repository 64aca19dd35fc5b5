package recommend

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Canonicalize 將食材名稱正規化：NFKC、大小寫折疊、壓縮空白。
// 回傳空字串代表名稱無效。
func Canonicalize(name string) string {
	s := norm.NFKC.String(name)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// IngredientSet 不可變的正規化食材集合，Names 依字典序排列
type IngredientSet struct {
	names []string
	index map[string]struct{}
}

// NewIngredientSet 正規化並去重，空名稱會被略過
func NewIngredientSet(raw []string) IngredientSet {
	index := make(map[string]struct{}, len(raw))
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		c := Canonicalize(r)
		if c == "" {
			continue
		}
		if _, ok := index[c]; ok {
			continue
		}
		index[c] = struct{}{}
		names = append(names, c)
	}
	sort.Strings(names)
	return IngredientSet{names: names, index: index}
}

// Len 集合大小
func (s IngredientSet) Len() int { return len(s.names) }

// Has 是否包含已正規化的名稱
func (s IngredientSet) Has(canonical string) bool {
	_, ok := s.index[canonical]
	return ok
}

// Names 回傳排序後名稱的副本
func (s IngredientSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Partition 依據 other 將本集合拆成交集與差集，兩者皆保持排序
func (s IngredientSet) Partition(other IngredientSet) (in, out []string) {
	in = make([]string, 0, len(s.names))
	out = make([]string, 0)
	for _, n := range s.names {
		if other.Has(n) {
			in = append(in, n)
		} else {
			out = append(out, n)
		}
	}
	return in, out
}

// InventoryItem 使用者提供的單一食材；數量可解析時參與組合內的份量扣除
type InventoryItem struct {
	Name   string `json:"name"`
	Amount string `json:"amount,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// InventorySet 單次請求的庫存，建立後不可變
type InventorySet struct {
	IngredientSet
	items map[string]InventoryItem
}

// NewInventorySet 由請求食材建立庫存；同名食材以第一次出現者為準
func NewInventorySet(items []InventoryItem) InventorySet {
	raw := make([]string, 0, len(items))
	byName := make(map[string]InventoryItem, len(items))
	for _, it := range items {
		c := Canonicalize(it.Name)
		if c == "" {
			continue
		}
		if _, ok := byName[c]; !ok {
			byName[c] = it
		}
		raw = append(raw, c)
	}
	return InventorySet{IngredientSet: NewIngredientSet(raw), items: byName}
}

// Item 取得原始請求中的食材資訊
func (s InventorySet) Item(canonical string) (InventoryItem, bool) {
	it, ok := s.items[canonical]
	return it, ok
}

// Stock 可計量的庫存份量副本，未提供數量的食材不列入
func (s InventorySet) Stock() map[string]Measure {
	out := make(map[string]Measure, len(s.items))
	for name, it := range s.items {
		if m := NewMeasure(it.Amount, it.Unit); m.Known {
			out[name] = m
		}
	}
	return out
}

// RecipeCandidate 候選食譜，Ingredients 與 Measures 載入後視為唯讀
type RecipeCandidate struct {
	ID           int64
	Title        string
	CookingName  string
	ThumbnailURL string
	Popularity   float64
	// RankScore 僅在向量排序命中時存在
	RankScore   *float64
	Ingredients IngredientSet
	// Measures 以正規化名稱為鍵的需求份量，可為 nil
	Measures map[string]Measure
}

// CoverageResult 候選食譜與庫存的比對結果
type CoverageResult struct {
	Candidate RecipeCandidate
	Covered   []string
	Missing   []string
	Ratio     float64
}

// CombinationKey 與順序無關的組合識別，格式為排序後的食譜 ID 以 "-" 串接
type CombinationKey string

// NewCombinationKey 由食譜 ID 建立組合鍵
func NewCombinationKey(ids []int64) CombinationKey {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return CombinationKey(strings.Join(parts, "-"))
}

// RecipeIDs 解析組合鍵中的食譜 ID，格式錯誤的片段會被略過
func (k CombinationKey) RecipeIDs() []int64 {
	if k == "" {
		return nil
	}
	parts := strings.Split(string(k), "-")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// UsedIngredient 食譜實際用到的庫存食材，Amount 為扣除後的用量
type UsedIngredient struct {
	Name           string   `json:"name"`
	Amount         *float64 `json:"amount,omitempty"`
	Unit           string   `json:"unit,omitempty"`
	RequiredAmount *float64 `json:"required_amount,omitempty"`
}

// RecommendedRecipe 回應中的單一食譜
type RecommendedRecipe struct {
	RecipeID               int64            `json:"recipe_id"`
	Title                  string           `json:"title"`
	CookingName            string           `json:"cooking_name,omitempty"`
	Popularity             float64          `json:"popularity"`
	ThumbnailURL           string           `json:"thumbnail_url,omitempty"`
	RecipeURL              string           `json:"recipe_url,omitempty"`
	RankScore              *float64         `json:"rank_score,omitempty"`
	CoverageRatio          float64          `json:"coverage_ratio"`
	MatchedIngredientCount int              `json:"matched_ingredient_count"`
	TotalIngredientsCount  int              `json:"total_ingredients_count"`
	UsedIngredients        []UsedIngredient `json:"used_ingredients"`
	MissingIngredients     []string         `json:"missing_ingredients"`
}

// Combination 單頁推薦的食譜組合
type Combination struct {
	Key                 CombinationKey      `json:"key"`
	Recipes             []RecommendedRecipe `json:"recipes"`
	CoveredIngredients  []string            `json:"covered_ingredients"`
	LeftoverIngredients []string            `json:"leftover_ingredients"`
	RemainingStock      []StockItem         `json:"remaining_stock"`
	CoverageRatio       float64             `json:"coverage_ratio"`
}

// Page 推薦結果頁，也是快取的值
type Page struct {
	Combinations []Combination `json:"combinations"`
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
	HasMore      bool          `json:"has_more"`
	Degraded     bool          `json:"degraded"`
	Cached       bool          `json:"cached"`
	Fingerprint  string        `json:"fingerprint"`
}
