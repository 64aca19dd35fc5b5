package recommend

import (
	"math"
	"strconv"
	"strings"
)

// Measure 份量；Known 為 false 代表未提供或無法解析為數字
type Measure struct {
	Amount float64
	Unit   string
	Known  bool
}

// NewMeasure 解析數量字串與單位
func NewMeasure(amount, unit string) Measure {
	m := Measure{Unit: strings.TrimSpace(unit)}
	m.Amount, m.Known = ParseAmount(amount)
	return m
}

// ParseAmount 解析非負的數量，支援小數與 "1/2" 形式的分數
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, okN := parseNonNegative(num)
		d, okD := parseNonNegative(den)
		if !okN || !okD || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	return parseNonNegative(s)
}

func parseNonNegative(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SameUnit 單位相容：任一方未標示，或正規化後相同
func SameUnit(a, b string) bool {
	a, b = Canonicalize(a), Canonicalize(b)
	return a == "" || b == "" || a == b
}

// StockItem 組合用完後剩餘的庫存份量
type StockItem struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit,omitempty"`
}

// stockLedger 單一組合內依序扣除食譜用量的庫存帳。
// 只有使用者提供可解析數量的食材才會被扣除。
type stockLedger struct {
	inventory InventorySet
	left      map[string]Measure
}

func newStockLedger(inv InventorySet) *stockLedger {
	return &stockLedger{inventory: inv, left: inv.Stock()}
}

// use 計算食譜對已涵蓋食材的用量並扣除庫存。
// 單位相容時用量為 min(需求, 剩餘)；未提供庫存數量時以需求量回報；
// 單位不相容或需求量不明時不扣除也不回報數量。
func (l *stockLedger) use(c RecipeCandidate, covered []string) []UsedIngredient {
	used := make([]UsedIngredient, 0, len(covered))
	for _, name := range covered {
		u := UsedIngredient{Name: name}
		req, hasReq := c.Measures[name]
		if hasReq {
			u.Unit = req.Unit
			if req.Known {
				u.RequiredAmount = amountPtr(req.Amount)
			}
		}

		st, stocked := l.left[name]
		switch {
		case !stocked:
			if u.RequiredAmount != nil {
				u.Amount = amountPtr(req.Amount)
			}
			if u.Unit == "" {
				if it, ok := l.inventory.Item(name); ok {
					u.Unit = strings.TrimSpace(it.Unit)
				}
			}
		case hasReq && req.Known && SameUnit(st.Unit, req.Unit):
			amount := math.Min(req.Amount, st.Amount)
			st.Amount = round(st.Amount - amount)
			l.left[name] = st
			u.Amount = amountPtr(amount)
			if u.Unit == "" {
				u.Unit = st.Unit
			}
		}
		used = append(used, u)
	}
	return used
}

// remaining 依名稱排序的剩餘份量
func (l *stockLedger) remaining() []StockItem {
	out := make([]StockItem, 0, len(l.left))
	for _, name := range l.inventory.Names() {
		if st, ok := l.left[name]; ok {
			out = append(out, StockItem{Name: name, Amount: st.Amount, Unit: st.Unit})
		}
	}
	return out
}

func amountPtr(v float64) *float64 {
	v = round(v)
	return &v
}

// round 去除浮點誤差，保留六位小數
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
