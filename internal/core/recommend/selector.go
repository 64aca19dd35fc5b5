package recommend

import "sort"

// Selector 挑選下一個尚未送出的食譜組合。
//
// 採用貪婪的加權集合覆蓋：每一步選出能新增最多庫存覆蓋的候選，
// 直到達到組合大小或沒有候選能再增加覆蓋。這是近似解而非最佳解，
// 最佳集合覆蓋是 NP-hard，無法在互動延遲內完成。
// 遇到已送出的組合時，排除該次的第一個選擇後重跑，次數有上限。
type Selector struct {
	Size        int
	MaxAttempts int
}

// Selection 一次挑選的結果
type Selection struct {
	Key     CombinationKey
	Picks   []CoverageResult
	Covered []string
}

func (s Selector) size() int {
	if s.Size <= 0 {
		return 1
	}
	return s.Size
}

// attempts 每次重跑都會多排除一個候選，因此上限另加已送出組合數
func (s Selector) attempts(served map[CombinationKey]struct{}) int {
	n := s.MaxAttempts
	if n <= 0 {
		n = 1
	}
	return n + len(served)
}

// Next 依覆蓋率挑選下一個新組合，無新組合時回傳 ErrExhaustedCombinations。
// pool 需已由 Match 排序。
func (s Selector) Next(pool []CoverageResult, served map[CombinationKey]struct{}) (Selection, error) {
	excluded := make(map[int64]struct{})
	limit := s.attempts(served)

	for attempt := 0; attempt < limit; attempt++ {
		picks, covered := s.greedy(pool, excluded)
		if len(picks) == 0 {
			return Selection{}, ErrExhaustedCombinations
		}
		key := keyOf(picks)
		if _, dup := served[key]; !dup {
			return Selection{Key: key, Picks: picks, Covered: covered}, nil
		}
		excluded[picks[0].Candidate.ID] = struct{}{}
	}
	return Selection{}, ErrExhaustedCombinations
}

func (s Selector) greedy(pool []CoverageResult, excluded map[int64]struct{}) ([]CoverageResult, []string) {
	covered := make(map[string]struct{})
	used := make(map[int64]struct{})
	var picks []CoverageResult

	for len(picks) < s.size() {
		best, bestGain := -1, 0
		for i, r := range pool {
			if _, ok := excluded[r.Candidate.ID]; ok {
				continue
			}
			if _, ok := used[r.Candidate.ID]; ok {
				continue
			}
			gain := 0
			for _, n := range r.Covered {
				if _, ok := covered[n]; !ok {
					gain++
				}
			}
			if gain == 0 {
				continue
			}
			if gain > bestGain || (gain == bestGain && lessTieBreak(r, pool[best])) {
				best, bestGain = i, gain
			}
		}
		if best < 0 {
			break
		}

		pick := pool[best]
		picks = append(picks, pick)
		used[pick.Candidate.ID] = struct{}{}
		for _, n := range pick.Covered {
			covered[n] = struct{}{}
		}
	}

	names := make([]string, 0, len(covered))
	for n := range covered {
		names = append(names, n)
	}
	sort.Strings(names)
	return picks, names
}

// NextInOrder 文字查詢模式：依候選原有順序取下一批未曾出現過的食譜
func (s Selector) NextInOrder(pool []CoverageResult, served map[CombinationKey]struct{}) (Selection, error) {
	seen := make(map[int64]struct{})
	for key := range served {
		for _, id := range key.RecipeIDs() {
			seen[id] = struct{}{}
		}
	}

	picks := make([]CoverageResult, 0, s.size())
	for _, r := range pool {
		if len(picks) == s.size() {
			break
		}
		if _, ok := seen[r.Candidate.ID]; ok {
			continue
		}
		seen[r.Candidate.ID] = struct{}{}
		picks = append(picks, r)
	}
	if len(picks) == 0 {
		return Selection{}, ErrExhaustedCombinations
	}

	key := keyOf(picks)
	if _, dup := served[key]; dup {
		return Selection{}, ErrExhaustedCombinations
	}
	return Selection{Key: key, Picks: picks}, nil
}

func keyOf(picks []CoverageResult) CombinationKey {
	ids := make([]int64, len(picks))
	for i, p := range picks {
		ids[i] = p.Candidate.ID
	}
	return NewCombinationKey(ids)
}
