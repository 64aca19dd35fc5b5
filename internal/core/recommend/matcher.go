package recommend

import (
	"sort"
)

// Score 計算單一候選食譜對庫存的覆蓋率。
// 沒有列出任何食材的食譜覆蓋率為 0。
func Score(candidate RecipeCandidate, inventory InventorySet) CoverageResult {
	covered, missing := candidate.Ingredients.Partition(inventory.IngredientSet)
	result := CoverageResult{
		Candidate: candidate,
		Covered:   covered,
		Missing:   missing,
	}
	if n := candidate.Ingredients.Len(); n > 0 {
		result.Ratio = float64(len(covered)) / float64(n)
	}
	return result
}

// Match 計算覆蓋率、濾掉低於門檻的候選並排序。
// 完全沒有覆蓋庫存的食譜一律剔除，minCoverage 為額外的比例門檻。
func Match(candidates []RecipeCandidate, inventory InventorySet, minCoverage float64) []CoverageResult {
	results := make([]CoverageResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Ingredients.Len() == 0 {
			continue
		}
		r := Score(c, inventory)
		if len(r.Covered) == 0 || r.Ratio < minCoverage {
			continue
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return lessCoverage(results[i], results[j])
	})
	return results
}

// lessCoverage 覆蓋率高者優先，其次人氣高、缺少食材少、ID 小
func lessCoverage(a, b CoverageResult) bool {
	if a.Ratio != b.Ratio {
		return a.Ratio > b.Ratio
	}
	return lessTieBreak(a, b)
}

func lessTieBreak(a, b CoverageResult) bool {
	if a.Candidate.Popularity != b.Candidate.Popularity {
		return a.Candidate.Popularity > b.Candidate.Popularity
	}
	if len(a.Missing) != len(b.Missing) {
		return len(a.Missing) < len(b.Missing)
	}
	return a.Candidate.ID < b.Candidate.ID
}
