package recommend

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// CandidateFilter 以 CEL 表達式篩選候選食譜，可用欄位：
//
//	recipe.id / recipe.title / recipe.popularity
//	recipe.ingredient_count / recipe.rank_score / recipe.ranked
//
// 例如 `recipe.popularity >= 10.0 && recipe.ingredient_count <= 12`
type CandidateFilter struct {
	expr string
	prg  cel.Program
}

// NewCandidateFilter 編譯表達式；空字串回傳 nil，代表不篩選
func NewCandidateFilter(expr string) (*CandidateFilter, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("recipe", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile candidate filter: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program candidate filter: %w", err)
	}
	return &CandidateFilter{expr: expr, prg: prg}, nil
}

// Allow 判斷候選是否保留
func (f *CandidateFilter) Allow(c RecipeCandidate) (bool, error) {
	if f == nil {
		return true, nil
	}

	var score float64
	if c.RankScore != nil {
		score = *c.RankScore
	}
	out, _, err := f.prg.Eval(map[string]interface{}{
		"recipe": map[string]interface{}{
			"id":               c.ID,
			"title":            c.Title,
			"popularity":       c.Popularity,
			"ingredient_count": int64(c.Ingredients.Len()),
			"rank_score":       score,
			"ranked":           c.RankScore != nil,
		},
	})
	if err != nil {
		return false, fmt.Errorf("eval candidate filter %q: %w", f.expr, err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("candidate filter must return bool, got %T", out.Value())
	}
	return allowed, nil
}

// Apply 回傳通過篩選的候選；單筆評估錯誤視為不通過
func (f *CandidateFilter) Apply(candidates []RecipeCandidate) []RecipeCandidate {
	if f == nil {
		return candidates
	}
	kept := make([]RecipeCandidate, 0, len(candidates))
	for _, c := range candidates {
		if ok, err := f.Allow(c); err == nil && ok {
			kept = append(kept, c)
		}
	}
	return kept
}
