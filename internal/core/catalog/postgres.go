// Package catalog 食譜資料庫存取
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"
)

var _ recommend.CatalogGateway = (*PostgresGateway)(nil)

// materialKey 與 recommend.Canonicalize 相同的正規化：NFKC、小寫、壓縮空白。
// PostgreSQL 的 lower 不是完整的大小寫折疊，ß 這類名稱在資料庫搜尋時可能比對不到。
const materialKey = `lower(btrim(regexp_replace(normalize(m."MATERIAL_NAME", NFKC), '\s+', ' ', 'g')))`

const (
	keywordQuery = `
		SELECT "RECIPE_ID"
		FROM "FCT_RECIPE"
		WHERE "RECIPE_TITLE" ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY "SCRAP_COUNT" DESC NULLS LAST, "RECIPE_ID" ASC
		LIMIT $2`

	ingredientQuery = `
		SELECT m."RECIPE_ID", COUNT(DISTINCT ` + materialKey + `) AS matched
		FROM "FCT_MTRL" m
		JOIN "FCT_RECIPE" r ON r."RECIPE_ID" = m."RECIPE_ID"
		WHERE ` + materialKey + ` = ANY($1)
		GROUP BY m."RECIPE_ID", r."SCRAP_COUNT"
		ORDER BY matched DESC, r."SCRAP_COUNT" DESC NULLS LAST, m."RECIPE_ID" ASC
		LIMIT $2`

	// 三個陣列以 MATERIAL_ID 排序，索引彼此對應
	detailsQuery = `
		SELECT r."RECIPE_ID",
		       COALESCE(r."RECIPE_TITLE", ''),
		       COALESCE(r."COOKING_NAME", ''),
		       COALESCE(r."SCRAP_COUNT", 0),
		       COALESCE(r."THUMBNAIL_URL", ''),
		       COALESCE(array_agg(m."MATERIAL_NAME" ORDER BY m."MATERIAL_ID")
		                FILTER (WHERE m."MATERIAL_NAME" IS NOT NULL), '{}'),
		       COALESCE(array_agg(COALESCE(m."MEASURE_AMOUNT", '') ORDER BY m."MATERIAL_ID")
		                FILTER (WHERE m."MATERIAL_NAME" IS NOT NULL), '{}'),
		       COALESCE(array_agg(COALESCE(m."MEASURE_UNIT", '') ORDER BY m."MATERIAL_ID")
		                FILTER (WHERE m."MATERIAL_NAME" IS NOT NULL), '{}')
		FROM "FCT_RECIPE" r
		LEFT JOIN "FCT_MTRL" m ON m."RECIPE_ID" = r."RECIPE_ID"
		WHERE r."RECIPE_ID" = ANY($1)
		GROUP BY r."RECIPE_ID"`
)

// PostgresGateway 以 PostgreSQL 實作的食譜資料庫
type PostgresGateway struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// Open 建立連線池並確認資料庫可連線
func Open(ctx context.Context, cfg config.CatalogConfig) (*PostgresGateway, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresGateway(db, cfg.QueryTimeout), nil
}

// NewPostgresGateway 使用既有連線池
func NewPostgresGateway(db *sql.DB, queryTimeout time.Duration) *PostgresGateway {
	return &PostgresGateway{db: db, queryTimeout: queryTimeout}
}

// Ping checks database connectivity.
func (g *PostgresGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Close closes the database connection.
func (g *PostgresGateway) Close() error {
	return g.db.Close()
}

func (g *PostgresGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.queryTimeout)
}

// SearchByKeyword 標題部分比對，依收藏數排序
func (g *PostgresGateway) SearchByKeyword(ctx context.Context, text string, limit int) ([]int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, keywordQuery, escapeLike(text), limit)
	if err != nil {
		return nil, unavailable("search by keyword", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan keyword result", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate keyword result", err)
	}
	return ids, nil
}

// SearchByIngredients 包含任一庫存食材的食譜，依符合數量與收藏數排序
func (g *PostgresGateway) SearchByIngredients(ctx context.Context, ingredients []string, limit int) ([]int64, error) {
	if len(ingredients) == 0 {
		return nil, nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, ingredientQuery, pq.Array(ingredients), limit)
	if err != nil {
		return nil, unavailable("search by ingredients", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var (
			id      int64
			matched int
		)
		if err := rows.Scan(&id, &matched); err != nil {
			return nil, unavailable("scan ingredient result", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate ingredient result", err)
	}
	return ids, nil
}

// FetchDetails 以單次查詢取回所有食譜與食材，不存在的 ID 會被略過
func (g *PostgresGateway) FetchDetails(ctx context.Context, ids []int64) (map[int64]recommend.RecipeCandidate, error) {
	out := make(map[int64]recommend.RecipeCandidate, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, detailsQuery, pq.Array(ids))
	if err != nil {
		return nil, unavailable("fetch details", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c                         recommend.RecipeCandidate
			scrap                     int64
			materials, amounts, units pq.StringArray
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.CookingName, &scrap, &c.ThumbnailURL, &materials, &amounts, &units); err != nil {
			return nil, unavailable("scan recipe detail", err)
		}
		c.Popularity = float64(scrap)
		c.Ingredients = recommend.NewIngredientSet(materials)
		c.Measures = measuresOf(materials, amounts, units)
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate recipe details", err)
	}
	return out, nil
}

// measuresOf 每個食材的需求份量，同名食材以第一筆為準
func measuresOf(materials, amounts, units []string) map[string]recommend.Measure {
	out := make(map[string]recommend.Measure, len(materials))
	for i, name := range materials {
		key := recommend.Canonicalize(name)
		if key == "" {
			continue
		}
		if _, ok := out[key]; ok {
			continue
		}
		var amount, unit string
		if i < len(amounts) {
			amount = amounts[i]
		}
		if i < len(units) {
			unit = units[i]
		}
		out[key] = recommend.NewMeasure(amount, unit)
	}
	return out
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", recommend.ErrCatalogUnavailable, op, err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike 轉義 LIKE 萬用字元，使用者輸入只做字面比對
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
