package recipe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-recommender/internal/api/middleware"
	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"
)

// Recommender 推薦流程
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Page, error)
	Reset(ctx context.Context, sessionID string, ingredients []recommend.InventoryItem, query string) (string, error)
}

// StatsProvider 快取統計
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Amount 食材數量，JSON 中可為數字或字串
type Amount string

// UnmarshalJSON 接受 2、"2" 與 "1/2"
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := common.UnmarshalJSON(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n float64
	if err := common.UnmarshalJSON(data, &n); err != nil {
		return err
	}
	*a = Amount(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// IngredientInput 請求中的食材，可為字串或 {name, amount, unit}
type IngredientInput struct {
	Name   string `json:"name"`
	Amount Amount `json:"amount,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// UnmarshalJSON 同時接受 "계란" 與 {"name":"계란","amount":"2","unit":"개"}
func (in *IngredientInput) UnmarshalJSON(data []byte) error {
	var name string
	if err := common.UnmarshalJSON(data, &name); err == nil {
		*in = IngredientInput{Name: name}
		return nil
	}
	type plain IngredientInput
	var p plain
	if err := common.UnmarshalJSON(data, &p); err != nil {
		return err
	}
	*in = IngredientInput(p)
	return nil
}

// RecommendRequest 推薦請求，ingredients 與 query 擇一
type RecommendRequest struct {
	Ingredients []IngredientInput `json:"ingredients,omitempty"`
	Query       string            `json:"query,omitempty"`
	Page        int               `json:"page,omitempty"`
	PageSize    int               `json:"page_size,omitempty"`
}

// RecommendResponse 推薦回應
type RecommendResponse struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	*recommend.Page
}

// ResetResponse 重置回應
type ResetResponse struct {
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
	Reset       bool   `json:"reset"`
}

// Handler 食譜推薦處理程序
type Handler struct {
	recommender Recommender
	stats       StatsProvider
	debug       bool
}

// NewHandler 創建新的食譜推薦處理程序，stats 為 nil 代表快取停用
func NewHandler(recommender Recommender, stats StatsProvider, debug bool) *Handler {
	return &Handler{recommender: recommender, stats: stats, debug: debug}
}

// HandleRecommend POST /recipes/recommend
func (h *Handler) HandleRecommend(c *gin.Context) {
	var req RecommendRequest
	if err := common.DecodeJSONStrict(c.Request.Body, &req); err != nil {
		h.respondError(c, decodeError(err))
		return
	}
	h.recommend(c, req)
}

// HandleByIngredients GET /recipes/by-ingredients?ingredient=..&amount=..&unit=..
func (h *Handler) HandleByIngredients(c *gin.Context) {
	page, size, err := paging(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.recommend(c, RecommendRequest{Ingredients: ingredientsFromQuery(c), Page: page, PageSize: size})
}

// HandleSearch GET /recipes/search?recipe=..
func (h *Handler) HandleSearch(c *gin.Context) {
	page, size, err := paging(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.recommend(c, RecommendRequest{Query: c.Query("recipe"), Page: page, PageSize: size})
}

func (h *Handler) recommend(c *gin.Context, req RecommendRequest) {
	sessionID := middleware.SessionID(c)
	requestID := requestid.Get(c)

	common.LogInfo("開始處理推薦請求",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID),
		zap.Int("ingredient_count", len(req.Ingredients)),
		zap.Bool("has_query", req.Query != ""),
		zap.Int("page", req.Page),
	)

	page, err := h.recommender.Recommend(c.Request.Context(), recommend.Request{
		RequestID:   requestID,
		SessionID:   sessionID,
		Ingredients: toInventory(req.Ingredients),
		Query:       req.Query,
		Page:        req.Page,
		PageSize:    req.PageSize,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RecommendResponse{
		SessionID: sessionID,
		RequestID: requestID,
		Page:      page,
	})
}

// HandleResetSession DELETE /recipes/sessions
// 清除目前 session 在指定食材或查詢下的推薦紀錄，body 與 query 參數皆可。
func (h *Handler) HandleResetSession(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		var err error
		if body, err = io.ReadAll(c.Request.Body); err != nil {
			h.respondError(c, decodeError(err))
			return
		}
	}

	var req RecommendRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := common.DecodeJSONStrict(bytes.NewReader(body), &req); err != nil {
			h.respondError(c, decodeError(err))
			return
		}
	} else {
		req.Ingredients = ingredientsFromQuery(c)
		req.Query = c.Query("recipe")
	}

	sessionID := middleware.SessionID(c)
	fp, err := h.recommender.Reset(c.Request.Context(), sessionID, toInventory(req.Ingredients), req.Query)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ResetResponse{SessionID: sessionID, Fingerprint: fp, Reset: true})
}

// HandleCacheStats GET /recipes/cache/stats
func (h *Handler) HandleCacheStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	stats := h.stats.GetStats()
	stats["enabled"] = true
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	ce := errorFor(err)
	fields := []zap.Field{
		zap.String("request_id", requestid.Get(c)),
		zap.String("code", ce.Code),
		zap.Error(err),
	}
	if ce.Status >= http.StatusInternalServerError {
		common.LogError("推薦請求失敗", fields...)
	} else {
		common.LogWarn("推薦請求無效", fields...)
	}

	_ = c.Error(err)
	// 用戶端錯誤一律附上原因
	c.AbortWithStatusJSON(ce.Status, ce.ToResponse(h.debug || ce.Status < http.StatusInternalServerError))
}

// errorFor 將領域錯誤轉為 API 錯誤
func errorFor(err error) *common.CustomError {
	if ce, ok := common.AsCustomError(err); ok {
		return ce
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return common.ErrRequestTooLarge.Wrap(err)
	case errors.Is(err, recommend.ErrInvalidInventory):
		return common.ErrInvalidInventory.Wrap(err)
	case errors.Is(err, recommend.ErrCatalogUnavailable):
		return common.ErrCatalogUnavailable.Wrap(err)
	case errors.Is(err, recommend.ErrTrackerUnavailable):
		return common.ErrServiceUnavailable.Wrap(err)
	case errors.Is(err, context.DeadlineExceeded):
		return common.ErrGatewayTimeout.Wrap(err)
	case errors.Is(err, context.Canceled):
		return common.ErrRequestCanceled.Wrap(err)
	default:
		return common.ErrInternalError.Wrap(err)
	}
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return common.ErrInvalidRequest.Wrap(err)
}

func paging(c *gin.Context) (page, size int, err error) {
	if page, err = intQuery(c, "page"); err != nil {
		return 0, 0, err
	}
	if size, err = intQuery(c, "size"); err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.NewError(common.ErrCodeInvalidRequest, "無效的分頁參數: "+key, http.StatusBadRequest, err)
	}
	return n, nil
}

// ingredientsFromQuery ingredient、amount、unit 依位置對應；單一 ingredient 值也可用逗號分隔
func ingredientsFromQuery(c *gin.Context) []IngredientInput {
	names := c.QueryArray("ingredient")
	amounts := c.QueryArray("amount")
	units := c.QueryArray("unit")

	if len(names) == 1 && strings.Contains(names[0], ",") {
		names = strings.FieldsFunc(names[0], func(r rune) bool { return r == ',' })
		amounts, units = nil, nil
	}

	out := make([]IngredientInput, 0, len(names))
	for i, n := range names {
		in := IngredientInput{Name: n}
		if i < len(amounts) {
			in.Amount = Amount(amounts[i])
		}
		if i < len(units) {
			in.Unit = units[i]
		}
		out = append(out, in)
	}
	return out
}

func toInventory(in []IngredientInput) []recommend.InventoryItem {
	items := make([]recommend.InventoryItem, len(in))
	for i, it := range in {
		items[i] = recommend.InventoryItem{Name: it.Name, Amount: string(it.Amount), Unit: it.Unit}
	}
	return items
}
