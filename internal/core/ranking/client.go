// Package ranking 遠端向量排序服務客戶端
package ranking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/pkg/common"
	"recipe-recommender/internal/pkg/metrics"
)

const (
	searchPath = "/api/v1/search"
	healthPath = "/health"
)

var _ recommend.RankingClient = (*Client)(nil)

// Options 排序服務設定
type Options struct {
	BaseURL string
	Timeout time.Duration
	// Retries 只允許 0 或 1，僅對網路錯誤與 5xx 重試
	Retries         int
	RetryWait       time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client 排序服務客戶端，連線由 resty 內部的 http.Transport 共用
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[[]recommend.RankedID]
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchHit struct {
	RecipeID int64    `json:"recipe_id"`
	Score    *float64 `json:"score,omitempty"`
	Distance *float64 `json:"distance,omitempty"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

// statusError 排序服務回應非成功狀態
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ranking service returned %d: %s", e.status, e.body)
}

// NewClient 創建排序服務客戶端
func NewClient(opts Options) *Client {
	if opts.Retries > 1 {
		opts.Retries = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 100 * time.Millisecond
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait).
		AddRetryCondition(shouldRetry)
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	breaker := gobreaker.NewCircuitBreaker[[]recommend.RankedID](gobreaker.Settings{
		Name:        "ranking",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// 呼叫端主動取消不算排序服務失敗
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RankingBreakerState.Set(float64(to))
			common.LogWarn("排序服務斷路器狀態變更",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{http: client, breaker: breaker}
}

// shouldRetry 網路錯誤與 5xx 重試；4xx 與呼叫端取消不重試
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
	}
	return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
}

// Rank 送出查詢並回傳依分數遞減排序的結果，長度不超過 limit。
// 任何失敗都以 recommend.ErrRemoteUnavailable 包裝。
func (c *Client) Rank(ctx context.Context, query string, limit int) ([]recommend.RankedID, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}

	results, err := c.breaker.Execute(func() ([]recommend.RankedID, error) {
		return c.search(ctx, query, limit)
	})
	if err != nil {
		metrics.RankingRequests.WithLabelValues(resultLabel(err)).Inc()
		return nil, fmt.Errorf("%w: %w", recommend.ErrRemoteUnavailable, err)
	}
	metrics.RankingRequests.WithLabelValues("ok").Inc()
	return results, nil
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]recommend.RankedID, error) {
	var out searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, TopK: limit}).
		SetResult(&out).
		Post(searchPath)
	if err != nil {
		return nil, fmt.Errorf("ranking request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &statusError{status: resp.StatusCode(), body: truncate(resp.String(), 200)}
	}

	ranked := make([]recommend.RankedID, 0, len(out.Results))
	for _, hit := range out.Results {
		score, ok := hit.score()
		if !ok {
			continue
		}
		ranked = append(ranked, recommend.RankedID{RecipeID: hit.RecipeID, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// score 優先使用 score；只有 distance 時轉為 1/(1+d)，距離越小分數越高
func (h searchHit) score() (float64, bool) {
	switch {
	case h.Score != nil:
		return *h.Score, true
	case h.Distance != nil:
		return 1 / (1 + *h.Distance), true
	default:
		return 0, false
	}
}

// Health 檢查排序服務是否可用
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(healthPath)
	if err != nil {
		return fmt.Errorf("%w: %w", recommend.ErrRemoteUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", recommend.ErrRemoteUnavailable, resp.StatusCode())
	}
	return nil
}

// State 斷路器目前狀態
func (c *Client) State() string {
	return c.breaker.State().String()
}

func resultLabel(err error) string {
	var se *statusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &se) && se.status >= http.StatusInternalServerError:
		return "status_5xx"
	case errors.As(err, &se):
		return "status_4xx"
	default:
		return "network"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
