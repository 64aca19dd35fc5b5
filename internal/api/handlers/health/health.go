package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-recommender/internal/core/observer"
	"recipe-recommender/internal/pkg/common"
)

// Check 依賴檢查，回傳 nil 表示可用
type Check func(ctx context.Context) error

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *observer.Status       `json:"queue,omitempty"`
}

// ReadinessResponse 就緒檢查響應
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type dependency struct {
	name     string
	check    Check
	required bool
}

// Handler 健康檢查處理器
type Handler struct {
	version string
	deps    []dependency
	queue   func() observer.Status
	timeout time.Duration
}

// NewHandler 創建健康檢查處理器，queue 可為 nil
func NewHandler(version string, queue func() observer.Status) *Handler {
	return &Handler{version: version, queue: queue, timeout: 2 * time.Second}
}

// Require 註冊必要依賴，失敗時服務不就緒
func (h *Handler) Require(name string, check Check) *Handler {
	h.deps = append(h.deps, dependency{name: name, check: check, required: true})
	return h
}

// Optional 註冊可降級的依賴，失敗時仍就緒但標記為 degraded
func (h *Handler) Optional(name string, check Check) *Handler {
	h.deps = append(h.deps, dependency{name: name, check: check})
	return h
}

// HealthCheck 健康檢查
func (h *Handler) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}
	if h.queue != nil {
		status := h.queue()
		response.Queue = &status
	}

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 就緒檢查：必要依賴失敗回傳 503
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(h.deps))}
	code := http.StatusOK

	for _, d := range h.deps {
		if err := d.check(ctx); err != nil {
			resp.Checks[d.name] = err.Error()
			common.LogWarn("依賴檢查失敗",
				zap.String("dependency", d.name),
				zap.Bool("required", d.required),
				zap.Error(err),
			)
			if d.required {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
			} else if resp.Status == "ready" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Checks[d.name] = "ok"
	}

	c.JSON(code, resp)
}

// LivenessCheck 存活檢查
func LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
