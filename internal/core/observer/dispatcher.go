// Package observer 在推薦回應產生後非同步通知觀察者
package observer

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/pkg/common"
	"recipe-recommender/internal/pkg/metrics"
)

var _ recommend.Observer = (*Dispatcher)(nil)

type job struct {
	ctx   context.Context
	event recommend.Event
}

// Status 隊列狀態
type Status struct {
	QueueLength    int   `json:"queue_length"`
	ProcessedCount int64 `json:"processed_count"`
	DroppedCount   int64 `json:"dropped_count"`
	MaxQueueSize   int   `json:"max_queue_size"`
	Workers        int   `json:"workers"`
}

// Dispatcher 有界隊列加上固定數量的 worker。
// 隊列滿或已關閉時直接丟棄事件，呼叫端永遠不會被阻塞。
type Dispatcher struct {
	observers []recommend.Observer
	queue     chan job
	workers   int
	maxSize   int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	processed atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher 創建事件分派器，需呼叫 Start 才會開始處理
func NewDispatcher(cfg config.ObserverConfig, observers ...recommend.Observer) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{
		observers: observers,
		queue:     make(chan job, size),
		workers:   workers,
		maxSize:   size,
	}
}

// Start 啟動 worker
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		for _, o := range d.observers {
			d.deliver(o, j)
		}
		d.processed.Add(1)
	}
}

func (d *Dispatcher) deliver(o recommend.Observer, j job) {
	defer func() {
		if r := recover(); r != nil {
			common.LogError("觀察者處理事件時發生 panic", zap.Any("panic", r))
		}
	}()
	o.OnRecommendation(j.ctx, j.event)
}

// OnRecommendation 將事件放入隊列
func (d *Dispatcher) OnRecommendation(ctx context.Context, event recommend.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop("dispatcher closed")
		return
	}
	select {
	case d.queue <- job{ctx: ctx, event: event}:
	default:
		d.drop("queue full")
	}
}

func (d *Dispatcher) drop(reason string) {
	d.dropped.Add(1)
	metrics.ObserverDropped.Inc()
	common.LogWarn("推薦事件已丟棄", zap.String("reason", reason), zap.Int("max_queue_size", d.maxSize))
}

// Status 獲取隊列狀態
func (d *Dispatcher) Status() Status {
	return Status{
		QueueLength:    len(d.queue),
		ProcessedCount: d.processed.Load(),
		DroppedCount:   d.dropped.Load(),
		MaxQueueSize:   d.maxSize,
		Workers:        d.workers,
	}
}

// Close 停止接收事件並等待隊列處理完畢，ctx 結束時提前返回
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogObserver 將推薦結果記錄為使用者行為日誌
type LogObserver struct{}

func (LogObserver) OnRecommendation(_ context.Context, e recommend.Event) {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = string(k)
	}
	common.LogInfo("recipe_recommendation",
		zap.String("request_id", e.RequestID),
		zap.String("session_id", e.SessionID),
		zap.String("fingerprint", e.Fingerprint),
		zap.String("mode", e.Mode),
		zap.Int("page", e.Page),
		zap.Strings("combinations", keys),
		zap.Bool("has_more", e.HasMore),
		zap.Bool("degraded", e.Degraded),
		zap.Bool("cached", e.Cached),
		zap.Duration("耗時", e.Duration),
	)
}
