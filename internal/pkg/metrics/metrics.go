// Package metrics 定義服務的 Prometheus 指標
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recipe_recommender"

var (
	// RecommendationsTotal 推薦請求數，依結果分類：ok / exhausted / invalid / catalog_error / error
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Recommendation requests by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// RecommendDuration 推薦流程耗時
	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommend_duration_seconds",
			Help:      "End-to-end recommendation pipeline latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"mode", "cached"},
	)

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Recommendation cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Recommendation cache misses",
	})

	// DegradedTotal 排序服務不可用而改用關鍵字候選的次數
	DegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degraded_total",
		Help:      "Recommendations served from keyword-only candidates",
	})

	RankingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_requests_total",
			Help:      "Outbound ranking service calls by result",
		},
		[]string{"result"},
	)

	// RankingBreakerState 0=closed 1=half-open 2=open
	RankingBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ranking_breaker_state",
		Help:      "Ranking client circuit breaker state",
	})

	Reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_reservations_total",
			Help:      "Combination reservations by result",
		},
		[]string{"result"},
	)

	ObserverDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observer_events_dropped_total",
		Help:      "Recommendation events dropped because the observer queue was full",
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
