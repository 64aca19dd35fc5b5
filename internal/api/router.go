package api

import (
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"recipe-recommender/internal/api/handlers/health"
	recipeHandler "recipe-recommender/internal/api/handlers/recipe"
	"recipe-recommender/internal/api/middleware"
	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/pkg/common"
)

// Services 路由使用的服務
type Services struct {
	Recommender recipeHandler.Recommender
	// CacheStats 快取停用時為 nil
	CacheStats recipeHandler.StatsProvider
	Health     *health.Handler
	// RateLimiter 啟用限流時必須提供，生命週期由呼叫端管理
	RateLimiter *middleware.RateLimiter
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, svc Services) (*gin.Engine, error) {
	if svc.Recommender == nil {
		return nil, errors.New("recommender is required")
	}
	if cfg.RateLimit.Enabled && svc.RateLimiter == nil {
		return nil, errors.New("rate limiter is required when rate limiting is enabled")
	}
	if svc.Health == nil {
		svc.Health = health.NewHandler(cfg.App.Version, nil)
	}

	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.Logger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", middleware.SessionHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", middleware.SessionHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	router.GET("/health", svc.Health.HealthCheck)
	router.GET("/ready", svc.Health.ReadinessCheck)
	router.GET("/live", health.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(svc.RateLimiter))
	}
	{
		h := recipeHandler.NewHandler(svc.Recommender, svc.CacheStats, cfg.App.Debug)

		recipes := api.Group("/recipes")
		recipes.Use(middleware.Session())
		{
			// 食材組合推薦
			recipes.POST("/recommend", h.HandleRecommend)
			recipes.GET("/by-ingredients", h.HandleByIngredients)

			// 食譜名稱搜尋
			recipes.GET("/search", h.HandleSearch)

			recipes.DELETE("/sessions", h.HandleResetSession)
			recipes.GET("/cache/stats", h.HandleCacheStats)
		}
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Bool("cache_enabled", svc.CacheStats != nil),
		zap.Duration("timeout", cfg.Server.RequestTimeout),
		zap.Int64("max_body_size", cfg.Server.MaxBodyBytes),
	)

	return router, nil
}
