package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"recipe-recommender/internal/api"
	"recipe-recommender/internal/api/handlers/health"
	recipeHandler "recipe-recommender/internal/api/handlers/recipe"
	"recipe-recommender/internal/api/middleware"
	"recipe-recommender/internal/core/cache"
	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/observer"
	"recipe-recommender/internal/core/ranking"
	"recipe-recommender/internal/core/recommend"
	"recipe-recommender/internal/core/tracker"
	"recipe-recommender/internal/infrastructure/config"
	"recipe-recommender/internal/pkg/common"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("載入設定",
		zap.String("catalog_dsn", config.MaskDSN(cfg.Catalog.DSN)),
		zap.Bool("ranking_enabled", cfg.Ranking.Enabled),
		zap.String("ranking_url", cfg.Ranking.BaseURL),
		zap.String("tracker_backend", cfg.Tracker.Backend),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	if err := run(cfg); err != nil {
		common.LogFatal("Server exited with error", zap.Error(err))
	}
	common.LogInfo("Server exited")
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	filter, err := recommend.NewCandidateFilter(cfg.Recommend.CandidateFilter)
	if err != nil {
		return err
	}

	gateway, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer gateway.Close()

	var rdb redis.UniversalClient
	if cfg.Tracker.Backend == "redis" || (cfg.Cache.Enabled && cfg.Cache.Backend == "redis") {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	// 組合追蹤器
	var combos recommend.Tracker
	if cfg.Tracker.Backend == "redis" {
		combos = tracker.NewRedisTracker(rdb, cfg.Redis.KeyPrefix, cfg.Tracker.IdleTTL)
	} else {
		mt := tracker.NewMemoryTracker(cfg.Tracker.IdleTTL, cfg.Tracker.Shards)
		mt.StartSweeper(cfg.Tracker.SweepInterval)
		defer mt.Close()
		combos = mt
	}

	// 推薦結果快取；介面值保持 nil 代表停用
	var (
		pages recommend.Cache
		stats recipeHandler.StatsProvider
	)
	if cfg.Cache.Enabled {
		if cfg.Cache.Backend == "redis" {
			rc := cache.NewRedisCache(rdb, cfg.Redis.KeyPrefix, cfg.Cache.TTL)
			pages, stats = rc, rc
		} else {
			mc := cache.NewMemoryCache(cfg.Cache.MaxSize, cfg.Cache.Shards, cfg.Cache.TTL)
			mc.StartCleanup(cfg.Cache.CleanupInterval)
			defer mc.Close()
			pages, stats = mc, mc
		}
	}

	dispatcher := observer.NewDispatcher(cfg.Observer, observer.LogObserver{})
	dispatcher.Start()

	healthHandler := health.NewHandler(cfg.App.Version, dispatcher.Status).
		Require("catalog", gateway.Ping)

	deps := recommend.Dependencies{
		Catalog:  gateway,
		Tracker:  combos,
		Cache:    pages,
		Observer: dispatcher,
	}
	if cfg.Ranking.Enabled {
		client := ranking.NewClient(ranking.Options{
			BaseURL:         cfg.Ranking.BaseURL,
			Timeout:         cfg.Ranking.Timeout,
			Retries:         cfg.Ranking.Retries,
			BreakerFailures: uint32(cfg.Ranking.BreakerFailures),
			BreakerTimeout:  cfg.Ranking.BreakerTimeout,
		})
		deps.Ranking = client
		healthHandler.Optional("ranking", client.Health)
	}

	orch, err := recommend.NewOrchestrator(deps, recommend.Options{
		MinCoverage:       cfg.Recommend.MinCoverage,
		DefaultPageSize:   cfg.Recommend.DefaultPageSize,
		MaxPageSize:       cfg.Recommend.MaxPageSize,
		MaxSelectAttempts: cfg.Recommend.MaxSelectAttempts,
		CandidateLimit:    cfg.Recommend.CandidateLimit,
		MinIngredients:    cfg.Recommend.MinIngredients,
		MaxIngredients:    cfg.Recommend.MaxIngredients,
		RankingTimeout:    cfg.Ranking.Timeout,
		RankingTopK:       cfg.Ranking.TopK,
		CacheTTL:          cfg.Cache.TTL,
		RecipeURLTemplate: cfg.Recommend.RecipeURLTemplate,
		Filter:            filter,
	})
	if err != nil {
		return err
	}

	svc := api.Services{
		Recommender: orch,
		CacheStats:  stats,
		Health:      healthHandler,
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit)
		limiter.StartCleanup()
		defer limiter.Close()
		svc.RateLimiter = limiter
	}

	router, err := api.SetupRouter(cfg, svc)
	if err != nil {
		return fmt.Errorf("failed to setup router: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Bool("debug", cfg.App.Debug),
			zap.Int("port", cfg.Server.Port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	common.LogInfo("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		common.LogError("Server forced to shutdown", zap.Error(err))
	}
	// 送出中的事件處理完畢後才關閉其他資源
	if err := dispatcher.Close(shutdownCtx); err != nil {
		common.LogWarn("觀察者隊列未在期限內清空", zap.Error(err))
	}
	return nil
}
