package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/jobs"
	"github.com/odyssey-erp/odyssey-stock/migrations"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	rt := app.DetectRuntime("stock-api")
	logger := app.NewLogger(cfg).With(rt.Attr())

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	readiness := map[string]app.Pinger{"postgres": pool}
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.Options{Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, snapshot cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		readiness["redis"] = app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	metrics := observability.NewMetrics()
	if err := metrics.RegisterPool(observability.PGXPoolStats(pool)); err != nil {
		logger.Warn("register pool metrics", slog.Any("error", err))
	}
	auditLogger := shared.NewAuditLogger(pool, rt.Source())
	idempotencyStore := shared.NewIdempotencyStore(pool)

	snapshotCache := inventory.NewCache(nil, cfg.SnapshotCacheTTL)
	if redisClient != nil {
		snapshotCache = inventory.NewCache(redisClient, cfg.SnapshotCacheTTL)
	}
	stockRepo := inventory.NewRepository(pool)
	stockService := inventory.NewService(stockRepo, auditLogger, inventory.ServiceConfig{
		Logger:  logger,
		Cache:   snapshotCache,
		Metrics: metrics.Jobs(),
	})
	if err := stockService.SyncMovementClasses(ctx); err != nil {
		logger.Error("sync movement classes", slog.Any("error", err))
		os.Exit(1)
	}
	if err := snapshotCache.ListenForInvalidation(ctx, func(generation int64) {
		logger.Debug("snapshot generation announced", slog.Int64("generation", generation))
	}); err != nil {
		logger.Warn("listen for snapshot invalidation", slog.Any("error", err))
	}

	importer := ingest.NewImporter(stockRepo, stockService, stockService, ingest.Config{
		Logger:  logger,
		Metrics: metrics.Jobs(),
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		StockHandler:  inventory.NewHandler(logger, stockService),
		IngestHandler: ingest.NewHandler(importer, idempotencyStore, logger),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Readiness:     readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
