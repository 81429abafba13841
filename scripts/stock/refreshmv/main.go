package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func main() {
	_ = godotenv.Load()
	concurrent := flag.Bool("concurrent", true, "refresh without blocking readers")
	flag.Parse()

	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	rt := app.DetectRuntime("refreshmv")
	logger := app.NewLogger(cfg).With(rt.Attr())

	rec, err := run(ctx, cfg, logger, *concurrent)
	if err != nil {
		logger.Error("refresh snapshot", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("refreshed product_stock_snapshot", slog.Int64("rows", rec.RowCount), slog.Int64("generation", rec.ID))
}

// run refreshes once. Redis is optional; without it the new generation is
// still recorded, only the announcement is skipped.
func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, concurrent bool) (inventory.RefreshRecord, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return inventory.RefreshRecord{}, err
	}
	defer pool.Close()

	snapshotCache := inventory.NewCache(nil, cfg.SnapshotCacheTTL)
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.Options{Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, snapshot generation will not be announced", slog.Any("error", err))
	} else {
		defer func() { _ = redisClient.Close() }()
		snapshotCache = inventory.NewCache(redisClient, cfg.SnapshotCacheTTL)
	}

	rt := app.DetectRuntime("refreshmv")
	svc := inventory.NewService(inventory.NewRepository(pool), shared.NewAuditLogger(pool, rt.Source()), inventory.ServiceConfig{
		Logger: logger,
		Cache:  snapshotCache,
	})
	return svc.Refresh(ctx, concurrent)
}
