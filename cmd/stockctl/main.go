// Command stockctl operates the stock snapshot: refreshes, reads,
// reconciliation, queue inspection and offline ledger replay.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-stock/cmd/stockctl/cli"
	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const usage = `usage: stockctl <command> [flags] [args]

commands:
  refresh [-concurrent] [-json]        rebuild the snapshot now
  snapshot [-json] <product id...>     print snapshots
  reconcile [-json] <product id>       compare ledger replay with the snapshot
  trigger-refresh [-concurrent]        queue a refresh for the worker
  queue [-json]                        show job queue statistics
  replay [-json] [-reconcile] <file> [product id...]
                                       materialize a ledger export offline
`

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "print JSON")
	concurrent := fs.Bool("concurrent", false, "refresh without blocking readers")
	reconcile := fs.Bool("reconcile", false, "replay: reconcile instead of printing snapshots")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}
	out := cli.Output{JSON: *jsonOut, Stdout: stdout, Stderr: stderr}

	switch cmd {
	case "replay":
		if fs.NArg() == 0 {
			_, _ = fmt.Fprintln(stderr, "replay: dataset file required")
			return cli.ExitError
		}
		ids, err := parseIDs(fs.Args()[1:])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "replay: %v\n", err)
			return cli.ExitError
		}
		return cli.ReplayCommand(ctx, cli.ReplayOptions{Path: fs.Arg(0), ProductIDs: ids, Reconcile: *reconcile, Output: out})
	case "trigger-refresh", "queue":
		cfg, err := app.LoadConfig()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: load config: %v\n", cmd, err)
			return cli.ExitError
		}
		jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
			return cli.ExitError
		}
		defer func() { _ = jobsCLI.Close() }()
		if cmd == "queue" {
			return jobsCLI.QueueCommand(ctx, out)
		}
		return jobsCLI.TriggerRefresh(ctx, *concurrent, out)
	case "refresh", "snapshot", "reconcile":
		stock, closeFn, err := openStock(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
			return cli.ExitError
		}
		defer closeFn()
		switch cmd {
		case "refresh":
			return stock.RefreshCommand(ctx, *concurrent, out)
		case "snapshot":
			ids, err := parseIDs(fs.Args())
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "snapshot: %v\n", err)
				return cli.ExitError
			}
			return stock.SnapshotCommand(ctx, ids, out)
		default:
			ids, err := parseIDs(fs.Args())
			if err != nil || len(ids) != 1 {
				_, _ = fmt.Fprintln(stderr, "reconcile: exactly one product id required")
				return cli.ExitError
			}
			return stock.ReconcileCommand(ctx, ids[0], out)
		}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return cli.ExitError
	}
}

func openStock(ctx context.Context) (*cli.StockCLI, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	rt := app.DetectRuntime("stockctl")
	logger := app.NewLogger(cfg).With(rt.Attr())
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	closeFn := pool.Close
	snapshotCache := inventory.NewCache(nil, cfg.SnapshotCacheTTL)
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.Options{Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, snapshot generation will not be announced", slog.Any("error", err))
	} else {
		snapshotCache = inventory.NewCache(redisClient, cfg.SnapshotCacheTTL)
		closeFn = func() {
			_ = redisClient.Close()
			pool.Close()
		}
	}
	svc := inventory.NewService(inventory.NewRepository(pool), shared.NewAuditLogger(pool, rt.Source()), inventory.ServiceConfig{
		Logger: logger,
		Cache:  snapshotCache,
	})
	stock, err := cli.NewStockCLI(svc)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return stock, closeFn, nil
}

func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid product id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
