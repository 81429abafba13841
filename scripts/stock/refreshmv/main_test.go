//go:build integration

package main

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/pgtest"
)

var dsn string

func TestMain(m *testing.M) {
	pg := pgtest.MustStart()
	pool := pg.MustPool(context.Background())
	pool.Close()
	dsn = pg.DSN
	code := m.Run()
	pg.Terminate()
	os.Exit(code)
}

func TestRunRecordsAndAnnouncesGeneration(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = sub.Close() })
	pubsub := sub.Subscribe(ctx, "stock.snapshot.refreshed")
	t.Cleanup(func() { _ = pubsub.Close() })
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	cfg := &app.Config{PGDSN: dsn, RedisAddr: mr.Addr(), SnapshotCacheTTL: time.Minute}
	first, err := run(ctx, cfg, pgtest.Logger(), true)
	require.NoError(t, err)
	require.Positive(t, first.ID)
	require.True(t, first.Concurrent)

	select {
	case msg := <-pubsub.Channel():
		require.Equal(t, strconv.FormatInt(first.ID, 10), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("generation was not announced")
	}

	// Redis is optional: the generation still advances in Postgres.
	cfg.RedisAddr = "127.0.0.1:1"
	second, err := run(ctx, cfg, pgtest.Logger(), false)
	require.NoError(t, err)
	require.Equal(t, first.ID+1, second.ID)
}

func TestRunFailsOnBadDSN(t *testing.T) {
	_, err := run(context.Background(), &app.Config{PGDSN: "://bad"}, pgtest.Logger(), true)
	require.ErrorContains(t, err, "platform/db")
}
