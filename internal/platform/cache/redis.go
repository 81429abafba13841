package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tunes the Redis client beyond its address.
type Options struct {
	Password string
	DB       int
}

// New creates a new Redis client and verifies it answers PING.
func New(ctx context.Context, addr string, opts ...Options) (*redis.Client, error) {
	o := redis.Options{Addr: addr}
	if len(opts) > 0 {
		o.Password = opts[0].Password
		o.DB = opts[0].DB
	}
	client := redis.NewClient(&o)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}
