package inventory

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const bumpChannel = "stock.snapshot.refreshed"

// Cache stores grouped snapshots in Redis keyed by refresh generation. The
// generation is the id of the latest recorded refresh, so any process that
// rebuilds the snapshot through Service moves every reader to fresh keys,
// whether or not it holds a cache itself.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Enabled reports whether lookups can hit Redis.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

func snapshotKey(productID, generation int64) string {
	return "stock:snapshot:" + strconv.FormatInt(productID, 10) + ":" + strconv.FormatInt(generation, 10)
}

// Lookup returns the snapshots cached for ids at generation.
func (c *Cache) Lookup(ctx context.Context, generation int64, ids []int64) (map[int64]Snapshot, error) {
	if !c.Enabled() || len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = snapshotKey(id, generation)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	found := make(map[int64]Snapshot, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue
		}
		found[ids[i]] = snap
	}
	return found, nil
}

// Store caches snapshots under the given generation.
func (c *Cache) Store(ctx context.Context, generation int64, snaps []Snapshot) error {
	if !c.Enabled() || len(snaps) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		pipe.Set(ctx, snapshotKey(snap.ProductID, generation), raw, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Bump announces a new generation to listening processes.
func (c *Cache) Bump(ctx context.Context, generation int64) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(generation, 10)).Err()
}

// ListenForInvalidation follows generation bumps published by other processes
// until ctx is done. onBump, when set, receives each announced generation.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(generation int64)) error {
	if !c.Enabled() {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				gen, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				if onBump != nil {
					onBump(gen)
				}
			}
		}
	}()
	return nil
}
