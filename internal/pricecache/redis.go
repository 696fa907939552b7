package pricecache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/wallet-engine/internal/model"
)

// DefaultMirrorKey is the Redis hash holding the last tick per symbol.
const DefaultMirrorKey = "prices:live"

// RedisMirror copies every tick into a Redis hash so other processes and
// restarts can read the last known prices.
type RedisMirror struct {
	rdb *redis.Client
	key string
}

func NewRedisMirror(rdb *redis.Client, key string) *RedisMirror {
	if key == "" {
		key = DefaultMirrorKey
	}
	return &RedisMirror{rdb: rdb, key: key}
}

// Listener returns a cache listener that writes ticks to Redis.
func (m *RedisMirror) Listener() Listener {
	return func(t model.Tick) {
		data, err := json.Marshal(t)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := m.rdb.HSet(ctx, m.key, t.Symbol, data).Err(); err != nil {
			slog.Debug("price mirror write failed", "symbol", t.Symbol, "err", err)
		}
	}
}

// Warm loads mirrored ticks into c.
func (m *RedisMirror) Warm(ctx context.Context, c *Cache) error {
	entries, err := m.rdb.HGetAll(ctx, m.key).Result()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for symbol, raw := range entries {
		var t model.Tick
		if json.Unmarshal([]byte(raw), &t) != nil {
			continue
		}
		c.prices[symbol] = t
	}
	slog.Info("price cache warmed from redis", "symbols", len(entries))
	return nil
}
