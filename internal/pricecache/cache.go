// Package pricecache holds the latest streamed trade price per symbol.
// Reads never block on the network; freshness is whatever the stream
// delivered last.
package pricecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/wallet-engine/internal/metrics"
	"github.com/atmx/wallet-engine/internal/model"
)

// Streamer delivers live trades for symbols until the connection ends.
type Streamer interface {
	Stream(ctx context.Context, symbols []string, onTick func(model.Tick)) error
}

// Listener is notified of every tick after the cache is updated.
type Listener func(model.Tick)

type Cache struct {
	mu         sync.RWMutex
	prices     map[string]model.Tick
	listeners  []Listener
	backoff    time.Duration
	maxBackoff time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithBackoff sets the initial and maximum reconnect delays.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(c *Cache) {
		c.backoff = initial
		c.maxBackoff = maxDelay
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		prices:     make(map[string]model.Tick),
		backoff:    time.Second,
		maxBackoff: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers l for every future tick.
func (c *Cache) Subscribe(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Get returns the last streamed price for symbol.
func (c *Cache) Get(symbol string) (model.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.prices[symbol]
	return t, ok
}

// Snapshot copies all cached prices.
func (c *Cache) Snapshot() map[string]model.Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.Tick, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

// Update stores t unless a newer tick for the symbol is already cached.
func (c *Cache) Update(t model.Tick) {
	c.mu.Lock()
	if cur, ok := c.prices[t.Symbol]; ok && cur.Time.After(t.Time) {
		c.mu.Unlock()
		return
	}
	c.prices[t.Symbol] = t
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	metrics.LiveTicks.Inc()
	for _, l := range listeners {
		l(t)
	}
}

// Run keeps one subscription for symbols open until ctx is done,
// reconnecting with capped exponential backoff after each failure.
func (c *Cache) Run(ctx context.Context, s Streamer, symbols []string) error {
	backoff := c.backoff
	for {
		connected := time.Now()
		err := s.Stream(ctx, symbols, c.Update)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A long-lived session resets the backoff.
		if time.Since(connected) > c.maxBackoff {
			backoff = c.backoff
		}
		slog.Warn("price stream closed, reconnecting", "err", err, "in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}
