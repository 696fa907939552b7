package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/wallet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the two hot lookups of a replay: the latest checkpoint and the
// latest daily bar. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertPositions(ctx context.Context, positions []model.Position) error {
	if err := s.primary.InsertPositions(ctx, positions); err != nil {
		return err
	}
	keys := make(map[string]struct{})
	for _, p := range positions {
		keys[positionKey(p.Symbol, p.Portfolio)] = struct{}{}
	}
	for k := range keys {
		s.rdb.Del(ctx, k)
	}
	return nil
}

func (s *CachedStore) InsertAssetDays(ctx context.Context, days []model.AssetDay) error {
	if err := s.primary.InsertAssetDays(ctx, days); err != nil {
		return err
	}
	symbols := make(map[string]struct{})
	for _, d := range days {
		symbols[d.Symbol] = struct{}{}
	}
	for sym := range symbols {
		s.rdb.Del(ctx, latestBarKey(sym))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestPosition(ctx context.Context, symbol, portfolio string) (*model.Position, error) {
	key := positionKey(symbol, portfolio)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.LatestPosition(ctx, symbol, portfolio)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, p)
	return p, nil
}

func (s *CachedStore) LatestAssetDay(ctx context.Context, symbol string) (*model.AssetDay, error) {
	key := latestBarKey(symbol)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var d model.AssetDay
		if json.Unmarshal(data, &d) == nil {
			return &d, nil
		}
	}

	d, err := s.primary.LatestAssetDay(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, d)
	return d, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertEvent(ctx context.Context, e *model.Event) error {
	return s.primary.InsertEvent(ctx, e)
}

func (s *CachedStore) UpdateEvent(ctx context.Context, e *model.Event) error {
	return s.primary.UpdateEvent(ctx, e)
}

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return s.primary.GetEvent(ctx, id)
}

func (s *CachedStore) FindEvents(ctx context.Context, q EventQuery) ([]model.Event, error) {
	return s.primary.FindEvents(ctx, q)
}

func (s *CachedStore) DistinctSymbols(ctx context.Context, portfolio string) ([]string, error) {
	return s.primary.DistinctSymbols(ctx, portfolio)
}

func (s *CachedStore) FindPositions(ctx context.Context, q PositionQuery) ([]model.Position, error) {
	return s.primary.FindPositions(ctx, q)
}

func (s *CachedStore) LatestAssetDayBetween(ctx context.Context, symbol string, from, to time.Time) (*model.AssetDay, error) {
	return s.primary.LatestAssetDayBetween(ctx, symbol, from, to)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionKey(symbol, portfolio string) string {
	return fmt.Sprintf("position:%s:%s", symbol, portfolio)
}

func latestBarKey(symbol string) string { return fmt.Sprintf("historical:latest:%s", symbol) }
