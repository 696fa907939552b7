// Package store defines the persistence interface for the wallet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/atmx/wallet-engine/internal/model"
)

// Collection names. They double as lock namespaces: replay serializes on
// CollectionEvents, price refresh on CollectionHistorical.
const (
	CollectionEvents     = "events"
	CollectionPositions  = "positions"
	CollectionHistorical = "historical"
)

// EventQuery selects ledger events. Zero values disable a filter.
// Portfolio restricts stock operations to those listing it; splits are
// symbol-wide and always match.
type EventQuery struct {
	Symbol    string
	Portfolio string
	After     time.Time // exclusive
	Until     time.Time // inclusive
}

// Matches reports whether e satisfies the query.
func (q EventQuery) Matches(e *model.Event) bool {
	if q.Symbol != "" && e.Symbol != q.Symbol {
		return false
	}
	if !q.After.IsZero() && !e.Time.After(q.After) {
		return false
	}
	if !q.Until.IsZero() && e.Time.After(q.Until) {
		return false
	}
	if op, ok := e.Detail.(*model.StockOperation); ok {
		return op.InPortfolio(q.Portfolio)
	}
	return true
}

// PositionQuery selects persisted position snapshots of one portfolio scope.
type PositionQuery struct {
	Portfolio string
	Since     time.Time // inclusive, zero = no bound
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Event ledger ---

	// InsertEvent appends an event. The caller assigns the ID.
	InsertEvent(ctx context.Context, e *model.Event) error

	// UpdateEvent replaces the event with the same ID.
	UpdateEvent(ctx context.Context, e *model.Event) error

	// GetEvent retrieves one event by ID.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// FindEvents returns matching events in ascending time order.
	FindEvents(ctx context.Context, q EventQuery) ([]model.Event, error)

	// DistinctSymbols lists symbols that have stock operations in portfolio
	// ("" = any portfolio), sorted.
	DistinctSymbols(ctx context.Context, portfolio string) ([]string, error)

	// --- Position snapshots ---

	// LatestPosition returns the newest snapshot for (symbol, portfolio)
	// or an error wrapping model.ErrNotFound.
	LatestPosition(ctx context.Context, symbol, portfolio string) (*model.Position, error)

	// InsertPositions persists snapshots atomically: all rows or none.
	InsertPositions(ctx context.Context, positions []model.Position) error

	// FindPositions returns snapshots ordered by time, then symbol.
	FindPositions(ctx context.Context, q PositionQuery) ([]model.Position, error)

	// --- Daily bars ---

	// LatestAssetDay returns the newest stored bar for symbol or an error
	// wrapping model.ErrNotFound.
	LatestAssetDay(ctx context.Context, symbol string) (*model.AssetDay, error)

	// LatestAssetDayBetween returns the newest bar with from <= time <= to.
	LatestAssetDayBetween(ctx context.Context, symbol string, from, to time.Time) (*model.AssetDay, error)

	// InsertAssetDays bulk-appends bars.
	InsertAssetDays(ctx context.Context, days []model.AssetDay) error
}
