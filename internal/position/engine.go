// Package position replays the event ledger into point-in-time positions
// and persists weekly snapshots that serve as checkpoints for later runs.
//
// A computation holds the (events, symbol) lock from the first read until
// its background snapshot write completes, so at most one replay per symbol
// is in flight at a time.
package position

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/lock"
	"github.com/atmx/wallet-engine/internal/metrics"
	"github.com/atmx/wallet-engine/internal/model"
	"github.com/atmx/wallet-engine/internal/store"
)

// PriceService is the slice of the historical price service the engine needs.
type PriceService interface {
	GetForDayWithFallback(ctx context.Context, symbol string, day time.Time) (*model.AssetDay, error)
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
}

// SnapshotErrorHandler observes background snapshot failures.
type SnapshotErrorHandler func(symbol, portfolio string, err error)

// Engine computes positions.
type Engine struct {
	store   store.Store
	locks   *lock.Coordinator
	prices  PriceService
	now     func() time.Time
	workers int
	onError SnapshotErrorHandler

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWorkers bounds concurrent computations in ComputeAll.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSnapshotErrorHandler registers a callback for background failures.
func WithSnapshotErrorHandler(fn SnapshotErrorHandler) Option {
	return func(e *Engine) { e.onError = fn }
}

// NewEngine creates a position engine.
func NewEngine(st store.Store, locks *lock.Coordinator, prices PriceService, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		locks:   locks,
		prices:  prices,
		now:     time.Now,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until every dispatched snapshot task has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

type priceResult struct {
	price decimal.Decimal
	ok    bool
}

// Compute replays the events of symbol recorded since the latest persisted
// snapshot and returns the position as of now. Weekly snapshots are written
// in the background; their failure never affects the returned value.
func (e *Engine) Compute(ctx context.Context, symbol, portfolio string) (model.Position, error) {
	start := time.Now()
	defer func() { metrics.ComputeLatency.Observe(time.Since(start).Seconds()) }()

	tok, err := e.locks.Acquire(ctx, store.CollectionEvents, symbol)
	if err != nil {
		metrics.PositionsComputed.WithLabelValues("error").Inc()
		return model.Position{}, err
	}
	dispatched := false
	defer func() {
		if !dispatched {
			tok.Release()
		}
	}()

	priceCh := make(chan priceResult, 1)
	go func() {
		p, ok := e.prices.CurrentPrice(ctx, symbol)
		priceCh <- priceResult{price: p, ok: ok}
	}()

	seed, err := e.store.LatestPosition(ctx, symbol, portfolio)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		metrics.PositionsComputed.WithLabelValues("error").Inc()
		return model.Position{}, err
	}

	q := store.EventQuery{Symbol: symbol, Portfolio: portfolio, Until: e.now().UTC()}
	initial := model.NewPosition(symbol, portfolio)
	if seed != nil {
		q.After = seed.Time
		initial = *seed
	}

	events, err := e.store.FindEvents(ctx, q)
	if err != nil {
		metrics.PositionsComputed.WithLabelValues("error").Inc()
		return model.Position{}, err
	}

	l := newLedger(initial)
	for i := range events {
		if err := l.apply(&events[i]); err != nil {
			metrics.PositionsComputed.WithLabelValues("invalid").Inc()
			return model.Position{}, err
		}
	}

	current := l.pos.Clone()
	current.Time = q.Until

	boundaries := make([]model.Position, 0, len(l.refs)+2)
	if seed != nil {
		boundaries = append(boundaries, seed.Clone())
	}
	boundaries = append(boundaries, l.refs...)
	boundaries = append(boundaries, current.Clone())

	e.wg.Add(1)
	dispatched = true
	go func() {
		defer e.wg.Done()
		defer tok.Release()
		e.persistSnapshots(context.WithoutCancel(ctx), symbol, portfolio, boundaries, seed != nil)
	}()

	var pr priceResult
	select {
	case pr = <-priceCh:
	case <-ctx.Done():
	}

	if current.Quantity.IsPositive() {
		if pr.ok {
			current.CurrentPrice = pr.price
		}
		current.Gain = current.CurrentValue().Sub(current.CostBasis)
	} else {
		current.CurrentPrice = decimal.Zero
		current.Gain = decimal.Zero
	}

	metrics.PositionsComputed.WithLabelValues("ok").Inc()
	slog.Debug("position computed", "symbol", symbol, "portfolio", portfolio,
		"events", len(events), "quantity", current.Quantity.String())
	return current, nil
}
