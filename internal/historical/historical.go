// Package historical keeps the daily bar store in sync with an upstream
// market data source and answers "what was the price on day D" queries.
package historical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/wallet-engine/internal/lock"
	"github.com/atmx/wallet-engine/internal/metrics"
	"github.com/atmx/wallet-engine/internal/model"
	"github.com/atmx/wallet-engine/internal/store"
)

// ErrNoData is returned by a Source when the provider has no bars for the
// requested range. Refresh treats it as an empty result.
var ErrNoData = errors.New("historical: no data for range")

// DefaultStart is the first day fetched for a symbol with no stored bars.
var DefaultStart = time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC)

// fallbackWindow is how far back GetForDayWithFallback looks for a bar.
const fallbackWindow = 7 * 24 * time.Hour

// Source fetches daily bars for symbol with from <= time <= to.
type Source interface {
	DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.AssetDay, error)
}

// Service refreshes and queries daily bars.
type Service struct {
	store   store.Store
	locks   *lock.Coordinator
	source  Source
	start   time.Time
	now     func() time.Time
	workers int
}

// Option configures a Service.
type Option func(*Service)

// WithStart overrides the first day fetched for new symbols.
func WithStart(t time.Time) Option {
	return func(s *Service) { s.start = StartOfDay(t) }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWorkers bounds concurrent refreshes in RefreshAll.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService creates a historical price service.
func NewService(st store.Store, locks *lock.Coordinator, src Source, opts ...Option) *Service {
	s := &Service{
		store:   st,
		locks:   locks,
		source:  src,
		start:   DefaultStart,
		now:     time.Now,
		workers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh appends every missing bar for symbol from the day after the
// latest stored bar through yesterday. It returns the number of bars stored.
func (s *Service) Refresh(ctx context.Context, symbol string) (int, error) {
	tok, err := s.locks.Acquire(ctx, store.CollectionHistorical, symbol)
	if err != nil {
		return 0, err
	}
	defer tok.Release()

	since := s.start
	latest, err := s.store.LatestAssetDay(ctx, symbol)
	switch {
	case err == nil:
		since = StartOfDay(latest.Time).AddDate(0, 0, 1)
	case errors.Is(err, model.ErrNotFound):
	default:
		return 0, err
	}

	until := StartOfDay(s.now().UTC()).Add(-time.Second)
	if since.After(until) {
		slog.Debug("historical up to date", "symbol", symbol)
		return 0, nil
	}

	bars, err := s.source.DailyBars(ctx, symbol, since, until)
	if err != nil && !errors.Is(err, ErrNoData) {
		return 0, fmt.Errorf("%w: fetch %s bars: %w", model.ErrExternalService, symbol, err)
	}

	fresh := make([]model.AssetDay, 0, len(bars))
	for _, b := range bars {
		if b.Time.Before(since) || b.Time.After(until) {
			continue
		}
		b.Symbol = symbol
		fresh = append(fresh, b)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := s.store.InsertAssetDays(ctx, fresh); err != nil {
		return 0, err
	}
	metrics.BarsInserted.WithLabelValues(symbol).Add(float64(len(fresh)))
	slog.Info("historical refreshed", "symbol", symbol, "bars", len(fresh),
		"since", since.Format(time.DateOnly), "until", until.Format(time.DateOnly))
	return len(fresh), nil
}

// RefreshAll refreshes every symbol with stock operations in the ledger.
// Symbols are independent: a failure is logged and returned in the joined
// error without stopping the others.
func (s *Service) RefreshAll(ctx context.Context) error {
	symbols, err := s.store.DistinctSymbols(ctx, "")
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if _, err := s.Refresh(ctx, symbol); err != nil {
				slog.Warn("historical refresh failed", "symbol", symbol, "err", err)
				metrics.RefreshFailures.Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// GetForDayWithFallback returns the latest stored bar dated within the
// seven days up to and including day.
func (s *Service) GetForDayWithFallback(ctx context.Context, symbol string, day time.Time) (*model.AssetDay, error) {
	end := StartOfDay(day).Add(24*time.Hour - time.Second)
	begin := StartOfDay(day).Add(-fallbackWindow)
	return s.store.LatestAssetDayBetween(ctx, symbol, begin, end)
}

// CurrentPrice asks the source for today's bar. ok is false when the
// price is unavailable for any reason.
func (s *Service) CurrentPrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool) {
	now := s.now().UTC()
	bars, err := s.source.DailyBars(ctx, symbol, StartOfDay(now), now)
	if err != nil {
		slog.Debug("current price unavailable", "symbol", symbol, "err", err)
		return decimal.Zero, false
	}
	if len(bars) == 0 {
		return decimal.Zero, false
	}
	return bars[len(bars)-1].Close, true
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
