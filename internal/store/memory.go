package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atmx/wallet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string]model.Event
	positions  []model.Position
	historical map[string][]model.AssetDay // per symbol, ascending by time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]model.Event),
		historical: make(map[string][]model.AssetDay),
	}
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("%w: event %s already exists", model.ErrStorage, e.ID)
	}
	s.events[e.ID] = cloneEvent(*e)
	return nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; !ok {
		return fmt.Errorf("%w: event %s", model.ErrNotFound, e.ID)
	}
	s.events[e.ID] = cloneEvent(*e)
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", model.ErrNotFound, id)
	}
	c := cloneEvent(e)
	return &c, nil
}

func (s *MemoryStore) FindEvents(_ context.Context, q EventQuery) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, e := range s.events {
		if q.Matches(&e) {
			result = append(result, cloneEvent(e))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Time.Equal(result[j].Time) {
			return result[i].ID < result[j].ID
		}
		return result[i].Time.Before(result[j].Time)
	})
	return result, nil
}

func (s *MemoryStore) DistinctSymbols(_ context.Context, portfolio string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range s.events {
		op, ok := e.Detail.(*model.StockOperation)
		if !ok || !op.InPortfolio(portfolio) {
			continue
		}
		seen[e.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *MemoryStore) LatestPosition(_ context.Context, symbol, portfolio string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Position
	for i := range s.positions {
		p := &s.positions[i]
		if p.Symbol != symbol || p.Portfolio != portfolio {
			continue
		}
		// Later inserts win ties.
		if latest == nil || !p.Time.Before(latest.Time) {
			latest = p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: position %s/%s", model.ErrNotFound, symbol, portfolio)
	}
	c := latest.Clone()
	return &c, nil
}

func (s *MemoryStore) InsertPositions(_ context.Context, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		s.positions = append(s.positions, p.Clone())
	}
	return nil
}

func (s *MemoryStore) FindPositions(_ context.Context, q PositionQuery) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Portfolio != q.Portfolio {
			continue
		}
		if !q.Since.IsZero() && p.Time.Before(q.Since) {
			continue
		}
		result = append(result, p.Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Time.Equal(result[j].Time) {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].Time.Before(result[j].Time)
	})
	return result, nil
}

func (s *MemoryStore) LatestAssetDay(_ context.Context, symbol string) (*model.AssetDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := s.historical[symbol]
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", model.ErrNotFound, symbol)
	}
	d := days[len(days)-1]
	return &d, nil
}

func (s *MemoryStore) LatestAssetDayBetween(_ context.Context, symbol string, from, to time.Time) (*model.AssetDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := s.historical[symbol]
	for i := len(days) - 1; i >= 0; i-- {
		t := days[i].Time
		if t.After(to) {
			continue
		}
		if t.Before(from) {
			break
		}
		d := days[i]
		return &d, nil
	}
	return nil, fmt.Errorf("%w: no bar for %s between %s and %s",
		model.ErrNotFound, symbol, from.Format(time.DateOnly), to.Format(time.DateOnly))
}

func (s *MemoryStore) InsertAssetDays(_ context.Context, days []model.AssetDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]struct{})
	for _, d := range days {
		s.historical[d.Symbol] = append(s.historical[d.Symbol], d)
		touched[d.Symbol] = struct{}{}
	}
	for sym := range touched {
		slices.SortStableFunc(s.historical[sym], func(a, b model.AssetDay) int {
			return a.Time.Compare(b.Time)
		})
	}
	return nil
}

// AssetDayCount returns the number of stored bars for symbol.
func (s *MemoryStore) AssetDayCount(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.historical[symbol])
}

// PositionCount returns the number of stored snapshots for (symbol, portfolio).
func (s *MemoryStore) PositionCount(symbol, portfolio string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.positions {
		if p.Symbol == symbol && p.Portfolio == portfolio {
			n++
		}
	}
	return n
}

func cloneEvent(e model.Event) model.Event {
	switch d := e.Detail.(type) {
	case *model.StockOperation:
		c := *d
		c.Portfolios = slices.Clone(d.Portfolios)
		e.Detail = &c
	case *model.StockSplit:
		c := *d
		e.Detail = &c
	}
	e.Symbol = strings.TrimSpace(e.Symbol)
	return e
}
