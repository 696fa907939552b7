package historical_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/lock"
	"github.com/atmx/wallet-engine/internal/model"
	"github.com/atmx/wallet-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

// fakeSource serves bars from a fixed series. It pads each answer with the
// day before the requested range, the way some providers do.
type fakeSource struct {
	mu    sync.Mutex
	calls [][2]time.Time
	err   error
	bars  []model.AssetDay
}

func (f *fakeSource) DailyBars(_ context.Context, symbol string, from, to time.Time) ([]model.AssetDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]time.Time{from, to})
	if f.err != nil {
		return nil, f.err
	}
	var out []model.AssetDay
	for _, b := range f.bars {
		if b.Time.After(to) {
			continue
		}
		if b.Time.Before(from.AddDate(0, 0, -1)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func weekdayBars(from, to time.Time) []model.AssetDay {
	var bars []model.AssetDay
	for t := from; !t.After(to); t = t.AddDate(0, 0, 1) {
		if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
			continue
		}
		bars = append(bars, model.AssetDay{Time: t.Add(13 * time.Hour), Close: d(float64(t.Day()))})
	}
	return bars
}

func newService(src historical.Source, now time.Time) (*historical.Service, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	svc := historical.NewService(ms, lock.NewCoordinator(time.Millisecond), src,
		historical.WithStart(day(2020, 1, 1)),
		historical.WithClock(func() time.Time { return now }),
	)
	return svc, ms
}

func TestRefresh_BackfillNoDuplicates(t *testing.T) {
	src := &fakeSource{bars: weekdayBars(day(2019, 12, 1), day(2020, 1, 31))}
	now := day(2020, 1, 20).Add(10 * time.Hour)
	svc, ms := newService(src, now)
	ctx := context.Background()

	n, err := svc.Refresh(ctx, "A")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// Weekdays from Jan 1 through Jan 19, 2020.
	if n != 13 {
		t.Errorf("inserted = %d, want 13", n)
	}

	n, err = svc.Refresh(ctx, "A")
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if n != 0 {
		t.Errorf("second refresh inserted %d bars, want 0", n)
	}
	if ms.AssetDayCount("A") != 13 {
		t.Errorf("stored bars = %d, want 13", ms.AssetDayCount("A"))
	}

	first := src.calls[0]
	if !first[0].Equal(day(2020, 1, 1)) || !first[1].Equal(day(2020, 1, 20).Add(-time.Second)) {
		t.Errorf("first range = %v", first)
	}
	second := src.calls[1]
	if !second[0].Equal(day(2020, 1, 18)) {
		t.Errorf("second since = %s, want day after latest bar (2020-01-18)", second[0])
	}
}

func TestRefresh_UpToDateSkipsSource(t *testing.T) {
	src := &fakeSource{bars: weekdayBars(day(2020, 1, 1), day(2020, 1, 31))}
	svc, ms := newService(src, day(2020, 1, 7).Add(time.Hour))
	_ = ms.InsertAssetDays(context.Background(), []model.AssetDay{{Symbol: "A", Time: day(2020, 1, 6).Add(13 * time.Hour)}})

	n, err := svc.Refresh(context.Background(), "A")
	if err != nil || n != 0 {
		t.Fatalf("refresh = %d, %v", n, err)
	}
	if len(src.calls) != 0 {
		t.Errorf("source called %d times, want 0", len(src.calls))
	}
}

func TestRefresh_NoDataIsEmpty(t *testing.T) {
	src := &fakeSource{err: historical.ErrNoData}
	svc, _ := newService(src, day(2020, 1, 7))

	n, err := svc.Refresh(context.Background(), "A")
	if err != nil || n != 0 {
		t.Fatalf("refresh = %d, %v; want 0, nil", n, err)
	}
}

func TestRefresh_SourceErrorIsExternal(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	svc, _ := newService(src, day(2020, 1, 7))

	_, err := svc.Refresh(context.Background(), "A")
	if !errors.Is(err, model.ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}

func TestRefreshAll_JoinsFailures(t *testing.T) {
	src := &fakeSource{err: errors.New("down")}
	svc, ms := newService(src, day(2020, 1, 7))
	ctx := context.Background()
	for i, sym := range []string{"A", "B"} {
		_ = ms.InsertEvent(ctx, &model.Event{
			ID: string(rune('1' + i)), Symbol: sym, Time: day(2020, 1, 2),
			Detail: &model.StockOperation{Kind: model.Purchase, Quantity: d(1)},
		})
	}

	err := svc.RefreshAll(ctx)
	if !errors.Is(err, model.ErrExternalService) {
		t.Fatalf("expected joined ErrExternalService, got %v", err)
	}
	if len(src.calls) != 2 {
		t.Errorf("source calls = %d, want 2 (no sibling abort)", len(src.calls))
	}
}

func TestGetForDayWithFallback(t *testing.T) {
	svc, ms := newService(&fakeSource{}, day(2020, 2, 1))
	ctx := context.Background()
	_ = ms.InsertAssetDays(ctx, []model.AssetDay{
		{Symbol: "A", Time: day(2020, 1, 2).Add(13 * time.Hour), Close: d(2)},
		{Symbol: "A", Time: day(2020, 1, 10).Add(13 * time.Hour), Close: d(10)},
	})

	bar, err := svc.GetForDayWithFallback(ctx, "A", day(2020, 1, 10))
	if err != nil || !bar.Close.Equal(d(10)) {
		t.Fatalf("same-day bar = %v, %v", bar, err)
	}

	bar, err = svc.GetForDayWithFallback(ctx, "A", day(2020, 1, 8))
	if err != nil || !bar.Close.Equal(d(2)) {
		t.Fatalf("fallback bar = %v, %v", bar, err)
	}

	if _, err := svc.GetForDayWithFallback(ctx, "A", day(2020, 1, 30)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound outside the window, got %v", err)
	}
}

func TestCurrentPrice(t *testing.T) {
	now := day(2020, 1, 10).Add(15 * time.Hour)
	svc, _ := newService(&fakeSource{bars: weekdayBars(day(2020, 1, 1), day(2020, 1, 10))}, now)
	price, ok := svc.CurrentPrice(context.Background(), "A")
	if !ok || !price.Equal(d(10)) {
		t.Errorf("price = %s, %v; want 10, true", price, ok)
	}

	down, _ := newService(&fakeSource{err: errors.New("down")}, now)
	if _, ok := down.CurrentPrice(context.Background(), "A"); ok {
		t.Error("expected unavailable price")
	}
}
