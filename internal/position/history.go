package position

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/model"
	"github.com/atmx/wallet-engine/internal/store"
)

// History returns persisted snapshots of portfolio since the given time,
// grouped by UTC date.
func (e *Engine) History(ctx context.Context, portfolio string, since time.Time) (map[time.Time][]model.Position, error) {
	positions, err := e.store.FindPositions(ctx, store.PositionQuery{Portfolio: portfolio, Since: since})
	if err != nil {
		return nil, err
	}
	history := make(map[time.Time][]model.Position)
	for _, p := range positions {
		day := historical.StartOfDay(p.Time)
		history[day] = append(history[day], p)
	}
	return history, nil
}

var hundred = decimal.NewFromInt(100)

// Performance turns the snapshot history of portfolio into a cash-flow
// adjusted return series. Each step compares this week's value, less the
// money moved in by operations since the last snapshot, with last week's
// value; the reference index starts at 100.
func (e *Engine) Performance(ctx context.Context, portfolio string) ([]model.PerformancePoint, error) {
	history, err := e.History(ctx, portfolio, time.Time{})
	if err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(history))
	for d := range history {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	points := make([]model.PerformancePoint, 0, len(days))
	reference := hundred
	var prev *model.PerformancePoint
	for _, day := range days {
		pt := model.PerformancePoint{Time: day}
		for _, p := range history[day] {
			pt.CostBasis = pt.CostBasis.Add(p.CostBasis)
			pt.CurrentValue = pt.CurrentValue.Add(p.CurrentValue())
			for _, op := range p.RecentOperations {
				amount := op.Quantity.Mul(op.Price)
				if op.Kind == model.Sale {
					amount = amount.Neg()
				}
				pt.Adjustment = pt.Adjustment.Add(amount)
			}
		}

		if prev != nil && !prev.CurrentValue.IsZero() {
			pt.Change = pt.CurrentValue.Sub(pt.Adjustment).Sub(prev.CurrentValue).Div(prev.CurrentValue)
		}
		reference = reference.Add(reference.Abs().Mul(pt.Change))
		pt.Reference = reference
		pt.PercentualGain = reference.Sub(hundred)

		points = append(points, pt)
		prev = &points[len(points)-1]
	}
	return points, nil
}
