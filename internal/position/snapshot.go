package position

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/metrics"
	"github.com/atmx/wallet-engine/internal/model"
)

// snapshotHour is the time of day given to a Friday row with no bar of its own.
const snapshotHour = 12 * time.Hour

// persistSnapshots writes one row per Friday between consecutive
// boundaries. All rows go in one batch, so a failure leaves the previous
// checkpoint in place and the next run regenerates the same rows.
func (e *Engine) persistSnapshots(ctx context.Context, symbol, portfolio string, boundaries []model.Position, seeded bool) {
	rows := e.snapshotRows(ctx, symbol, boundaries, seeded)
	if len(rows) == 0 {
		return
	}

	if err := e.store.InsertPositions(ctx, rows); err != nil {
		metrics.SnapshotFailures.Inc()
		slog.Error("snapshot persist failed", "symbol", symbol, "portfolio", portfolio,
			"rows", len(rows), "err", err)
		if e.onError != nil {
			e.onError(symbol, portfolio, err)
		}
		return
	}
	metrics.SnapshotRows.Add(float64(len(rows)))
	slog.Debug("snapshots persisted", "symbol", symbol, "portfolio", portfolio, "rows", len(rows))
}

// snapshotRows builds the Friday rows for each (prev, next) boundary pair.
// A persisted seed is already a row, so its walk starts the day after it.
func (e *Engine) snapshotRows(ctx context.Context, symbol string, boundaries []model.Position, seeded bool) []model.Position {
	if len(boundaries) < 2 {
		return nil
	}

	var rows []model.Position
	price := boundaries[0].CurrentPrice
	pending := []model.Operation{}

	for i := 0; i+1 < len(boundaries); i++ {
		prev, next := boundaries[i], boundaries[i+1]

		from := historical.StartOfDay(prev.Time)
		if seeded && i == 0 {
			from = from.AddDate(0, 0, 1)
		} else {
			pending = append(pending, prev.RecentOperations...)
		}

		for _, friday := range Fridays(from, historical.StartOfDay(next.Time)) {
			row := prev.Clone()
			row.ID = 0
			row.RecentOperations = pending
			pending = []model.Operation{}

			row.Time = friday.Add(snapshotHour)
			bar, err := e.prices.GetForDayWithFallback(ctx, symbol, friday)
			if err != nil {
				slog.Warn("no price for snapshot, carrying previous",
					"symbol", symbol, "day", friday.Format(time.DateOnly), "err", err)
			} else {
				price = bar.Close
				if historical.StartOfDay(bar.Time).Equal(friday) {
					row.Time = bar.Time
				}
			}
			if row.Time.Before(prev.Time) {
				row.Time = prev.Time
			}

			row.CurrentPrice = price
			row.Gain = row.CurrentValue().Sub(row.CostBasis)
			rows = append(rows, row)
		}
	}
	return rows
}

// Fridays lists the Fridays d with from <= d < to. Both bounds are
// truncated to midnight UTC.
func Fridays(from, to time.Time) []time.Time {
	var out []time.Time
	d := historical.StartOfDay(from)
	end := historical.StartOfDay(to)
	for d.Before(end) {
		if d.Weekday() == time.Friday {
			out = append(out, d)
			d = d.AddDate(0, 0, 7)
			continue
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}
