package position

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/wallet-engine/internal/model"
)

// ComputeAll computes every symbol with operations in portfolio ("" = all)
// concurrently. The first failure fails the whole call. Closed positions
// are dropped; the rest are sorted by symbol and numbered from 1.
func (e *Engine) ComputeAll(ctx context.Context, portfolio string) ([]model.Position, error) {
	symbols, err := e.store.DistinctSymbols(ctx, portfolio)
	if err != nil {
		return nil, err
	}

	results := make([]model.Position, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			p, err := e.Compute(gctx, symbol, portfolio)
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	open := make([]model.Position, 0, len(results))
	for _, p := range results {
		if p.Quantity.IsPositive() {
			open = append(open, p)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })
	for i := range open {
		open[i].ID = int64(i + 1)
	}
	return open, nil
}
