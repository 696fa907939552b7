package position

import (
	"fmt"
	"sort"

	"github.com/atmx/wallet-engine/internal/model"
)

// DefaultPageEnd is the window end used when a listing sets no _end.
const DefaultPageEnd = 10

// Listing holds the list options accepted by position listings:
// a sort key, an order ("ASC"/"DESC") and a [Start, End) window.
type Listing struct {
	Sort  string
	Order string
	Start int
	End   int
}

var sortKeys = map[string]func(a, b model.Position) bool{
	"id":     func(a, b model.Position) bool { return a.ID < b.ID },
	"symbol": func(a, b model.Position) bool { return a.Symbol < b.Symbol },
	"quantity": func(a, b model.Position) bool {
		return a.Quantity.LessThan(b.Quantity)
	},
	"average_price": func(a, b model.Position) bool {
		return a.AveragePrice.LessThan(b.AveragePrice)
	},
	"current_price": func(a, b model.Position) bool {
		return a.CurrentPrice.LessThan(b.CurrentPrice)
	},
	"cost_basis": func(a, b model.Position) bool {
		return a.CostBasis.LessThan(b.CostBasis)
	},
	"current_value": func(a, b model.Position) bool {
		return a.CurrentValue().LessThan(b.CurrentValue())
	},
	"gain": func(a, b model.Position) bool { return a.Gain.LessThan(b.Gain) },
}

// Apply sorts and windows positions. It returns the page and the total
// count before windowing.
func (l Listing) Apply(positions []model.Position) ([]model.Position, int, error) {
	total := len(positions)
	out := append([]model.Position(nil), positions...)

	if l.Sort != "" {
		less, ok := sortKeys[l.Sort]
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown sort key %q", model.ErrDecode, l.Sort)
		}
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	if l.Order == "DESC" {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	end := l.End
	if end <= 0 {
		end = DefaultPageEnd
	}
	start := min(max(l.Start, 0), total)
	end = min(end, total)
	if start > end {
		start = end
	}
	return out[start:end], total, nil
}
