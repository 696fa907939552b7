package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/model"
)

// ledger folds events into a running position and records the state after
// each event as a reference point.
type ledger struct {
	pos  model.Position
	refs []model.Position
}

func newLedger(start model.Position) *ledger {
	pos := start.Clone()
	pos.RecentOperations = []model.Operation{}
	return &ledger{pos: pos}
}

// apply folds one event. On error the running position is left as it was
// before the event.
func (l *ledger) apply(e *model.Event) error {
	before := l.pos.Clone()
	if err := e.Accept(l); err != nil {
		l.pos = before
		return err
	}
	if !l.pos.Quantity.IsZero() && !l.pos.CostBasis.IsZero() {
		l.pos.AveragePrice = l.pos.CostBasis.Div(l.pos.Quantity)
	}
	l.pos.Time = e.Time

	l.refs = append(l.refs, l.pos.Clone())
	l.pos.RecentOperations = []model.Operation{}
	return nil
}

func (l *ledger) VisitStockOperation(e *model.Event, op *model.StockOperation) error {
	switch op.Kind {
	case model.Purchase:
		l.pos.CostBasis = l.pos.CostBasis.Add(op.Price.Mul(op.Quantity))
		l.pos.Quantity = l.pos.Quantity.Add(op.Quantity)

	case model.Sale:
		if !l.pos.Quantity.IsPositive() || op.Quantity.GreaterThan(l.pos.Quantity) {
			return fmt.Errorf("%w: %s sells %s at %s but holds %s",
				model.ErrInvalidLedgerState, e.Symbol, op.Quantity, e.Time.Format(time.RFC3339), l.pos.Quantity)
		}
		costPrice := l.pos.CostBasis.Div(l.pos.Quantity)
		if op.Quantity.Equal(l.pos.Quantity) {
			l.pos.CostBasis = decimal.Zero
		} else {
			l.pos.CostBasis = l.pos.CostBasis.Sub(costPrice.Mul(op.Quantity))
		}
		l.pos.Quantity = l.pos.Quantity.Sub(op.Quantity)
		l.pos.Realized = l.pos.Realized.Add(op.Quantity.Mul(op.Price.Sub(costPrice)))
		l.pos.Sales = append(l.pos.Sales, model.SaleRecord{
			Time:      e.Time,
			Quantity:  op.Quantity,
			CostPrice: costPrice,
			SellPrice: op.Price,
		})

	default:
		return fmt.Errorf("%w: unknown operation type %q", model.ErrDecode, op.Kind)
	}

	l.pos.RecentOperations = append(l.pos.RecentOperations, model.Operation{
		Time:     e.Time,
		Kind:     op.Kind,
		Price:    op.Price,
		Quantity: op.Quantity,
	})
	return nil
}

func (l *ledger) VisitStockSplit(e *model.Event, s *model.StockSplit) error {
	if !s.Factor.IsPositive() {
		return fmt.Errorf("%w: %s split factor %s", model.ErrInvalidLedgerState, e.Symbol, s.Factor)
	}
	switch s.Kind {
	case model.Split:
		l.pos.Quantity = l.pos.Quantity.Mul(s.Factor)
		l.pos.AveragePrice = l.pos.AveragePrice.Div(s.Factor)
	case model.ReverseSplit:
		l.pos.Quantity = l.pos.Quantity.Div(s.Factor)
		l.pos.AveragePrice = l.pos.AveragePrice.Mul(s.Factor)
	default:
		return fmt.Errorf("%w: unknown split type %q", model.ErrDecode, s.Kind)
	}
	return nil
}
