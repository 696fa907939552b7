// Package model defines the core domain types shared across the wallet engine.
// All monetary values and quantities use shopspring/decimal; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationKind is the direction of a stock operation.
type OperationKind string

const (
	Purchase OperationKind = "purchase"
	Sale     OperationKind = "sale"
)

// Operation is a compact record of one purchase or sale, attached to the
// position snapshot that first reflects it.
type Operation struct {
	Time     time.Time       `json:"time"`
	Kind     OperationKind   `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SaleRecord captures the average cost and the sell price of one sale.
type SaleRecord struct {
	Time      time.Time       `json:"time"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostPrice decimal.Decimal `json:"cost_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

// Position is the state of one symbol (optionally scoped to a portfolio) at
// a point in time. Persisted positions double as replay checkpoints.
//
// Invariant: AveragePrice == CostBasis / Quantity whenever both are non-zero.
type Position struct {
	ID               int64           `json:"id"` // display only, assigned per listing
	Symbol           string          `json:"symbol"`
	Portfolio        string          `json:"portfolio,omitempty"` // "" = all portfolios
	Time             time.Time       `json:"time"`
	Quantity         decimal.Decimal `json:"quantity"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	CostBasis        decimal.Decimal `json:"cost_basis"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Gain             decimal.Decimal `json:"gain"`
	Realized         decimal.Decimal `json:"realized"`
	RecentOperations []Operation     `json:"recent_operations"`
	Sales            []SaleRecord    `json:"sales"`
}

// NewPosition returns an empty position for symbol within portfolio.
func NewPosition(symbol, portfolio string) Position {
	return Position{
		Symbol:           symbol,
		Portfolio:        portfolio,
		RecentOperations: []Operation{},
		Sales:            []SaleRecord{},
	}
}

// Clone returns a deep copy so snapshots never share slices.
func (p Position) Clone() Position {
	c := p
	c.RecentOperations = append([]Operation{}, p.RecentOperations...)
	c.Sales = append([]SaleRecord{}, p.Sales...)
	return c
}

// CurrentValue is the mark-to-market value of the holding.
func (p Position) CurrentValue() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Quantity)
}

// AssetDay is one daily OHLCV bar for a symbol.
type AssetDay struct {
	Symbol string          `json:"symbol"`
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// PerformancePoint is one weekly step of a portfolio's cash-flow adjusted
// performance series.
type PerformancePoint struct {
	Time           time.Time       `json:"time"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	Adjustment     decimal.Decimal `json:"ops_adjustment"`
	Change         decimal.Decimal `json:"change"`
	Reference      decimal.Decimal `json:"reference"` // starts at 100
	PercentualGain decimal.Decimal `json:"percentual_gain"`
}

// Tick is a live trade price for a symbol.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}
