package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Event types as they appear in the "eventType" field of an event document.
const (
	EventTypeStockOperation = "stock-operation"
	EventTypeStockSplit     = "stock-split"
)

// SplitKind distinguishes forward from reverse splits.
type SplitKind string

const (
	Split        SplitKind = "split"
	ReverseSplit SplitKind = "reverse-split"
)

// Event is one immutable entry of the asset ledger.
type Event struct {
	ID     string
	Symbol string
	Time   time.Time
	Detail EventDetail
}

// EventDetail is the sealed set of event payloads. Consumers dispatch with
// an EventVisitor, so adding a payload type breaks every consumer at
// compile time until it handles the new case.
type EventDetail interface {
	Type() string
	accept(e *Event, v EventVisitor) error
}

// EventVisitor handles each concrete event payload.
type EventVisitor interface {
	VisitStockOperation(e *Event, op *StockOperation) error
	VisitStockSplit(e *Event, s *StockSplit) error
}

// Accept dispatches the event to the matching visitor method.
func (e *Event) Accept(v EventVisitor) error {
	if e.Detail == nil {
		return fmt.Errorf("%w: event %s has no detail", ErrDecode, e.ID)
	}
	return e.Detail.accept(e, v)
}

// StockOperation is a purchase or sale of a quantity at a price.
type StockOperation struct {
	Kind       OperationKind   `json:"type"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Fees       decimal.Decimal `json:"fees"`
	Broker     string          `json:"broker,omitempty"`
	Portfolios []string        `json:"portfolios,omitempty"`
}

func (*StockOperation) Type() string { return EventTypeStockOperation }

func (op *StockOperation) accept(e *Event, v EventVisitor) error {
	return v.VisitStockOperation(e, op)
}

// InPortfolio reports whether the operation belongs to portfolio.
// The empty portfolio matches every operation.
func (op *StockOperation) InPortfolio(portfolio string) bool {
	return portfolio == "" || slices.Contains(op.Portfolios, portfolio)
}

// StockSplit multiplies (or divides, for reverse splits) the share count.
type StockSplit struct {
	Kind   SplitKind       `json:"type"`
	Factor decimal.Decimal `json:"factor"`
}

func (*StockSplit) Type() string { return EventTypeStockSplit }

func (s *StockSplit) accept(e *Event, v EventVisitor) error {
	return v.VisitStockSplit(e, s)
}

// Validate checks the fields a client must supply before an event is stored.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrDecode)
	}
	switch d := e.Detail.(type) {
	case *StockOperation:
		if d.Kind != Purchase && d.Kind != Sale {
			return fmt.Errorf("%w: unknown operation type %q", ErrDecode, d.Kind)
		}
		if !d.Quantity.IsPositive() {
			return fmt.Errorf("%w: quantity must be positive", ErrDecode)
		}
		if d.Price.IsNegative() {
			return fmt.Errorf("%w: price must not be negative", ErrDecode)
		}
	case *StockSplit:
		if d.Kind != Split && d.Kind != ReverseSplit {
			return fmt.Errorf("%w: unknown split type %q", ErrDecode, d.Kind)
		}
		if !d.Factor.IsPositive() {
			return fmt.Errorf("%w: split factor must be positive", ErrDecode)
		}
	default:
		return fmt.Errorf("%w: event detail is required", ErrDecode)
	}
	return nil
}

// eventDocument is the wire shape of an event:
// {"id", "symbol", "time", "eventType", "detail"}.
type eventDocument struct {
	ID        string          `json:"id,omitempty"`
	Symbol    string          `json:"symbol"`
	Time      time.Time       `json:"time"`
	EventType string          `json:"eventType"`
	Detail    json.RawMessage `json:"detail"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Detail == nil {
		return nil, fmt.Errorf("%w: event %s has no detail", ErrDecode, e.ID)
	}
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventDocument{
		ID:        e.ID,
		Symbol:    e.Symbol,
		Time:      e.Time,
		EventType: e.Detail.Type(),
		Detail:    detail,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var doc eventDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	detail, err := DecodeEventDetail(doc.EventType, doc.Detail)
	if err != nil {
		return err
	}
	*e = Event{ID: doc.ID, Symbol: doc.Symbol, Time: doc.Time, Detail: detail}
	return nil
}

// DecodeEventDetail decodes a raw payload according to its event type.
func DecodeEventDetail(eventType string, raw []byte) (EventDetail, error) {
	var detail EventDetail
	switch eventType {
	case EventTypeStockOperation:
		detail = &StockOperation{}
	case EventTypeStockSplit:
		detail = &StockSplit{}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrDecode, eventType)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s event has no detail", ErrDecode, eventType)
	}
	if err := json.Unmarshal(raw, detail); err != nil {
		return nil, fmt.Errorf("%w: %s detail: %w", ErrDecode, eventType, err)
	}
	return detail, nil
}
