package model_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/model"
)

func TestEvent_DecodeStockOperation(t *testing.T) {
	raw := `{
		"id": "e1",
		"symbol": "PETR4",
		"time": "2020-01-01T12:00:00Z",
		"eventType": "stock-operation",
		"detail": {"type": "purchase", "price": "10.5", "quantity": "100", "portfolios": ["long"]}
	}`

	var e model.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	op, ok := e.Detail.(*model.StockOperation)
	if !ok {
		t.Fatalf("expected *StockOperation, got %T", e.Detail)
	}
	if op.Kind != model.Purchase {
		t.Errorf("kind = %s, want purchase", op.Kind)
	}
	if !op.Price.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("price = %s, want 10.5", op.Price)
	}
	if !e.Time.Equal(time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %s", e.Time)
	}
	if !op.InPortfolio("long") || op.InPortfolio("short") || !op.InPortfolio("") {
		t.Error("portfolio membership mismatch")
	}
}

func TestEvent_EncodeCarriesEventType(t *testing.T) {
	e := model.Event{
		ID:     "s1",
		Symbol: "PETR4",
		Time:   time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
		Detail: &model.StockSplit{Kind: model.Split, Factor: decimal.NewFromInt(2)},
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"eventType":"stock-split"`) {
		t.Errorf("missing eventType tag: %s", data)
	}

	var back model.Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	split, ok := back.Detail.(*model.StockSplit)
	if !ok || !split.Factor.Equal(decimal.NewFromInt(2)) {
		t.Errorf("split did not survive encoding: %#v", back.Detail)
	}
}

func TestEvent_UnknownTypeIsDecodeError(t *testing.T) {
	raw := `{"symbol":"X","time":"2020-01-01T00:00:00Z","eventType":"fii-operation","detail":{}}`
	var e model.Event
	err := json.Unmarshal([]byte(raw), &e)
	if !errors.Is(err, model.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestEvent_Validate(t *testing.T) {
	cases := []struct {
		name string
		ev   model.Event
		ok   bool
	}{
		{"valid purchase", model.Event{Symbol: "A", Detail: &model.StockOperation{Kind: model.Purchase, Quantity: decimal.NewFromInt(1)}}, true},
		{"missing symbol", model.Event{Detail: &model.StockOperation{Kind: model.Purchase, Quantity: decimal.NewFromInt(1)}}, false},
		{"zero quantity", model.Event{Symbol: "A", Detail: &model.StockOperation{Kind: model.Sale}}, false},
		{"zero factor", model.Event{Symbol: "A", Detail: &model.StockSplit{Kind: model.Split}}, false},
		{"no detail", model.Event{Symbol: "A"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, model.ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}
