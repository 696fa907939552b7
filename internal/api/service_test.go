package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/api"
	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/lock"
	"github.com/atmx/wallet-engine/internal/model"
	"github.com/atmx/wallet-engine/internal/position"
	"github.com/atmx/wallet-engine/internal/pricecache"
	"github.com/atmx/wallet-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// flatSource quotes a constant close for every day of every known symbol.
type flatSource struct {
	prices map[string]decimal.Decimal
}

func (f *flatSource) DailyBars(_ context.Context, symbol string, from, to time.Time) ([]model.AssetDay, error) {
	price, ok := f.prices[symbol]
	if !ok {
		return nil, historical.ErrNoData
	}
	var bars []model.AssetDay
	for t := historical.StartOfDay(from); !t.After(to); t = t.AddDate(0, 0, 1) {
		bars = append(bars, model.AssetDay{Symbol: symbol, Time: t, Open: price, High: price, Low: price, Close: price})
	}
	return bars, nil
}

type testEnv struct {
	ms     *store.MemoryStore
	engine *position.Engine
	prices *pricecache.Cache
	router chi.Router
}

// newTestEnv creates the HTTP service over an in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	locks := lock.NewCoordinator(time.Millisecond)
	src := &flatSource{prices: map[string]decimal.Decimal{"PETR4": d(12), "VALE3": d(60)}}
	hist := historical.NewService(ms, locks, src,
		historical.WithClock(clock),
		historical.WithStart(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	engine := position.NewEngine(ms, locks, hist, position.WithClock(clock))
	cache := pricecache.New()
	svc := api.NewService(engine, hist, ms, cache, nil)

	r := chi.NewRouter()
	svc.Routes(r)
	t.Cleanup(engine.Wait)
	return &testEnv{ms: ms, engine: engine, prices: cache, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func operation(symbol string, at time.Time, kind model.OperationKind, qty, price float64, portfolios ...string) model.Event {
	return model.Event{
		Symbol: symbol,
		Time:   at,
		Detail: &model.StockOperation{Kind: kind, Quantity: d(qty), Price: d(price), Portfolios: portfolios},
	}
}

func (e *testEnv) record(t *testing.T, ev model.Event) model.Event {
	t.Helper()
	w := e.do(t, "POST", "/events", ev)
	if w.Code != http.StatusCreated {
		t.Fatalf("create event: status %d: %s", w.Code, w.Body.String())
	}
	var created model.Event
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return created
}

// --- Events ---

func TestCreateEvent_AssignsID(t *testing.T) {
	env := newTestEnv(t)
	created := env.record(t, operation("petr4", now.AddDate(0, 0, -10), model.Purchase, 100, 10))

	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Symbol != "PETR4" {
		t.Errorf("symbol = %s, want PETR4", created.Symbol)
	}

	w := env.do(t, "GET", "/events/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get event: status %d", w.Code)
	}
	var got model.Event
	json.NewDecoder(w.Body).Decode(&got)
	op, ok := got.Detail.(*model.StockOperation)
	if !ok {
		t.Fatalf("detail = %T, want *model.StockOperation", got.Detail)
	}
	if !op.Quantity.Equal(d(100)) {
		t.Errorf("quantity = %s, want 100", op.Quantity)
	}
}

func TestCreateEvent_Invalid(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/events", operation("PETR4", now, model.Purchase, 0, 10))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("zero quantity: status %d, want 400", w.Code)
	}

	req := httptest.NewRequest("POST", "/events", strings.NewReader(`{"symbol":"PETR4","eventType":"dividend","detail":{}}`))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: status %d, want 400", rec.Code)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, "GET", "/events/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestUpdateEvent(t *testing.T) {
	env := newTestEnv(t)
	created := env.record(t, operation("PETR4", now.AddDate(0, 0, -10), model.Purchase, 100, 10))

	w := env.do(t, "PUT", "/events/"+created.ID, operation("PETR4", created.Time, model.Purchase, 150, 10))
	if w.Code != http.StatusOK {
		t.Fatalf("update: status %d: %s", w.Code, w.Body.String())
	}
	stored, err := env.ms.GetEvent(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if q := stored.Detail.(*model.StockOperation).Quantity; !q.Equal(d(150)) {
		t.Errorf("stored quantity = %s, want 150", q)
	}

	if w := env.do(t, "PUT", "/events/missing", operation("PETR4", now, model.Purchase, 1, 1)); w.Code != http.StatusNotFound {
		t.Errorf("update missing: status %d, want 404", w.Code)
	}
}

func TestListEvents_FiltersPortfolio(t *testing.T) {
	env := newTestEnv(t)
	env.record(t, operation("PETR4", now.AddDate(0, 0, -3), model.Purchase, 10, 10, "growth"))
	env.record(t, operation("PETR4", now.AddDate(0, 0, -2), model.Purchase, 10, 10, "income"))
	env.record(t, model.Event{Symbol: "PETR4", Time: now.AddDate(0, 0, -1),
		Detail: &model.StockSplit{Kind: model.Split, Factor: d(2)}})

	w := env.do(t, "GET", "/events?portfolio=growth", nil)
	var events []model.Event
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 2 {
		t.Fatalf("got %d events, want purchase plus split", len(events))
	}
}

// --- Positions ---

func TestGetPosition(t *testing.T) {
	env := newTestEnv(t)
	env.record(t, operation("PETR4", now.AddDate(0, 0, -20), model.Purchase, 100, 10))
	env.record(t, operation("PETR4", now.AddDate(0, 0, -5), model.Sale, 40, 11))

	w := env.do(t, "GET", "/positions/petr4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var pos model.Position
	json.NewDecoder(w.Body).Decode(&pos)

	if !pos.Quantity.Equal(d(60)) {
		t.Errorf("quantity = %s, want 60", pos.Quantity)
	}
	if !pos.CostBasis.Equal(d(600)) {
		t.Errorf("cost basis = %s, want 600", pos.CostBasis)
	}
	if !pos.CurrentPrice.Equal(d(12)) {
		t.Errorf("current price = %s, want 12", pos.CurrentPrice)
	}
	if !pos.Gain.Equal(d(120)) {
		t.Errorf("gain = %s, want 120", pos.Gain)
	}
	if !pos.Realized.Equal(d(40)) {
		t.Errorf("realized = %s, want 40", pos.Realized)
	}
}

func TestGetPosition_Oversell(t *testing.T) {
	env := newTestEnv(t)
	env.record(t, operation("PETR4", now.AddDate(0, 0, -20), model.Purchase, 10, 10))
	env.record(t, operation("PETR4", now.AddDate(0, 0, -5), model.Sale, 40, 11))

	if w := env.do(t, "GET", "/positions/PETR4", nil); w.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", w.Code)
	}
}

func TestListPositions(t *testing.T) {
	env := newTestEnv(t)
	env.record(t, operation("PETR4", now.AddDate(0, 0, -20), model.Purchase, 100, 10))
	env.record(t, operation("VALE3", now.AddDate(0, 0, -20), model.Purchase, 10, 50))
	env.record(t, operation("ITUB4", now.AddDate(0, 0, -20), model.Purchase, 10, 30))
	env.record(t, operation("ITUB4", now.AddDate(0, 0, -10), model.Sale, 10, 31))

	w := env.do(t, "GET", "/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Total-Count"); got != "2" {
		t.Errorf("X-Total-Count = %s, want 2", got)
	}
	var positions []model.Position
	json.NewDecoder(w.Body).Decode(&positions)
	if len(positions) != 2 || positions[0].Symbol != "PETR4" || positions[1].Symbol != "VALE3" {
		t.Fatalf("positions = %+v, want PETR4 then VALE3", positions)
	}
	if positions[0].ID != 1 || positions[1].ID != 2 {
		t.Errorf("ids = %d,%d, want 1,2", positions[0].ID, positions[1].ID)
	}

	w = env.do(t, "GET", "/positions?_sort=cost_basis&_order=desc&_start=0&_end=1", nil)
	positions = nil
	json.NewDecoder(w.Body).Decode(&positions)
	if len(positions) != 1 || positions[0].Symbol != "PETR4" {
		t.Fatalf("windowed = %+v, want only PETR4", positions)
	}
	if got := w.Header().Get("X-Total-Count"); got != "2" {
		t.Errorf("X-Total-Count = %s, want 2", got)
	}

	if w := env.do(t, "GET", "/positions?_sort=colour", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown sort key: status %d, want 400", w.Code)
	}
}

func TestPositionHistory(t *testing.T) {
	env := newTestEnv(t)
	env.record(t, operation("PETR4", time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC), model.Purchase, 100, 10))

	if w := env.do(t, "GET", "/positions/PETR4", nil); w.Code != http.StatusOK {
		t.Fatalf("compute: status %d", w.Code)
	}
	env.engine.Wait()

	w := env.do(t, "GET", "/positions/history?since=2024-02-01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var history map[string][]model.Position
	json.NewDecoder(w.Body).Decode(&history)
	for _, key := range []string{"2024-02-09", "2024-02-16", "2024-02-23", "2024-03-01"} {
		if len(history[key]) != 1 {
			t.Errorf("history[%s] has %d rows, want 1", key, len(history[key]))
		}
	}

	if w := env.do(t, "GET", "/positions/history?since=last-week", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad since: status %d, want 400", w.Code)
	}
}

func TestPerformance_Empty(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/portfolios/performance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

// --- Historicals ---

func TestRefreshHistorical(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/historicals/refresh/PETR4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp api.RefreshResponse
	json.NewDecoder(w.Body).Decode(&resp)
	// 2024-01-01 through 2024-03-05.
	if resp.Inserted != 65 {
		t.Errorf("inserted = %d, want 65", resp.Inserted)
	}
	if got := env.ms.AssetDayCount("PETR4"); got != 65 {
		t.Errorf("stored = %d, want 65", got)
	}

	w = env.do(t, "POST", "/historicals/refresh/PETR4", nil)
	resp = api.RefreshResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Inserted != 0 {
		t.Errorf("second refresh inserted = %d, want 0", resp.Inserted)
	}
}

func TestRefreshHistoricals_All(t *testing.T) {
	env := newTestEnv(t)
	env.record(t, operation("PETR4", now.AddDate(0, 0, -20), model.Purchase, 100, 10))
	env.record(t, operation("VALE3", now.AddDate(0, 0, -20), model.Purchase, 10, 50))

	if w := env.do(t, "POST", "/historicals/refresh", nil); w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if env.ms.AssetDayCount("PETR4") == 0 || env.ms.AssetDayCount("VALE3") == 0 {
		t.Error("expected bars for both symbols")
	}
}

// --- Prices ---

func TestGetPrice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/prices/PETR4", nil)
	var resp api.PriceResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Source != "daily" || !resp.Price.Equal(d(12)) {
		t.Errorf("got %+v, want daily 12", resp)
	}

	env.prices.Update(model.Tick{Symbol: "PETR4", Price: d(12.34), Time: now})
	w = env.do(t, "GET", "/prices/PETR4", nil)
	resp = api.PriceResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Source != "stream" || !resp.Price.Equal(d(12.34)) {
		t.Errorf("got %+v, want stream 12.34", resp)
	}

	if w := env.do(t, "GET", "/prices/UNKNOWN", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown symbol: status %d, want 404", w.Code)
	}
}
