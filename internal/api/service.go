// Package api exposes positions, historical refreshes, the event ledger and
// live prices over HTTP.
//
// All monetary values use shopspring/decimal; never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/model"
	"github.com/atmx/wallet-engine/internal/position"
	"github.com/atmx/wallet-engine/internal/pricecache"
	"github.com/atmx/wallet-engine/internal/store"
)

// Service wires the HTTP handlers to the engine and its collaborators.
type Service struct {
	engine     *position.Engine
	historical *historical.Service
	store      store.Store
	prices     *pricecache.Cache
	wsHub      *WSHub // optional
}

// NewService creates the HTTP service. prices and hub may be nil.
func NewService(engine *position.Engine, hist *historical.Service, st store.Store, prices *pricecache.Cache, hub *WSHub) *Service {
	return &Service{
		engine:     engine,
		historical: hist,
		store:      st,
		prices:     prices,
		wsHub:      hub,
	}
}

// Routes mounts every handler on r.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/positions", s.ListPositions)
	r.Get("/positions/history", s.GetPositionHistory)
	r.Get("/positions/{symbol}", s.GetPosition)
	r.Get("/portfolios/performance", s.GetPerformance)

	r.Post("/historicals/refresh", s.RefreshHistoricals)
	r.Post("/historicals/refresh/{symbol}", s.RefreshHistorical)

	r.Get("/events", s.ListEvents)
	r.Post("/events", s.CreateEvent)
	r.Get("/events/{eventID}", s.GetEvent)
	r.Put("/events/{eventID}", s.UpdateEvent)

	r.Get("/prices/{symbol}", s.GetPrice)
}

// --- Response types ---

// RefreshResponse is returned by the historical refresh endpoints.
type RefreshResponse struct {
	Symbol   string `json:"symbol,omitempty"`
	Inserted int    `json:"inserted"`
	Status   string `json:"status"`
}

// PriceResponse is returned by GET /prices/{symbol}.
type PriceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
	Source string          `json:"source"` // "stream" or "daily"
}

// --- Positions ---

// ListPositions handles GET /positions?portfolio=&_sort=&_order=&_start=&_end=
// Every symbol with operations in the portfolio is recomputed.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	positions, err := s.engine.ComputeAll(r.Context(), q.Get("portfolio"))
	if err != nil {
		writeFailure(w, r, "compute positions", err)
		return
	}

	total := len(positions)
	if listing, ok, err := parseListing(q); err != nil {
		writeFailure(w, r, "parse listing", err)
		return
	} else if ok {
		if positions, total, err = listing.Apply(positions); err != nil {
			writeFailure(w, r, "apply listing", err)
			return
		}
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /positions/{symbol}?portfolio=
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	pos, err := s.engine.Compute(r.Context(), symbol, r.URL.Query().Get("portfolio"))
	if err != nil {
		writeFailure(w, r, "compute position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetPositionHistory handles GET /positions/history?portfolio=&since=YYYY-MM-DD
// The response maps each date to the snapshots recorded on it.
func (s *Service) GetPositionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, "since must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		since = t
	}

	history, err := s.engine.History(r.Context(), q.Get("portfolio"), since)
	if err != nil {
		writeFailure(w, r, "position history", err)
		return
	}

	resp := make(map[string][]model.Position, len(history))
	for day, positions := range history {
		resp[day.Format(time.DateOnly)] = positions
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPerformance handles GET /portfolios/performance?portfolio=
func (s *Service) GetPerformance(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.Performance(r.Context(), r.URL.Query().Get("portfolio"))
	if err != nil {
		writeFailure(w, r, "performance", err)
		return
	}
	if points == nil {
		points = []model.PerformancePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Historical prices ---

// RefreshHistoricals handles POST /historicals/refresh
func (s *Service) RefreshHistoricals(w http.ResponseWriter, r *http.Request) {
	if err := s.historical.RefreshAll(r.Context()); err != nil {
		writeFailure(w, r, "refresh historicals", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Status: "ok"})
}

// RefreshHistorical handles POST /historicals/refresh/{symbol}
func (s *Service) RefreshHistorical(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	n, err := s.historical.Refresh(r.Context(), symbol)
	if err != nil {
		writeFailure(w, r, "refresh historical", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Symbol: symbol, Inserted: n, Status: "ok"})
}

// --- Events ---

// ListEvents handles GET /events?symbol=&portfolio=
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := s.store.FindEvents(r.Context(), store.EventQuery{
		Symbol:    strings.ToUpper(q.Get("symbol")),
		Portfolio: q.Get("portfolio"),
	})
	if err != nil {
		writeFailure(w, r, "list events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateEvent handles POST /events
func (s *Service) CreateEvent(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if err := s.store.InsertEvent(r.Context(), e); err != nil {
		writeFailure(w, r, "insert event", err)
		return
	}

	slog.Info("event recorded",
		"id", e.ID,
		"symbol", e.Symbol,
		"type", e.Detail.Type(),
		"time", e.Time,
	)
	writeJSON(w, http.StatusCreated, e)
}

// GetEvent handles GET /events/{eventID}
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeFailure(w, r, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// UpdateEvent handles PUT /events/{eventID}
func (s *Service) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	e.ID = chi.URLParam(r, "eventID")

	if err := s.store.UpdateEvent(r.Context(), e); err != nil {
		writeFailure(w, r, "update event", err)
		return
	}
	slog.Info("event updated", "id", e.ID, "symbol", e.Symbol)
	writeJSON(w, http.StatusOK, e)
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (*model.Event, bool) {
	var e model.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return &e, true
}

// --- Prices ---

// GetPrice handles GET /prices/{symbol}
// A streamed price wins; otherwise today's daily bar is used.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	if s.prices != nil {
		if tick, ok := s.prices.Get(symbol); ok {
			writeJSON(w, http.StatusOK, PriceResponse{Symbol: symbol, Price: tick.Price, Time: tick.Time, Source: "stream"})
			return
		}
	}

	price, ok := s.historical.CurrentPrice(r.Context(), symbol)
	if !ok {
		writeError(w, "no price available for "+symbol, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, PriceResponse{Symbol: symbol, Price: price, Time: time.Now().UTC(), Source: "daily"})
}

// parseListing reads the _sort/_order/_start/_end parameters. ok is false
// when none is present.
func parseListing(q url.Values) (position.Listing, bool, error) {
	if !q.Has("_sort") && !q.Has("_order") && !q.Has("_start") && !q.Has("_end") {
		return position.Listing{}, false, nil
	}

	l := position.Listing{
		Sort:  q.Get("_sort"),
		Order: strings.ToUpper(q.Get("_order")),
		End:   position.DefaultPageEnd,
	}
	var err error
	if v := q.Get("_start"); v != "" {
		if l.Start, err = strconv.Atoi(v); err != nil {
			return l, false, fmt.Errorf("%w: listing window: %w", model.ErrDecode, err)
		}
	}
	if v := q.Get("_end"); v != "" {
		if l.End, err = strconv.Atoi(v); err != nil {
			return l, false, fmt.Errorf("%w: listing window: %w", model.ErrDecode, err)
		}
	}
	return l, true, nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidLedgerState):
		return http.StatusConflict
	case errors.Is(err, model.ErrExternalService):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrDecode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err with the request id and writes the mapped status.
func writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", "err", err, "request_id", middleware.GetReqID(r.Context()))
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
