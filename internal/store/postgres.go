package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Events ---

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.Event) error {
	detail, portfolios, err := encodeEvent(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, symbol, time, event_type, portfolios, detail)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB)`,
		e.ID, e.Symbol, e.Time, e.Detail.Type(), portfolios, detail,
	)
	if err != nil {
		return fmt.Errorf("%w: insert event %s: %w", model.ErrStorage, e.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, e *model.Event) error {
	detail, portfolios, err := encodeEvent(e)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE events
		 SET symbol = $2, time = $3, event_type = $4, portfolios = $5, detail = $6::JSONB
		 WHERE id = $1`,
		e.ID, e.Symbol, e.Time, e.Detail.Type(), portfolios, detail,
	)
	if err != nil {
		return fmt.Errorf("%w: update event %s: %w", model.ErrStorage, e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s", model.ErrNotFound, e.ID)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, time, event_type, detail FROM events WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get event %s: %w", model.ErrStorage, id, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: event %s", model.ErrNotFound, id)
	}
	return &events[0], nil
}

func (s *PostgresStore) FindEvents(ctx context.Context, q EventQuery) ([]model.Event, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Symbol != "" {
		conds = append(conds, "symbol = "+arg(q.Symbol))
	}
	if q.Portfolio != "" {
		conds = append(conds, fmt.Sprintf("(event_type <> '%s' OR %s = ANY(portfolios))",
			model.EventTypeStockOperation, arg(q.Portfolio)))
	}
	if !q.After.IsZero() {
		conds = append(conds, "time > "+arg(q.After))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "time <= "+arg(q.Until))
	}

	sql := `SELECT id, symbol, time, event_type, detail FROM events`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY time, id"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find events: %w", model.ErrStorage, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) DistinctSymbols(ctx context.Context, portfolio string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT symbol FROM events
		 WHERE event_type = $1 AND ($2 = '' OR $2 = ANY(portfolios))
		 ORDER BY symbol`, model.EventTypeStockOperation, portfolio)
	if err != nil {
		return nil, fmt.Errorf("%w: distinct symbols: %w", model.ErrStorage, err)
	}
	defer rows.Close()

	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: distinct symbols: %w", model.ErrStorage, err)
	}
	return symbols, nil
}

// --- Positions ---

const positionColumns = `symbol, portfolio, time,
	quantity::TEXT, average_price::TEXT, cost_basis::TEXT,
	current_price::TEXT, gain::TEXT, realized::TEXT,
	recent_operations, sales`

func (s *PostgresStore) LatestPosition(ctx context.Context, symbol, portfolio string) (*model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE symbol = $1 AND portfolio = $2
		 ORDER BY time DESC, id DESC LIMIT 1`, symbol, portfolio)
	if err != nil {
		return nil, fmt.Errorf("%w: latest position %s: %w", model.ErrStorage, symbol, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: position %s/%s", model.ErrNotFound, symbol, portfolio)
	}
	return &positions[0], nil
}

func (s *PostgresStore) InsertPositions(ctx context.Context, positions []model.Position) error {
	if len(positions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range positions {
		recent, err := json.Marshal(p.RecentOperations)
		if err != nil {
			return fmt.Errorf("%w: encode recent operations: %w", model.ErrDecode, err)
		}
		sales, err := json.Marshal(p.Sales)
		if err != nil {
			return fmt.Errorf("%w: encode sales: %w", model.ErrDecode, err)
		}
		batch.Queue(
			`INSERT INTO positions (symbol, portfolio, time, quantity, average_price, cost_basis,
			                        current_price, gain, realized, recent_operations, sales)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::JSONB, $11::JSONB)`,
			p.Symbol, p.Portfolio, p.Time,
			p.Quantity.String(), p.AveragePrice.String(), p.CostBasis.String(),
			p.CurrentPrice.String(), p.Gain.String(), p.Realized.String(),
			string(recent), string(sales),
		)
	}

	// One transaction so a partial batch never becomes a checkpoint.
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("%w: insert %d positions: %w", model.ErrStorage, len(positions), err)
	}
	return nil
}

func (s *PostgresStore) FindPositions(ctx context.Context, q PositionQuery) ([]model.Position, error) {
	since := q.Since
	if since.IsZero() {
		since = time.Unix(0, 0).UTC()
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE portfolio = $1 AND time >= $2
		 ORDER BY time, symbol, id`, q.Portfolio, since)
	if err != nil {
		return nil, fmt.Errorf("%w: find positions: %w", model.ErrStorage, err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// --- Historical bars ---

const assetDayColumns = `symbol, time, open::TEXT, high::TEXT, low::TEXT, close::TEXT, volume`

func (s *PostgresStore) LatestAssetDay(ctx context.Context, symbol string) (*model.AssetDay, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetDayColumns+` FROM historical
		 WHERE symbol = $1 ORDER BY time DESC LIMIT 1`, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: latest bar %s: %w", model.ErrStorage, symbol, err)
	}
	defer rows.Close()

	return firstAssetDay(rows, symbol)
}

func (s *PostgresStore) LatestAssetDayBetween(ctx context.Context, symbol string, from, to time.Time) (*model.AssetDay, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetDayColumns+` FROM historical
		 WHERE symbol = $1 AND time >= $2 AND time <= $3
		 ORDER BY time DESC LIMIT 1`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: bar %s: %w", model.ErrStorage, symbol, err)
	}
	defer rows.Close()

	return firstAssetDay(rows, symbol)
}

func (s *PostgresStore) InsertAssetDays(ctx context.Context, days []model.AssetDay) error {
	if len(days) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range days {
		batch.Queue(
			`INSERT INTO historical (symbol, time, open, high, low, close, volume)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
			 ON CONFLICT (symbol, time) DO NOTHING`,
			d.Symbol, d.Time,
			d.Open.String(), d.High.String(), d.Low.String(), d.Close.String(),
			d.Volume,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: insert %d bars: %w", model.ErrStorage, len(days), err)
	}
	return nil
}

// --- Row scanning ---

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func encodeEvent(e *model.Event) (string, []string, error) {
	if e.Detail == nil {
		return "", nil, fmt.Errorf("%w: event %s has no detail", model.ErrDecode, e.ID)
	}
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode event %s: %w", model.ErrDecode, e.ID, err)
	}
	portfolios := []string{}
	if op, ok := e.Detail.(*model.StockOperation); ok && op.Portfolios != nil {
		portfolios = op.Portfolios
	}
	return string(detail), portfolios, nil
}

func scanEvents(rows pgxRows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var eventType string
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Time, &eventType, &raw); err != nil {
			return nil, fmt.Errorf("%w: scan event: %w", model.ErrStorage, err)
		}
		detail, err := model.DecodeEventDetail(eventType, raw)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		e.Detail = detail
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return events, nil
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qtyS, avgS, costS, priceS, gainS, realizedS string
		var recent, sales []byte
		if err := rows.Scan(&p.Symbol, &p.Portfolio, &p.Time,
			&qtyS, &avgS, &costS, &priceS, &gainS, &realizedS,
			&recent, &sales); err != nil {
			return nil, fmt.Errorf("%w: scan position: %w", model.ErrStorage, err)
		}

		var err error
		if p.Quantity, err = decimal.NewFromString(qtyS); err != nil {
			return nil, fmt.Errorf("%w: position quantity %q: %w", model.ErrDecode, qtyS, err)
		}
		p.AveragePrice, _ = decimal.NewFromString(avgS)
		p.CostBasis, _ = decimal.NewFromString(costS)
		p.CurrentPrice, _ = decimal.NewFromString(priceS)
		p.Gain, _ = decimal.NewFromString(gainS)
		p.Realized, _ = decimal.NewFromString(realizedS)
		if err := json.Unmarshal(recent, &p.RecentOperations); err != nil {
			return nil, fmt.Errorf("%w: position recent operations: %w", model.ErrDecode, err)
		}
		if err := json.Unmarshal(sales, &p.Sales); err != nil {
			return nil, fmt.Errorf("%w: position sales: %w", model.ErrDecode, err)
		}
		p.Time = p.Time.UTC()
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return positions, nil
}

func firstAssetDay(rows pgxRows, symbol string) (*model.AssetDay, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrStorage, err)
		}
		return nil, fmt.Errorf("%w: no bars for %s", model.ErrNotFound, symbol)
	}
	var d model.AssetDay
	var openS, highS, lowS, closeS string
	if err := rows.Scan(&d.Symbol, &d.Time, &openS, &highS, &lowS, &closeS, &d.Volume); err != nil {
		return nil, fmt.Errorf("%w: scan bar: %w", model.ErrStorage, err)
	}
	var err error
	if d.Close, err = decimal.NewFromString(closeS); err != nil {
		return nil, fmt.Errorf("%w: bar close %q: %w", model.ErrDecode, closeS, err)
	}
	d.Open, _ = decimal.NewFromString(openS)
	d.High, _ = decimal.NewFromString(highS)
	d.Low, _ = decimal.NewFromString(lowS)
	d.Time = d.Time.UTC()
	return &d, nil
}
