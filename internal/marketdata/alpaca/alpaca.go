// Package alpaca adapts the Alpaca market data API: daily bars for the
// historical store and a trade stream for live prices.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/model"
)

type Config struct {
	KeyID     string
	SecretKey string
	Feed      string // "iex" (free) or "sip"
}

func (c Config) feed() marketdata.Feed {
	if c.Feed == "" {
		return marketdata.IEX
	}
	return marketdata.Feed(c.Feed)
}

// Bars implements historical.Source over the Alpaca bars endpoint.
type Bars struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

func NewBars(cfg Config) *Bars {
	return &Bars{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.KeyID,
			APISecret: cfg.SecretKey,
		}),
		feed: cfg.feed(),
	}
}

// DailyBars returns unadjusted daily bars; splits are ledger events.
func (b *Bars) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.AssetDay, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := b.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      from,
		End:        to,
		Feed:       b.feed,
		Adjustment: marketdata.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", historical.ErrNoData, symbol)
	}

	result := make([]model.AssetDay, 0, len(bars))
	for _, bar := range bars {
		result = append(result, model.AssetDay{
			Symbol: symbol,
			Time:   bar.Timestamp.UTC(),
			Open:   decimal.NewFromFloat(bar.Open),
			High:   decimal.NewFromFloat(bar.High),
			Low:    decimal.NewFromFloat(bar.Low),
			Close:  decimal.NewFromFloat(bar.Close),
			Volume: int64(bar.Volume),
		})
	}
	return result, nil
}

// Trades streams live trades over Alpaca's websocket feed.
type Trades struct {
	cfg Config
}

func NewTrades(cfg Config) *Trades {
	return &Trades{cfg: cfg}
}

// Stream subscribes to trades for symbols and blocks until the connection
// terminates or ctx is cancelled.
func (t *Trades) Stream(ctx context.Context, symbols []string, onTick func(model.Tick)) error {
	handler := func(tr stream.Trade) {
		onTick(model.Tick{
			Symbol: tr.Symbol,
			Price:  decimal.NewFromFloat(tr.Price),
			Time:   tr.Timestamp.UTC(),
		})
	}

	client := stream.NewStocksClient(
		t.cfg.feed(),
		stream.WithCredentials(t.cfg.KeyID, t.cfg.SecretKey),
		stream.WithTrades(handler, symbols...),
	)

	slog.Info("connecting to alpaca stream", "symbols", len(symbols), "feed", t.cfg.feed())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("alpaca stream connect: %w", err)
	}

	select {
	case err := <-client.Terminated():
		return err
	case <-ctx.Done():
		<-client.Terminated()
		return ctx.Err()
	}
}
