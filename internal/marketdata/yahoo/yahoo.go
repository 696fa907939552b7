// Package yahoo fetches daily bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/atmx/wallet-engine/internal/historical"
	"github.com/atmx/wallet-engine/internal/model"
)

// DefaultBaseURL is the public chart API host.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	Debug        bool
	SymbolSuffix string // appended to every symbol, e.g. ".SA" for B3 tickers
}

type Client struct {
	client *resty.Client
	suffix string
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	client := resty.New().
		SetDebug(cfg.Debug).
		SetTimeout(cfg.Timeout).
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; wallet-engine)")
	return &Client{client: client, suffix: cfg.SymbolSuffix}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*json.Number `json:"open"`
			High   []*json.Number `json:"high"`
			Low    []*json.Number `json:"low"`
			Close  []*json.Number `json:"close"`
			Volume []*int64       `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// DailyBars implements historical.Source. A chart error reporting missing
// data maps to historical.ErrNoData.
func (c *Client) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.AssetDay, error) {
	rqID := middleware.GetReqID(ctx)
	ticker := symbol + c.suffix

	slog.Debug("start yahoo chart request", "symbol", ticker, "rqID", rqID)

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("symbol", ticker).
		SetQueryParams(map[string]string{
			"period1":  strconv.FormatInt(from.Unix(), 10),
			"period2":  strconv.FormatInt(to.Unix(), 10),
			"interval": "1d",
			"events":   "history",
		}).
		Get("/v8/finance/chart/{symbol}")
	if err != nil {
		slog.Error("error while dialing yahoo", "err", err, "rqID", rqID)
		return nil, err
	}

	var chart chartResponse
	if err := json.Unmarshal(resp.Body(), &chart); err != nil {
		if resp.IsError() {
			return nil, fmt.Errorf("yahoo %s: status %d", ticker, resp.StatusCode())
		}
		return nil, fmt.Errorf("decode yahoo chart %s: %w", ticker, err)
	}
	if e := chart.Chart.Error; e != nil {
		if isNoData(e) {
			return nil, fmt.Errorf("%w: %s: %s", historical.ErrNoData, ticker, e.Description)
		}
		return nil, fmt.Errorf("yahoo %s: %s: %s", ticker, e.Code, e.Description)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yahoo %s: status %d", ticker, resp.StatusCode())
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", historical.ErrNoData, ticker)
	}

	bars, err := toAssetDays(symbol, chart.Chart.Result[0])
	if err != nil {
		return nil, err
	}

	slog.Debug("yahoo chart request complete", "symbol", ticker, "bars", len(bars), "rqID", rqID)
	return bars, nil
}

func isNoData(e *chartError) bool {
	return e.Code == "Not Found" || strings.Contains(strings.ToLower(e.Description), "no data")
}

func toAssetDays(symbol string, r chartResult) ([]model.AssetDay, error) {
	if len(r.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := r.Indicators.Quote[0]

	bars := make([]model.AssetDay, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		closePrice, ok := at(q.Close, i)
		if !ok {
			// Yahoo leaves holes for days without trades.
			continue
		}
		bar := model.AssetDay{
			Symbol: symbol,
			Time:   time.Unix(ts, 0).UTC(),
			Close:  closePrice,
		}
		bar.Open, _ = at(q.Open, i)
		bar.High, _ = at(q.High, i)
		bar.Low, _ = at(q.Low, i)
		if i < len(q.Volume) && q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func at(values []*json.Number, i int) (decimal.Decimal, bool) {
	if i >= len(values) || values[i] == nil {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(values[i].String())
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}
