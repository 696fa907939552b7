package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

func TestConfigFeedDefaultsToIEX(t *testing.T) {
	if got := (Config{}).feed(); got != marketdata.IEX {
		t.Errorf("feed = %s, want iex", got)
	}
	if got := (Config{Feed: "sip"}).feed(); got != marketdata.SIP {
		t.Errorf("feed = %s, want sip", got)
	}
}

func TestDailyBars_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBars(Config{KeyID: "k", SecretKey: "s"})
	_, err := b.DailyBars(ctx, "AAPL", time.Now().AddDate(0, 0, -5), time.Now())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
