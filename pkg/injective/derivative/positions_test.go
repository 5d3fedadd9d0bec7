package derivative

import (
	"context"
	"testing"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/cache"
	"github.com/phenomenon0/injective-agents/pkg/injective/network"

	"github.com/samber/mo"
)

func TestFormatPosition(t *testing.T) {
	p := Position{
		Ticker:                      "BTC/USDT PERP",
		Direction:                   DirectionLong,
		Quantity:                    dec("2"),
		EntryPrice:                  dec("100000000"),
		MarkPrice:                   dec("110000000"),
		Margin:                      dec("50000000"),
		LiquidationPrice:            dec("55500000"),
		AggregateReduceOnlyQuantity: dec("0"),
	}

	got := FormatPosition(p)
	if got.UnrealizedPnl != "20.000000" {
		t.Errorf("UnrealizedPnl = %s, want 20.000000", got.UnrealizedPnl)
	}
	if got.EntryPrice != "100.000000" || got.MarkPrice != "110.000000" {
		t.Errorf("Prices = %s / %s", got.EntryPrice, got.MarkPrice)
	}
	if got.Margin != "50.000000" || got.LiquidationPrice != "55.500000" {
		t.Errorf("Margin/liquidation = %s / %s", got.Margin, got.LiquidationPrice)
	}
	if got.Quantity != "2" {
		t.Errorf("Quantity should pass through unscaled, got %s", got.Quantity)
	}
}

func TestUnrealizedPnlShort(t *testing.T) {
	// The same formula applies to shorts
	p := Position{Direction: DirectionShort, Quantity: dec("1"), EntryPrice: dec("110"), MarkPrice: dec("100")}
	if !p.UnrealizedPnl().Equal(dec("-10")) {
		t.Errorf("UnrealizedPnl = %s, want -10", p.UnrealizedPnl())
	}
}

func TestFetchPositions(t *testing.T) {
	f := newDeskFixture(t)
	f.positions.positions = []Position{{
		Ticker:     "BTC/USDT PERP",
		MarketID:   btcMarket().MarketID,
		Direction:  DirectionLong,
		Quantity:   dec("2"),
		EntryPrice: dec("100000000"),
		MarkPrice:  dec("110000000"),
	}}

	out, err := f.desk.FetchPositions(context.Background(), network.Mainnet, PositionRequest{
		Tickers:         []string{"BTC/USDT PERP"},
		SubaccountIndex: mo.Some[int64](1),
		Direction:       "buy",
	})
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(out) != 1 || out[0].UnrealizedPnl != "20.000000" {
		t.Fatalf("Unexpected positions %+v", out)
	}

	q := f.positions.lastQuery
	if q.Direction != DirectionLong {
		t.Errorf("buy should map to long, got %s", q.Direction)
	}
	if q.SubaccountID != f.desk.Wallet().SubaccountID(1) {
		t.Errorf("SubaccountID = %s", q.SubaccountID)
	}
	if len(q.MarketIDs) != 1 || q.MarketIDs[0] != btcMarket().MarketID {
		t.Errorf("MarketIDs = %v", q.MarketIDs)
	}
	if len(f.observer.positions) != 1 {
		t.Errorf("Expected one positions event, got %d", len(f.observer.positions))
	}
}

func TestFetchPositionsDefaults(t *testing.T) {
	f := newDeskFixture(t)

	out, err := f.desk.FetchPositions(context.Background(), network.Mainnet, PositionRequest{})
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Expected no positions, got %d", len(out))
	}

	q := f.positions.lastQuery
	if q.SubaccountID != f.desk.Wallet().DefaultSubaccountID() {
		t.Errorf("Expected default subaccount, got %s", q.SubaccountID)
	}
	if q.Direction != "" || len(q.MarketIDs) != 0 {
		t.Errorf("Expected an unfiltered query, got %+v", q)
	}
	if f.markets.calls != 0 {
		t.Errorf("No tickers means no market lookups, got %d", f.markets.calls)
	}
}

func TestFetchPositionsValidation(t *testing.T) {
	tests := []struct {
		name string
		req  PositionRequest
	}{
		{"bad direction", PositionRequest{Direction: "up"}},
		{"negative subaccount", PositionRequest{SubaccountIndex: mo.Some[int64](-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDeskFixture(t)
			_, err := f.desk.FetchPositions(context.Background(), network.Mainnet, tt.req)
			if KindOf(err) != KindValidation {
				t.Fatalf("Expected validation error, got %v", err)
			}
			if n := f.networkCalls(); n != 0 {
				t.Errorf("Expected no network calls, got %d", n)
			}
		})
	}
}

func TestFetchPositionsUnknownTicker(t *testing.T) {
	f := newDeskFixture(t)
	_, err := f.desk.FetchPositions(context.Background(), network.Mainnet, PositionRequest{
		Tickers: []string{"BTC/USDT PERP", "NOPE/USDT PERP"},
	})
	if KindOf(err) != KindLookup {
		t.Fatalf("Expected lookup error, got %v", err)
	}
	if f.positions.calls != 0 {
		t.Errorf("Positions must not be fetched when a ticker is unknown")
	}
}

func TestResolveMarketIDsOrder(t *testing.T) {
	ethMarket := btcMarket()
	ethMarket.MarketID = "0x54d4505adef6a5cef26bc403a33d595620ded4e15b9e2bc3dd489b714813366a"
	ethMarket.Ticker = "ETH/USDT PERP"
	src := &fakeMarkets{markets: []Market{btcMarket(), ethMarket}}

	ids, err := ResolveMarketIDs(context.Background(), src, []string{"ETH/USDT PERP", "BTC/USDT PERP"})
	if err != nil {
		t.Fatalf("ResolveMarketIDs: %v", err)
	}
	if ids[0] != ethMarket.MarketID || ids[1] != btcMarket().MarketID {
		t.Errorf("Order not preserved: %v", ids)
	}
}

func TestCachedMarkets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	src := &fakeMarkets{markets: []Market{btcMarket()}}

	cached := WithMarketCache(src, time.Minute, cache.WithClock(clock))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ResolveMarket(ctx, cached, MarketRef{Ticker: "BTC/USDT PERP"}); err != nil {
			t.Fatalf("ResolveMarket: %v", err)
		}
	}
	if src.calls != 1 {
		t.Errorf("Expected 1 upstream call, got %d", src.calls)
	}

	// Listing warms the per-id entries too
	if _, err := cached.FetchMarket(ctx, btcMarket().MarketID); err != nil {
		t.Fatalf("FetchMarket: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("Expected cached id lookup, got %d calls", src.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cached.FetchMarkets(ctx); err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("Expected refetch after expiry, got %d calls", src.calls)
	}

	if _, err := ResolveMarket(ctx, cached, MarketRef{MarketID: "0xmissing"}); KindOf(err) != KindLookup {
		t.Errorf("Misses should not be cached as hits, got %v", err)
	}

	if WithMarketCache(src, 0) != MarketSource(src) {
		t.Error("Zero ttl should disable caching")
	}
}
