package derivative

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/phenomenon0/injective-agents/pkg/eth"
	"github.com/phenomenon0/injective-agents/pkg/injective/book"

	"github.com/shopspring/decimal"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testWallet(t *testing.T) *eth.Wallet {
	t.Helper()
	w, err := eth.NewWallet(testKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func btcMarket() Market {
	return Market{
		MarketID:            "0x4ca0f92fc28be0c9761326016b5a1a2177dd6375558365116b5bdda9abc229ce",
		Ticker:              "BTC/USDT PERP",
		QuoteDenom:          "peggy0xdAC17F958D2ee523a2206206994597C13D831ec7",
		QuoteDecimals:       6,
		InitialMarginRatio:  dec("0.05"),
		MinPriceTickSize:    dec("1000"),
		MinQuantityTickSize: dec("0.0001"),
		IsPerpetual:         true,
	}
}

// fakeMarkets counts calls so tests can assert nothing hit the network.
type fakeMarkets struct {
	mu      sync.Mutex
	markets []Market
	err     error
	calls   int
}

func (f *fakeMarkets) FetchMarket(_ context.Context, id string) (*Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for _, m := range f.markets {
		if m.MarketID == id {
			m := m
			return &m, nil
		}
	}
	return nil, ErrMarketNotFound
}

func (f *fakeMarkets) FetchMarkets(context.Context) ([]Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]Market(nil), f.markets...), nil
}

type fakeBook struct {
	snap  book.Snapshot
	calls int
}

func (f *fakeBook) FetchOrderbook(_ context.Context, id string) (book.Snapshot, error) {
	f.calls++
	s := f.snap
	s.MarketID = id
	return s, nil
}

type fakePositions struct {
	positions []Position
	lastQuery PositionQuery
	calls     int
}

func (f *fakePositions) FetchPositions(_ context.Context, q PositionQuery) ([]Position, error) {
	f.calls++
	f.lastQuery = q
	return f.positions, nil
}

type fakeBroadcaster struct {
	txs  []*OrderTx
	hash string
	err  error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, tx *OrderTx, _ *eth.Wallet) (string, error) {
	f.txs = append(f.txs, tx)
	if f.err != nil {
		return "", f.err
	}
	return f.hash, nil
}

type recordingObserver struct {
	orders    []OrderEvent
	positions []PositionsEvent
}

func (r *recordingObserver) ObserveOrder(ev OrderEvent) { r.orders = append(r.orders, ev) }
func (r *recordingObserver) ObservePositions(ev PositionsEvent) {
	r.positions = append(r.positions, ev)
}

type denyGuard struct{}

func (denyGuard) CheckOrder(*OrderCheck) error { return errors.New("notional too large") }

func levels(pairs ...string) []book.PriceLevel {
	out := make([]book.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, book.PriceLevel{Price: dec(pairs[i]), Size: dec(pairs[i+1])})
	}
	return out
}
