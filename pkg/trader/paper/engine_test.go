package paper

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/eth"
	"github.com/phenomenon0/injective-agents/pkg/injective/book"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/shopspring/decimal"
)

const (
	testKey   = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	btcMarket = "0x4ca0f92fc28be0c9761326016b5a1a2177dd6375558365116b5bdda9abc229ce"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mockBooks serves mutable chain-unit snapshots per market.
type mockBooks struct {
	mu    sync.Mutex
	books map[string]book.Snapshot
	calls int
}

func newMockBooks() *mockBooks {
	m := &mockBooks{books: make(map[string]book.Snapshot)}
	m.Set(btcMarket,
		[]book.PriceLevel{
			{Price: dec("49900000000"), Size: dec("1")},
			{Price: dec("49800000000"), Size: dec("2")},
		},
		[]book.PriceLevel{
			{Price: dec("50000000000"), Size: dec("1")},
			{Price: dec("50100000000"), Size: dec("2")},
		},
	)
	return m
}

func (m *mockBooks) Set(marketID string, bids, asks []book.PriceLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[marketID] = book.NewSnapshot(marketID, bids, asks)
}

func (m *mockBooks) FetchOrderbook(_ context.Context, marketID string) (book.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.books[marketID], nil
}

type mockMarkets struct{}

func (mockMarkets) FetchMarket(_ context.Context, id string) (*derivative.Market, error) {
	if id != btcMarket {
		return nil, derivative.ErrMarketNotFound
	}
	return &derivative.Market{MarketID: btcMarket, Ticker: "BTC/USDT PERP", QuoteDecimals: 6}, nil
}

func (mockMarkets) FetchMarkets(ctx context.Context) ([]derivative.Market, error) {
	m, _ := mockMarkets{}.FetchMarket(ctx, btcMarket)
	return []derivative.Market{*m}, nil
}

// tickingClock advances one second per call so orders sort by creation.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func testWallet(t *testing.T) *eth.Wallet {
	t.Helper()
	w, err := eth.NewWallet(testKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func newTestEngine(t *testing.T, cfg *SimulationConfig, books *mockBooks) *Engine {
	t.Helper()
	return NewEngine(cfg, books, WithClock(tickingClock()), WithMarkets(mockMarkets{}))
}

// wire encodes a chain-unit value in the 18-decimal message format.
func wire(s string) string {
	return dec(s).Shift(derivative.ChainDecimals).String()
}

func orderTx(w *eth.Wallet, typeURL string, ot derivative.OrderType, price, qty, margin, trigger string) *derivative.OrderTx {
	return &derivative.OrderTx{
		TypeURL: typeURL,
		Sender:  w.InjectiveAddress(),
		Order: derivative.OrderMessage{
			MarketID:     btcMarket,
			SubaccountID: w.DefaultSubaccountID(),
			OrderType:    ot,
			Price:        wire(price),
			Quantity:     wire(qty),
			Margin:       wire(margin),
			TriggerPrice: wire(trigger),
			FeeRecipient: w.InjectiveAddress(),
		},
	}
}

func marketTx(w *eth.Wallet, ot derivative.OrderType, price, qty, margin string) *derivative.OrderTx {
	return orderTx(w, derivative.MsgTypeMarketOrder, ot, price, qty, margin, "0")
}

func limitTx(w *eth.Wallet, ot derivative.OrderType, price, qty, margin string) *derivative.OrderTx {
	return orderTx(w, derivative.MsgTypeLimitOrder, ot, price, qty, margin, "0")
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine(nil, newMockBooks())
	if !engine.GetBalance().Equal(dec("10000000000")) {
		t.Errorf("expected default balance 10000000000, got %s", engine.GetBalance())
	}

	cfg := DefaultSimulationConfig()
	cfg.InitialBalance = dec("5000000")
	engine = NewEngine(cfg, newMockBooks())
	if !engine.GetBalance().Equal(dec("5000000")) {
		t.Errorf("expected balance 5000000, got %s", engine.GetBalance())
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("realistic") != ModeRealistic {
		t.Error("realistic should parse")
	}
	if ParseMode("bogus") != ModeSimple {
		t.Error("unknown modes fall back to simple")
	}
	if ModeRealistic.String() != "realistic" {
		t.Errorf("got %s", ModeRealistic)
	}
}

func TestBroadcast_MarketBuy(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	hash, err := engine.Broadcast(context.Background(),
		marketTx(w, derivative.OrderTypeBuy, "50500000000", "0.5", "1250000000"), w)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		t.Errorf("unexpected tx hash %q", hash)
	}

	// Simple mode fills at the worst price: fee = 50.5e9 * 0.5 * 0.0005
	if want := dec("8737375000"); !engine.GetBalance().Equal(want) {
		t.Errorf("balance: want %s, got %s", want, engine.GetBalance())
	}

	pos, ok := engine.GetPosition(w.DefaultSubaccountID(), btcMarket)
	if !ok {
		t.Fatal("expected a position")
	}
	if pos.Direction != derivative.DirectionLong {
		t.Errorf("direction: got %s", pos.Direction)
	}
	if !pos.Quantity.Equal(dec("0.5")) || !pos.EntryPrice.Equal(dec("50500000000")) {
		t.Errorf("position: qty %s entry %s", pos.Quantity, pos.EntryPrice)
	}
	if !pos.Margin.Equal(dec("1250000000")) {
		t.Errorf("margin: got %s", pos.Margin)
	}
	if len(engine.GetOpenOrders()) != 0 {
		t.Error("filled market order should not stay open")
	}
}

func TestBroadcast_DistinctHashes(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())
	tx := limitTx(w, derivative.OrderTypeBuy, "40000000000", "0.01", "40000000")

	h1, err := engine.Broadcast(context.Background(), tx, w)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := engine.Broadcast(context.Background(), tx, w)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("identical transactions should still get distinct hashes")
	}
}

func TestBroadcast_RealisticWalksBook(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, RealisticSimulationConfig(), newMockBooks())

	_, err := engine.Broadcast(context.Background(),
		marketTx(w, derivative.OrderTypeBuy, "50500000000", "2", "5000000000"), w)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	pos, ok := engine.GetPosition(w.DefaultSubaccountID(), btcMarket)
	if !ok {
		t.Fatal("expected a position")
	}
	// 1 @ 50000 + 1 @ 50100
	if !pos.EntryPrice.Equal(dec("50050000000")) {
		t.Errorf("entry: want 50050000000, got %s", pos.EntryPrice)
	}
}

func TestBroadcast_RealisticRespectsWorstPrice(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, RealisticSimulationConfig(), newMockBooks())

	_, err := engine.Broadcast(context.Background(),
		marketTx(w, derivative.OrderTypeBuy, "50020000000", "2", "5000000000"), w)
	if err == nil {
		t.Fatal("expected the average price to breach the worst price")
	}
	if derivative.KindOf(err) != derivative.KindBroadcast {
		t.Errorf("kind: got %s", derivative.KindOf(err))
	}
	if !engine.GetBalance().Equal(dec("10000000000")) {
		t.Error("rejected order must not touch the balance")
	}
}

func TestBroadcast_EmptyBookRejectsMarketOrder(t *testing.T) {
	w := testWallet(t)
	books := newMockBooks()
	books.Set(btcMarket, nil, nil)
	engine := newTestEngine(t, nil, books)

	_, err := engine.Broadcast(context.Background(),
		marketTx(w, derivative.OrderTypeSell, "49000000000", "0.1", "245000000"), w)
	if err == nil || !strings.Contains(err.Error(), "no liquidity") {
		t.Fatalf("expected a liquidity rejection, got %v", err)
	}
}

func TestBroadcast_InsufficientBalance(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	_, err := engine.Broadcast(context.Background(),
		limitTx(w, derivative.OrderTypeBuy, "40000000000", "1", "20000000000"), w)
	if err == nil || !strings.Contains(err.Error(), "insufficient balance") {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if derivative.KindOf(err) != derivative.KindBroadcast {
		t.Errorf("kind: got %s", derivative.KindOf(err))
	}
}

func TestBroadcast_ForgedSender(t *testing.T) {
	w := testWallet(t)
	books := newMockBooks()
	engine := newTestEngine(t, nil, books)

	tx := limitTx(w, derivative.OrderTypeBuy, "40000000000", "0.01", "40000000")
	tx.Sender = "inj1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"

	_, err := engine.Broadcast(context.Background(), tx, w)
	if err == nil {
		t.Fatal("expected signature verification to fail")
	}
	if books.calls != 0 {
		t.Error("unverified transactions must not reach the book")
	}
}

func TestBroadcast_InvalidMessage(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	tx := limitTx(w, derivative.OrderTypeBuy, "40000000000", "0.01", "40000000")
	tx.Order.Quantity = "0"
	if _, err := engine.Broadcast(context.Background(), tx, w); err == nil {
		t.Error("zero quantity should be rejected")
	}

	tx = limitTx(w, derivative.OrderType(9), "40000000000", "0.01", "40000000")
	if _, err := engine.Broadcast(context.Background(), tx, w); err == nil {
		t.Error("unknown order type should be rejected")
	}
}

func TestLimitOrder_RestsAndCancels(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	_, err := engine.Broadcast(context.Background(),
		limitTx(w, derivative.OrderTypeBuy, "49000000000", "1", "4900000000"), w)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	orders := engine.GetOpenOrders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(orders))
	}
	if orders[0].Status != OrderStatusOpen {
		t.Errorf("status: got %s", orders[0].Status)
	}
	if !engine.GetBalance().Equal(dec("5100000000")) {
		t.Errorf("margin should be reserved, balance %s", engine.GetBalance())
	}

	if err := engine.CancelOrder(orders[0].ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !engine.GetBalance().Equal(dec("10000000000")) {
		t.Errorf("cancel should refund margin, balance %s", engine.GetBalance())
	}
	if _, ok := engine.GetOrder(orders[0].ID); ok {
		t.Error("canceled order should be gone")
	}
	if err := engine.CancelOrder(orders[0].ID); err == nil {
		t.Error("second cancel should fail")
	}
}

func TestCancelAllOrders(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	for _, price := range []string{"48000000000", "48500000000", "49000000000"} {
		if _, err := engine.Broadcast(context.Background(),
			limitTx(w, derivative.OrderTypeBuy, price, "0.1", "500000000"), w); err != nil {
			t.Fatal(err)
		}
	}

	if n := engine.CancelAllOrders(); n != 3 {
		t.Errorf("expected 3 canceled, got %d", n)
	}
	if len(engine.GetOpenOrders()) != 0 {
		t.Error("no orders should remain")
	}
	if !engine.GetBalance().Equal(dec("10000000000")) {
		t.Errorf("balance should be restored, got %s", engine.GetBalance())
	}
}

func TestLimitOrder_CrossingFillsAtBestAsk(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	_, err := engine.Broadcast(context.Background(),
		limitTx(w, derivative.OrderTypeBuy, "50200000000", "1", "5020000000"), w)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	pos, ok := engine.GetPosition(w.DefaultSubaccountID(), btcMarket)
	if !ok {
		t.Fatal("crossing limit order should fill")
	}
	if !pos.EntryPrice.Equal(dec("50000000000")) {
		t.Errorf("entry: want best ask, got %s", pos.EntryPrice)
	}
}

func TestLimitOrder_PostOnlyWouldCross(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	var rejected *Order
	engine.OnOrder(func(o *Order) {
		if o.Status == OrderStatusRejected {
			rejected = o
		}
	})

	_, err := engine.Broadcast(context.Background(),
		limitTx(w, derivative.OrderTypeBuyPO, "50000000000", "1", "5000000000"), w)
	if err == nil || !strings.Contains(err.Error(), "post-only") {
		t.Fatalf("expected post-only rejection, got %v", err)
	}
	if rejected == nil {
		t.Error("rejection should be reported to the order callback")
	}

	_, err = engine.Broadcast(context.Background(),
		limitTx(w, derivative.OrderTypeBuyPO, "49950000000", "1", "4995000000"), w)
	if err != nil {
		t.Fatalf("non-crossing post-only should rest: %v", err)
	}
}

func TestProcessTick_TriggersStopSell(t *testing.T) {
	w := testWallet(t)
	books := newMockBooks()
	engine := newTestEngine(t, nil, books)

	_, err := engine.Broadcast(context.Background(),
		orderTx(w, derivative.MsgTypeLimitOrder, derivative.OrderTypeStopSell,
			"48900000000", "1", "4890000000", "49000000000"), w)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if books.calls != 0 {
		t.Error("conditional orders rest without reading the book")
	}

	filled, err := engine.ProcessTick(context.Background(), btcMarket)
	if err != nil {
		t.Fatal(err)
	}
	if filled != 0 {
		t.Fatalf("mark 49950 is above the trigger, got %d fills", filled)
	}

	books.Set(btcMarket,
		[]book.PriceLevel{{Price: dec("48950000000"), Size: dec("5")}},
		[]book.PriceLevel{{Price: dec("49050000000"), Size: dec("5")}},
	)
	filled, err = engine.ProcessTick(context.Background(), btcMarket)
	if err != nil {
		t.Fatal(err)
	}
	if filled != 1 {
		t.Fatalf("expected the stop to trigger and fill, got %d", filled)
	}

	pos, ok := engine.GetPosition(w.DefaultSubaccountID(), btcMarket)
	if !ok || pos.Direction != derivative.DirectionShort {
		t.Fatalf("expected a short position, got %+v", pos)
	}
	if !pos.EntryPrice.Equal(dec("48900000000")) {
		t.Errorf("entry: got %s", pos.EntryPrice)
	}
}

func TestProcessTick_FillsRestingLimit(t *testing.T) {
	w := testWallet(t)
	books := newMockBooks()
	engine := newTestEngine(t, nil, books)

	_, err := engine.Broadcast(context.Background(),
		limitTx(w, derivative.OrderTypeBuy, "49500000000", "1", "4950000000"), w)
	if err != nil {
		t.Fatal(err)
	}

	books.Set(btcMarket,
		[]book.PriceLevel{{Price: dec("49300000000"), Size: dec("1")}},
		[]book.PriceLevel{{Price: dec("49400000000"), Size: dec("1")}},
	)
	filled, err := engine.ProcessTick(context.Background(), btcMarket)
	if err != nil {
		t.Fatal(err)
	}
	if filled != 1 {
		t.Fatalf("expected 1 fill, got %d", filled)
	}

	// Maker fee is zero by default, so only the margin left the balance
	if !engine.GetBalance().Equal(dec("5050000000")) {
		t.Errorf("balance: got %s", engine.GetBalance())
	}
}

func TestClosePosition_RealizesPnl(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())
	ctx := context.Background()

	var fills int
	engine.OnFill(func(*Order, *Fill) { fills++ })

	if _, err := engine.Broadcast(ctx,
		marketTx(w, derivative.OrderTypeBuy, "50500000000", "0.5", "1250000000"), w); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Broadcast(ctx,
		marketTx(w, derivative.OrderTypeSell, "49500000000", "0.5", "1237500000"), w); err != nil {
		t.Fatal(err)
	}

	if _, ok := engine.GetPosition(w.DefaultSubaccountID(), btcMarket); ok {
		t.Error("position should be closed")
	}
	// 10000 USDT - 25 USDT fees - 500 USDT loss
	if want := dec("9475000000"); !engine.GetBalance().Equal(want) {
		t.Errorf("balance: want %s, got %s", want, engine.GetBalance())
	}
	if fills != 2 {
		t.Errorf("expected 2 fill callbacks, got %d", fills)
	}

	stats := engine.GetStats()
	if stats.TotalTrades != 2 || stats.LosingTrades != 1 {
		t.Errorf("stats: %+v", stats)
	}
	if !stats.RealizedPnl.Equal(dec("-500000000")) {
		t.Errorf("realized pnl: got %s", stats.RealizedPnl)
	}
	if !stats.TotalFees.Equal(dec("25000000")) {
		t.Errorf("fees: got %s", stats.TotalFees)
	}
}

func TestReversePosition(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())
	ctx := context.Background()

	if _, err := engine.Broadcast(ctx,
		marketTx(w, derivative.OrderTypeBuy, "50000000000", "1", "5000000000"), w); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Broadcast(ctx,
		marketTx(w, derivative.OrderTypeSell, "50000000000", "3", "3000000000"), w); err != nil {
		t.Fatal(err)
	}

	pos, ok := engine.GetPosition(w.DefaultSubaccountID(), btcMarket)
	if !ok {
		t.Fatal("expected the position to reverse")
	}
	if pos.Direction != derivative.DirectionShort || !pos.Quantity.Equal(dec("2")) {
		t.Errorf("want short 2, got %s %s", pos.Direction, pos.Quantity)
	}
}

func TestFetchPositions(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())
	ctx := context.Background()

	if _, err := engine.Broadcast(ctx,
		marketTx(w, derivative.OrderTypeBuy, "50500000000", "0.5", "1250000000"), w); err != nil {
		t.Fatal(err)
	}

	positions, err := engine.FetchPositions(ctx, derivative.PositionQuery{
		SubaccountID: w.DefaultSubaccountID(),
		MarketIDs:    []string{btcMarket},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	p := positions[0]
	if p.Ticker != "BTC/USDT PERP" {
		t.Errorf("ticker: got %q", p.Ticker)
	}
	if !p.MarkPrice.Equal(dec("49950000000")) {
		t.Errorf("mark should be the midpoint, got %s", p.MarkPrice)
	}
	// entry - margin/qty
	if !p.LiquidationPrice.Equal(dec("48000000000")) {
		t.Errorf("liquidation: got %s", p.LiquidationPrice)
	}

	display := derivative.FormatPosition(p)
	if display.EntryPrice != "50500.000000" || display.Margin != "1250.000000" {
		t.Errorf("display: %+v", display)
	}

	none, err := engine.FetchPositions(ctx, derivative.PositionQuery{Direction: derivative.DirectionShort})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("direction filter: got %d positions", len(none))
	}

	other, err := engine.FetchPositions(ctx, derivative.PositionQuery{SubaccountID: w.SubaccountID(1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("subaccount filter: got %d positions", len(other))
	}
}

func TestReset(t *testing.T) {
	w := testWallet(t)
	engine := newTestEngine(t, nil, newMockBooks())

	if _, err := engine.Broadcast(context.Background(),
		marketTx(w, derivative.OrderTypeBuy, "50500000000", "0.5", "1250000000"), w); err != nil {
		t.Fatal(err)
	}
	engine.Reset()

	if !engine.GetBalance().Equal(dec("10000000000")) {
		t.Errorf("balance after reset: %s", engine.GetBalance())
	}
	if stats := engine.GetStats(); stats.TotalTrades != 0 || stats.OpenPositions != 0 {
		t.Errorf("stats after reset: %+v", stats)
	}
}

func TestOpenOrdersAreSnapshots(t *testing.T) {
	w := testWallet(t)
	books := newMockBooks()
	engine := newTestEngine(t, nil, books)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := engine.Broadcast(ctx,
			limitTx(w, derivative.OrderTypeBuy, "49500000000", "0.1", "495000000"), w); err != nil {
			t.Fatalf("Broadcast %d: %v", i, err)
		}
	}
	orders := engine.GetOpenOrders()
	if len(orders) != 20 {
		t.Fatalf("expected 20 resting orders, got %d", len(orders))
	}
	held, _ := engine.GetOrder(orders[0].ID)

	books.Set(btcMarket,
		[]book.PriceLevel{{Price: dec("49300000000"), Size: dec("10")}},
		[]book.PriceLevel{{Price: dec("49400000000"), Size: dec("10")}},
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := engine.ProcessTick(ctx, btcMarket); err != nil {
			t.Errorf("ProcessTick: %v", err)
		}
	}()
	for i := 0; i < 50; i++ {
		if _, err := json.Marshal(engine.GetOpenOrders()); err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if pos, ok := engine.GetPosition(w.DefaultSubaccountID(), btcMarket); ok {
			_, _ = json.Marshal(pos)
		}
	}
	wg.Wait()

	if len(engine.GetOpenOrders()) != 0 {
		t.Error("crossing book should fill every resting buy")
	}
	if held.Status != OrderStatusOpen || !held.FilledQuantity.IsZero() || len(held.Fills) != 0 {
		t.Errorf("copy taken before the tick changed: %+v", held)
	}
}
