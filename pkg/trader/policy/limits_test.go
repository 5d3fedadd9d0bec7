package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/shopspring/decimal"
)

const (
	btcID  = "0x4ca0f92fc28be0c9761326016b5a1a2177dd6375558365116b5bdda9abc229ce"
	btcTkr = "BTC/USDT PERP"
	ethID  = "0x54d4505adef6a5cef26bc403a33d595620ded4e15b9e2bc3dd489b714813366a"
	ethTkr = "ETH/USDT PERP"
)

func TestDefaultRiskLimits(t *testing.T) {
	limits := DefaultRiskLimits()

	if limits.MaxOrderNotional.LessThanOrEqual(decimal.Zero) {
		t.Error("MaxOrderNotional should be positive")
	}
	if limits.MaxLeverage.LessThanOrEqual(decimal.Zero) {
		t.Error("MaxLeverage should be positive")
	}
	if limits.MaxSlippage.LessThanOrEqual(decimal.Zero) || limits.MaxSlippage.GreaterThan(decimal.NewFromInt(1)) {
		t.Error("MaxSlippage should be between 0 and 1")
	}
}

func TestTightRiskLimits(t *testing.T) {
	tight := TightRiskLimits()
	defaults := DefaultRiskLimits()

	if tight.MaxOrderNotional.GreaterThanOrEqual(defaults.MaxOrderNotional) {
		t.Error("Tight limits should have smaller order notional than defaults")
	}
	if tight.MaxLeverage.GreaterThanOrEqual(defaults.MaxLeverage) {
		t.Error("Tight limits should have lower leverage than defaults")
	}
}

func TestNewPolicyEngine(t *testing.T) {
	if engine := NewPolicyEngine(nil); engine == nil {
		t.Fatal("NewPolicyEngine returned nil")
	}
	if status := NewPolicyEngine(nil).Status(); status.MaxDailyOrders != DefaultRiskLimits().MaxDailyOrders {
		t.Errorf("nil limits should fall back to defaults, got %+v", status)
	}
}

// Helper to create a policy engine with permissive settings for basic tests
func newPermissiveEngine() *PolicyEngine {
	return NewPolicyEngine(&RiskLimits{
		MaxOrderNotional:    decimal.NewFromInt(50000),
		MinOrderNotional:    decimal.NewFromInt(1),
		MaxLeverage:         decimal.NewFromInt(20),
		MaxSlippage:         decimal.NewFromFloat(0.05),
		MaxPositionNotional: decimal.NewFromInt(100000),
		MaxDailyOrders:      1000,
		MaxDailyNotional:    decimal.NewFromInt(1000000),
	})
}

func marketCheck(marketID, ticker string, isBuy bool, qty, price string) *derivative.OrderCheck {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	return &derivative.OrderCheck{
		Network:  "MAINNET",
		Kind:     derivative.KindMarketOrder,
		MarketID: marketID,
		Ticker:   ticker,
		IsBuy:    isBuy,
		Quantity: q,
		Price:    p,
		Leverage: decimal.NewFromInt(2),
		Slippage: decimal.RequireFromString("0.005"),
		Notional: q.Mul(p),
	}
}

func broadcastEvent(c *derivative.OrderCheck) derivative.OrderEvent {
	ot := derivative.OrderTypeSell
	if c.IsBuy {
		ot = derivative.OrderTypeBuy
	}
	return derivative.OrderEvent{
		MarketID:  c.MarketID,
		Ticker:    c.Ticker,
		OrderType: ot,
		Quantity:  c.Quantity,
		Price:     c.Price,
		TxHash:    "0xabc",
	}
}

func TestCheckOrder_ValidOrder(t *testing.T) {
	engine := newPermissiveEngine()

	if err := engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.1", "50000")); err != nil {
		t.Errorf("Valid order should pass: %v", err)
	}
}

func TestCheckOrder_NotionalBounds(t *testing.T) {
	engine := NewPolicyEngine(&RiskLimits{
		MaxOrderNotional: decimal.NewFromInt(1000),
		MinOrderNotional: decimal.NewFromInt(10),
	})

	err := engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.1", "50000"))
	if err == nil || !strings.Contains(err.Error(), "exceeds max") {
		t.Errorf("Expected max notional error, got %v", err)
	}

	err = engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.0001", "50000"))
	if err == nil || !strings.Contains(err.Error(), "below min") {
		t.Errorf("Expected min notional error, got %v", err)
	}

	if err := engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.01", "50000")); err != nil {
		t.Errorf("$500 order should pass: %v", err)
	}
}

func TestCheckOrder_Leverage(t *testing.T) {
	engine := NewPolicyEngine(&RiskLimits{MaxLeverage: decimal.NewFromInt(5)})

	check := marketCheck(btcID, btcTkr, true, "0.1", "50000")
	check.Leverage = decimal.NewFromInt(10)
	err := engine.CheckOrder(check)
	if err == nil || !strings.Contains(err.Error(), "leverage 10x exceeds max 5x") {
		t.Errorf("Expected leverage error, got %v", err)
	}
}

func TestCheckOrder_Slippage(t *testing.T) {
	engine := NewPolicyEngine(&RiskLimits{MaxSlippage: decimal.NewFromFloat(0.01)})

	check := marketCheck(btcID, btcTkr, true, "0.1", "50000")
	check.Slippage = decimal.RequireFromString("0.02")
	err := engine.CheckOrder(check)
	if err == nil || !strings.Contains(err.Error(), "slippage 2.00% exceeds max 1.00%") {
		t.Errorf("Expected slippage error, got %v", err)
	}

	// Limit orders carry no slippage
	check.Kind = derivative.KindLimitOrder
	if err := engine.CheckOrder(check); err != nil {
		t.Errorf("Limit order should ignore slippage: %v", err)
	}
}

func TestCheckOrder_ZeroLimitsAreOff(t *testing.T) {
	engine := NewPolicyEngine(&RiskLimits{})

	check := marketCheck(btcID, btcTkr, true, "1000", "50000")
	check.Leverage = decimal.NewFromInt(100)
	check.Slippage = decimal.NewFromInt(1)
	if err := engine.CheckOrder(check); err != nil {
		t.Errorf("Empty limits should not block: %v", err)
	}
}

func TestCheckOrder_DailyOrderLimit(t *testing.T) {
	limits := DefaultRiskLimits()
	limits.MaxDailyOrders = 3
	engine := NewPolicyEngine(limits)

	for i := 0; i < 3; i++ {
		check := marketCheck(btcID, btcTkr, i%2 == 0, "0.01", "50000")
		if err := engine.CheckOrder(check); err != nil {
			t.Fatalf("Order %d should pass: %v", i, err)
		}
		engine.ObserveOrder(broadcastEvent(check))
	}

	err := engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.01", "50000"))
	if err == nil || !strings.Contains(err.Error(), "daily order limit") {
		t.Errorf("Expected daily order limit error, got %v", err)
	}
}

func TestCheckOrder_DailyNotionalLimit(t *testing.T) {
	limits := DefaultRiskLimits()
	limits.MaxDailyNotional = decimal.NewFromInt(1500)
	engine := NewPolicyEngine(limits)

	first := marketCheck(btcID, btcTkr, true, "0.02", "50000")
	engine.ObserveOrder(broadcastEvent(first))

	err := engine.CheckOrder(marketCheck(ethID, ethTkr, true, "0.2", "3000"))
	if err == nil || !strings.Contains(err.Error(), "daily notional") {
		t.Errorf("Expected daily notional error, got %v", err)
	}
}

func TestCheckOrder_DailyReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	limits := DefaultRiskLimits()
	limits.MaxDailyOrders = 1
	engine := NewPolicyEngine(limits, WithClock(func() time.Time { return now }))

	check := marketCheck(btcID, btcTkr, true, "0.01", "50000")
	engine.ObserveOrder(broadcastEvent(check))
	if err := engine.CheckOrder(check); err == nil {
		t.Fatal("Expected daily order limit")
	}

	now = now.Add(2 * time.Minute)
	if err := engine.CheckOrder(check); err != nil {
		t.Errorf("Counters should reset at midnight UTC: %v", err)
	}
	if _, orders := engine.GetDailyStats(); orders != 0 {
		t.Errorf("Expected 0 daily orders after reset, got %d", orders)
	}
}

func TestCheckOrder_PositionLimit(t *testing.T) {
	limits := DefaultRiskLimits()
	limits.MaxPositionNotional = decimal.NewFromInt(6000)
	engine := NewPolicyEngine(limits)

	engine.ObserveOrder(broadcastEvent(marketCheck(btcID, btcTkr, true, "0.1", "50000")))

	err := engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.03", "50000"))
	if err == nil || !strings.Contains(err.Error(), "position notional") {
		t.Errorf("Expected position limit error, got %v", err)
	}

	// Selling reduces the position
	if err := engine.CheckOrder(marketCheck(btcID, btcTkr, false, "0.1", "50000")); err != nil {
		t.Errorf("Reducing order should pass: %v", err)
	}

	// Other markets have their own budget
	if err := engine.CheckOrder(marketCheck(ethID, ethTkr, true, "1", "3000")); err != nil {
		t.Errorf("Other market should pass: %v", err)
	}
}

func TestCheckOrder_BlockedMarket(t *testing.T) {
	limits := DefaultRiskLimits()
	limits.BlockedMarkets = []string{btcTkr}
	engine := NewPolicyEngine(limits)

	err := engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.01", "50000"))
	if err == nil || !strings.Contains(err.Error(), "is blocked") {
		t.Errorf("Expected blocked market error, got %v", err)
	}
}

func TestCheckOrder_AllowedMarketsOnly(t *testing.T) {
	limits := DefaultRiskLimits()
	limits.AllowedMarkets = []string{strings.ToUpper(btcID)}
	engine := NewPolicyEngine(limits)

	if err := engine.CheckOrder(marketCheck(btcID, btcTkr, true, "0.01", "50000")); err != nil {
		t.Errorf("Allowed market id should match case-insensitively: %v", err)
	}

	err := engine.CheckOrder(marketCheck(ethID, ethTkr, true, "0.1", "3000"))
	if err == nil || !strings.Contains(err.Error(), "not in allowed list") {
		t.Errorf("Expected not allowed error, got %v", err)
	}
}

func TestObserveOrder_IgnoresFailures(t *testing.T) {
	engine := newPermissiveEngine()

	ev := broadcastEvent(marketCheck(btcID, btcTkr, true, "0.1", "50000"))
	ev.TxHash = ""
	ev.Error = "order blocked by policy"
	engine.ObserveOrder(ev)

	if notional, orders := engine.GetDailyStats(); orders != 0 || !notional.IsZero() {
		t.Errorf("Failed orders should not count, got %d orders $%s", orders, notional)
	}
}

func TestObservePositions_Rebases(t *testing.T) {
	engine := newPermissiveEngine()
	engine.ObserveOrder(broadcastEvent(marketCheck(btcID, btcTkr, true, "0.1", "50000")))

	engine.ObservePositions(derivative.PositionsEvent{
		Positions: []derivative.DisplayPosition{
			{MarketID: ethID, Direction: derivative.DirectionShort, Quantity: "2", MarkPrice: "3000.000000"},
			{MarketID: btcID, Direction: derivative.DirectionLong, Quantity: "bad", MarkPrice: "1"},
		},
	})

	if !engine.GetExposure(btcID).IsZero() {
		t.Errorf("BTC exposure should be rebased to zero, got %s", engine.GetExposure(btcID))
	}
	if !engine.GetExposure(ethID).Equal(decimal.NewFromInt(-6000)) {
		t.Errorf("Expected ETH exposure -6000, got %s", engine.GetExposure(ethID))
	}
	if !engine.GetTotalExposure().Equal(decimal.NewFromInt(6000)) {
		t.Errorf("Expected total exposure 6000, got %s", engine.GetTotalExposure())
	}
}

func TestStatus(t *testing.T) {
	engine := newPermissiveEngine()

	check := marketCheck(btcID, btcTkr, true, "0.1", "50000")
	engine.ObserveOrder(broadcastEvent(check))
	check.Leverage = decimal.NewFromInt(50)
	_ = engine.CheckOrder(check)

	status := engine.Status()
	if status.DailyOrders != 1 {
		t.Errorf("Expected 1 daily order, got %d", status.DailyOrders)
	}
	if status.DailyNotional != "5000.00" {
		t.Errorf("Expected daily notional 5000.00, got %s", status.DailyNotional)
	}
	if status.RejectedToday != 1 {
		t.Errorf("Expected 1 rejection, got %d", status.RejectedToday)
	}
	if status.MaxDailyOrders != 1000 {
		t.Errorf("Expected max daily orders 1000, got %d", status.MaxDailyOrders)
	}
}
