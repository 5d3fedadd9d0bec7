// Package policy provides risk management and policy enforcement for trading.
package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/shopspring/decimal"
)

// RiskLimits defines the risk parameters for trading. Notional values are
// in human quote units (USDT). A zero limit is not enforced.
type RiskLimits struct {
	// Per-trade limits
	MaxOrderNotional decimal.Decimal // Max single order notional
	MinOrderNotional decimal.Decimal // Min single order notional
	MaxLeverage      decimal.Decimal // Max leverage regardless of market
	MaxSlippage      decimal.Decimal // Max market order slippage (fraction, 0-1)

	// Position limits
	MaxPositionNotional decimal.Decimal // Max net notional per market

	// Daily limits
	MaxDailyOrders   int             // Max broadcast orders per day
	MaxDailyNotional decimal.Decimal // Max broadcast notional per day

	// Market restrictions, by ticker or market id
	AllowedMarkets []string // If set, only trade these markets
	BlockedMarkets []string // Markets to never trade
}

// DefaultRiskLimits returns conservative default limits.
func DefaultRiskLimits() *RiskLimits {
	return &RiskLimits{
		MaxOrderNotional: decimal.NewFromInt(10000), // $10000 max single order
		MinOrderNotional: decimal.NewFromInt(1),     // $1 min single order
		MaxLeverage:      decimal.NewFromInt(10),
		MaxSlippage:      decimal.NewFromFloat(0.02), // 2% max slippage

		MaxPositionNotional: decimal.NewFromInt(25000),

		MaxDailyOrders:   200,
		MaxDailyNotional: decimal.NewFromInt(100000),
	}
}

// TightRiskLimits returns very conservative limits for testing.
func TightRiskLimits() *RiskLimits {
	return &RiskLimits{
		MaxOrderNotional: decimal.NewFromInt(100),
		MinOrderNotional: decimal.NewFromInt(5),
		MaxLeverage:      decimal.NewFromInt(2),
		MaxSlippage:      decimal.NewFromFloat(0.01),

		MaxPositionNotional: decimal.NewFromInt(500),

		MaxDailyOrders:   20,
		MaxDailyNotional: decimal.NewFromInt(1000),
	}
}

// PolicyEngine enforces risk limits and tracks trading state. It is a
// derivative.Guard and learns about broadcast orders as a derivative.Observer.
type PolicyEngine struct {
	limits *RiskLimits
	now    func() time.Time

	mu            sync.RWMutex
	exposure      map[string]decimal.Decimal // market id -> signed notional
	dailyOrders   int
	dailyNotional decimal.Decimal
	rejected      int
	lastTradeDay  string
}

// Option configures the engine.
type Option func(*PolicyEngine)

// WithClock sets the time source used for the daily reset.
func WithClock(now func() time.Time) Option {
	return func(p *PolicyEngine) {
		p.now = now
	}
}

// NewPolicyEngine creates a new policy engine with the given limits.
func NewPolicyEngine(limits *RiskLimits, opts ...Option) *PolicyEngine {
	if limits == nil {
		limits = DefaultRiskLimits()
	}
	p := &PolicyEngine{
		limits:   limits,
		now:      time.Now,
		exposure: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastTradeDay = dayKey(p.now())
	return p
}

// CheckOrder validates an order against risk limits.
func (p *PolicyEngine) CheckOrder(check *derivative.OrderCheck) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetDailyIfNeeded()

	if err := p.check(check); err != nil {
		p.rejected++
		return err
	}
	return nil
}

func (p *PolicyEngine) check(check *derivative.OrderCheck) error {
	l := p.limits

	if err := p.checkMarketAllowed(check.MarketID, check.Ticker); err != nil {
		return err
	}

	notional := check.Notional
	if l.MaxOrderNotional.IsPositive() && notional.GreaterThan(l.MaxOrderNotional) {
		return fmt.Errorf("order notional $%s exceeds max $%s", notional.StringFixed(2), l.MaxOrderNotional)
	}
	if l.MinOrderNotional.IsPositive() && notional.LessThan(l.MinOrderNotional) {
		return fmt.Errorf("order notional $%s below min $%s", notional.StringFixed(2), l.MinOrderNotional)
	}

	if l.MaxLeverage.IsPositive() && check.Leverage.GreaterThan(l.MaxLeverage) {
		return fmt.Errorf("leverage %sx exceeds max %sx", check.Leverage, l.MaxLeverage)
	}

	if check.Kind == derivative.KindMarketOrder && l.MaxSlippage.IsPositive() && check.Slippage.GreaterThan(l.MaxSlippage) {
		return fmt.Errorf("slippage %.2f%% exceeds max %.2f%%",
			check.Slippage.Mul(decimal.NewFromInt(100)).InexactFloat64(),
			l.MaxSlippage.Mul(decimal.NewFromInt(100)).InexactFloat64())
	}

	if l.MaxDailyOrders > 0 && p.dailyOrders >= l.MaxDailyOrders {
		return fmt.Errorf("daily order limit reached: %d", l.MaxDailyOrders)
	}
	if l.MaxDailyNotional.IsPositive() && p.dailyNotional.Add(notional).GreaterThan(l.MaxDailyNotional) {
		return fmt.Errorf("would exceed daily notional limit $%s", l.MaxDailyNotional)
	}

	if l.MaxPositionNotional.IsPositive() {
		newPos := p.exposure[check.MarketID].Add(signed(notional, check.IsBuy))
		if newPos.Abs().GreaterThan(l.MaxPositionNotional) {
			return fmt.Errorf("position notional would exceed limit: $%s > $%s",
				newPos.Abs().StringFixed(2), l.MaxPositionNotional)
		}
	}

	return nil
}

// ObserveOrder records broadcast orders against the daily and position
// limits. Failed attempts are ignored.
func (p *PolicyEngine) ObserveOrder(ev derivative.OrderEvent) {
	if !ev.Succeeded() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetDailyIfNeeded()

	notional := ev.Price.Mul(ev.Quantity)
	p.dailyOrders++
	p.dailyNotional = p.dailyNotional.Add(notional)
	p.exposure[ev.MarketID] = p.exposure[ev.MarketID].Add(signed(notional, ev.OrderType.IsBuy()))
}

// ObservePositions re-bases exposure on the positions the indexer reports,
// which accounts for fills, cancels and liquidations the engine never saw.
func (p *PolicyEngine) ObservePositions(ev derivative.PositionsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exposure := make(map[string]decimal.Decimal, len(ev.Positions))
	for _, pos := range ev.Positions {
		qty, err1 := decimal.NewFromString(pos.Quantity)
		mark, err2 := decimal.NewFromString(pos.MarkPrice)
		if err1 != nil || err2 != nil {
			continue
		}
		notional := qty.Mul(mark)
		exposure[pos.MarketID] = exposure[pos.MarketID].Add(signed(notional, pos.Direction == derivative.DirectionLong))
	}
	p.exposure = exposure
}

// GetExposure returns the signed notional held in a market.
func (p *PolicyEngine) GetExposure(marketID string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exposure[marketID]
}

// GetTotalExposure returns total absolute exposure across all markets.
func (p *PolicyEngine) GetTotalExposure() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calculateTotalExposure()
}

// GetDailyStats returns daily trading statistics.
func (p *PolicyEngine) GetDailyStats() (notional decimal.Decimal, orders int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dailyNotional, p.dailyOrders
}

// --- Internal helpers ---

func (p *PolicyEngine) resetDailyIfNeeded() {
	today := dayKey(p.now())
	if p.lastTradeDay != today {
		p.dailyNotional = decimal.Zero
		p.dailyOrders = 0
		p.rejected = 0
		p.lastTradeDay = today
	}
}

func (p *PolicyEngine) calculateTotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.exposure {
		total = total.Add(pos.Abs())
	}
	return total
}

func (p *PolicyEngine) checkMarketAllowed(marketID, ticker string) error {
	// Check blocklist
	for _, blocked := range p.limits.BlockedMarkets {
		if matchesMarket(blocked, marketID, ticker) {
			return fmt.Errorf("market %s is blocked", label(marketID, ticker))
		}
	}

	// Check allowlist (if set)
	if len(p.limits.AllowedMarkets) > 0 {
		for _, allowed := range p.limits.AllowedMarkets {
			if matchesMarket(allowed, marketID, ticker) {
				return nil
			}
		}
		return fmt.Errorf("market %s is not in allowed list", label(marketID, ticker))
	}

	return nil
}

// matchesMarket compares ids case-insensitively and tickers exactly.
func matchesMarket(entry, marketID, ticker string) bool {
	if strings.HasPrefix(strings.ToLower(entry), "0x") {
		return strings.EqualFold(entry, marketID)
	}
	return entry == ticker
}

func label(marketID, ticker string) string {
	if ticker != "" {
		return ticker
	}
	return marketID
}

func signed(v decimal.Decimal, isBuy bool) decimal.Decimal {
	if isBuy {
		return v
	}
	return v.Neg()
}

// dayKey buckets by UTC calendar day.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PolicyStatus returns a summary of the current policy state.
type PolicyStatus struct {
	TotalExposure    string `json:"total_exposure"`
	MaxPositionValue string `json:"max_position_notional"`
	DailyNotional    string `json:"daily_notional"`
	MaxDailyNotional string `json:"max_daily_notional"`
	DailyOrders      int    `json:"daily_orders"`
	MaxDailyOrders   int    `json:"max_daily_orders"`
	RejectedToday    int    `json:"rejected_today"`
	MaxLeverage      string `json:"max_leverage"`
	MaxSlippage      string `json:"max_slippage"`
}

// Status returns the current policy status.
func (p *PolicyEngine) Status() PolicyStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PolicyStatus{
		TotalExposure:    p.calculateTotalExposure().StringFixed(2),
		MaxPositionValue: p.limits.MaxPositionNotional.String(),
		DailyNotional:    p.dailyNotional.StringFixed(2),
		MaxDailyNotional: p.limits.MaxDailyNotional.String(),
		DailyOrders:      p.dailyOrders,
		MaxDailyOrders:   p.limits.MaxDailyOrders,
		RejectedToday:    p.rejected,
		MaxLeverage:      p.limits.MaxLeverage.String(),
		MaxSlippage:      p.limits.MaxSlippage.String(),
	}
}
