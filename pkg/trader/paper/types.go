// Package paper simulates the exchange for dry runs. It accepts the same
// signed order transactions a relay would, fills them against live or
// injected orderbooks and reports positions in the indexer's format.
// Two modes are supported:
// - Simple: Market orders fill at their worst-price limit
// - Realistic: Market orders walk the book and pay the average price
package paper

import (
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/shopspring/decimal"
)

// Mode represents the paper trading mode.
type Mode int

const (
	// ModeSimple fills market orders at their limit price
	ModeSimple Mode = iota
	// ModeRealistic fills market orders at the book's volume weighted price
	ModeRealistic
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeRealistic:
		return "realistic"
	default:
		return "unknown"
	}
}

// ParseMode accepts "simple" or "realistic"; anything else is simple.
func ParseMode(s string) Mode {
	if s == "realistic" {
		return ModeRealistic
	}
	return ModeSimple
}

// OrderStatus represents order status.
type OrderStatus int

const (
	OrderStatusOpen OrderStatus = iota
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "OPEN"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Order is a simulated derivative order. Prices and margin are in chain
// units (quote base units); quantities are in human units.
type Order struct {
	ID             string               `json:"id"`
	TxHash         string               `json:"tx_hash"`
	Cid            string               `json:"cid,omitempty"`
	IsMarket       bool                 `json:"is_market"`
	MarketID       string               `json:"market_id"`
	SubaccountID   string               `json:"subaccount_id"`
	OrderType      derivative.OrderType `json:"order_type"`
	Price          decimal.Decimal      `json:"price"`
	TriggerPrice   decimal.Decimal      `json:"trigger_price"`
	Quantity       decimal.Decimal      `json:"quantity"`
	Margin         decimal.Decimal      `json:"margin"`
	FilledQuantity decimal.Decimal      `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal      `json:"avg_fill_price"`
	Status         OrderStatus          `json:"status"`
	Triggered      bool                 `json:"triggered"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Fills          []Fill               `json:"fills,omitempty"`
}

// clone copies the order and its fills so callers can read it outside the
// engine lock.
func (o *Order) clone() *Order {
	c := *o
	c.Fills = append([]Fill(nil), o.Fills...)
	return &c
}

// IsBuy reports the order side.
func (o *Order) IsBuy() bool {
	return o.OrderType.IsBuy()
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Fill represents a single fill.
type Fill struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is a simulated open position, keyed by subaccount and market.
type Position struct {
	MarketID     string               `json:"market_id"`
	SubaccountID string               `json:"subaccount_id"`
	Direction    derivative.Direction `json:"direction"`
	Quantity     decimal.Decimal      `json:"quantity"`
	EntryPrice   decimal.Decimal      `json:"entry_price"`
	Margin       decimal.Decimal      `json:"margin"`
	RealizedPnl  decimal.Decimal      `json:"realized_pnl"`
	OpenedAt     time.Time            `json:"opened_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Trade is a completed fill with the PnL it realized.
type Trade struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	MarketID  string          `json:"market_id"`
	IsBuy     bool            `json:"is_buy"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	Pnl       decimal.Decimal `json:"pnl"`
	Timestamp time.Time       `json:"timestamp"`
}

// Account is the simulated trading account. Balance is in quote base units.
type Account struct {
	ID             string               `json:"id"`
	InitialBalance decimal.Decimal      `json:"initial_balance"`
	Balance        decimal.Decimal      `json:"balance"`
	Positions      map[string]*Position `json:"positions"`   // subaccount/market -> position
	OpenOrders     map[string]*Order    `json:"open_orders"` // orderID -> order
	TradeHistory   []Trade              `json:"trade_history"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// AccountStats provides account statistics.
type AccountStats struct {
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	OpenOrders    int             `json:"open_orders"`
	OpenPositions int             `json:"open_positions"`
}

// SimulationConfig configures the paper trading simulation.
type SimulationConfig struct {
	Mode    Mode   `json:"mode"`
	ChainID string `json:"chain_id"`

	// InitialBalance is in quote base units (1 USDT = 1_000_000).
	InitialBalance decimal.Decimal `json:"initial_balance"`

	// Fee rates are fractions of notional
	MakerFeeRate decimal.Decimal `json:"maker_fee_rate"`
	TakerFeeRate decimal.Decimal `json:"taker_fee_rate"`
}

// DefaultSimulationConfig returns default configuration: 10,000 USDT and
// the exchange's standard taker fee.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Mode:           ModeSimple,
		ChainID:        "injective-1",
		InitialBalance: decimal.NewFromInt(10_000_000_000),
		MakerFeeRate:   decimal.Zero,
		TakerFeeRate:   decimal.RequireFromString("0.0005"),
	}
}

// RealisticSimulationConfig returns config for realistic simulation.
func RealisticSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.Mode = ModeRealistic
	cfg.MakerFeeRate = decimal.RequireFromString("-0.0001")
	return cfg
}
