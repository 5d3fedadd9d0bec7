package derivative

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// Message type URLs understood by the exchange module.
const (
	MsgTypeMarketOrder = "/injective.exchange.v1beta1.MsgCreateDerivativeMarketOrder"
	MsgTypeLimitOrder  = "/injective.exchange.v1beta1.MsgCreateDerivativeLimitOrder"
)

// Defaults applied by callers that build intents from loose input.
const (
	DefaultSlippagePercent = "0.5"
	DefaultLeverage        = "1"
	DefaultClientIDPrefix  = "injective-agent-kit"
)

// OrderKind distinguishes market from limit submissions.
type OrderKind string

const (
	KindMarketOrder OrderKind = "market"
	KindLimitOrder  OrderKind = "limit"
)

// OrderIntent holds the fields shared by market and limit orders.
// Quantity is in human units of the base asset.
type OrderIntent struct {
	Market    MarketRef
	OrderType OrderType
	Quantity  decimal.Decimal
	Leverage  decimal.Decimal
	// Margin is in quote base units; Some(0) is kept as zero margin.
	Margin          mo.Option[decimal.Decimal]
	TriggerPrice    mo.Option[decimal.Decimal]
	SubaccountIndex mo.Option[int64]
}

// MarketOrderIntent is a request to trade at the book with bounded slippage.
type MarketOrderIntent struct {
	OrderIntent
	// SlippagePercent is a percentage: 1 means 1%.
	SlippagePercent decimal.Decimal
}

// LimitOrderIntent is a request to rest an order at a human-unit price.
type LimitOrderIntent struct {
	OrderIntent
	Price decimal.Decimal
}

// OrderMessage is the encoded order. Numeric fields are integer strings in
// the chain's 18-decimal format.
type OrderMessage struct {
	MarketID     string    `json:"market_id"`
	SubaccountID string    `json:"subaccount_id"`
	OrderType    OrderType `json:"order_type"`
	Price        string    `json:"price"`
	Quantity     string    `json:"quantity"`
	Margin       string    `json:"margin"`
	TriggerPrice string    `json:"trigger_price"`
	FeeRecipient string    `json:"fee_recipient"`
	Cid          string    `json:"cid,omitempty"`
}

// OrderTx wraps an order message with its type URL and sender.
type OrderTx struct {
	TypeURL string       `json:"@type"`
	Sender  string       `json:"sender"`
	Order   OrderMessage `json:"order"`
}

// OrderResult describes a broadcast order.
type OrderResult struct {
	RequestID string          `json:"request_id"`
	Network   string          `json:"network"`
	Kind      OrderKind       `json:"kind"`
	TxHash    string          `json:"tx_hash"`
	Ticker    string          `json:"ticker"`
	MarketID  string          `json:"market_id"`
	OrderType OrderType       `json:"order_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Margin    decimal.Decimal `json:"margin"`
	Leverage  decimal.Decimal `json:"leverage"`
	Message   OrderMessage    `json:"message"`
}

// Summary renders the result the way agents report it back to users.
func (r *OrderResult) Summary() string {
	if r.Kind == KindLimitOrder {
		return fmt.Sprintf("Created derivative limit order for %s %s at %s on %s.\nTransaction hash: %s",
			r.Quantity, r.Ticker, r.Price, r.Network, r.TxHash)
	}
	return fmt.Sprintf("Created derivative market order for %s %s on %s.\nTransaction hash: %s",
		r.Quantity, r.Ticker, r.Network, r.TxHash)
}

// OrderEvent is emitted to observers for every order attempt.
type OrderEvent struct {
	RequestID string          `json:"request_id"`
	Network   string          `json:"network"`
	Kind      OrderKind       `json:"kind"`
	Ticker    string          `json:"ticker,omitempty"`
	MarketID  string          `json:"market_id,omitempty"`
	OrderType OrderType       `json:"order_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Margin    decimal.Decimal `json:"margin"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind Kind            `json:"error_kind,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`
}

// Succeeded reports whether the order was broadcast.
func (e OrderEvent) Succeeded() bool {
	return e.Error == ""
}

// OrderCheck is what a Guard sees before an order is encoded.
// Price and Margin are human units; Notional is Price*Quantity.
type OrderCheck struct {
	Network  string
	Kind     OrderKind
	MarketID string
	Ticker   string
	IsBuy    bool
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Margin   decimal.Decimal
	Leverage decimal.Decimal
	Slippage decimal.Decimal
	Notional decimal.Decimal
}

func (in OrderIntent) validate() error {
	if err := checkOrderType(in.OrderType); err != nil {
		return err
	}
	if err := in.Market.validate(); err != nil {
		return err
	}
	if !in.Quantity.IsPositive() {
		return validationf("order quantity must be greater than 0")
	}
	if !in.Leverage.IsPositive() {
		return validationf("leverage must be greater than 0")
	}
	if m, ok := in.Margin.Get(); ok && m.IsNegative() {
		return validationf("margin must not be negative")
	}
	if tp, ok := in.TriggerPrice.Get(); ok && tp.IsNegative() {
		return validationf("trigger price must not be negative")
	}
	if idx, ok := in.SubaccountIndex.Get(); ok && (idx < 0 || idx > math.MaxUint32) {
		return validationf("subaccount index %d out of range", idx)
	}
	return nil
}

func (in MarketOrderIntent) validate() error {
	if err := in.OrderIntent.validate(); err != nil {
		return err
	}
	if in.SlippagePercent.IsNegative() {
		return validationf("slippage must not be negative")
	}
	if in.SlippagePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return validationf("slippage must be below 100%%")
	}
	return nil
}

func (in LimitOrderIntent) validate() error {
	if err := in.OrderIntent.validate(); err != nil {
		return err
	}
	if !in.Price.IsPositive() {
		return validationf("limit price must be greater than 0")
	}
	return nil
}
