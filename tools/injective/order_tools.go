package injective

import (
	"github.com/phenomenon0/injective-agents/core"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"
)

// orderFields are the inputs shared by market and limit orders.
type orderFields struct {
	Network         string         `json:"network"`
	Ticker          string         `json:"ticker"`
	MarketID        string         `json:"market_id"`
	SubaccountIndex string         `json:"subaccount_index"`
	OrderType       orderTypeInput `json:"order_type"`
	Quantity        string         `json:"quantity"`
	Leverage        string         `json:"leverage"`
	Margin          string         `json:"margin"`
	TriggerPrice    string         `json:"trigger_price"`
}

func (f orderFields) intent() (derivative.OrderIntent, error) {
	in := derivative.OrderIntent{
		Market:    derivative.MarketRef{MarketID: f.MarketID, Ticker: f.Ticker},
		OrderType: derivative.OrderType(f.OrderType),
	}

	var err error
	if in.Quantity, err = requireDecimal("quantity", f.Quantity); err != nil {
		return in, err
	}
	if in.Leverage, err = decimalOr("leverage", f.Leverage, derivative.DefaultLeverage); err != nil {
		return in, err
	}
	if in.Margin, err = optionalDecimal("margin", f.Margin); err != nil {
		return in, err
	}
	if in.TriggerPrice, err = optionalDecimal("trigger_price", f.TriggerPrice); err != nil {
		return in, err
	}
	if in.SubaccountIndex, err = optionalIndex(f.SubaccountIndex); err != nil {
		return in, err
	}
	return in, nil
}

// OrderOutput is returned by both order tools.
type OrderOutput struct {
	Summary string                  `json:"summary"`
	Order   *derivative.OrderResult `json:"order"`
}

const orderTypeHelp = `    1 (BUY) go long; 2 (SELL) go short;
    3 (STOP_BUY) buy if price rises to trigger_price; 4 (STOP_SELL) sell if price drops to trigger_price;
    5 (TAKE_BUY) buy if price falls to trigger_price; 6 (TAKE_SELL) sell if price rises to trigger_price;
    7 (BUY_PO) post-only buy; 8 (SELL_PO) post-only sell.`

// CreateMarketOrderTool places a derivative market order.
type CreateMarketOrderTool struct {
	trader Trader
}

type CreateMarketOrderInput struct {
	orderFields
	Slippage string `json:"slippage"`
}

func NewCreateMarketOrderTool(trader Trader) *CreateMarketOrderTool {
	return &CreateMarketOrderTool{trader: trader}
}

func (t *CreateMarketOrderTool) Name() string {
	return "injective_create_derivative_market_order"
}

func (t *CreateMarketOrderTool) Description() string {
	return `Create a derivative market order on Injective exchange.

  - network: "TESTNET" or "MAINNET". Default "MAINNET".
  - ticker: derivative market in "BASE/QUOTE PERP" format, e.g. "BTC/USDT PERP".
  - market_id: optional market id; wins over ticker.
  - subaccount_index: optional subaccount to trade from.
  - order_type: number from 1 to 8.
` + orderTypeHelp + `
  - slippage: tolerance as a percentage, "1" for 1%. Default "0.5".
  - quantity: amount of the base asset, e.g. "0.1" for 0.1 BTC. Must not be 0.
  - leverage: e.g. "5" for 5x. Default "1".
  - margin: optional margin in quote base units (6 decimals for USDT: "1000000" = 1 USDT). Must be "0" for take profit or stop loss on an existing position.
  - trigger_price: optional trigger for stop and take orders.`
}

func (t *CreateMarketOrderTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"required": ["order_type", "quantity"],
		"properties": {
			"network": {"type": "string", "enum": ["MAINNET", "TESTNET"], "default": "MAINNET"},
			"ticker": {"type": "string", "description": "Market ticker, e.g. BTC/USDT PERP"},
			"market_id": {"type": "string", "description": "Market id (0x...)"},
			"subaccount_index": {"type": "string"},
			"order_type": {"type": "integer", "minimum": 1, "maximum": 8},
			"slippage": {"type": "string", "default": "0.5", "description": "Percent, 1 = 1%"},
			"quantity": {"type": "string"},
			"leverage": {"type": "string", "default": "1"},
			"margin": {"type": "string", "description": "Quote base units, 1000000 = 1 USDT"},
			"trigger_price": {"type": "string"}
		}
	}`)
}

func (t *CreateMarketOrderTool) OutputSchema() []byte {
	return []byte(`{"type": "object"}`)
}

func (t *CreateMarketOrderTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input CreateMarketOrderInput
	if err := parseInput(tc.Request, &input); err != nil {
		return errorResult(derivative.NewValidationError("invalid input: %v", err))
	}

	net, err := parseNetwork(input.Network)
	if err != nil {
		return errorResult(err)
	}
	base, err := input.intent()
	if err != nil {
		return errorResult(err)
	}
	slippage, err := decimalOr("slippage", input.Slippage, derivative.DefaultSlippagePercent)
	if err != nil {
		return errorResult(err)
	}

	res, err := t.trader.CreateMarketOrder(tc.Ctx, net, derivative.MarketOrderIntent{
		OrderIntent:     base,
		SlippagePercent: slippage,
	})
	if err != nil {
		return errorResult(err)
	}
	return successResult(OrderOutput{Summary: res.Summary(), Order: res})
}

// CreateLimitOrderTool places a derivative limit order.
type CreateLimitOrderTool struct {
	trader Trader
}

type CreateLimitOrderInput struct {
	orderFields
	Price string `json:"price"`
}

func NewCreateLimitOrderTool(trader Trader) *CreateLimitOrderTool {
	return &CreateLimitOrderTool{trader: trader}
}

func (t *CreateLimitOrderTool) Name() string {
	return "injective_create_derivative_limit_order"
}

func (t *CreateLimitOrderTool) Description() string {
	return `Create a derivative limit order on Injective exchange.

  - network: "TESTNET" or "MAINNET". Default "MAINNET".
  - ticker: derivative market in "BASE/QUOTE PERP" format.
  - market_id: optional market id; wins over ticker.
  - subaccount_index: optional subaccount to trade from.
  - order_type: number from 1 to 8.
` + orderTypeHelp + `
  - price: limit price in USD.
  - quantity: amount of the base asset. Must not be 0.
  - leverage: e.g. "5" for 5x. Default "1".
  - margin: optional margin in quote base units (6 decimals for USDT: "1000000" = 1 USDT).
  - trigger_price: optional trigger for stop and take orders.`
}

func (t *CreateLimitOrderTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"required": ["order_type", "quantity", "price"],
		"properties": {
			"network": {"type": "string", "enum": ["MAINNET", "TESTNET"], "default": "MAINNET"},
			"ticker": {"type": "string"},
			"market_id": {"type": "string"},
			"subaccount_index": {"type": "string"},
			"order_type": {"type": "integer", "minimum": 1, "maximum": 8},
			"price": {"type": "string"},
			"quantity": {"type": "string"},
			"leverage": {"type": "string", "default": "1"},
			"margin": {"type": "string", "description": "Quote base units, 1000000 = 1 USDT"},
			"trigger_price": {"type": "string"}
		}
	}`)
}

func (t *CreateLimitOrderTool) OutputSchema() []byte {
	return []byte(`{"type": "object"}`)
}

func (t *CreateLimitOrderTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input CreateLimitOrderInput
	if err := parseInput(tc.Request, &input); err != nil {
		return errorResult(derivative.NewValidationError("invalid input: %v", err))
	}

	net, err := parseNetwork(input.Network)
	if err != nil {
		return errorResult(err)
	}
	base, err := input.intent()
	if err != nil {
		return errorResult(err)
	}
	price, err := requireDecimal("price", input.Price)
	if err != nil {
		return errorResult(err)
	}

	res, err := t.trader.CreateLimitOrder(tc.Ctx, net, derivative.LimitOrderIntent{
		OrderIntent: base,
		Price:       price,
	})
	if err != nil {
		return errorResult(err)
	}
	return successResult(OrderOutput{Summary: res.Summary(), Order: res})
}
