package injective

import (
	"github.com/phenomenon0/injective-agents/core"
	"github.com/phenomenon0/injective-agents/pkg/injective/book"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"
	"github.com/phenomenon0/injective-agents/pkg/injective/tokens"

	"github.com/shopspring/decimal"
)

// === Positions ===

// FetchPositionsTool lists the wallet's open derivative positions.
type FetchPositionsTool struct {
	trader Trader
}

type FetchPositionsInput struct {
	Network         string   `json:"network"`
	Tickers         []string `json:"tickers"`
	SubaccountIndex string   `json:"subaccount_index"`
	Direction       string   `json:"direction"`
}

type FetchPositionsOutput struct {
	Count     int                          `json:"count"`
	Positions []derivative.DisplayPosition `json:"positions"`
}

func NewFetchPositionsTool(trader Trader) *FetchPositionsTool {
	return &FetchPositionsTool{trader: trader}
}

func (t *FetchPositionsTool) Name() string {
	return "injective_fetch_positions"
}

func (t *FetchPositionsTool) Description() string {
	return `Fetch derivative positions of the user on Injective exchange.

  - network: "TESTNET" or "MAINNET". Default "MAINNET".
  - tickers: optional list of "BASE/QUOTE PERP" tickers, e.g. ["BTC/USDT PERP"].
  - subaccount_index: optional subaccount to read.
  - direction: optional filter, "buy" or "long" for longs, "sell" or "short" for shorts.`
}

func (t *FetchPositionsTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"network": {"type": "string", "enum": ["MAINNET", "TESTNET"], "default": "MAINNET"},
			"tickers": {"type": "array", "items": {"type": "string"}},
			"subaccount_index": {"type": "string"},
			"direction": {"type": "string", "enum": ["buy", "sell", "long", "short"]}
		}
	}`)
}

func (t *FetchPositionsTool) OutputSchema() []byte {
	return []byte(`{"type": "object"}`)
}

func (t *FetchPositionsTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input FetchPositionsInput
	if err := parseInput(tc.Request, &input); err != nil {
		return errorResult(derivative.NewValidationError("invalid input: %v", err))
	}

	net, err := parseNetwork(input.Network)
	if err != nil {
		return errorResult(err)
	}
	idx, err := optionalIndex(input.SubaccountIndex)
	if err != nil {
		return errorResult(err)
	}

	positions, err := t.trader.FetchPositions(tc.Ctx, net, derivative.PositionRequest{
		Tickers:         input.Tickers,
		SubaccountIndex: idx,
		Direction:       input.Direction,
	})
	if err != nil {
		return errorResult(err)
	}
	if positions == nil {
		positions = []derivative.DisplayPosition{}
	}
	return successResult(FetchPositionsOutput{Count: len(positions), Positions: positions})
}

// === Markets ===

// GetMarketTool describes a derivative market.
type GetMarketTool struct {
	trader Trader
}

type MarketInput struct {
	Network  string `json:"network"`
	Ticker   string `json:"ticker"`
	MarketID string `json:"market_id"`
}

type GetMarketOutput struct {
	Market *derivative.Market `json:"market"`
	// MaxLeverage is 1/initial margin ratio.
	MaxLeverage  string                    `json:"max_leverage"`
	PriceTick    string                    `json:"price_tick_size"`
	QuantityTick string                    `json:"quantity_tick_size"`
	Tens         derivative.TensMultiplier `json:"tens_multiplier"`
}

func NewGetMarketTool(trader Trader) *GetMarketTool {
	return &GetMarketTool{trader: trader}
}

func (t *GetMarketTool) Name() string {
	return "injective_get_derivative_market"
}

func (t *GetMarketTool) Description() string {
	return `Look up a derivative market by ticker ("BTC/USDT PERP") or market_id, with its tick sizes and maximum leverage.`
}

func (t *GetMarketTool) InputSchema() []byte {
	return marketInputSchema
}

func (t *GetMarketTool) OutputSchema() []byte {
	return []byte(`{"type": "object"}`)
}

func (t *GetMarketTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input MarketInput
	if err := parseInput(tc.Request, &input); err != nil {
		return errorResult(derivative.NewValidationError("invalid input: %v", err))
	}

	net, err := parseNetwork(input.Network)
	if err != nil {
		return errorResult(err)
	}
	m, err := t.trader.Market(tc.Ctx, net, derivative.MarketRef{MarketID: input.MarketID, Ticker: input.Ticker})
	if err != nil {
		return errorResult(err)
	}

	tens := derivative.MarketTensMultiplier(m)
	return successResult(GetMarketOutput{
		Market:       m,
		MaxLeverage:  m.MaxLeverage().StringFixed(2),
		PriceTick:    m.MinPriceTickSize.Shift(-m.Decimals()).String(),
		QuantityTick: m.MinQuantityTickSize.String(),
		Tens:         tens,
	})
}

var marketInputSchema = []byte(`{
	"type": "object",
	"properties": {
		"network": {"type": "string", "enum": ["MAINNET", "TESTNET"], "default": "MAINNET"},
		"ticker": {"type": "string", "description": "Market ticker, e.g. BTC/USDT PERP"},
		"market_id": {"type": "string", "description": "Market id (0x...)"}
	}
}`)

// === Orderbook ===

// GetOrderbookTool shows the top of a derivative book in USD, with the
// worst price a market order would accept on each side.
type GetOrderbookTool struct {
	trader Trader
}

type GetOrderbookInput struct {
	MarketInput
	Depth    int    `json:"depth"`
	Slippage string `json:"slippage"`
	// Quantity, when set, adds the average fill price for that size.
	Quantity string `json:"quantity"`
}

type PriceSize struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type GetOrderbookOutput struct {
	MarketID       string      `json:"market_id"`
	Ticker         string      `json:"ticker"`
	BestBid        *PriceSize  `json:"best_bid,omitempty"`
	BestAsk        *PriceSize  `json:"best_ask,omitempty"`
	Midpoint       string      `json:"midpoint"`
	SpreadBps      string      `json:"spread_bps"`
	Bids           []PriceSize `json:"bids"`
	Asks           []PriceSize `json:"asks"`
	WorstBuyPrice  string      `json:"worst_buy_price,omitempty"`
	WorstSellPrice string      `json:"worst_sell_price,omitempty"`
	AvgBuyPrice    string      `json:"avg_buy_price,omitempty"`
	AvgSellPrice   string      `json:"avg_sell_price,omitempty"`
}

func NewGetOrderbookTool(trader Trader) *GetOrderbookTool {
	return &GetOrderbookTool{trader: trader}
}

func (t *GetOrderbookTool) Name() string {
	return "injective_get_derivative_orderbook"
}

func (t *GetOrderbookTool) Description() string {
	return `Show the orderbook of a derivative market in USD prices.

  - ticker or market_id: the market.
  - depth: levels per side, default 10.
  - slippage: percent used for the worst-price preview, default "0.5".
  - quantity: optional size to estimate the average fill price for.`
}

func (t *GetOrderbookTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"network": {"type": "string", "enum": ["MAINNET", "TESTNET"], "default": "MAINNET"},
			"ticker": {"type": "string"},
			"market_id": {"type": "string"},
			"depth": {"type": "integer", "minimum": 1, "default": 10},
			"slippage": {"type": "string", "default": "0.5"},
			"quantity": {"type": "string"}
		}
	}`)
}

func (t *GetOrderbookTool) OutputSchema() []byte {
	return []byte(`{"type": "object"}`)
}

func (t *GetOrderbookTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input GetOrderbookInput
	if err := parseInput(tc.Request, &input); err != nil {
		return errorResult(derivative.NewValidationError("invalid input: %v", err))
	}
	if input.Depth <= 0 {
		input.Depth = 10
	}

	net, err := parseNetwork(input.Network)
	if err != nil {
		return errorResult(err)
	}
	slippage, err := decimalOr("slippage", input.Slippage, derivative.DefaultSlippagePercent)
	if err != nil {
		return errorResult(err)
	}
	qty, err := optionalDecimal("quantity", input.Quantity)
	if err != nil {
		return errorResult(err)
	}

	m, err := t.trader.Market(tc.Ctx, net, derivative.MarketRef{MarketID: input.MarketID, Ticker: input.Ticker})
	if err != nil {
		return errorResult(err)
	}
	src, err := t.trader.Orderbook(net)
	if err != nil {
		return errorResult(err)
	}
	ob, err := src.FetchOrderbook(tc.Ctx, m.MarketID)
	if err != nil {
		return errorResult(&derivative.Error{Kind: derivative.KindUpstream, Msg: "fetch orderbook " + m.MarketID, Err: err})
	}

	// Book prices are chain units
	exp := -m.Decimals()
	human := func(d decimal.Decimal) string { return d.Shift(exp).String() }
	levels := func(in []book.PriceLevel) []PriceSize {
		out := make([]PriceSize, 0, len(in))
		for _, l := range in {
			out = append(out, PriceSize{Price: human(l.Price), Size: l.Size.String()})
		}
		return out
	}

	top := ob.Top(input.Depth)
	output := GetOrderbookOutput{
		MarketID:  m.MarketID,
		Ticker:    m.Ticker,
		Midpoint:  human(ob.Midpoint()),
		SpreadBps: ob.SpreadBps().StringFixed(2),
		Bids:      levels(top.Bids),
		Asks:      levels(top.Asks),
	}

	fraction := slippage.Div(decimal.NewFromInt(100))
	if bid, ok := ob.BestBid(); ok {
		output.BestBid = &PriceSize{Price: human(bid.Price), Size: bid.Size.String()}
		if worst, err := derivative.WorstPrice(ob, false, fraction); err == nil {
			output.WorstSellPrice = human(worst)
		}
	}
	if ask, ok := ob.BestAsk(); ok {
		output.BestAsk = &PriceSize{Price: human(ask.Price), Size: ask.Size.String()}
		if worst, err := derivative.WorstPrice(ob, true, fraction); err == nil {
			output.WorstBuyPrice = human(worst)
		}
	}

	if size, ok := qty.Get(); ok {
		if avg, err := ob.VolumeWeightedPrice(book.SideBuy, size); err == nil {
			output.AvgBuyPrice = human(avg)
		}
		if avg, err := ob.VolumeWeightedPrice(book.SideSell, size); err == nil {
			output.AvgSellPrice = human(avg)
		}
	}

	return successResult(output)
}

// === Tokens ===

// GetTokenTool resolves a token by symbol or address. With no input it
// lists every known token.
type GetTokenTool struct {
	tokens *tokens.Registry
}

type GetTokenInput struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

func NewGetTokenTool(reg *tokens.Registry) *GetTokenTool {
	if reg == nil {
		reg = tokens.Default()
	}
	return &GetTokenTool{tokens: reg}
}

func (t *GetTokenTool) Name() string {
	return "injective_get_token"
}

func (t *GetTokenTool) Description() string {
	return `Look up an Injective token by symbol (e.g. "INJ") or 0x address. Returns all known tokens when neither is given.`
}

func (t *GetTokenTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"symbol": {"type": "string"},
			"address": {"type": "string"}
		}
	}`)
}

func (t *GetTokenTool) OutputSchema() []byte {
	return []byte(`{"type": "object"}`)
}

func (t *GetTokenTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input GetTokenInput
	if err := parseInput(tc.Request, &input); err != nil {
		return errorResult(derivative.NewValidationError("invalid input: %v", err))
	}

	ref := input.Address
	if ref == "" {
		ref = input.Symbol
	}
	if ref == "" {
		return successResult(map[string]any{"tokens": t.tokens.All()})
	}

	tok, err := t.tokens.Lookup(ref)
	if err != nil {
		return errorResult(derivative.NewLookupError("%v", err))
	}
	return successResult(map[string]any{"token": tok})
}
