package injective

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/phenomenon0/injective-agents/core"
	"github.com/phenomenon0/injective-agents/pkg/injective/book"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"
	"github.com/phenomenon0/injective-agents/pkg/injective/network"
	"github.com/phenomenon0/injective-agents/pkg/injective/tokens"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var btc = derivative.Market{
	MarketID:            "0xbtc",
	Ticker:              "BTC/USDT PERP",
	QuoteDecimals:       6,
	InitialMarginRatio:  dec("0.05"),
	MinPriceTickSize:    dec("1000"),
	MinQuantityTickSize: dec("0.0001"),
	IsPerpetual:         true,
}

type bookFunc func(ctx context.Context, marketID string) (book.Snapshot, error)

func (f bookFunc) FetchOrderbook(ctx context.Context, marketID string) (book.Snapshot, error) {
	return f(ctx, marketID)
}

// stubTrader records the last request it was given.
type stubTrader struct {
	net        network.Network
	market     derivative.MarketOrderIntent
	limit      derivative.LimitOrderIntent
	positions  derivative.PositionRequest
	snapshot   book.Snapshot
	err        error
	marketCall int
}

func (s *stubTrader) Market(_ context.Context, net network.Network, ref derivative.MarketRef) (*derivative.Market, error) {
	s.net = net
	s.marketCall++
	if s.err != nil {
		return nil, s.err
	}
	if ref.MarketID != btc.MarketID && ref.Ticker != btc.Ticker {
		return nil, derivative.NewLookupError("market not found for ticker: %s", ref.Ticker)
	}
	m := btc
	return &m, nil
}

func (s *stubTrader) Orderbook(network.Network) (derivative.OrderbookSource, error) {
	return bookFunc(func(context.Context, string) (book.Snapshot, error) {
		return s.snapshot, nil
	}), nil
}

func (s *stubTrader) CreateMarketOrder(_ context.Context, net network.Network, in derivative.MarketOrderIntent) (*derivative.OrderResult, error) {
	s.net, s.market = net, in
	if s.err != nil {
		return nil, s.err
	}
	return &derivative.OrderResult{
		Network:  net.String(),
		Kind:     derivative.KindMarketOrder,
		TxHash:   "0xhash",
		Ticker:   btc.Ticker,
		Quantity: in.Quantity,
	}, nil
}

func (s *stubTrader) CreateLimitOrder(_ context.Context, net network.Network, in derivative.LimitOrderIntent) (*derivative.OrderResult, error) {
	s.net, s.limit = net, in
	if s.err != nil {
		return nil, s.err
	}
	return &derivative.OrderResult{
		Network:  net.String(),
		Kind:     derivative.KindLimitOrder,
		TxHash:   "0xlimit",
		Ticker:   btc.Ticker,
		Quantity: in.Quantity,
		Price:    in.Price,
	}, nil
}

func (s *stubTrader) FetchPositions(_ context.Context, net network.Network, req derivative.PositionRequest) ([]derivative.DisplayPosition, error) {
	s.net, s.positions = net, req
	if s.err != nil {
		return nil, s.err
	}
	return []derivative.DisplayPosition{{Ticker: btc.Ticker, UnrealizedPnl: "20.000000"}}, nil
}

func run(t *testing.T, tool core.Tool, input string) *core.ToolExecResult {
	t.Helper()
	return tool.Execute(&core.ToolContext{
		Ctx:     context.Background(),
		Request: core.NewToolRequest(tool.Name(), json.RawMessage(input)),
	})
}

func TestMarketOrderToolDefaults(t *testing.T) {
	trader := &stubTrader{}
	res := run(t, NewCreateMarketOrderTool(trader), `{"ticker": "BTC/USDT PERP", "order_type": 1, "quantity": "0.1"}`)

	require.Equal(t, core.ToolComplete, res.Status, res.Error)
	assert.Equal(t, network.Mainnet, trader.net)
	assert.True(t, trader.market.SlippagePercent.Equal(dec("0.5")))
	assert.True(t, trader.market.Leverage.Equal(dec("1")))
	assert.True(t, trader.market.Margin.IsAbsent())
	assert.True(t, trader.market.TriggerPrice.IsAbsent())
	assert.True(t, trader.market.SubaccountIndex.IsAbsent())
	assert.Equal(t, derivative.OrderTypeBuy, trader.market.OrderType)

	out := res.Output.(OrderOutput)
	assert.Contains(t, out.Summary, "Transaction hash: 0xhash")
}

func TestMarketOrderToolOptionalFields(t *testing.T) {
	trader := &stubTrader{}
	res := run(t, NewCreateMarketOrderTool(trader), `{
		"network": "testnet",
		"market_id": "0xbtc",
		"order_type": "STOP_SELL",
		"quantity": "0.5",
		"leverage": "5",
		"slippage": "1",
		"margin": "0",
		"trigger_price": "65000",
		"subaccount_index": "2"
	}`)

	require.Equal(t, core.ToolComplete, res.Status, res.Error)
	assert.Equal(t, network.Testnet, trader.net)
	in := trader.market
	assert.Equal(t, derivative.OrderTypeStopSell, in.OrderType)
	assert.Equal(t, "0xbtc", in.Market.MarketID)
	margin, ok := in.Margin.Get()
	require.True(t, ok, "explicit zero margin must be kept")
	assert.True(t, margin.IsZero())
	trigger, _ := in.TriggerPrice.Get()
	assert.True(t, trigger.Equal(dec("65000")))
	idx, _ := in.SubaccountIndex.Get()
	assert.Equal(t, int64(2), idx)
}

func TestOrderToolsDescribeMarginUnits(t *testing.T) {
	for _, tool := range []core.Tool{NewCreateMarketOrderTool(&stubTrader{}), NewCreateLimitOrderTool(&stubTrader{})} {
		assert.Contains(t, tool.Description(), `margin: optional margin in quote base units (6 decimals for USDT: "1000000" = 1 USDT)`, tool.Name())
		assert.NotContains(t, tool.Description(), "margin in USD", tool.Name())
		assert.Contains(t, string(tool.InputSchema()), "1000000 = 1 USDT", tool.Name())
	}

	trader := &stubTrader{}
	res := run(t, NewCreateMarketOrderTool(trader), `{"ticker": "BTC/USDT PERP", "order_type": 1, "quantity": "0.1", "margin": "1000000"}`)
	require.Equal(t, core.ToolComplete, res.Status, res.Error)
	margin, ok := trader.market.Margin.Get()
	require.True(t, ok)
	assert.True(t, margin.Equal(dec("1000000")), "margin is passed through in base units")
}

func TestMarketOrderToolBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"quantity", `{"ticker": "BTC/USDT PERP", "order_type": 1, "quantity": "lots"}`, `invalid quantity "lots"`},
		{"network", `{"network": "devnet", "ticker": "BTC/USDT PERP", "order_type": 1, "quantity": "1"}`, "unknown network"},
		{"order type name", `{"ticker": "BTC/USDT PERP", "order_type": "MOON", "quantity": "1"}`, "invalid input"},
		{"subaccount", `{"ticker": "BTC/USDT PERP", "order_type": 1, "quantity": "1", "subaccount_index": "x"}`, "invalid subaccount_index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trader := &stubTrader{}
			res := run(t, NewCreateMarketOrderTool(trader), tt.input)
			assert.Equal(t, core.ToolFailed, res.Status)
			assert.Contains(t, res.Error, tt.want)
			assert.Equal(t, "validation", res.Metadata["kind"])
			assert.Equal(t, false, res.Metadata[core.MetaRetriable])
		})
	}
}

func TestOrderToolReportsErrorKind(t *testing.T) {
	trader := &stubTrader{err: &derivative.Error{Kind: derivative.KindLiquidity, Msg: "no sell orders available"}}
	res := run(t, NewCreateMarketOrderTool(trader), `{"ticker": "BTC/USDT PERP", "order_type": 1, "quantity": "1"}`)

	assert.Equal(t, core.ToolFailed, res.Status)
	assert.Equal(t, "no sell orders available", res.Error)
	assert.Equal(t, "liquidity", res.Metadata["kind"])
}

func TestLimitOrderTool(t *testing.T) {
	trader := &stubTrader{}
	res := run(t, NewCreateLimitOrderTool(trader), `{"ticker": "BTC/USDT PERP", "order_type": 7, "quantity": "0.1", "price": "59500"}`)

	require.Equal(t, core.ToolComplete, res.Status, res.Error)
	assert.True(t, trader.limit.Price.Equal(dec("59500")))
	assert.Equal(t, derivative.OrderTypeBuyPO, trader.limit.OrderType)

	res = run(t, NewCreateLimitOrderTool(trader), `{"ticker": "BTC/USDT PERP", "order_type": 1, "quantity": "0.1"}`)
	assert.Equal(t, core.ToolFailed, res.Status)
	assert.Contains(t, res.Error, "invalid price")
}

func TestFetchPositionsTool(t *testing.T) {
	trader := &stubTrader{}
	res := run(t, NewFetchPositionsTool(trader), `{"tickers": ["BTC/USDT PERP"], "direction": "short", "subaccount_index": "1"}`)

	require.Equal(t, core.ToolComplete, res.Status, res.Error)
	assert.Equal(t, []string{"BTC/USDT PERP"}, trader.positions.Tickers)
	assert.Equal(t, "short", trader.positions.Direction)
	idx, _ := trader.positions.SubaccountIndex.Get()
	assert.Equal(t, int64(1), idx)

	out := res.Output.(FetchPositionsOutput)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "20.000000", out.Positions[0].UnrealizedPnl)
}

func TestFetchPositionsToolUpstreamIsRetriable(t *testing.T) {
	trader := &stubTrader{err: &derivative.Error{Kind: derivative.KindUpstream, Msg: "fetch positions", Err: errors.New("503")}}
	res := run(t, NewFetchPositionsTool(trader), `{}`)

	assert.Equal(t, core.ToolFailed, res.Status)
	assert.Equal(t, true, res.Metadata[core.MetaRetriable])
}

func TestGetMarketTool(t *testing.T) {
	res := run(t, NewGetMarketTool(&stubTrader{}), `{"ticker": "BTC/USDT PERP"}`)
	require.Equal(t, core.ToolComplete, res.Status, res.Error)

	out := res.Output.(GetMarketOutput)
	assert.Equal(t, "20.00", out.MaxLeverage)
	assert.Equal(t, "0.001", out.PriceTick)
	assert.Equal(t, int32(-3), out.Tens.PriceTensMultiplier)
	assert.Equal(t, int32(-4), out.Tens.QuantityTensMultiplier)

	res = run(t, NewGetMarketTool(&stubTrader{}), `{"ticker": "DOGE/USDT PERP"}`)
	assert.Equal(t, core.ToolFailed, res.Status)
	assert.Equal(t, "lookup", res.Metadata["kind"])
}

func TestGetOrderbookTool(t *testing.T) {
	trader := &stubTrader{snapshot: book.NewSnapshot("0xbtc",
		[]book.PriceLevel{{Price: dec("99000000"), Size: dec("1")}, {Price: dec("98000000"), Size: dec("2")}},
		[]book.PriceLevel{{Price: dec("101000000"), Size: dec("1")}, {Price: dec("103000000"), Size: dec("1")}},
	)}

	res := run(t, NewGetOrderbookTool(trader), `{"ticker": "BTC/USDT PERP", "slippage": "1", "depth": 1, "quantity": "2"}`)
	require.Equal(t, core.ToolComplete, res.Status, res.Error)

	out := res.Output.(GetOrderbookOutput)
	assert.Equal(t, "99", out.BestBid.Price)
	assert.Equal(t, "101", out.BestAsk.Price)
	assert.Equal(t, "100", out.Midpoint)
	assert.Len(t, out.Bids, 1)
	assert.Len(t, out.Asks, 1)
	assert.Equal(t, "102.01", out.WorstBuyPrice)
	assert.Equal(t, "98.01", out.WorstSellPrice)
	assert.Equal(t, "102", out.AvgBuyPrice)
	assert.Equal(t, "98.5", out.AvgSellPrice)
}

func TestGetOrderbookToolOneSided(t *testing.T) {
	trader := &stubTrader{snapshot: book.NewSnapshot("0xbtc",
		[]book.PriceLevel{{Price: dec("99000000"), Size: dec("1")}}, nil,
	)}

	res := run(t, NewGetOrderbookTool(trader), `{"market_id": "0xbtc"}`)
	require.Equal(t, core.ToolComplete, res.Status, res.Error)

	out := res.Output.(GetOrderbookOutput)
	assert.Nil(t, out.BestAsk)
	assert.Empty(t, out.WorstBuyPrice)
	assert.NotEmpty(t, out.WorstSellPrice)
}

func TestGetTokenTool(t *testing.T) {
	tool := NewGetTokenTool(nil)

	res := run(t, tool, `{"symbol": "inj"}`)
	require.Equal(t, core.ToolComplete, res.Status, res.Error)
	tok := res.Output.(map[string]any)["token"].(tokens.Token)
	assert.Equal(t, "INJ", tok.Symbol)

	res = run(t, tool, `{}`)
	require.Equal(t, core.ToolComplete, res.Status)
	assert.Len(t, res.Output.(map[string]any)["tokens"], 2)

	res = run(t, tool, `{"symbol": "NOPE"}`)
	assert.Equal(t, core.ToolFailed, res.Status)
	assert.Equal(t, "lookup", res.Metadata["kind"])
}

func TestRegisterTools(t *testing.T) {
	registry := core.NewToolRegistry()
	trader := &stubTrader{}
	RegisterReadOnlyTools(registry, trader, tokens.Default())
	RegisterTradingTools(registry, trader)

	infos := registry.Tools()
	require.Len(t, infos, 6)

	classes := map[string]core.RiskClass{}
	for _, info := range infos {
		classes[info.Name] = info.RiskClass
		assert.True(t, json.Valid(info.InputSchema), info.Name)
	}
	assert.Equal(t, core.RiskClassTrading, classes["injective_create_derivative_market_order"])
	assert.Equal(t, core.RiskClassTrading, classes["injective_create_derivative_limit_order"])
	assert.Equal(t, core.RiskClassReadOnly, classes["injective_fetch_positions"])

	res := registry.Invoke(context.Background(), core.NewToolRequest("injective_fetch_positions", json.RawMessage(`{"network": "TESTNET"}`)))
	require.Equal(t, core.ToolComplete, res.Status, res.Error)
	assert.Equal(t, network.Testnet, trader.net)
}
