// Package injective exposes the derivative desk as agent tools.
package injective

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/phenomenon0/injective-agents/core"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"
	"github.com/phenomenon0/injective-agents/pkg/injective/network"
	"github.com/phenomenon0/injective-agents/pkg/injective/tokens"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// DefaultNetwork is used when a tool call names no network.
const DefaultNetwork = "MAINNET"

// Trader is the part of derivative.Desk the tools drive.
type Trader interface {
	Market(ctx context.Context, net network.Network, ref derivative.MarketRef) (*derivative.Market, error)
	Orderbook(net network.Network) (derivative.OrderbookSource, error)
	CreateMarketOrder(ctx context.Context, net network.Network, in derivative.MarketOrderIntent) (*derivative.OrderResult, error)
	CreateLimitOrder(ctx context.Context, net network.Network, in derivative.LimitOrderIntent) (*derivative.OrderResult, error)
	FetchPositions(ctx context.Context, net network.Network, req derivative.PositionRequest) ([]derivative.DisplayPosition, error)
}

// RegisterReadOnlyTools registers tools that never move funds.
func RegisterReadOnlyTools(registry *core.ToolRegistry, trader Trader, reg *tokens.Registry) {
	policy := core.ToolPolicy{
		MaxRetries:      3,
		BaseBackoff:     100 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		Retriable:       true,
		DefaultTimeout:  30 * time.Second,
		RateLimitPerSec: 10.0,
		Burst:           20,
		LimitKey:        "injective-indexer",
	}

	registry.Register(NewFetchPositionsTool(trader), policy, core.RiskClassReadOnly)
	registry.Register(NewGetMarketTool(trader), policy, core.RiskClassReadOnly)
	registry.Register(NewGetOrderbookTool(trader), policy, core.RiskClassReadOnly)
	registry.Register(NewGetTokenTool(reg), policy, core.RiskClassReadOnly)
}

// RegisterTradingTools registers the order tools.
// WARNING: these broadcast orders that open or change positions.
func RegisterTradingTools(registry *core.ToolRegistry, trader Trader) {
	// No retries: a timed-out broadcast may still have landed
	policy := core.ToolPolicy{
		MaxRetries:      0,
		Retriable:       false,
		DefaultTimeout:  30 * time.Second,
		RateLimitPerSec: 1.0,
		Burst:           2,
		LimitKey:        "injective-trading",
		BudgetPerDay:    100.0,
		CostPerCall:     1.0,
	}

	registry.Register(NewCreateMarketOrderTool(trader), policy, core.RiskClassTrading)
	registry.Register(NewCreateLimitOrderTool(trader), policy, core.RiskClassTrading)
}

// === Input helpers ===

func parseInput(msg *core.Message, v any) error {
	if msg == nil || msg.ToolReq == nil {
		return fmt.Errorf("no tool request")
	}

	// Try InputRaw first
	if len(msg.ToolReq.InputRaw) > 0 {
		return json.Unmarshal(msg.ToolReq.InputRaw, v)
	}

	// Fall back to Input
	if msg.ToolReq.Input != nil {
		data, err := json.Marshal(msg.ToolReq.Input)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, v)
	}

	return nil
}

func parseNetwork(s string) (network.Network, error) {
	if s == "" {
		s = DefaultNetwork
	}
	n, err := network.Parse(s)
	if err != nil {
		return "", derivative.NewValidationError("%v", err)
	}
	return n, nil
}

func requireDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, derivative.NewValidationError("invalid %s %q", field, s)
	}
	return d, nil
}

func decimalOr(field, s, def string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		s = def
	}
	return requireDecimal(field, s)
}

func optionalDecimal(field, s string) (mo.Option[decimal.Decimal], error) {
	if strings.TrimSpace(s) == "" {
		return mo.None[decimal.Decimal](), nil
	}
	d, err := requireDecimal(field, s)
	if err != nil {
		return mo.None[decimal.Decimal](), err
	}
	return mo.Some(d), nil
}

func optionalIndex(s string) (mo.Option[int64], error) {
	if strings.TrimSpace(s) == "" {
		return mo.None[int64](), nil
	}
	idx, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return mo.None[int64](), derivative.NewValidationError("invalid subaccount_index %q", s)
	}
	return mo.Some(idx), nil
}

// orderTypeInput accepts 1..8 as a number or a string, or a name like "STOP_BUY".
type orderTypeInput derivative.OrderType

func (o *orderTypeInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*o = orderTypeInput(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("order_type must be a number or a name")
	}
	t, err := derivative.ParseOrderType(s)
	if err != nil {
		return err
	}
	*o = orderTypeInput(t)
	return nil
}

// === Result helpers ===

func successResult(output any) *core.ToolExecResult {
	return &core.ToolExecResult{
		Status: core.ToolComplete,
		Output: output,
	}
}

// errorResult reports the failure kind; upstream failures may be retried.
func errorResult(err error) *core.ToolExecResult {
	kind := derivative.KindOf(err)
	if kind == "" {
		kind = derivative.KindValidation
	}
	return &core.ToolExecResult{
		Status: core.ToolFailed,
		Error:  err.Error(),
		Metadata: map[string]any{
			"kind":             string(kind),
			core.MetaRetriable: kind == derivative.KindUpstream,
		},
	}
}
