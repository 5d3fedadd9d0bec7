package derivative

import (
	"context"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/network"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// displayScaleExp is the power of ten dividing raw position values for
// display (1_000_000). It is fixed rather than taken from each market's
// quote decimals.
const displayScaleExp int32 = 6

// Position is an open position as reported by the indexer. Prices and
// margin are raw chain values; Quantity is in human units.
type Position struct {
	Ticker                      string          `json:"ticker"`
	MarketID                    string          `json:"market_id"`
	SubaccountID                string          `json:"subaccount_id"`
	Direction                   Direction       `json:"direction"`
	Quantity                    decimal.Decimal `json:"quantity"`
	EntryPrice                  decimal.Decimal `json:"entry_price"`
	Margin                      decimal.Decimal `json:"margin"`
	LiquidationPrice            decimal.Decimal `json:"liquidation_price"`
	MarkPrice                   decimal.Decimal `json:"mark_price"`
	AggregateReduceOnlyQuantity decimal.Decimal `json:"aggregate_reduce_only_quantity"`
	UpdatedAt                   int64           `json:"updated_at"`
	CreatedAt                   int64           `json:"created_at"`
}

// DisplayPosition is a Position formatted for humans, plus unrealized PnL.
type DisplayPosition struct {
	Ticker                      string    `json:"ticker"`
	MarketID                    string    `json:"market_id"`
	SubaccountID                string    `json:"subaccount_id"`
	Direction                   Direction `json:"direction"`
	Quantity                    string    `json:"quantity"`
	EntryPrice                  string    `json:"entry_price"`
	Margin                      string    `json:"margin"`
	LiquidationPrice            string    `json:"liquidation_price"`
	MarkPrice                   string    `json:"mark_price"`
	UnrealizedPnl               string    `json:"unrealized_pnl"`
	AggregateReduceOnlyQuantity string    `json:"aggregate_reduce_only_quantity"`
	UpdatedAt                   int64     `json:"updated_at"`
	CreatedAt                   int64     `json:"created_at"`
}

// PositionQuery filters the indexer's position listing.
type PositionQuery struct {
	MarketIDs    []string
	SubaccountID string
	Direction    Direction
}

// PositionSource lists open positions.
type PositionSource interface {
	FetchPositions(ctx context.Context, q PositionQuery) ([]Position, error)
}

// PositionRequest is the caller-facing filter. Tickers are resolved to
// market ids; an absent subaccount index selects the default subaccount.
type PositionRequest struct {
	Tickers         []string
	SubaccountIndex mo.Option[int64]
	// Direction accepts buy, sell, long or short; empty means both.
	Direction string
}

// PositionsEvent is emitted to observers after a successful read.
type PositionsEvent struct {
	Network      string            `json:"network"`
	SubaccountID string            `json:"subaccount_id"`
	Positions    []DisplayPosition `json:"positions"`
	Duration     time.Duration     `json:"duration"`
	Timestamp    time.Time         `json:"timestamp"`
}

// UnrealizedPnl is (mark - entry) * quantity on raw values. The formula is
// direction-agnostic.
func (p Position) UnrealizedPnl() decimal.Decimal {
	return p.MarkPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// FormatPosition scales prices, margin and PnL down by 10^6 with six
// fixed decimals. Quantity is passed through.
func FormatPosition(p Position) DisplayPosition {
	return DisplayPosition{
		Ticker:                      p.Ticker,
		MarketID:                    p.MarketID,
		SubaccountID:                p.SubaccountID,
		Direction:                   p.Direction,
		Quantity:                    p.Quantity.String(),
		EntryPrice:                  displayValue(p.EntryPrice),
		Margin:                      displayValue(p.Margin),
		LiquidationPrice:            displayValue(p.LiquidationPrice),
		MarkPrice:                   displayValue(p.MarkPrice),
		UnrealizedPnl:               displayValue(p.UnrealizedPnl()),
		AggregateReduceOnlyQuantity: p.AggregateReduceOnlyQuantity.String(),
		UpdatedAt:                   p.UpdatedAt,
		CreatedAt:                   p.CreatedAt,
	}
}

// FormatPositions formats every position in order.
func FormatPositions(ps []Position) []DisplayPosition {
	out := make([]DisplayPosition, len(ps))
	for i, p := range ps {
		out[i] = FormatPosition(p)
	}
	return out
}

func displayValue(v decimal.Decimal) string {
	return v.Shift(-displayScaleExp).StringFixed(displayScaleExp)
}

// ResolveMarketIDs resolves tickers concurrently. Order is preserved and
// the first failure cancels the rest.
func ResolveMarketIDs(ctx context.Context, src MarketSource, tickers []string) ([]string, error) {
	ids := make([]string, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			m, err := ResolveMarket(gctx, src, MarketRef{Ticker: ticker})
			if err != nil {
				return err
			}
			ids[i] = m.MarketID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchPositions lists the wallet's positions on net, formatted for display.
func (d *Desk) FetchPositions(ctx context.Context, net network.Network, req PositionRequest) ([]DisplayPosition, error) {
	start := d.now()

	q := PositionQuery{SubaccountID: d.wallet.DefaultSubaccountID()}
	if idx, ok := req.SubaccountIndex.Get(); ok {
		if idx < 0 || idx > 1<<32-1 {
			return nil, validationf("subaccount index %d out of range", idx)
		}
		q.SubaccountID = d.wallet.SubaccountID(uint32(idx))
	}
	if req.Direction != "" {
		dir, err := ParseDirection(req.Direction)
		if err != nil {
			return nil, err
		}
		q.Direction = dir
	}

	v, err := d.venue(net)
	if err != nil {
		return nil, err
	}

	if len(req.Tickers) > 0 {
		ids, err := ResolveMarketIDs(ctx, v.Markets, req.Tickers)
		if err != nil {
			return nil, err
		}
		q.MarketIDs = ids
	}

	raw, err := v.Positions.FetchPositions(ctx, q)
	if err != nil {
		return nil, upstream(err, "fetch positions")
	}
	out := FormatPositions(raw)

	d.logger.WithFields(logrus.Fields{
		"network":       net,
		"subaccount_id": q.SubaccountID,
		"count":         len(out),
	}).Info("positions fetched")

	ev := PositionsEvent{
		Network:      net.String(),
		SubaccountID: q.SubaccountID,
		Positions:    out,
		Duration:     d.now().Sub(start),
		Timestamp:    d.now(),
	}
	for _, o := range d.observers {
		o.ObservePositions(ev)
	}
	return out, nil
}
