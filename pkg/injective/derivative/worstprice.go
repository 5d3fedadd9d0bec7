package derivative

import (
	"context"

	"github.com/phenomenon0/injective-agents/pkg/injective/book"

	"github.com/shopspring/decimal"
)

// WorstPrice is the least favourable price a market order will accept:
// bestAsk*(1+slippage) for buys, bestBid*(1-slippage) for sells. Only the
// top level is used; depth is not walked. slippage is a fraction (0.01 = 1%)
// and must be below 1, so a sell never prices at or under zero.
func WorstPrice(ob book.Snapshot, isBuy bool, slippage decimal.Decimal) (decimal.Decimal, error) {
	if slippage.IsNegative() {
		return decimal.Zero, validationf("slippage must not be negative")
	}
	if slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, validationf("slippage must be below 100%%")
	}
	if ob.IsEmpty() {
		return decimal.Zero, liquidityf("orderbook empty for market: %s", ob.MarketID)
	}

	one := decimal.NewFromInt(1)
	if isBuy {
		ask, ok := ob.BestAsk()
		if !ok {
			return decimal.Zero, liquidityf("no sell orders available")
		}
		return ask.Price.Mul(one.Add(slippage)), nil
	}

	bid, ok := ob.BestBid()
	if !ok {
		return decimal.Zero, liquidityf("no buy orders available")
	}
	return bid.Price.Mul(one.Sub(slippage)), nil
}

// EstimateWorstPrice fetches the book for marketID and applies WorstPrice.
// The result is in chain units.
func EstimateWorstPrice(ctx context.Context, src OrderbookSource, marketID string, isBuy bool, slippage decimal.Decimal) (decimal.Decimal, error) {
	ob, err := src.FetchOrderbook(ctx, marketID)
	if err != nil {
		return decimal.Zero, upstream(err, "fetch orderbook %s", marketID)
	}
	if ob.MarketID == "" {
		ob.MarketID = marketID
	}
	return WorstPrice(ob, isBuy, slippage)
}
