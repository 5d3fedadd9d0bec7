// Package book provides an immutable L2 orderbook snapshot for derivative
// markets. Prices are in chain units (quote base units), sizes in human units.
package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Side represents the order side.
type Side int

const (
	SideBuy  Side = 0
	SideSell Side = 1
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// PriceLevel represents an aggregated price level in the orderbook.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Snapshot is a point-in-time copy of a market's orderbook.
// Bids are sorted best (highest) first, asks best (lowest) first.
type Snapshot struct {
	MarketID  string       `json:"market_id"`
	Timestamp int64        `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// NewSnapshot copies and sorts the given levels.
func NewSnapshot(marketID string, bids, asks []PriceLevel) Snapshot {
	s := Snapshot{
		MarketID: marketID,
		Bids:     make([]PriceLevel, len(bids)),
		Asks:     make([]PriceLevel, len(asks)),
	}
	copy(s.Bids, bids)
	copy(s.Asks, asks)

	sort.SliceStable(s.Bids, func(i, j int) bool {
		return s.Bids[i].Price.GreaterThan(s.Bids[j].Price)
	})
	sort.SliceStable(s.Asks, func(i, j int) bool {
		return s.Asks[i].Price.LessThan(s.Asks[j].Price)
	})
	return s
}

// IsEmpty reports whether both sides are empty.
func (s Snapshot) IsEmpty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// BestBid returns the highest bid, if any.
func (s Snapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s Snapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Midpoint returns the midpoint between best bid and ask.
// Returns zero if either side is empty.
func (s Snapshot) Midpoint() decimal.Decimal {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

// Spread returns the bid-ask spread, or zero if either side is empty.
func (s Snapshot) Spread() decimal.Decimal {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return ask.Price.Sub(bid.Price)
}

// SpreadBps returns the spread in basis points relative to midpoint.
func (s Snapshot) SpreadBps() decimal.Decimal {
	mid := s.Midpoint()
	if mid.IsZero() {
		return decimal.Zero
	}
	return s.Spread().Div(mid).Mul(decimal.NewFromInt(10000))
}

// Top returns at most n levels from each side.
func (s Snapshot) Top(n int) Snapshot {
	out := Snapshot{MarketID: s.MarketID, Timestamp: s.Timestamp}
	out.Bids = s.Bids[:min(n, len(s.Bids))]
	out.Asks = s.Asks[:min(n, len(s.Asks))]
	return out
}

// VolumeWeightedPrice calculates the average fill price for size on the
// side a taker of the given side would consume.
func (s Snapshot) VolumeWeightedPrice(side Side, size decimal.Decimal) (decimal.Decimal, error) {
	levels := s.Bids
	if side == SideBuy {
		// Buying = take from asks
		levels = s.Asks
	}

	if len(levels) == 0 {
		return decimal.Zero, fmt.Errorf("no liquidity on %s side", side)
	}
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("size must be positive")
	}

	remaining := size
	totalCost := decimal.Zero

	for _, level := range levels {
		if remaining.IsZero() {
			break
		}

		fillSize := level.Size
		if fillSize.GreaterThan(remaining) {
			fillSize = remaining
		}

		totalCost = totalCost.Add(level.Price.Mul(fillSize))
		remaining = remaining.Sub(fillSize)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("insufficient liquidity: needed %s, missing %s", size, remaining)
	}

	return totalCost.Div(size), nil
}
