// Package derivative turns trading intents for Injective perpetual markets
// into validated, fixed-point encoded order messages and reads back open
// positions.
package derivative

import (
	"context"
	"errors"
	"strings"

	"github.com/phenomenon0/injective-agents/pkg/injective/book"

	"github.com/shopspring/decimal"
)

// DefaultQuoteDecimals is assumed when a market does not report its quote decimals.
const DefaultQuoteDecimals int32 = 6

// ErrMarketNotFound is returned by a MarketSource when an id is unknown.
var ErrMarketNotFound = errors.New("market not found")

// Market is the metadata of one derivative market.
type Market struct {
	MarketID               string          `json:"market_id"`
	Ticker                 string          `json:"ticker"`
	Status                 string          `json:"status,omitempty"`
	QuoteDenom             string          `json:"quote_denom"`
	QuoteSymbol            string          `json:"quote_symbol,omitempty"`
	QuoteDecimals          int32           `json:"quote_decimals"`
	InitialMarginRatio     decimal.Decimal `json:"initial_margin_ratio"`
	MaintenanceMarginRatio decimal.Decimal `json:"maintenance_margin_ratio"`
	MakerFeeRate           decimal.Decimal `json:"maker_fee_rate"`
	TakerFeeRate           decimal.Decimal `json:"taker_fee_rate"`
	// MinPriceTickSize is in chain units (quote base units).
	MinPriceTickSize decimal.Decimal `json:"min_price_tick_size"`
	// MinQuantityTickSize is in human units of the base asset.
	MinQuantityTickSize decimal.Decimal `json:"min_quantity_tick_size"`
	IsPerpetual         bool            `json:"is_perpetual"`
}

// Decimals returns the quote decimals, falling back to DefaultQuoteDecimals.
func (m *Market) Decimals() int32 {
	if m.QuoteDecimals <= 0 {
		return DefaultQuoteDecimals
	}
	return m.QuoteDecimals
}

// MaxLeverage returns 1/initialMarginRatio, or zero for a misconfigured market.
func (m *Market) MaxLeverage() decimal.Decimal {
	if !m.InitialMarginRatio.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Div(m.InitialMarginRatio)
}

// MarketSource reads market metadata.
type MarketSource interface {
	// FetchMarket returns ErrMarketNotFound (possibly wrapped) for unknown ids.
	FetchMarket(ctx context.Context, marketID string) (*Market, error)
	FetchMarkets(ctx context.Context) ([]Market, error)
}

// OrderbookSource reads orderbook snapshots. Prices are in chain units.
type OrderbookSource interface {
	FetchOrderbook(ctx context.Context, marketID string) (book.Snapshot, error)
}

// MarketRef identifies a market by id or by exact ticker. The id wins when both are set.
type MarketRef struct {
	MarketID string `json:"market_id,omitempty"`
	Ticker   string `json:"ticker,omitempty"`
}

func (r MarketRef) String() string {
	if r.MarketID != "" {
		return r.MarketID
	}
	return r.Ticker
}

func (r MarketRef) validate() error {
	if strings.TrimSpace(r.MarketID) == "" && strings.TrimSpace(r.Ticker) == "" {
		return validationf("either ticker or market id is required")
	}
	return nil
}

// ResolveMarket looks a market up by id, or scans all markets for an exact
// ticker match. Tickers are compared verbatim.
func ResolveMarket(ctx context.Context, src MarketSource, ref MarketRef) (*Market, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}

	if ref.MarketID != "" {
		m, err := src.FetchMarket(ctx, ref.MarketID)
		if errors.Is(err, ErrMarketNotFound) || (err == nil && m == nil) {
			return nil, lookupf("market not found for marketId: %s", ref.MarketID)
		}
		if err != nil {
			return nil, upstream(err, "fetch market %s", ref.MarketID)
		}
		return m, nil
	}

	markets, err := src.FetchMarkets(ctx)
	if err != nil {
		return nil, upstream(err, "fetch markets")
	}
	for i := range markets {
		if markets[i].Ticker == ref.Ticker {
			m := markets[i]
			return &m, nil
		}
	}
	return nil, lookupf("market not found for ticker: %s", ref.Ticker)
}
