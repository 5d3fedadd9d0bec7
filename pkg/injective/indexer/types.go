package indexer

import (
	"strings"

	"github.com/phenomenon0/injective-agents/pkg/injective/book"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TokenMeta describes the quote token of a market.
type TokenMeta struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// MarketInfo is a derivative market as returned by the exchange API.
// Numeric fields arrive as decimal strings.
type MarketInfo struct {
	MarketID               string     `json:"market_id"`
	MarketStatus           string     `json:"market_status"`
	Ticker                 string     `json:"ticker"`
	OracleBase             string     `json:"oracle_base"`
	OracleQuote            string     `json:"oracle_quote"`
	QuoteDenom             string     `json:"quote_denom"`
	InitialMarginRatio     string     `json:"initial_margin_ratio"`
	MaintenanceMarginRatio string     `json:"maintenance_margin_ratio"`
	MakerFeeRate           string     `json:"maker_fee_rate"`
	TakerFeeRate           string     `json:"taker_fee_rate"`
	MinPriceTickSize       string     `json:"min_price_tick_size"`
	MinQuantityTickSize    string     `json:"min_quantity_tick_size"`
	IsPerpetual            bool       `json:"is_perpetual"`
	QuoteTokenMeta         *TokenMeta `json:"quote_token_meta"`
}

type marketsResponse struct {
	Markets []MarketInfo `json:"markets"`
}

type marketResponse struct {
	Market *MarketInfo `json:"market"`
}

// Level is one orderbook level in chain units.
type Level struct {
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
}

// Orderbook holds both sides of a market's book.
type Orderbook struct {
	Buys     []Level `json:"buys"`
	Sells    []Level `json:"sells"`
	Sequence uint64  `json:"sequence"`
}

type orderbookResponse struct {
	Orderbook *Orderbook `json:"orderbook"`
}

// PositionInfo is an open position as returned by the exchange API.
type PositionInfo struct {
	Ticker                      string `json:"ticker"`
	MarketID                    string `json:"market_id"`
	SubaccountID                string `json:"subaccount_id"`
	Direction                   string `json:"direction"`
	Quantity                    string `json:"quantity"`
	EntryPrice                  string `json:"entry_price"`
	Margin                      string `json:"margin"`
	LiquidationPrice            string `json:"liquidation_price"`
	MarkPrice                   string `json:"mark_price"`
	AggregateReduceOnlyQuantity string `json:"aggregate_reduce_only_quantity"`
	UpdatedAt                   int64  `json:"updated_at"`
	CreatedAt                   int64  `json:"created_at"`
}

type positionsResponse struct {
	Positions []PositionInfo `json:"positions"`
}

// parseDecimal treats an empty string as zero.
func parseDecimal(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s %q", field, s)
	}
	return d, nil
}

type decimalParser struct {
	err error
}

func (p *decimalParser) parse(field, s string) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	d, err := parseDecimal(field, s)
	if err != nil {
		p.err = err
	}
	return d
}

// ToMarket converts the wire form to the pipeline's market metadata.
func (m *MarketInfo) ToMarket() (derivative.Market, error) {
	var p decimalParser
	out := derivative.Market{
		MarketID:               m.MarketID,
		Ticker:                 m.Ticker,
		Status:                 m.MarketStatus,
		QuoteDenom:             m.QuoteDenom,
		InitialMarginRatio:     p.parse("initial_margin_ratio", m.InitialMarginRatio),
		MaintenanceMarginRatio: p.parse("maintenance_margin_ratio", m.MaintenanceMarginRatio),
		MakerFeeRate:           p.parse("maker_fee_rate", m.MakerFeeRate),
		TakerFeeRate:           p.parse("taker_fee_rate", m.TakerFeeRate),
		MinPriceTickSize:       p.parse("min_price_tick_size", m.MinPriceTickSize),
		MinQuantityTickSize:    p.parse("min_quantity_tick_size", m.MinQuantityTickSize),
		IsPerpetual:            m.IsPerpetual,
	}
	if m.QuoteTokenMeta != nil {
		out.QuoteSymbol = m.QuoteTokenMeta.Symbol
		out.QuoteDecimals = m.QuoteTokenMeta.Decimals
	}
	if p.err != nil {
		return derivative.Market{}, errors.Wrapf(p.err, "market %s", m.MarketID)
	}
	return out, nil
}

// ToSnapshot converts the wire book to a sorted snapshot.
func (o *Orderbook) ToSnapshot(marketID string) (book.Snapshot, error) {
	bids, err := toLevels(o.Buys)
	if err != nil {
		return book.Snapshot{}, err
	}
	asks, err := toLevels(o.Sells)
	if err != nil {
		return book.Snapshot{}, err
	}

	s := book.NewSnapshot(marketID, bids, asks)
	for _, side := range [][]Level{o.Buys, o.Sells} {
		for _, l := range side {
			if l.Timestamp > s.Timestamp {
				s.Timestamp = l.Timestamp
			}
		}
	}
	return s, nil
}

func toLevels(in []Level) ([]book.PriceLevel, error) {
	out := make([]book.PriceLevel, 0, len(in))
	for _, l := range in {
		price, err := parseDecimal("price", l.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseDecimal("quantity", l.Quantity)
		if err != nil {
			return nil, err
		}
		out = append(out, book.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// ToPosition converts the wire form to a raw position.
func (pi *PositionInfo) ToPosition() (derivative.Position, error) {
	var p decimalParser
	out := derivative.Position{
		Ticker:                      pi.Ticker,
		MarketID:                    pi.MarketID,
		SubaccountID:                pi.SubaccountID,
		Direction:                   derivative.Direction(strings.ToLower(pi.Direction)),
		Quantity:                    p.parse("quantity", pi.Quantity),
		EntryPrice:                  p.parse("entry_price", pi.EntryPrice),
		Margin:                      p.parse("margin", pi.Margin),
		LiquidationPrice:            p.parse("liquidation_price", pi.LiquidationPrice),
		MarkPrice:                   p.parse("mark_price", pi.MarkPrice),
		AggregateReduceOnlyQuantity: p.parse("aggregate_reduce_only_quantity", pi.AggregateReduceOnlyQuantity),
		UpdatedAt:                   pi.UpdatedAt,
		CreatedAt:                   pi.CreatedAt,
	}
	if p.err != nil {
		return derivative.Position{}, errors.Wrapf(p.err, "position %s", pi.MarketID)
	}
	return out, nil
}
