package derivative

import (
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// ChainDecimals is the fixed precision of chain decimal values.
const ChainDecimals int32 = 18

// Encoder converts human-unit values to the chain's 18-decimal integer
// strings, snapped to the market's tick grid.
type Encoder struct {
	tens          TensMultiplier
	quoteDecimals int32
}

// NewEncoder creates an encoder for the given exponents and quote decimals.
func NewEncoder(tens TensMultiplier, quoteDecimals int32) Encoder {
	return Encoder{tens: tens, quoteDecimals: quoteDecimals}
}

// MarketEncoder creates an encoder for m.
func MarketEncoder(m *Market) Encoder {
	return NewEncoder(MarketTensMultiplier(m), m.Decimals())
}

// Tens returns the encoder's exponents.
func (e Encoder) Tens() TensMultiplier {
	return e.tens
}

// Price encodes a human price. The chain price is truncated to the price tick.
func (e Encoder) Price(human decimal.Decimal) (string, error) {
	if human.IsNegative() {
		return "", validationf("price must not be negative")
	}
	chain := snapDown(human.Shift(e.quoteDecimals), e.priceExponent())
	return toFixed(chain), nil
}

// TriggerPrice encodes an optional trigger price; absent encodes as "0".
func (e Encoder) TriggerPrice(trigger mo.Option[decimal.Decimal]) (string, error) {
	return e.Price(trigger.OrElse(decimal.Zero))
}

// Quantity encodes a human quantity truncated to the quantity tick.
func (e Encoder) Quantity(q decimal.Decimal) (string, error) {
	if q.IsNegative() {
		return "", validationf("quantity must not be negative")
	}
	return toFixed(snapDown(q, e.tens.QuantityTensMultiplier)), nil
}

// Margin encodes a human margin. It is rounded up to the price tick so an
// order is never under-collateralised by rounding.
func (e Encoder) Margin(human decimal.Decimal) (string, error) {
	if human.IsNegative() {
		return "", validationf("margin must not be negative")
	}
	chain := snapUp(human.Shift(e.quoteDecimals), e.priceExponent())
	return toFixed(chain), nil
}

// priceExponent is the power of ten of the price tick in chain units.
func (e Encoder) priceExponent() int32 {
	return e.tens.PriceTensMultiplier + e.quoteDecimals
}

func snapDown(v decimal.Decimal, exp int32) decimal.Decimal {
	return v.Shift(-exp).Truncate(0).Shift(exp)
}

func snapUp(v decimal.Decimal, exp int32) decimal.Decimal {
	return v.Shift(-exp).Ceil().Shift(exp)
}

func toFixed(v decimal.Decimal) string {
	return v.Shift(ChainDecimals).Truncate(0).String()
}
