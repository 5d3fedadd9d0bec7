package derivative

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TensMultiplier holds the power-of-ten exponents of a market's price and
// quantity ticks in human units.
type TensMultiplier struct {
	PriceTensMultiplier    int32 `json:"price_tens_multiplier"`
	QuantityTensMultiplier int32 `json:"quantity_tens_multiplier"`
}

// NewTensMultiplier derives the exponents for a market. The price tick is
// given in chain units and converted with quoteDecimals first.
func NewTensMultiplier(quoteDecimals int32, minPriceTickSize, minQuantityTickSize decimal.Decimal) TensMultiplier {
	return TensMultiplier{
		PriceTensMultiplier:    tensExponent(minPriceTickSize.Shift(-quoteDecimals)),
		QuantityTensMultiplier: tensExponent(minQuantityTickSize),
	}
}

// MarketTensMultiplier is NewTensMultiplier applied to m.
func MarketTensMultiplier(m *Market) TensMultiplier {
	return NewTensMultiplier(m.Decimals(), m.MinPriceTickSize, m.MinQuantityTickSize)
}

// tensExponent returns 0 for 1, minus the number of decimal places for
// values below 1, and the number of trailing zeros for values above 1.
// Non-positive input yields 0.
func tensExponent(x decimal.Decimal) int32 {
	if !x.IsPositive() || x.Equal(decimal.NewFromInt(1)) {
		return 0
	}

	s := x.String()
	if x.LessThan(decimal.NewFromInt(1)) {
		dot := strings.IndexByte(s, '.')
		if dot < 0 {
			return 0
		}
		return -int32(len(s) - dot - 1)
	}

	if strings.Contains(s, ".") {
		return 0
	}
	n := int32(0)
	for i := len(s) - 1; i >= 0 && s[i] == '0'; i-- {
		n++
	}
	return n
}
