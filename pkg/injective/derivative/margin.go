package derivative

import (
	"github.com/samber/mo"
	"github.com/shopspring/decimal"
)

// CheckLeverage rejects non-positive leverage and leverage above
// 1/initialMarginRatio.
func CheckLeverage(leverage, initialMarginRatio decimal.Decimal) error {
	if !leverage.IsPositive() {
		return validationf("leverage must be greater than 0")
	}
	if !initialMarginRatio.IsPositive() {
		return validationf("market has invalid initial margin ratio %s", initialMarginRatio)
	}
	// leverage > 1/ratio, kept multiplicative to stay exact
	if leverage.Mul(initialMarginRatio).GreaterThan(decimal.NewFromInt(1)) {
		maxLev := decimal.NewFromInt(1).Div(initialMarginRatio)
		return validationf("%sx leverage is above the maximum leverage allowed: (%sx)", leverage, maxLev)
	}
	return nil
}

// ComputeMargin returns the human-unit margin for an order. An explicit
// margin is given in quote base units and divided by 10^quoteDecimals;
// an explicit zero is kept as zero. Otherwise margin is price*quantity/leverage.
func ComputeMargin(explicit mo.Option[decimal.Decimal], price, quantity, leverage decimal.Decimal, quoteDecimals int32) (decimal.Decimal, error) {
	if m, ok := explicit.Get(); ok {
		if m.IsNegative() {
			return decimal.Zero, validationf("margin must not be negative")
		}
		return m.Shift(-quoteDecimals), nil
	}

	if !leverage.IsPositive() {
		return decimal.Zero, validationf("leverage must be greater than 0")
	}
	return price.Mul(quantity).Div(leverage), nil
}
