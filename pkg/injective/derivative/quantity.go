package derivative

import "github.com/shopspring/decimal"

// NormalizeQuantity rounds q down to a multiple of tick. The result is
// q - (q mod tick), computed exactly; a non-positive result is rejected.
func NormalizeQuantity(q, tick decimal.Decimal) (decimal.Decimal, error) {
	if !tick.IsPositive() {
		return decimal.Zero, validationf("market has invalid quantity tick size %s", tick)
	}
	if !q.IsPositive() {
		return decimal.Zero, validationf("order quantity must be greater than 0")
	}

	normalized := q.Sub(q.Mod(tick))
	if !normalized.IsPositive() {
		return decimal.Zero, validationf("order quantity (%s) is too small. Minimum allowed is %s", q, tick)
	}
	return normalized, nil
}
