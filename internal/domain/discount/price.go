package discount

import (
	"github.com/shopspring/decimal"
)

// CalculatePrice returns the catalog price of a variation under the given
// rule. Results are rounded to cents.
//
// Percentage values above 100 produce negative prices; Validate rejects them
// before they reach storage.
func CalculatePrice(original decimal.Decimal, rule Rule) decimal.Decimal {
	switch rule.Type {
	case TypePercentage:
		factor := decimal.NewFromInt(1).Sub(rule.Value.Div(hundred))
		return original.Mul(factor).Round(2)
	case TypeFixedAmount:
		price := original.Sub(rule.Value)
		if price.IsNegative() {
			return decimal.Zero
		}
		return price.Round(2)
	default:
		// BUY_X_GET_Y and unknown types keep the catalog price.
		return original
	}
}
