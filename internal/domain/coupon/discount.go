package coupon

import (
	"slices"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Base returns the amount the coupon applies to: the matching lines when the
// rule has a SKU allow-list, otherwise every line. It returns ErrNotApplicable
// when an allow-list matches nothing.
func Base(rule *Rule, items []Item) (decimal.Decimal, error) {
	base := zero
	matched := false
	for _, item := range items {
		if len(rule.SKUs) > 0 && !slices.Contains(rule.SKUs, item.SKU) {
			continue
		}
		matched = true
		base = base.Add(item.Amount)
	}
	if !matched && len(rule.SKUs) > 0 {
		return zero, ErrNotApplicable
	}
	return base, nil
}

// Apply returns the discount for base, clamped to [0, base] and rounded to
// two decimal places.
func Apply(rule *Rule, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch rule.Kind {
	case KindPercentage:
		amount = base.Mul(rule.Value).Div(hundred)
	case KindFixed:
		amount = rule.Value
	default:
		return zero
	}
	amount = decimal.Min(amount, base)
	if amount.IsNegative() {
		return zero
	}
	return amount.Round(2)
}
