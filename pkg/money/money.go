// Package money holds the fixed-point helpers shared by every monetary calculation.
// Amounts carry two decimal places and round half away from zero, which for the
// non-negative values handled here is the usual half-up rule.
package money

import "github.com/shopspring/decimal"

// Scale is the number of decimal places kept on stored amounts.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Zero is 0.00.
var Zero = decimal.Zero

// Round quantizes d to two decimals using half-up rounding.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns pct percent of base, rounded.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(pct).Div(hundred))
}

// ApplyDiscount returns base reduced by pct percent, rounded and never negative.
func ApplyDiscount(base, pct decimal.Decimal) decimal.Decimal {
	out := base.Sub(Percent(base, pct))
	if out.IsNegative() {
		return Zero
	}
	return Round(out)
}

// Split divides total into n parts of round(total/n); the last part absorbs the
// residual so the parts always add up to total exactly.
func Split(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	total = Round(total)
	share := Round(total.Div(decimal.NewFromInt(int64(n))))
	parts := make([]decimal.Decimal, n)
	acc := Zero
	for i := 0; i < n-1; i++ {
		parts[i] = share
		acc = acc.Add(share)
	}
	parts[n-1] = total.Sub(acc)
	return parts
}

// Ratio returns part/whole as a percentage with two decimals; zero when whole is zero.
func Ratio(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return Zero
	}
	return Round(part.Mul(hundred).Div(whole))
}

// FitsScale reports whether d carries no more than two significant decimals.
func FitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}
