package services

import (
	"math"

	"github.com/shopspring/decimal"
)

// CentsToAmount converts a minor-unit amount to a major-unit decimal, rounding
// half away from zero to the nearest cent first. nil, NaN and ±Inf yield 0.
func CentsToAmount(cents *float64) decimal.Decimal {
	if cents == nil || math.IsNaN(*cents) || math.IsInf(*cents, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Round(*cents)).Shift(-2)
}
