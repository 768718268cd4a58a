package usecases

import (
	"github.com/shopspring/decimal"
)

// DefaultAmountTolerance allows a 0.1% relative deviation from the expected amount.
var DefaultAmountTolerance = decimal.RequireFromString("0.001")

// AmountComparator decides whether a received amount matches the expected one.
type AmountComparator struct {
	tolerance decimal.Decimal
}

func NewAmountComparator(tolerance decimal.Decimal) *AmountComparator {
	if tolerance.IsNegative() || tolerance.IsZero() {
		tolerance = DefaultAmountTolerance
	}
	return &AmountComparator{tolerance: tolerance}
}

// Matches reports |received - expected| / expected <= tolerance. A non-positive expected amount never matches.
func (c *AmountComparator) Matches(received, expected decimal.Decimal) bool {
	if !expected.IsPositive() {
		return false
	}

	deviation := received.Sub(expected).Abs().Div(expected)
	return deviation.LessThanOrEqual(c.tolerance)
}

func (c *AmountComparator) Tolerance() decimal.Decimal {
	return c.tolerance
}
