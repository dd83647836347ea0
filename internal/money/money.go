// Package money converts between decimal amounts used at the edges and the
// int64 minor units stored by the ledger.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits (cents).
const Scale = 2

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrTooManyDecimals = errors.New("amount_has_too_many_decimals")
)

var minorFactor = decimal.New(1, Scale)

// Parse reads a decimal string such as "750" or "12.50" into minor units.
func Parse(raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return FromDecimal(d)
}

// FromDecimal converts a major-unit decimal into minor units.
func FromDecimal(d decimal.Decimal) (int64, error) {
	minor := d.Mul(minorFactor)
	if !minor.IsInteger() {
		return 0, ErrTooManyDecimals
	}
	return minor.IntPart(), nil
}

// ToDecimal converts minor units into a major-unit decimal.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Format renders minor units with a fixed number of decimals.
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(Scale)
}

// ApplyRate multiplies amount by a fractional rate, rounding half away from zero.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	if amount == 0 || rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// ParseRate reads a fractional rate ("0.11"), rejecting values outside [0, 1).
func ParseRate(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, ErrInvalidAmount
	}
	return rate, nil
}
