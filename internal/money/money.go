// Package money is the numeric kernel for the gateway. Every monetary
// computation runs through arbitrary-precision decimals with half-even
// rounding at the owning currency's scale; floating point never touches
// an amount.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount occurs when parsing a malformed decimal string.
	ErrInvalidAmount = errors.New("money: invalid amount")

	// ErrNotPositive occurs when an amount required to be strictly
	// positive is zero or negative.
	ErrNotPositive = errors.New("money: amount must be positive")

	// ErrZeroRate occurs when dividing by a zero exchange rate.
	ErrZeroRate = errors.New("money: zero exchange rate")
)

func init() {
	// Quotient precision for destination-fixed conversions. 28 significant
	// digits keeps IDR- and VND-sized magnitudes exact through division.
	if decimal.DivisionPrecision < 28 {
		decimal.DivisionPrecision = 28
	}
}

// Parse converts a decimal string into an amount. Rejects empty strings
// and anything the decimal parser cannot read exactly.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// MustParse is Parse for trusted literals. Panics on malformed input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParsePositive parses a decimal string and requires it to be strictly
// positive.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotPositive, s)
	}
	return d, nil
}

// Quantize rounds an amount half-even to the currency's scale.
//
// Examples:
//   - Quantize(35.7207, "THB") → 35.72
//   - Quantize(1250.5, "JPY")  → 1250
func Quantize(d decimal.Decimal, currency string) decimal.Decimal {
	return d.RoundBank(Scale(currency))
}

// QuantizeRate truncates a rate to RateScale decimal places. Truncation
// keeps the published customer rate at or below the computed rate.
//
// Example: QuantizeRate(25.72075) → 25.7207
func QuantizeRate(r decimal.Decimal) decimal.Decimal {
	return r.RoundDown(RateScale)
}

// Convert applies an exchange rate to a source amount and quantizes the
// result to the destination currency's scale.
func Convert(source decimal.Decimal, rate decimal.Decimal, destinationCurrency string) decimal.Decimal {
	return Quantize(source.Mul(rate), destinationCurrency)
}

// ConvertBack divides a destination amount by an exchange rate and
// quantizes the result to the source currency's scale.
func ConvertBack(destination decimal.Decimal, rate decimal.Decimal, sourceCurrency string) (decimal.Decimal, error) {
	if rate.IsZero() {
		return decimal.Zero, ErrZeroRate
	}
	return Quantize(destination.Div(rate), sourceCurrency), nil
}

// Format renders an amount as a fixed-scale string for the currency.
//
// Examples:
//   - Format(25720.7, "THB") → "25720.70"
//   - Format(1250, "JPY")    → "1250"
func Format(d decimal.Decimal, currency string) string {
	return d.StringFixed(Scale(currency))
}

// FormatRate renders a rate at RateScale decimal places.
func FormatRate(r decimal.Decimal) string {
	return r.StringFixed(RateScale)
}

// WithinScaleTolerance reports whether two amounts agree to the
// currency's scale, i.e. differ by at most one unit in the last place.
func WithinScaleTolerance(a, b decimal.Decimal, currency string) bool {
	ulp := decimal.New(1, -Scale(currency))
	return a.Sub(b).Abs().LessThanOrEqual(ulp)
}
