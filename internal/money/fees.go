package money

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// FeeTable describes a destination-side fee formula:
// fee = fixed + gross * percentBps/10000, clamped to [min, max].
// A zero Max means no upper clamp.
type FeeTable struct {
	Fixed      decimal.Decimal
	PercentBps int64
	Min        decimal.Decimal
	Max        decimal.Decimal
}

// SourceFeeType selects the fee schedule the source PSP applies to the
// sender.
type SourceFeeType string

const (
	SourceFeeStandard SourceFeeType = "standard"
	SourceFeePremium  SourceFeeType = "premium"
	SourceFeeWaived   SourceFeeType = "waived"
)

// IsValid returns true if the fee type is a known schedule.
func (t SourceFeeType) IsValid() bool {
	switch t {
	case SourceFeeStandard, SourceFeePremium, SourceFeeWaived:
		return true
	}
	return false
}

// Source PSP fee schedules in basis points of the principal.
const (
	sourceFeeStandardBps = 50
	sourceFeePremiumBps  = 25
	schemeFeeBps         = 5
)

// Destination PSP fee tables per payout currency. These are the single
// source of truth; no other package derives fees.
var (
	destinationFeeTables = map[string]FeeTable{
		"THB": {Fixed: dec("10.00"), PercentBps: 10, Min: dec("15.00"), Max: dec("120.00")},
		"SGD": {Fixed: dec("2.00"), PercentBps: 20, Min: dec("2.50"), Max: dec("150.00")},
		"IDR": {Fixed: dec("5000"), PercentBps: 25, Min: dec("7500"), Max: dec("250000")},
		"PHP": {Fixed: dec("15.00"), PercentBps: 20, Min: dec("20.00"), Max: dec("500.00")},
		"MYR": {Fixed: dec("1.50"), PercentBps: 15, Min: dec("2.00"), Max: dec("100.00")},
		"INR": {Fixed: dec("20.00"), PercentBps: 18, Min: dec("25.00"), Max: dec("800.00")},
		"VND": {Fixed: dec("20000"), PercentBps: 22, Min: dec("30000"), Max: dec("2000000")},
		"JPY": {Fixed: dec("150"), PercentBps: 12, Min: dec("200"), Max: dec("15000")},
		"USD": {Fixed: dec("1.00"), PercentBps: 20, Min: dec("1.50"), Max: dec("50.00")},
		"EUR": {Fixed: dec("1.00"), PercentBps: 20, Min: dec("1.50"), Max: dec("50.00")},
	}
	destinationFeeTablesMu sync.RWMutex

	// Fallback for currencies without a table: percent-only, unclamped.
	fallbackFeeTable = FeeTable{PercentBps: 25}
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: bad fee constant %q: %v", s, err))
	}
	return d
}

// DestinationFeeTable returns the fee table for a payout currency and
// whether an explicit table exists.
func DestinationFeeTable(currency string) (FeeTable, bool) {
	destinationFeeTablesMu.RLock()
	t, ok := destinationFeeTables[currency]
	destinationFeeTablesMu.RUnlock()
	if !ok {
		return fallbackFeeTable, false
	}
	return t, true
}

// SetDestinationFeeTable overrides the fee table for a payout currency.
func SetDestinationFeeTable(currency string, t FeeTable) {
	destinationFeeTablesMu.Lock()
	destinationFeeTables[currency] = t
	destinationFeeTablesMu.Unlock()
}

// DestinationFee computes the destination PSP's fee on a gross payout,
// quantized half-even to the payout currency's scale.
//
// Example: DestinationFee(25720.70, "THB") → 35.72
func DestinationFee(grossPayout decimal.Decimal, currency string) decimal.Decimal {
	t, _ := DestinationFeeTable(currency)
	return Quantize(t.apply(grossPayout), currency)
}

// SourcePspFee computes the source PSP's fee on the sender principal for
// the selected schedule, quantized to the source currency's scale.
func SourcePspFee(principal decimal.Decimal, currency string, feeType SourceFeeType) decimal.Decimal {
	var bps int64
	switch feeType {
	case SourceFeePremium:
		bps = sourceFeePremiumBps
	case SourceFeeWaived:
		return Quantize(decimal.Zero, currency)
	default:
		bps = sourceFeeStandardBps
	}
	return Quantize(applyBps(principal, bps), currency)
}

// SchemeFee computes the scheme's fee on the sender principal, quantized
// to the source currency's scale.
func SchemeFee(principal decimal.Decimal, currency string) decimal.Decimal {
	return Quantize(applyBps(principal, schemeFeeBps), currency)
}

func (t FeeTable) apply(gross decimal.Decimal) decimal.Decimal {
	fee := t.Fixed.Add(applyBps(gross, t.PercentBps))
	if fee.LessThan(t.Min) {
		fee = t.Min
	}
	if t.Max.IsPositive() && fee.GreaterThan(t.Max) {
		fee = t.Max
	}
	return fee
}

func applyBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return amount.Mul(decimal.New(bps, -4))
}
