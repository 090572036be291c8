package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Check tolerances. Amount decompositions may drift by one cent-equivalent
// from intermediate rounding; rates by one unit in the fourth place.
var (
	AmountTolerance = decimal.New(1, -2) // 0.01
	RateTolerance   = decimal.New(1, -4) // 0.0001
)

// Violation names a broken invariant with enough detail to pin down the
// offending quote in logs.
type Violation struct {
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	return v.Name + ": " + v.Detail
}

// Breakdown carries every figure a quote discloses. Sender-side fields
// are meaningful only when HasSenderSide is set; quote creation checks
// the payout side alone, disclosure checks both.
type Breakdown struct {
	SourceCurrency      string
	DestinationCurrency string

	BaseRate         decimal.Decimal
	FinalRate        decimal.Decimal
	AppliedSpreadBps int

	SourceInterbankAmount      decimal.Decimal
	DestinationInterbankAmount decimal.Decimal
	DestinationPspFee          decimal.Decimal
	CreditorAccountAmount      decimal.Decimal

	SourcePspFee  decimal.Decimal
	SchemeFee     decimal.Decimal
	SenderTotal   decimal.Decimal
	EffectiveRate decimal.Decimal
	HasSenderSide bool
}

// AssertInvariants checks a breakdown and returns every violated
// invariant. An empty result means the figures are internally coherent.
func AssertInvariants(b Breakdown) []Violation {
	var out []Violation

	positive := func(field string, d decimal.Decimal) {
		if !d.IsPositive() {
			out = append(out, Violation{
				Name:   "positivity",
				Detail: fmt.Sprintf("%s must be strictly positive, got %s", field, d),
			})
		}
	}
	nonNegative := func(field string, d decimal.Decimal) {
		if d.IsNegative() {
			out = append(out, Violation{
				Name:   "positivity",
				Detail: fmt.Sprintf("%s must not be negative, got %s", field, d),
			})
		}
	}

	positive("baseRate", b.BaseRate)
	positive("finalRate", b.FinalRate)
	positive("sourceInterbankAmount", b.SourceInterbankAmount)
	positive("destinationInterbankAmount", b.DestinationInterbankAmount)
	positive("creditorAccountAmount", b.CreditorAccountAmount)
	nonNegative("destinationPspFee", b.DestinationPspFee)

	// Payout decomposition: gross payout splits into the creditor credit
	// and the destination PSP fee.
	payoutDiff := b.DestinationInterbankAmount.Sub(b.CreditorAccountAmount.Add(b.DestinationPspFee)).Abs()
	if payoutDiff.GreaterThan(AmountTolerance) {
		out = append(out, Violation{
			Name: "payout_decomposition",
			Detail: fmt.Sprintf("destinationInterbankAmount %s != creditorAccountAmount %s + destinationPspFee %s (diff %s)",
				b.DestinationInterbankAmount, b.CreditorAccountAmount, b.DestinationPspFee, payoutDiff),
		})
	}

	// Spread sign: a non-negative applied spread can only lower the rate.
	if b.AppliedSpreadBps >= 0 && b.FinalRate.GreaterThan(b.BaseRate) {
		out = append(out, Violation{
			Name:   "spread_sign",
			Detail: fmt.Sprintf("finalRate %s exceeds baseRate %s with spread %d bps", b.FinalRate, b.BaseRate, b.AppliedSpreadBps),
		})
	}

	if b.HasSenderSide {
		nonNegative("sourcePspFee", b.SourcePspFee)
		nonNegative("schemeFee", b.SchemeFee)
		positive("senderTotal", b.SenderTotal)
		positive("effectiveRate", b.EffectiveRate)

		// Sender decomposition: what the sender pays splits into principal
		// and the two source-side fees.
		senderDiff := b.SenderTotal.Sub(b.SourceInterbankAmount.Add(b.SourcePspFee).Add(b.SchemeFee)).Abs()
		if senderDiff.GreaterThan(AmountTolerance) {
			out = append(out, Violation{
				Name: "sender_decomposition",
				Detail: fmt.Sprintf("senderTotal %s != sourceInterbankAmount %s + sourcePspFee %s + schemeFee %s (diff %s)",
					b.SenderTotal, b.SourceInterbankAmount, b.SourcePspFee, b.SchemeFee, senderDiff),
			})
		}

		// Effective rate: the all-in rate the sender actually receives.
		if b.SenderTotal.IsPositive() {
			rateDiff := b.EffectiveRate.Sub(b.CreditorAccountAmount.Div(b.SenderTotal)).Abs()
			if rateDiff.GreaterThan(RateTolerance) {
				out = append(out, Violation{
					Name: "effective_rate",
					Detail: fmt.Sprintf("effectiveRate %s != creditorAccountAmount %s / senderTotal %s (diff %s)",
						b.EffectiveRate, b.CreditorAccountAmount, b.SenderTotal, rateDiff),
				})
			}
		}
	}

	return out
}
