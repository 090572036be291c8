package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NexusGateway/server/internal/money"
	"github.com/NexusGateway/server/internal/storage"
)

// Disclosure is the pre-transaction cost breakdown a sending PSP shows
// the debtor before submitting the instruction. Payout figures are read
// from the stored quote; only the sender-side fees are appended here.
type Disclosure struct {
	QuoteID             string `json:"quoteId"`
	FXPID               string `json:"fxpId"`
	SourceCurrency      string `json:"sourceCurrency"`
	DestinationCurrency string `json:"destinationCurrency"`

	BaseRate         decimal.Decimal `json:"baseRate"`
	FinalRate        decimal.Decimal `json:"finalRate"`
	AppliedSpreadBps int             `json:"appliedSpreadBps"`

	SourceInterbankAmount      decimal.Decimal `json:"sourceInterbankAmount"`
	DestinationInterbankAmount decimal.Decimal `json:"destinationInterbankAmount"`
	DestinationPspFee          decimal.Decimal `json:"destinationPspFee"`
	CreditorAccountAmount      decimal.Decimal `json:"creditorAccountAmount"`

	SourcePspFeeType money.SourceFeeType `json:"sourcePspFeeType"`
	SourcePspFee     decimal.Decimal     `json:"sourcePspFee"`
	SchemeFee        decimal.Decimal     `json:"schemeFee"`
	SenderTotal      decimal.Decimal     `json:"senderTotal"`

	EffectiveRate    decimal.Decimal `json:"effectiveRate"`
	TotalCostPercent decimal.Decimal `json:"totalCostPercent"`

	ExpiresAt time.Time `json:"expiresAt"`
}

// Disclose builds the disclosure for a stored quote. The payout side is
// taken verbatim from the record; sender fees use the requested source
// PSP schedule, defaulting to standard. The full breakdown is checked
// for coherence before it leaves the service.
func (s *Service) Disclose(ctx context.Context, quoteID string, feeType money.SourceFeeType) (Disclosure, error) {
	if feeType == "" {
		feeType = money.SourceFeeStandard
	}
	if !feeType.IsValid() {
		return Disclosure{}, fmt.Errorf("%w: sourcePspFeeType must be standard, premium, or waived", ErrInvalidRequest)
	}

	quote, err := s.Lookup(ctx, quoteID)
	if err != nil {
		return Disclosure{}, err
	}

	sourceFee := money.SourcePspFee(quote.SourceInterbank, quote.SourceCurrency, feeType)
	schemeFee := money.SchemeFee(quote.SourceInterbank, quote.SourceCurrency)
	senderTotal := quote.SourceInterbank.Add(sourceFee).Add(schemeFee)
	effectiveRate := money.QuantizeRate(quote.CreditorAmount.Div(senderTotal))

	violations := money.AssertInvariants(money.Breakdown{
		SourceCurrency:             quote.SourceCurrency,
		DestinationCurrency:        quote.DestinationCurrency,
		BaseRate:                   quote.BaseRate,
		FinalRate:                  quote.FinalRate,
		AppliedSpreadBps:           quote.AppliedSpreadBps,
		SourceInterbankAmount:      quote.SourceInterbank,
		DestinationInterbankAmount: quote.DestinationAmount,
		DestinationPspFee:          quote.DestinationPspFee,
		CreditorAccountAmount:      quote.CreditorAmount,
		SourcePspFee:               sourceFee,
		SchemeFee:                  schemeFee,
		SenderTotal:                senderTotal,
		EffectiveRate:              effectiveRate,
		HasSenderSide:              true,
	})
	if len(violations) > 0 {
		if s.metrics != nil {
			for _, v := range violations {
				s.metrics.ObserveInvariantViolation(v.Name)
			}
		}
		return Disclosure{}, &InvariantError{QuoteID: quote.ID, Violations: violations}
	}

	return Disclosure{
		QuoteID:                    quote.ID,
		FXPID:                      quote.FXPID,
		SourceCurrency:             quote.SourceCurrency,
		DestinationCurrency:        quote.DestinationCurrency,
		BaseRate:                   quote.BaseRate,
		FinalRate:                  quote.FinalRate,
		AppliedSpreadBps:           quote.AppliedSpreadBps,
		SourceInterbankAmount:      quote.SourceInterbank,
		DestinationInterbankAmount: quote.DestinationAmount,
		DestinationPspFee:          quote.DestinationPspFee,
		CreditorAccountAmount:      quote.CreditorAmount,
		SourcePspFeeType:           feeType,
		SourcePspFee:               sourceFee,
		SchemeFee:                  schemeFee,
		SenderTotal:                senderTotal,
		EffectiveRate:              effectiveRate,
		TotalCostPercent:           totalCostPercent(quote, senderTotal),
		ExpiresAt:                  quote.ExpiresAt,
	}, nil
}

// totalCostPercent expresses the all-in transfer cost against the
// principal: the gap between what the sender pays and what the creditor
// would receive at the mid-market rate, as a percentage. Truncated, so
// the published figure never understates the cost the sender sees.
func totalCostPercent(quote storage.Quote, senderTotal decimal.Decimal) decimal.Decimal {
	creditorAtMid := quote.CreditorAmount.Div(quote.BaseRate)
	cost := senderTotal.Sub(creditorAtMid)
	return money.QuantizeRate(cost.Div(quote.SourceInterbank).Mul(decimal.NewFromInt(100)))
}
