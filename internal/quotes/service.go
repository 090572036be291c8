// Package quotes prices currency corridors into bindable FX quotes and
// builds the pre-transaction disclosure views derived from them. A quote
// is immutable once stored; every later amount check binds against the
// stored figures, never against a recomputation.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/fxp"
	"github.com/NexusGateway/server/internal/metrics"
	"github.com/NexusGateway/server/internal/money"
	"github.com/NexusGateway/server/internal/storage"
)

// TTL is the quote validity window. Expiry makes a quote unbindable but
// the record is kept.
const TTL = 600 * time.Second

// Amount types accepted on quote creation.
const (
	AmountTypeSourceFixed      = "SOURCE_FIXED"
	AmountTypeDestinationFixed = "DESTINATION_FIXED"
)

var (
	// ErrInvalidRequest wraps every request-shape failure; the message
	// names the offending field.
	ErrInvalidRequest = errors.New("invalid quote request")

	// ErrInvalidQuoteID occurs when a quote lookup id is not a UUID.
	ErrInvalidQuoteID = errors.New("quote id must be a UUID")

	// ErrQuoteNotFound occurs when no quote exists under the id.
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrQuoteExpired occurs when the quote exists but its validity
	// window has passed.
	ErrQuoteExpired = errors.New("quote expired")

	// ErrCorridorUnavailable occurs when no provider quotes the
	// requested currency pair.
	ErrCorridorUnavailable = errors.New("no FX provider quotes this corridor")
)

// InvariantError reports a quote whose disclosed figures failed the
// money kernel's coherence checks. Handlers log the detail and return a
// generic failure; the violations never reach clients.
type InvariantError struct {
	QuoteID    string
	Violations []money.Violation
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("quote %s violates %d invariant(s): %v", e.QuoteID, len(e.Violations), e.Violations)
}

// CreateRequest is the quote creation input.
type CreateRequest struct {
	SourceCurrency      string          `json:"sourceCurrency"`
	DestinationCurrency string          `json:"destinationCurrency"`
	Amount              decimal.Decimal `json:"amount"`
	AmountType          string          `json:"amountType"`

	// FXPPreference pins the quote to one provider instead of the
	// best-rate routing policy.
	FXPPreference string `json:"fxpPreference,omitempty"`

	// PSPBic identifies the instructing PSP for relationship-based
	// spread improvements.
	PSPBic string `json:"pspBic,omitempty"`
}

// Validate checks request shape. Amount precision is checked against the
// scale of the currency the amount is denominated in.
func (r CreateRequest) Validate() error {
	if !isCurrencyCode(r.SourceCurrency) {
		return fmt.Errorf("%w: sourceCurrency must be a 3-letter ISO 4217 code", ErrInvalidRequest)
	}
	if !isCurrencyCode(r.DestinationCurrency) {
		return fmt.Errorf("%w: destinationCurrency must be a 3-letter ISO 4217 code", ErrInvalidRequest)
	}
	if r.SourceCurrency == r.DestinationCurrency {
		return fmt.Errorf("%w: sourceCurrency and destinationCurrency must differ", ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	switch r.AmountType {
	case AmountTypeSourceFixed:
		if !fitsScale(r.Amount, r.SourceCurrency) {
			return fmt.Errorf("%w: amount exceeds %s scale of %d decimal places",
				ErrInvalidRequest, r.SourceCurrency, money.Scale(r.SourceCurrency))
		}
	case AmountTypeDestinationFixed:
		if !fitsScale(r.Amount, r.DestinationCurrency) {
			return fmt.Errorf("%w: amount exceeds %s scale of %d decimal places",
				ErrInvalidRequest, r.DestinationCurrency, money.Scale(r.DestinationCurrency))
		}
	default:
		return fmt.Errorf("%w: amountType must be SOURCE_FIXED or DESTINATION_FIXED", ErrInvalidRequest)
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// fitsScale reports whether d carries no more decimal places than the
// currency allows.
func fitsScale(d decimal.Decimal, currency string) bool {
	return -d.Exponent() <= money.Scale(currency)
}

// Service prices corridors into quotes and serves lookups against the
// stored records.
type Service struct {
	cfg     *config.Config
	store   storage.Store
	rates   fxp.Repository
	metrics *metrics.Metrics
}

// NewService constructs a quote service over a rate book and a store.
func NewService(cfg *config.Config, store storage.Store, rates fxp.Repository, metricsCollector *metrics.Metrics) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		rates:   rates,
		metrics: metricsCollector,
	}
}

// CreateQuote selects a provider for the corridor, applies spread
// improvements, derives both interbank amounts and the payout split,
// and persists the result with a 600 second validity window.
func (s *Service) CreateQuote(ctx context.Context, req CreateRequest) (storage.Quote, error) {
	if err := req.Validate(); err != nil {
		return storage.Quote{}, err
	}

	corridors, err := s.rates.CorridorsFor(ctx, req.SourceCurrency, req.DestinationCurrency)
	if err != nil {
		if errors.Is(err, fxp.ErrCorridorNotFound) {
			return storage.Quote{}, fmt.Errorf("%w: %s to %s", ErrCorridorUnavailable, req.SourceCurrency, req.DestinationCurrency)
		}
		return storage.Quote{}, fmt.Errorf("load corridors: %w", err)
	}
	if req.FXPPreference != "" {
		preferred := corridors[:0:0]
		for _, c := range corridors {
			if c.FXPID == req.FXPPreference {
				preferred = append(preferred, c)
			}
		}
		if len(preferred) == 0 {
			return storage.Quote{}, fmt.Errorf("%w: provider %s does not quote %s to %s",
				ErrCorridorUnavailable, req.FXPPreference, req.SourceCurrency, req.DestinationCurrency)
		}
		corridors = preferred
	}

	corridor, ok := fxp.BestCorridor(corridors)
	if !ok {
		return storage.Quote{}, fmt.Errorf("%w: %s to %s", ErrCorridorUnavailable, req.SourceCurrency, req.DestinationCurrency)
	}

	// Tier improvements key off the source-side size. For destination
	// fixed requests the source amount is estimated at the base rate;
	// the binding amount is still derived from the final rate below.
	sourceForTier := req.Amount
	if req.AmountType == AmountTypeDestinationFixed {
		sourceForTier = req.Amount.Div(corridor.BaseRate)
	}

	tiers, err := s.rates.Tiers(ctx)
	if err != nil {
		return storage.Quote{}, fmt.Errorf("load tiers: %w", err)
	}
	tierBps := tierImprovement(tiers, sourceForTier)

	pspBps := 0
	if req.PSPBic != "" {
		pspBps, err = s.rates.PSPImprovementBps(ctx, req.PSPBic)
		if err != nil {
			return storage.Quote{}, fmt.Errorf("load psp improvement: %w", err)
		}
	}

	appliedBps := corridor.BaseSpreadBps - tierBps - pspBps
	if appliedBps < 0 {
		appliedBps = 0
	}

	spread := decimal.NewFromInt(int64(appliedBps)).Div(decimal.NewFromInt(10000))
	finalRate := money.QuantizeRate(corridor.BaseRate.Mul(decimal.NewFromInt(1).Sub(spread)))

	var sourceInterbank, destinationInterbank decimal.Decimal
	switch req.AmountType {
	case AmountTypeSourceFixed:
		sourceInterbank = money.Quantize(req.Amount, req.SourceCurrency)
		destinationInterbank = money.Convert(sourceInterbank, finalRate, req.DestinationCurrency)
	case AmountTypeDestinationFixed:
		destinationInterbank = money.Quantize(req.Amount, req.DestinationCurrency)
		sourceInterbank, err = money.ConvertBack(destinationInterbank, finalRate, req.SourceCurrency)
		if err != nil {
			return storage.Quote{}, fmt.Errorf("derive source amount: %w", err)
		}
	}

	destinationFee := money.DestinationFee(destinationInterbank, req.DestinationCurrency)
	creditorAmount := destinationInterbank.Sub(destinationFee)

	now := time.Now().UTC()
	quote := storage.Quote{
		ID:                  uuid.NewString(),
		FXPID:               corridor.FXPID,
		SourceCurrency:      req.SourceCurrency,
		DestinationCurrency: req.DestinationCurrency,
		RequestedAmount:     req.Amount,
		AmountType:          req.AmountType,
		BaseRate:            corridor.BaseRate,
		FinalRate:           finalRate,
		BaseSpreadBps:       corridor.BaseSpreadBps,
		TierImprovement:     tierBps,
		PSPImprovement:      pspBps,
		AppliedSpreadBps:    appliedBps,
		SourceInterbank:     sourceInterbank,
		DestinationAmount:   destinationInterbank,
		DestinationPspFee:   destinationFee,
		CreditorAmount:      creditorAmount,
		CreatedAt:           now,
		ExpiresAt:           now.Add(TTL),
	}

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
	})
	if len(violations) > 0 {
		if s.metrics != nil {
			for _, v := range violations {
				s.metrics.ObserveInvariantViolation(v.Name)
			}
		}
		return storage.Quote{}, &InvariantError{QuoteID: quote.ID, Violations: violations}
	}

	if err := s.store.SaveQuote(ctx, quote); err != nil {
		return storage.Quote{}, fmt.Errorf("save quote: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveQuoteCreated(quote.SourceCurrency, quote.DestinationCurrency)
	}
	return quote, nil
}

// Lookup fetches a quote by id, distinguishing absent from expired.
// Expired quotes return ErrQuoteExpired; the record itself stays stored.
func (s *Service) Lookup(ctx context.Context, quoteID string) (storage.Quote, error) {
	if _, err := uuid.Parse(quoteID); err != nil {
		return storage.Quote{}, fmt.Errorf("%w: %q", ErrInvalidQuoteID, quoteID)
	}

	quote, err := s.store.GetQuote(ctx, quoteID)
	if errors.Is(err, storage.ErrNotFound) {
		if s.metrics != nil {
			s.metrics.ObserveQuoteLookup("miss")
		}
		return storage.Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, quoteID)
	}
	if err != nil {
		return storage.Quote{}, fmt.Errorf("get quote: %w", err)
	}

	if quote.Expired(time.Now().UTC()) {
		if s.metrics != nil {
			s.metrics.ObserveQuoteLookup("expired")
		}
		return storage.Quote{}, fmt.Errorf("%w: %s", ErrQuoteExpired, quoteID)
	}
	if s.metrics != nil {
		s.metrics.ObserveQuoteLookup("hit")
	}
	return quote, nil
}

// IntermediaryAgent is one settlement account a payment routed through
// the quote's FXP touches.
type IntermediaryAgent struct {
	Role     string `json:"role"`
	BIC      string `json:"bic"`
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Country  string `json:"country,omitempty"`
}

// Settlement legs reported by IntermediaryAgents.
const (
	RoleSourceSettlement      = "SOURCE_SETTLEMENT"
	RoleDestinationSettlement = "DESTINATION_SETTLEMENT"
)

// IntermediaryAgents lists the settlement access provider accounts the
// quote's FXP holds on both legs of the corridor. Lookup semantics match
// Lookup, including expiry.
func (s *Service) IntermediaryAgents(ctx context.Context, quoteID string) ([]IntermediaryAgent, error) {
	quote, err := s.Lookup(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	var agents []IntermediaryAgent
	for _, leg := range []struct {
		role     string
		currency string
	}{
		{RoleSourceSettlement, quote.SourceCurrency},
		{RoleDestinationSettlement, quote.DestinationCurrency},
	} {
		saps, err := s.rates.SAPsFor(ctx, quote.FXPID, leg.currency)
		if err != nil {
			return nil, fmt.Errorf("load settlement accounts: %w", err)
		}
		for _, sap := range saps {
			agents = append(agents, IntermediaryAgent{
				Role:     leg.role,
				BIC:      sap.BIC,
				Account:  sap.Account,
				Currency: sap.Currency,
				Country:  sap.Country,
			})
		}
	}
	return agents, nil
}

// CorridorInfo is one quotable currency pair in the published rate
// book, with the number of providers competing on it.
type CorridorInfo struct {
	SourceCurrency      string `json:"sourceCurrency"`
	DestinationCurrency string `json:"destinationCurrency"`
	Providers           int    `json:"providers"`
}

// Corridors lists the currency pairs at least one FX provider quotes,
// deduplicated across providers and sorted for stable output. The
// discovery document serves this so PSPs can tell reachable corridors
// apart before requesting quotes.
func (s *Service) Corridors(ctx context.Context) ([]CorridorInfo, error) {
	book, err := s.rates.Corridors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate book: %w", err)
	}

	counts := make(map[string]int, len(book))
	for _, c := range book {
		counts[c.SourceCurrency+"/"+c.DestinationCurrency]++
	}

	pairs := make([]string, 0, len(counts))
	for pair := range counts {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	infos := make([]CorridorInfo, 0, len(pairs))
	for _, pair := range pairs {
		src, dst, _ := strings.Cut(pair, "/")
		infos = append(infos, CorridorInfo{
			SourceCurrency:      src,
			DestinationCurrency: dst,
			Providers:           counts[pair],
		})
	}
	return infos, nil
}

// tierImprovement returns the improvement of the highest tier the source
// amount qualifies for. Tiers do not stack.
func tierImprovement(tiers []fxp.Tier, sourceAmount decimal.Decimal) int {
	best := 0
	for _, t := range tiers {
		if sourceAmount.GreaterThanOrEqual(t.MinimumAmount) && t.ImprovementBps > best {
			best = t.ImprovementBps
		}
	}
	return best
}
