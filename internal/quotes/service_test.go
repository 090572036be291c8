package quotes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/fxp"
	"github.com/NexusGateway/server/internal/money"
	"github.com/NexusGateway/server/internal/storage"
)

func testRateBook() config.FXPConfig {
	return config.FXPConfig{
		Source: "yaml",
		Providers: []config.FXPProvider{
			{
				ID:   "fxp-alpha",
				Name: "Alpha FX",
				Corridors: []config.CorridorRate{
					{SourceCurrency: "SGD", DestinationCurrency: "THB", BaseRate: "25.85", BaseSpreadBps: 50},
					{SourceCurrency: "SGD", DestinationCurrency: "IDR", BaseRate: "11850.25", BaseSpreadBps: 65},
				},
				SAPs: []config.SAPAccount{
					{BIC: "KASITHBKXXX", Account: "SAP-THB-001", Currency: "THB", Country: "TH"},
					{BIC: "DBSSSGSGXXX", Account: "SAP-SGD-001", Currency: "SGD", Country: "SG"},
				},
			},
		},
		Tiers: []config.ImprovementTier{
			{MinimumAmount: "10000", ImprovementBps: 5},
			{MinimumAmount: "50000", ImprovementBps: 10},
		},
		PSPImprovements: map[string]int{"dbsssgsgxxx": 5},
	}
}

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	repo := fxp.NewYAMLRepository(testRateBook())
	svc := NewService(&config.Config{}, store, repo, nil)
	return svc, store
}

func TestCreateQuoteSourceFixed(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	quote, err := svc.CreateQuote(ctx, CreateRequest{
		SourceCurrency:      "SGD",
		DestinationCurrency: "THB",
		Amount:              decimal.RequireFromString("1000.00"),
		AmountType:          AmountTypeSourceFixed,
	})
	if err != nil {
		t.Fatalf("CreateQuote: %v", err)
	}

	if quote.FXPID != "fxp-alpha" {
		t.Errorf("expected fxp-alpha, got %s", quote.FXPID)
	}
	if quote.AppliedSpreadBps != 50 {
		t.Errorf("expected applied spread 50 bps, got %d", quote.AppliedSpreadBps)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"finalRate", quote.FinalRate, "25.7207"},
		{"sourceInterbank", quote.SourceInterbank, "1000.00"},
		{"destinationInterbank", quote.DestinationAmount, "25720.70"},
		{"destinationPspFee", quote.DestinationPspFee, "35.72"},
		{"creditorAccountAmount", quote.CreditorAmount, "25684.98"},
	}
	for _, c := range checks {
		if c.got.String() != c.want {
			t.Errorf("%s: expected %s, got %s", c.name, c.want, c.got)
		}
	}

	if win := quote.ExpiresAt.Sub(quote.CreatedAt); win != TTL {
		t.Errorf("expected %s validity window, got %s", TTL, win)
	}

	// The record must be retrievable under its id.
	stored, err := store.GetQuote(ctx, quote.ID)
	if err != nil {
		t.Fatalf("GetQuote after create: %v", err)
	}
	if !stored.CreditorAmount.Equal(quote.CreditorAmount) {
		t.Errorf("stored creditor amount %s differs from returned %s", stored.CreditorAmount, quote.CreditorAmount)
	}
}

func TestCreateQuoteDestinationFixedRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	quote, err := svc.CreateQuote(context.Background(), CreateRequest{
		SourceCurrency:      "SGD",
		DestinationCurrency: "THB",
		Amount:              decimal.RequireFromString("25720.70"),
		AmountType:          AmountTypeDestinationFixed,
	})
	if err != nil {
		t.Fatalf("CreateQuote: %v", err)
	}

	if quote.SourceInterbank.String() != "1000.00" {
		t.Errorf("expected source interbank 1000.00, got %s", quote.SourceInterbank)
	}

	// Converting the derived source amount forward must land back on the
	// fixed destination amount within the currency's scale tolerance.
	forward := money.Convert(quote.SourceInterbank, quote.FinalRate, "THB")
	if !money.WithinScaleTolerance(forward, quote.DestinationAmount, "THB") {
		t.Errorf("round trip %s -> %s exceeds scale tolerance", quote.DestinationAmount, forward)
	}
}

func TestCreateQuoteImprovements(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		amount      string
		pspBic      string
		wantApplied int
		wantRate    string
	}{
		{"no improvements", "1000.00", "", 50, "25.7207"},
		{"tier only", "10000.00", "", 45, "25.7336"},
		{"tier and psp", "10000.00", "DBSSSGSGXXX", 40, "25.7466"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := svc.CreateQuote(ctx, CreateRequest{
				SourceCurrency:      "SGD",
				DestinationCurrency: "THB",
				Amount:              decimal.RequireFromString(tt.amount),
				AmountType:          AmountTypeSourceFixed,
				PSPBic:              tt.pspBic,
			})
			if err != nil {
				t.Fatalf("CreateQuote: %v", err)
			}
			if quote.AppliedSpreadBps != tt.wantApplied {
				t.Errorf("expected applied spread %d, got %d", tt.wantApplied, quote.AppliedSpreadBps)
			}
			if quote.FinalRate.String() != tt.wantRate {
				t.Errorf("expected final rate %s, got %s", tt.wantRate, quote.FinalRate)
			}
			if quote.FinalRate.GreaterThan(quote.BaseRate) {
				t.Errorf("final rate %s exceeds base rate %s", quote.FinalRate, quote.BaseRate)
			}
		})
	}
}

func TestCreateQuoteSpreadFloorsAtZero(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()

	cfg := testRateBook()
	cfg.Providers[0].Corridors[0].BaseSpreadBps = 5
	cfg.Tiers = []config.ImprovementTier{{MinimumAmount: "100", ImprovementBps: 25}}
	svc := NewService(&config.Config{}, store, fxp.NewYAMLRepository(cfg), nil)

	quote, err := svc.CreateQuote(context.Background(), CreateRequest{
		SourceCurrency:      "SGD",
		DestinationCurrency: "THB",
		Amount:              decimal.RequireFromString("1000.00"),
		AmountType:          AmountTypeSourceFixed,
	})
	if err != nil {
		t.Fatalf("CreateQuote: %v", err)
	}
	if quote.AppliedSpreadBps != 0 {
		t.Errorf("expected spread floored at 0, got %d", quote.AppliedSpreadBps)
	}
	if !quote.FinalRate.Equal(quote.BaseRate) {
		t.Errorf("expected final rate to equal base rate %s, got %s", quote.BaseRate, quote.FinalRate)
	}
}

func TestCreateQuoteValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	valid := CreateRequest{
		SourceCurrency:      "SGD",
		DestinationCurrency: "THB",
		Amount:              decimal.RequireFromString("1000.00"),
		AmountType:          AmountTypeSourceFixed,
	}

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"lowercase source currency", func(r *CreateRequest) { r.SourceCurrency = "sgd" }},
		{"short destination currency", func(r *CreateRequest) { r.DestinationCurrency = "TH" }},
		{"same currencies", func(r *CreateRequest) { r.DestinationCurrency = "SGD" }},
		{"zero amount", func(r *CreateRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *CreateRequest) { r.Amount = decimal.RequireFromString("-5") }},
		{"sub-cent precision", func(r *CreateRequest) { r.Amount = decimal.RequireFromString("1000.005") }},
		{"unknown amount type", func(r *CreateRequest) { r.AmountType = "BOTH_FIXED" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			if _, err := svc.CreateQuote(ctx, req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestCreateQuoteCorridorUnavailable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateQuote(ctx, CreateRequest{
		SourceCurrency:      "SGD",
		DestinationCurrency: "EUR",
		Amount:              decimal.RequireFromString("100.00"),
		AmountType:          AmountTypeSourceFixed,
	})
	if !errors.Is(err, ErrCorridorUnavailable) {
		t.Fatalf("expected ErrCorridorUnavailable, got %v", err)
	}

	// A preference for a provider that does not quote the pair fails the
	// same way even though another provider could serve it.
	_, err = svc.CreateQuote(ctx, CreateRequest{
		SourceCurrency:      "SGD",
		DestinationCurrency: "THB",
		Amount:              decimal.RequireFromString("100.00"),
		AmountType:          AmountTypeSourceFixed,
		FXPPreference:       "fxp-nonexistent",
	})
	if !errors.Is(err, ErrCorridorUnavailable) {
		t.Fatalf("expected ErrCorridorUnavailable for unknown preference, got %v", err)
	}
}

func TestLookupDistinguishesAbsentFromExpired(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Lookup(ctx, "not-a-uuid"); !errors.Is(err, ErrInvalidQuoteID) {
		t.Errorf("expected ErrInvalidQuoteID, got %v", err)
	}
	if _, err := svc.Lookup(ctx, uuid.NewString()); !errors.Is(err, ErrQuoteNotFound) {
		t.Errorf("expected ErrQuoteNotFound, got %v", err)
	}

	expired := storage.Quote{
		ID:                  uuid.NewString(),
		FXPID:               "fxp-alpha",
		SourceCurrency:      "SGD",
		DestinationCurrency: "THB",
		FinalRate:           decimal.RequireFromString("25.7207"),
		CreatedAt:           time.Now().Add(-11 * time.Minute),
		ExpiresAt:           time.Now().Add(-1 * time.Minute),
	}
	if err := store.SaveQuote(ctx, expired); err != nil {
		t.Fatalf("SaveQuote: %v", err)
	}
	if _, err := svc.Lookup(ctx, expired.ID); !errors.Is(err, ErrQuoteExpired) {
		t.Errorf("expected ErrQuoteExpired, got %v", err)
	}
}

func TestIntermediaryAgentsBothLegs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	quote, err := svc.CreateQuote(ctx, CreateRequest{
		SourceCurrency:      "SGD",
		DestinationCurrency: "THB",
		Amount:              decimal.RequireFromString("1000.00"),
		AmountType:          AmountTypeSourceFixed,
	})
	if err != nil {
		t.Fatalf("CreateQuote: %v", err)
	}

	agents, err := svc.IntermediaryAgents(ctx, quote.ID)
	if err != nil {
		t.Fatalf("IntermediaryAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected one agent per settlement leg, got %d", len(agents))
	}
	if agents[0].Role != RoleSourceSettlement || agents[0].Currency != "SGD" {
		t.Errorf("unexpected source leg: %+v", agents[0])
	}
	if agents[1].Role != RoleDestinationSettlement || agents[1].Currency != "THB" {
		t.Errorf("unexpected destination leg: %+v", agents[1])
	}
	if !strings.HasPrefix(agents[1].Account, "SAP-THB") {
		t.Errorf("expected THB settlement account, got %s", agents[1].Account)
	}
}

func TestTierImprovementPicksHighestQualifying(t *testing.T) {
	tiers := []fxp.Tier{
		{MinimumAmount: decimal.RequireFromString("10000"), ImprovementBps: 5},
		{MinimumAmount: decimal.RequireFromString("50000"), ImprovementBps: 10},
	}

	tests := []struct {
		amount string
		want   int
	}{
		{"9999.99", 0},
		{"10000", 5},
		{"49999.99", 5},
		{"50000", 10},
		{"250000", 10},
	}
	for _, tt := range tests {
		got := tierImprovement(tiers, decimal.RequireFromString(tt.amount))
		if got != tt.want {
			t.Errorf("tierImprovement(%s): expected %d, got %d", tt.amount, tt.want, got)
		}
	}
}

func TestCorridorsDeduplicatesAndSorts(t *testing.T) {
	svc, _ := newTestService(t)

	infos, err := svc.Corridors(context.Background())
	if err != nil {
		t.Fatalf("Corridors: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 corridors, got %d", len(infos))
	}
	if infos[0].DestinationCurrency != "IDR" || infos[1].DestinationCurrency != "THB" {
		t.Errorf("expected sorted pairs IDR then THB, got %+v", infos)
	}
	for _, info := range infos {
		if info.SourceCurrency != "SGD" {
			t.Errorf("unexpected source currency %q", info.SourceCurrency)
		}
		if info.Providers != 1 {
			t.Errorf("%s/%s: expected 1 provider, got %d",
				info.SourceCurrency, info.DestinationCurrency, info.Providers)
		}
	}
}
