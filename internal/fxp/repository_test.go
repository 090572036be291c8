package fxp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/money"
)

func testConfig() config.FXPConfig {
	return config.FXPConfig{
		Source: "yaml",
		Providers: []config.FXPProvider{
			{
				ID:   "fxp-alpha",
				Name: "Alpha FX",
				Corridors: []config.CorridorRate{
					{SourceCurrency: "SGD", DestinationCurrency: "THB", BaseRate: "25.85", BaseSpreadBps: 50},
					{SourceCurrency: "SGD", DestinationCurrency: "PHP", BaseRate: "43.20", BaseSpreadBps: 55},
				},
				SAPs: []config.SAPAccount{
					{BIC: "KASITHBKXXX", Account: "SAP-THB-001", Currency: "THB", Country: "TH"},
					{BIC: "DBSSSGSGXXX", Account: "SAP-SGD-001", Currency: "SGD", Country: "SG"},
				},
			},
			{
				ID:   "fxp-beta",
				Name: "Beta FX",
				Corridors: []config.CorridorRate{
					// Better mid-market rate but a wider spread
					{SourceCurrency: "SGD", DestinationCurrency: "THB", BaseRate: "25.90", BaseSpreadBps: 90},
				},
			},
		},
		Tiers: []config.ImprovementTier{
			{MinimumAmount: "50000", ImprovementBps: 10},
			{MinimumAmount: "10000", ImprovementBps: 5},
		},
		PSPImprovements: map[string]int{"dbsssgsgxxx": 5},
	}
}

func TestYAMLRepositoryCorridors(t *testing.T) {
	repo := NewYAMLRepository(testConfig())
	ctx := context.Background()

	book, err := repo.Corridors(ctx)
	if err != nil {
		t.Fatalf("Corridors: %v", err)
	}
	if len(book) != 3 {
		t.Fatalf("expected 3 corridors in the book, got %d", len(book))
	}

	corridors, err := repo.CorridorsFor(ctx, "sgd", "thb")
	if err != nil {
		t.Fatalf("CorridorsFor: %v", err)
	}
	if len(corridors) != 2 {
		t.Fatalf("expected 2 providers for SGD->THB, got %d", len(corridors))
	}

	if _, err := repo.CorridorsFor(ctx, "SGD", "EUR"); !errors.Is(err, ErrCorridorNotFound) {
		t.Errorf("expected ErrCorridorNotFound for unsupported pair, got %v", err)
	}
}

func TestYAMLRepositoryTiersSorted(t *testing.T) {
	repo := NewYAMLRepository(testConfig())

	tiers, err := repo.Tiers(context.Background())
	if err != nil {
		t.Fatalf("Tiers: %v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %d", len(tiers))
	}
	if !tiers[0].MinimumAmount.Equal(money.MustParse("10000")) {
		t.Errorf("tiers not sorted ascending: first threshold %s", tiers[0].MinimumAmount)
	}
	if tiers[1].ImprovementBps != 10 {
		t.Errorf("expected 10 bps at the top tier, got %d", tiers[1].ImprovementBps)
	}
}

func TestYAMLRepositoryPSPImprovementCaseInsensitive(t *testing.T) {
	repo := NewYAMLRepository(testConfig())

	bps, err := repo.PSPImprovementBps(context.Background(), "DBSSSGSGXXX")
	if err != nil {
		t.Fatalf("PSPImprovementBps: %v", err)
	}
	if bps != 5 {
		t.Errorf("expected 5 bps for configured PSP, got %d", bps)
	}

	bps, err = repo.PSPImprovementBps(context.Background(), "UNKNOWNBIC")
	if err != nil {
		t.Fatalf("PSPImprovementBps: %v", err)
	}
	if bps != 0 {
		t.Errorf("expected 0 bps for unknown PSP, got %d", bps)
	}
}

func TestYAMLRepositorySAPs(t *testing.T) {
	repo := NewYAMLRepository(testConfig())

	saps, err := repo.SAPsFor(context.Background(), "fxp-alpha", "THB")
	if err != nil {
		t.Fatalf("SAPsFor: %v", err)
	}
	if len(saps) != 1 || saps[0].BIC != "KASITHBKXXX" {
		t.Fatalf("expected the THB settlement account, got %+v", saps)
	}

	saps, err = repo.SAPsFor(context.Background(), "fxp-beta", "THB")
	if err != nil {
		t.Fatalf("SAPsFor: %v", err)
	}
	if len(saps) != 0 {
		t.Errorf("fxp-beta holds no THB accounts, got %+v", saps)
	}
}

func TestYAMLRepositorySkipsInvalidEntries(t *testing.T) {
	cfg := config.FXPConfig{
		Providers: []config.FXPProvider{
			{
				ID: "fxp-bad",
				Corridors: []config.CorridorRate{
					{SourceCurrency: "SGD", DestinationCurrency: "THB", BaseRate: "not-a-number", BaseSpreadBps: 50},
					{SourceCurrency: "SGD", DestinationCurrency: "PHP", BaseRate: "-1", BaseSpreadBps: 50},
					{SourceCurrency: "SGD", DestinationCurrency: "MYR", BaseRate: "3.28", BaseSpreadBps: 45},
				},
			},
		},
		Tiers: []config.ImprovementTier{
			{MinimumAmount: "abc", ImprovementBps: 5},
		},
	}
	repo := NewYAMLRepository(cfg)

	book, err := repo.Corridors(context.Background())
	if err != nil {
		t.Fatalf("Corridors: %v", err)
	}
	if len(book) != 1 || book[0].DestinationCurrency != "MYR" {
		t.Fatalf("expected only the valid corridor to survive, got %+v", book)
	}

	tiers, _ := repo.Tiers(context.Background())
	if len(tiers) != 0 {
		t.Errorf("expected invalid tier to be skipped, got %+v", tiers)
	}
}

func TestBestCorridorPrefersHighestEffectiveRate(t *testing.T) {
	repo := NewYAMLRepository(testConfig())

	corridors, err := repo.CorridorsFor(context.Background(), "SGD", "THB")
	if err != nil {
		t.Fatalf("CorridorsFor: %v", err)
	}

	best, ok := BestCorridor(corridors)
	if !ok {
		t.Fatal("expected a best corridor")
	}
	// 25.85 at 50bps nets 25.720..., 25.90 at 90bps nets 25.666...
	if best.FXPID != "fxp-alpha" {
		t.Errorf("expected fxp-alpha to win on effective rate, got %s", best.FXPID)
	}

	if _, ok := BestCorridor(nil); ok {
		t.Error("BestCorridor of empty slice should report not ok")
	}
}

func TestCachedRepositoryServesFromCache(t *testing.T) {
	underlying := NewYAMLRepository(testConfig())
	counting := &countingRepository{Repository: underlying}
	cached := NewCachedRepository(counting, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := cached.CorridorsFor(ctx, "SGD", "THB"); err != nil {
			t.Fatalf("CorridorsFor: %v", err)
		}
	}
	if counting.corridorCalls != 1 {
		t.Errorf("expected 1 underlying call, got %d", counting.corridorCalls)
	}

	for i := 0; i < 3; i++ {
		if _, err := cached.Tiers(ctx); err != nil {
			t.Fatalf("Tiers: %v", err)
		}
	}
	if counting.tierCalls != 1 {
		t.Errorf("expected 1 underlying tier call, got %d", counting.tierCalls)
	}
}

// countingRepository counts pass-through calls for cache tests.
type countingRepository struct {
	Repository
	corridorCalls int
	tierCalls     int
}

func (c *countingRepository) CorridorsFor(ctx context.Context, source, destination string) ([]Corridor, error) {
	c.corridorCalls++
	return c.Repository.CorridorsFor(ctx, source, destination)
}

func (c *countingRepository) Tiers(ctx context.Context) ([]Tier, error) {
	c.tierCalls++
	return c.Repository.Tiers(ctx)
}
