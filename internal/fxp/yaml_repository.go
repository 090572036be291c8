package fxp

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/money"
)

// YAMLRepository serves the rate book from in-memory YAML config. It is
// read-only; rate changes require a config reload.
type YAMLRepository struct {
	corridors    []Corridor
	tiers        []Tier
	improvements map[string]int // instructing PSP BIC -> bps
	saps         []SAP
}

// NewYAMLRepository builds a repository from config. Entries with
// unparseable amounts are skipped with a warning rather than failing
// the whole book.
func NewYAMLRepository(cfg config.FXPConfig) *YAMLRepository {
	r := &YAMLRepository{
		improvements: make(map[string]int),
	}

	for _, provider := range cfg.Providers {
		for _, c := range provider.Corridors {
			rate, err := money.ParsePositive(c.BaseRate)
			if err != nil {
				log.Warn().
					Str("fxp", provider.ID).
					Str("corridor", c.SourceCurrency+"->"+c.DestinationCurrency).
					Str("base_rate", c.BaseRate).
					Msg("fxp: skipping corridor with invalid base rate")
				continue
			}
			r.corridors = append(r.corridors, Corridor{
				FXPID:               provider.ID,
				FXPName:             provider.Name,
				SourceCurrency:      strings.ToUpper(c.SourceCurrency),
				DestinationCurrency: strings.ToUpper(c.DestinationCurrency),
				BaseRate:            rate,
				BaseSpreadBps:       c.BaseSpreadBps,
			})
		}
		for _, s := range provider.SAPs {
			r.saps = append(r.saps, SAP{
				FXPID:    provider.ID,
				BIC:      s.BIC,
				Account:  s.Account,
				Currency: strings.ToUpper(s.Currency),
				Country:  s.Country,
			})
		}
	}

	for _, t := range cfg.Tiers {
		minimum, err := money.ParsePositive(t.MinimumAmount)
		if err != nil {
			log.Warn().
				Str("minimum_amount", t.MinimumAmount).
				Msg("fxp: skipping tier with invalid minimum amount")
			continue
		}
		r.tiers = append(r.tiers, Tier{
			MinimumAmount:  minimum,
			ImprovementBps: t.ImprovementBps,
		})
	}
	sort.Slice(r.tiers, func(i, j int) bool {
		return r.tiers[i].MinimumAmount.LessThan(r.tiers[j].MinimumAmount)
	})

	for bic, bps := range cfg.PSPImprovements {
		r.improvements[strings.ToUpper(bic)] = bps
	}

	return r
}

// Corridors returns the full published rate book.
func (r *YAMLRepository) Corridors(_ context.Context) ([]Corridor, error) {
	out := make([]Corridor, len(r.corridors))
	copy(out, r.corridors)
	return out, nil
}

// CorridorsFor returns every provider quoting the pair.
func (r *YAMLRepository) CorridorsFor(_ context.Context, sourceCurrency, destinationCurrency string) ([]Corridor, error) {
	source := strings.ToUpper(sourceCurrency)
	destination := strings.ToUpper(destinationCurrency)

	var out []Corridor
	for _, c := range r.corridors {
		if c.SourceCurrency == source && c.DestinationCurrency == destination {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, ErrCorridorNotFound
	}
	return out, nil
}

// Tiers returns the improvement ladder sorted by ascending threshold.
func (r *YAMLRepository) Tiers(_ context.Context) ([]Tier, error) {
	out := make([]Tier, len(r.tiers))
	copy(out, r.tiers)
	return out, nil
}

// PSPImprovementBps returns the relationship improvement for a PSP.
func (r *YAMLRepository) PSPImprovementBps(_ context.Context, bic string) (int, error) {
	return r.improvements[strings.ToUpper(bic)], nil
}

// SAPsFor lists the settlement accounts an FXP holds in a currency.
func (r *YAMLRepository) SAPsFor(_ context.Context, fxpID, currency string) ([]SAP, error) {
	cur := strings.ToUpper(currency)

	var out []SAP
	for _, s := range r.saps {
		if s.FXPID == fxpID && s.Currency == cur {
			out = append(out, s)
		}
	}
	return out, nil
}

// Close is a no-op for the YAML repository.
func (r *YAMLRepository) Close() error {
	return nil
}

var _ Repository = (*YAMLRepository)(nil)
