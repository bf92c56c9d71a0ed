package tariff

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hivedesk/membership-backend/internal/types"
)

// All amounts are euro cents so per-hive arithmetic stays exact.

type TierRate struct {
	Name         string `yaml:"name"`
	PerHiveCents int64  `yaml:"per_hive_cents"`
}

type InsuranceRates struct {
	BaseFeeCents                int64            `yaml:"base_fee_cents"`
	Tiers                       []TierRate       `yaml:"tiers"`
	Publications                map[string]int64 `yaml:"publications"`
	LegalAssistancePerHiveCents int64            `yaml:"legal_assistance_per_hive_cents"`
}

type SiteRentalRates struct {
	FeeCents     int64 `yaml:"fee_cents"`
	DepositCents int64 `yaml:"deposit_cents"`
}

// Rates is one year's rate sheet. It is plain data passed into the calculator
// so the calculator itself stays pure.
type Rates struct {
	Memberships        map[types.Organization]map[types.MemberCategory]int64 `yaml:"memberships"`
	Insurance          InsuranceRates                                        `yaml:"insurance"`
	SiteRental         SiteRentalRates                                       `yaml:"site_rental"`
	MinChargeableCents int64                                                 `yaml:"min_chargeable_cents"`
}

// DefaultRates is the compiled-in rate sheet, overridable with a YAML file.
func DefaultRates() Rates {
	return Rates{
		Memberships: map[types.Organization]map[types.MemberCategory]int64{
			types.OrgSAR: {
				types.CategoryHobbyist:     3500,
				types.CategoryProfessional: 7500,
			},
			types.OrgAMAIR: {
				types.CategoryHobbyist:     2000,
				types.CategoryProfessional: 4500,
			},
		},
		Insurance: InsuranceRates{
			BaseFeeCents: 1800,
			Tiers: []TierRate{
				{Name: "liability", PerHiveCents: 90},
				{Name: "standard", PerHiveCents: 165},
				{Name: "extended", PerHiveCents: 270},
			},
			Publications: map[string]int64{
				"newsletter": 800,
				"magazine":   1500,
				"combined":   2100,
			},
			LegalAssistancePerHiveCents: 15,
		},
		SiteRental: SiteRentalRates{
			FeeCents:     6000,
			DepositCents: 8000,
		},
		MinChargeableCents: 50,
	}
}

// LoadRates reads a YAML rate sheet from path. Missing file is an error;
// callers fall back to DefaultRates explicitly.
func LoadRates(path string) (Rates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rates{}, fmt.Errorf("read rate sheet: %w", err)
	}
	rates := DefaultRates()
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return Rates{}, fmt.Errorf("parse rate sheet: %w", err)
	}
	if err := rates.Validate(); err != nil {
		return Rates{}, err
	}
	return rates, nil
}

func (r Rates) Validate() error {
	if len(r.Memberships) == 0 {
		return fmt.Errorf("rate sheet has no membership rates")
	}
	if len(r.Insurance.Tiers) == 0 {
		return fmt.Errorf("rate sheet has no insurance tiers")
	}
	seen := map[string]struct{}{}
	var prev int64 = -1
	for _, t := range r.Insurance.Tiers {
		if t.Name == "" {
			return fmt.Errorf("insurance tier with empty name")
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate insurance tier %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.PerHiveCents <= prev {
			return fmt.Errorf("insurance tiers must be listed in strictly increasing rate order")
		}
		prev = t.PerHiveCents
	}
	if r.MinChargeableCents <= 0 {
		return fmt.Errorf("min_chargeable_cents must be positive")
	}
	return nil
}

// tierIndex returns the ordinal of a tier name, -1 when absent ("" is -1 and
// sorts below every real tier).
func (r Rates) tierIndex(name string) int {
	for i, t := range r.Insurance.Tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func (r Rates) tierRate(name string) (int64, bool) {
	for _, t := range r.Insurance.Tiers {
		if t.Name == name {
			return t.PerHiveCents, true
		}
	}
	return 0, false
}
