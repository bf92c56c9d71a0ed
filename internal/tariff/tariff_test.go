package tariff

import (
	"testing"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/types"
)

func TestMembershipAmount(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	cases := []struct {
		name     string
		org      types.Organization
		category types.MemberCategory
		want     int64
		wantErr  bool
	}{
		{name: "sar_hobbyist", org: types.OrgSAR, category: types.CategoryHobbyist, want: 3500},
		{name: "sar_professional", org: types.OrgSAR, category: types.CategoryProfessional, want: 7500},
		{name: "amair_hobbyist", org: types.OrgAMAIR, category: types.CategoryHobbyist, want: 2000},
		{name: "unknown_org", org: "OTHER", category: types.CategoryHobbyist, wantErr: true},
		{name: "unknown_category", org: types.OrgSAR, category: "student", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := calc.MembershipAmount(tc.org, tc.category)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("MembershipAmount(%q,%q) expected error", tc.org, tc.category)
				}
				return
			}
			if err != nil {
				t.Fatalf("MembershipAmount(%q,%q): %v", tc.org, tc.category, err)
			}
			if got != tc.want {
				t.Fatalf("MembershipAmount(%q,%q)=%d, want %d", tc.org, tc.category, got, tc.want)
			}
		})
	}
}

func TestSubscriptionAmount(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	t.Run("insurance_full_option_set", func(t *testing.T) {
		// base 18.00 + standard 1.65/hive * 20 + legal 0.15/hive * 20
		opts := types.Options{InsuranceTier: "standard", LegalAssistance: true}
		got, err := calc.SubscriptionAmount(types.KindInsurance, opts, 20)
		if err != nil {
			t.Fatalf("SubscriptionAmount: %v", err)
		}
		if want := int64(1800 + 165*20 + 15*20); got != want {
			t.Fatalf("SubscriptionAmount=%d, want %d", got, want)
		}
	})

	t.Run("insurance_with_publication", func(t *testing.T) {
		opts := types.Options{InsuranceTier: "liability", Publication: "magazine"}
		got, err := calc.SubscriptionAmount(types.KindInsurance, opts, 10)
		if err != nil {
			t.Fatalf("SubscriptionAmount: %v", err)
		}
		if want := int64(1800 + 90*10 + 1500); got != want {
			t.Fatalf("SubscriptionAmount=%d, want %d", got, want)
		}
	})

	t.Run("site_rental_flat_fee", func(t *testing.T) {
		got, err := calc.SubscriptionAmount(types.KindSiteRental, types.Options{}, 0)
		if err != nil {
			t.Fatalf("SubscriptionAmount: %v", err)
		}
		if got != 6000 {
			t.Fatalf("SubscriptionAmount=%d, want 6000", got)
		}
	})

	t.Run("insurance_requires_hives", func(t *testing.T) {
		_, err := calc.SubscriptionAmount(types.KindInsurance, types.Options{InsuranceTier: "standard"}, 0)
		if err == nil {
			t.Fatal("expected error for zero hive count")
		}
	})

	t.Run("unknown_tier", func(t *testing.T) {
		_, err := calc.SubscriptionAmount(types.KindInsurance, types.Options{InsuranceTier: "platinum"}, 5)
		if err == nil {
			t.Fatal("expected error for unknown tier")
		}
	})
}

func TestValidateModificationUpgradeOnly(t *testing.T) {
	calc := NewCalculator(DefaultRates())

	cases := []struct {
		name     string
		current  types.Options
		hives    int
		req      ModificationRequest
		wantCode string
		wantOK   int64
	}{
		{
			name:    "tier_upgrade_first_to_third",
			current: types.Options{InsuranceTier: "liability"},
			hives:   20,
			req:     ModificationRequest{NewInsuranceTier: "extended"},
			wantOK:  (270 - 90) * 20,
		},
		{
			name:     "tier_downgrade_rejected",
			current:  types.Options{InsuranceTier: "extended"},
			hives:    20,
			req:      ModificationRequest{NewInsuranceTier: "liability"},
			wantCode: apierr.CodeUpgradeOnlyViolation,
		},
		{
			name:     "same_tier_rejected",
			current:  types.Options{InsuranceTier: "standard"},
			hives:    20,
			req:      ModificationRequest{NewInsuranceTier: "standard"},
			wantCode: apierr.CodeUpgradeOnlyViolation,
		},
		{
			name:    "tier_delta_only_prices_the_difference",
			current: types.Options{InsuranceTier: "standard"},
			hives:   20,
			req:     ModificationRequest{NewInsuranceTier: "extended"},
			wantOK:  (270 - 165) * 20,
		},
		{
			name:     "publication_reselect_rejected",
			current:  types.Options{InsuranceTier: "standard", Publication: "newsletter"},
			hives:    10,
			req:      ModificationRequest{NewPublication: "magazine"},
			wantCode: apierr.CodeUpgradeOnlyViolation,
		},
		{
			name:    "publication_from_none_accepted",
			current: types.Options{InsuranceTier: "standard"},
			hives:   10,
			req:     ModificationRequest{NewPublication: "magazine"},
			wantOK:  1500,
		},
		{
			name:     "legal_assistance_reenable_rejected",
			current:  types.Options{InsuranceTier: "standard", LegalAssistance: true},
			hives:    10,
			req:      ModificationRequest{AddLegalAssistance: true},
			wantCode: apierr.CodeUpgradeOnlyViolation,
		},
		{
			name:     "below_minimum_chargeable",
			current:  types.Options{InsuranceTier: "standard"},
			hives:    2,
			req:      ModificationRequest{AddLegalAssistance: true}, // 0.15 * 2 = 0.30
			wantCode: apierr.CodeBelowMinimumChargeable,
		},
		{
			name:    "at_or_above_minimum_accepted",
			current: types.Options{InsuranceTier: "standard"},
			hives:   4,
			req:     ModificationRequest{AddLegalAssistance: true}, // 0.60
			wantOK:  60,
		},
		{
			name:     "empty_request_rejected",
			current:  types.Options{InsuranceTier: "standard"},
			hives:    10,
			req:      ModificationRequest{},
			wantCode: apierr.CodeValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			delta, err := calc.ValidateModification(tc.current, tc.hives, tc.req)
			if tc.wantCode != "" {
				if err == nil {
					t.Fatalf("expected %s error, got delta %+v", tc.wantCode, delta)
				}
				if got := apierr.CodeOf(err); got != tc.wantCode {
					t.Fatalf("error code = %q, want %q (err: %v)", got, tc.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateModification: %v", err)
			}
			if delta.ExtraAmountCents != tc.wantOK {
				t.Fatalf("ExtraAmountCents=%d, want %d", delta.ExtraAmountCents, tc.wantOK)
			}
		})
	}
}

func TestValidateModificationAppliesDelta(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	current := types.Options{InsuranceTier: "liability"}

	delta, err := calc.ValidateModification(current, 10, ModificationRequest{
		NewInsuranceTier:   "standard",
		NewPublication:     "newsletter",
		AddLegalAssistance: true,
	})
	if err != nil {
		t.Fatalf("ValidateModification: %v", err)
	}
	want := types.Options{InsuranceTier: "standard", Publication: "newsletter", LegalAssistance: true}
	if delta.NewOptions != want {
		t.Fatalf("NewOptions=%+v, want %+v", delta.NewOptions, want)
	}
	if wantExtra := int64((165-90)*10 + 800 + 15*10); delta.ExtraAmountCents != wantExtra {
		t.Fatalf("ExtraAmountCents=%d, want %d", delta.ExtraAmountCents, wantExtra)
	}
}

func TestLoadRatesValidation(t *testing.T) {
	rates := DefaultRates()
	rates.Insurance.Tiers = []TierRate{
		{Name: "standard", PerHiveCents: 165},
		{Name: "liability", PerHiveCents: 90},
	}
	if err := rates.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-order tiers")
	}
}
