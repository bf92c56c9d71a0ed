package tariff

import (
	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/types"
)

// Calculator is pure: amounts and modification deltas are functions of the
// rate sheet and the inputs, nothing else.
type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

func (c *Calculator) Rates() Rates {
	return c.rates
}

func (c *Calculator) MinChargeableCents() int64 {
	return c.rates.MinChargeableCents
}

// MembershipAmount looks up the fee for one (organization, category) pair.
func (c *Calculator) MembershipAmount(org types.Organization, category types.MemberCategory) (int64, error) {
	byCategory, ok := c.rates.Memberships[org]
	if !ok {
		return 0, apierr.Validation("no membership rates for organization %q", org)
	}
	amount, ok := byCategory[category]
	if !ok {
		return 0, apierr.Validation("no membership rate for category %q in %q", category, org)
	}
	return amount, nil
}

// SubscriptionAmount computes the full fee for a new subscription.
func (c *Calculator) SubscriptionAmount(kind types.ServiceKind, opts types.Options, hiveCount int) (int64, error) {
	switch kind {
	case types.KindSiteRental:
		return c.rates.SiteRental.FeeCents, nil
	case types.KindInsurance:
		if hiveCount <= 0 {
			return 0, apierr.Validation("insurance requires a positive hive count")
		}
		tierRate, ok := c.rates.tierRate(opts.InsuranceTier)
		if !ok {
			return 0, apierr.Validation("unknown insurance tier %q", opts.InsuranceTier)
		}
		total := c.rates.Insurance.BaseFeeCents + tierRate*int64(hiveCount)
		if opts.Publication != "" {
			price, ok := c.rates.Insurance.Publications[opts.Publication]
			if !ok {
				return 0, apierr.Validation("unknown publication option %q", opts.Publication)
			}
			total += price
		}
		if opts.LegalAssistance {
			total += c.rates.Insurance.LegalAssistancePerHiveCents * int64(hiveCount)
		}
		return total, nil
	default:
		return 0, apierr.Validation("unknown service kind %q", kind)
	}
}

func (c *Calculator) SiteRentalDepositCents() int64 {
	return c.rates.SiteRental.DepositCents
}

// ModificationRequest is the raw requested change set; zero values mean
// "leave unchanged".
type ModificationRequest struct {
	NewInsuranceTier   string `json:"new_insurance_tier"`
	NewPublication     string `json:"new_publication"`
	AddLegalAssistance bool   `json:"add_legal_assistance"`
}

func (r ModificationRequest) Empty() bool {
	return r.NewInsuranceTier == "" && r.NewPublication == "" && !r.AddLegalAssistance
}

// Delta is a validated, priced modification.
type Delta struct {
	NewOptions       types.Options
	ExtraAmountCents int64
}

// ValidateModification enforces the upgrade-only rules and prices the delta.
// Tiers may only move up the ordered tier list; a publication may only be
// chosen while none is set; legal assistance may be added once.
func (c *Calculator) ValidateModification(current types.Options, hiveCount int, req ModificationRequest) (Delta, error) {
	if req.Empty() {
		return Delta{}, apierr.Validation("modification requests no changes")
	}

	next := current
	var extra int64

	if req.NewInsuranceTier != "" {
		newIdx := c.rates.tierIndex(req.NewInsuranceTier)
		if newIdx < 0 {
			return Delta{}, apierr.Validation("unknown insurance tier %q", req.NewInsuranceTier)
		}
		curIdx := c.rates.tierIndex(current.InsuranceTier)
		if newIdx <= curIdx {
			return Delta{}, apierr.UpgradeOnlyViolation(
				"insurance tier %q does not upgrade current tier %q", req.NewInsuranceTier, current.InsuranceTier)
		}
		if hiveCount <= 0 {
			return Delta{}, apierr.Validation("tier change requires a positive hive count")
		}
		newRate, _ := c.rates.tierRate(req.NewInsuranceTier)
		var curRate int64
		if curIdx >= 0 {
			curRate, _ = c.rates.tierRate(current.InsuranceTier)
		}
		extra += (newRate - curRate) * int64(hiveCount)
		next.InsuranceTier = req.NewInsuranceTier
	}

	if req.NewPublication != "" {
		if current.Publication != "" {
			return Delta{}, apierr.UpgradeOnlyViolation(
				"publication already set to %q", current.Publication)
		}
		price, ok := c.rates.Insurance.Publications[req.NewPublication]
		if !ok {
			return Delta{}, apierr.Validation("unknown publication option %q", req.NewPublication)
		}
		extra += price
		next.Publication = req.NewPublication
	}

	if req.AddLegalAssistance {
		if current.LegalAssistance {
			return Delta{}, apierr.UpgradeOnlyViolation("legal assistance already enabled")
		}
		if hiveCount <= 0 {
			return Delta{}, apierr.Validation("legal assistance requires a positive hive count")
		}
		extra += c.rates.Insurance.LegalAssistancePerHiveCents * int64(hiveCount)
		next.LegalAssistance = true
	}

	if extra <= 0 {
		return Delta{}, apierr.Validation("modification computes to a non-positive amount")
	}
	if extra < c.rates.MinChargeableCents {
		return Delta{}, apierr.BelowMinimumChargeable(extra, c.rates.MinChargeableCents)
	}

	return Delta{NewOptions: next, ExtraAmountCents: extra}, nil
}
