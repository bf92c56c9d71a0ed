package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/stripegw"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/types"
)

type CreateMembershipInput struct {
	MemberID        uuid.UUID             `json:"member_id"`
	Organization    types.Organization    `json:"organization"`
	Year            int                   `json:"year"`
	Category        types.MemberCategory  `json:"category"`
	ApiaryLocation  string                `json:"apiary_location"`
	HiveCount       int                   `json:"hive_count"`
	GrantsCompanion bool                  `json:"grants_companion"`
}

// MembershipService is the membership ledger: the only writer of membership
// lifecycle fields.
type MembershipService interface {
	Create(ctx context.Context, input CreateMembershipInput) (*types.Membership, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Membership, error)

	// RequestPayment creates a gateway checkout and mails the pay link. The
	// status only moves to payment_requested when the mail went out; a notifier
	// failure leaves the membership untouched.
	RequestPayment(ctx context.Context, id uuid.UUID) (*types.Membership, string, error)

	// MarkPaid is idempotent on paymentRef: replays and sweeper calls converge
	// on one activation, one certificate, at most one companion. The returned
	// bool reports whether this call performed the transition.
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, source types.PaymentSource) (*types.Membership, bool, error)

	MarkRefused(ctx context.Context, id uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
}

type membershipService struct {
	db             *gorm.DB
	log            *logger.Logger
	membershipRepo repos.MembershipRepo
	memberRepo     repos.MemberRepo
	calc           *tariff.Calculator
	gateway        stripegw.Gateway
	notifier       Notifier
	certificates   CertificateService
	cascade        CascadeService
}

func NewMembershipService(
	db *gorm.DB,
	log *logger.Logger,
	membershipRepo repos.MembershipRepo,
	memberRepo repos.MemberRepo,
	calc *tariff.Calculator,
	gateway stripegw.Gateway,
	notifier Notifier,
	certificates CertificateService,
	cascade CascadeService,
) MembershipService {
	return &membershipService{
		db:             db,
		log:            log.With("service", "MembershipService"),
		membershipRepo: membershipRepo,
		memberRepo:     memberRepo,
		calc:           calc,
		gateway:        gateway,
		notifier:       notifier,
		certificates:   certificates,
		cascade:        cascade,
	}
}

func (s *membershipService) Create(ctx context.Context, input CreateMembershipInput) (*types.Membership, error) {
	if !input.Organization.Valid() {
		return nil, apierr.Validation("unknown organization %q", input.Organization)
	}
	if input.Year <= 0 {
		return nil, apierr.Validation("year required")
	}
	member, err := s.memberRepo.GetByID(ctx, nil, input.MemberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, apierr.NotFound("member %s not found", input.MemberID)
	}

	amount, err := s.calc.MembershipAmount(input.Organization, input.Category)
	if err != nil {
		return nil, err
	}

	existing, err := s.membershipRepo.GetByKey(ctx, nil, input.MemberID, input.Organization, input.Year)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.DuplicateEntity("membership already exists for member %s in %s/%d",
			input.MemberID, input.Organization, input.Year)
	}

	membership := &types.Membership{
		MemberID:        input.MemberID,
		Organization:    input.Organization,
		Year:            input.Year,
		Category:        input.Category,
		ApiaryLocation:  input.ApiaryLocation,
		HiveCount:       input.HiveCount,
		AmountCents:     amount,
		Status:          types.MembershipPending,
		GrantsCompanion: input.GrantsCompanion,
	}
	if err := s.membershipRepo.Create(ctx, nil, membership); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.DuplicateEntity("membership already exists for member %s in %s/%d",
				input.MemberID, input.Organization, input.Year)
		}
		return nil, err
	}
	membership.Member = member

	s.log.Info("Membership created",
		"membership_id", membership.ID, "organization", membership.Organization,
		"year", membership.Year, "amount_cents", membership.AmountCents)
	return membership, nil
}

func (s *membershipService) GetByID(ctx context.Context, id uuid.UUID) (*types.Membership, error) {
	membership, err := s.membershipRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, apierr.NotFound("membership %s not found", id)
	}
	return membership, nil
}

func (s *membershipService) RequestPayment(ctx context.Context, id uuid.UUID) (*types.Membership, string, error) {
	membership, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if membership.Status != types.MembershipPending {
		return nil, "", apierr.InvalidTransition("cannot request payment from status %q", membership.Status)
	}
	if membership.AmountCents < s.calc.MinChargeableCents() {
		return nil, "", apierr.BelowMinimumChargeable(membership.AmountCents, s.calc.MinChargeableCents())
	}

	checkout, err := s.gateway.CreateCheckoutSession(ctx, stripegw.CheckoutRequest{
		AmountCents: membership.AmountCents,
		Description: fmt.Sprintf("%s membership %d", membership.Organization, membership.Year),
		Metadata:    membershipMetadata(membership),
	})
	if err != nil {
		return nil, "", fmt.Errorf("create membership checkout: %w", err)
	}

	description := fmt.Sprintf("%s membership %d", membership.Organization, membership.Year)
	if err := s.notifier.SendPayLink(ctx, membership.Member, description, membership.AmountCents, checkout.RedirectURL); err != nil {
		// No partial state: the membership stays pending and the failure is
		// reported to the caller.
		return nil, "", fmt.Errorf("pay link notification failed: %w", err)
	}

	changed, err := s.membershipRepo.SetStatusIf(ctx, nil, id,
		[]types.MembershipStatus{types.MembershipPending}, types.MembershipPaymentRequested)
	if err != nil {
		return nil, "", err
	}
	if changed {
		membership.Status = types.MembershipPaymentRequested
	}
	return membership, checkout.RedirectURL, nil
}

func (s *membershipService) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, source types.PaymentSource) (*types.Membership, bool, error) {
	membership, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if membership.Status == types.MembershipActive {
		if membership.PaymentRef != paymentRef {
			s.log.Warn("Membership already active under a different payment ref",
				"membership_id", id, "existing_ref", membership.PaymentRef, "incoming_ref", paymentRef)
		}
		return membership, false, nil
	}
	if !membership.Status.CanTransitionTo(types.MembershipActive) {
		return nil, false, apierr.InvalidTransition("cannot activate membership from status %q", membership.Status)
	}

	changed, err := s.membershipRepo.MarkPaidIf(ctx, nil, id, paymentRef, source, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	if !changed {
		// A concurrent caller performed the transition; converge on its result.
		current, err := s.GetByID(ctx, id)
		return current, false, err
	}

	membership, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, true, err
	}
	s.log.Info("Membership activated",
		"membership_id", id, "payment_ref", paymentRef, "source", source)

	// Side effects after the committed transition: failures are logged and
	// retryable, never rolled back into the payment state.
	if key, err := s.certificates.IssueForMembership(ctx, membership, membership.Member); err != nil {
		s.log.Error("Membership certificate issue failed", "membership_id", id, "error", err)
	} else if err := s.membershipRepo.SetCertificateKey(ctx, nil, id, key); err != nil {
		s.log.Error("Could not persist certificate key", "membership_id", id, "error", err)
	} else {
		membership.CertificateKey = key
	}

	if _, err := s.cascade.EnsureCompanion(ctx, membership); err != nil {
		s.log.Error("Companion membership cascade failed", "membership_id", id, "error", err)
	}

	return membership, true, nil
}

func (s *membershipService) MarkRefused(ctx context.Context, id uuid.UUID) error {
	return s.setTerminal(ctx, id, types.MembershipRefused)
}

func (s *membershipService) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return s.setTerminal(ctx, id, types.MembershipExpired)
}

func (s *membershipService) setTerminal(ctx context.Context, id uuid.UUID, to types.MembershipStatus) error {
	membership, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !membership.Status.CanTransitionTo(to) {
		return apierr.InvalidTransition("cannot move membership from %q to %q", membership.Status, to)
	}
	changed, err := s.membershipRepo.SetStatusIf(ctx, nil, id,
		[]types.MembershipStatus{membership.Status}, to)
	if err != nil {
		return err
	}
	if !changed {
		return apierr.InvalidTransition("membership %s changed concurrently", id)
	}
	return nil
}

func membershipMetadata(m *types.Membership) map[string]string {
	return map[string]string{
		stripegw.MetaEntityType:   stripegw.EntityMembership,
		stripegw.MetaEntityID:     m.ID.String(),
		stripegw.MetaMemberID:     m.MemberID.String(),
		stripegw.MetaOrganization: string(m.Organization),
	}
}
