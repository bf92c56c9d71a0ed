package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/types"
)

type CreateSubscriptionInput struct {
	MemberID     uuid.UUID         `json:"member_id"`
	MembershipID uuid.UUID         `json:"membership_id"`
	Kind         types.ServiceKind `json:"kind"`
	Year         int               `json:"year"`
	HiveCount    int               `json:"hive_count"`
	Options      types.Options     `json:"options"`
}

// SubscriptionService is the subscription ledger, including deposits and the
// modification history. Live option values only ever change inside
// ConfirmModification.
type SubscriptionService interface {
	Create(ctx context.Context, input CreateSubscriptionInput) (*types.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Subscription, error)

	// MarkPaid is idempotent on paymentRef. The resulting status depends on
	// the service kind and, for deposit-bearing kinds, the deposit state.
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, source types.PaymentSource) (*types.Subscription, bool, error)

	SetDepositStatus(ctx context.Context, id uuid.UUID, newStatus types.DepositStatus) (*types.Subscription, error)

	RequestModification(ctx context.Context, id uuid.UUID, req tariff.ModificationRequest) (*types.ModificationEntry, error)

	// ConfirmModification is idempotent on paymentRef; it marks the entry paid
	// and applies the delta to the live option set in one transaction.
	ConfirmModification(ctx context.Context, id uuid.UUID, idx int, paymentRef string, source types.PaymentSource) (*types.ModificationEntry, bool, error)
}

type subscriptionService struct {
	db               *gorm.DB
	log              *logger.Logger
	subscriptionRepo repos.SubscriptionRepo
	modificationRepo repos.ModificationRepo
	membershipRepo   repos.MembershipRepo
	calc             *tariff.Calculator
	certificates     CertificateService
}

func NewSubscriptionService(
	db *gorm.DB,
	log *logger.Logger,
	subscriptionRepo repos.SubscriptionRepo,
	modificationRepo repos.ModificationRepo,
	membershipRepo repos.MembershipRepo,
	calc *tariff.Calculator,
	certificates CertificateService,
) SubscriptionService {
	return &subscriptionService{
		db:               db,
		log:              log.With("service", "SubscriptionService"),
		subscriptionRepo: subscriptionRepo,
		modificationRepo: modificationRepo,
		membershipRepo:   membershipRepo,
		calc:             calc,
		certificates:     certificates,
	}
}

func (s *subscriptionService) Create(ctx context.Context, input CreateSubscriptionInput) (*types.Subscription, error) {
	if !input.Kind.Valid() {
		return nil, apierr.Validation("unknown service kind %q", input.Kind)
	}
	membership, err := s.membershipRepo.GetByID(ctx, nil, input.MembershipID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, apierr.NotFound("membership %s not found", input.MembershipID)
	}
	if membership.MemberID != input.MemberID {
		return nil, apierr.Validation("membership %s does not belong to member %s", input.MembershipID, input.MemberID)
	}
	if membership.Status != types.MembershipActive {
		return nil, apierr.InvalidTransition("parent membership must be active, is %q", membership.Status)
	}
	if required := input.Kind.RequiredOrganization(); membership.Organization != required {
		return nil, apierr.Validation("service kind %q requires a membership in %s", input.Kind, required)
	}

	amount, err := s.calc.SubscriptionAmount(input.Kind, input.Options, input.HiveCount)
	if err != nil {
		return nil, err
	}

	existing, err := s.subscriptionRepo.GetByKey(ctx, nil, input.MemberID, input.Kind, input.Year)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.DuplicateEntity("subscription already exists for member %s, kind %s, year %d",
			input.MemberID, input.Kind, input.Year)
	}

	sub := &types.Subscription{
		MemberID:     input.MemberID,
		MembershipID: input.MembershipID,
		Organization: membership.Organization,
		Kind:         input.Kind,
		Year:         input.Year,
		HiveCount:    input.HiveCount,
		Options:      input.Options,
		AmountCents:  amount,
		Status:       types.SubscriptionAwaitingPayment,
	}
	if input.Kind == types.KindSiteRental {
		sub.DepositAmountCents = s.calc.SiteRentalDepositCents()
	}
	if err := s.subscriptionRepo.Create(ctx, nil, sub); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.DuplicateEntity("subscription already exists for member %s, kind %s, year %d",
				input.MemberID, input.Kind, input.Year)
		}
		return nil, err
	}
	sub.Member = membership.Member

	s.log.Info("Subscription created",
		"subscription_id", sub.ID, "kind", sub.Kind, "year", sub.Year, "amount_cents", sub.AmountCents)
	return sub, nil
}

func (s *subscriptionService) GetByID(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	sub, err := s.subscriptionRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apierr.NotFound("subscription %s not found", id)
	}
	return sub, nil
}

func (s *subscriptionService) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, source types.PaymentSource) (*types.Subscription, bool, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if sub.PaymentStatus == types.PaymentPaid {
		if sub.PaymentRef != paymentRef {
			s.log.Warn("Subscription already paid under a different payment ref",
				"subscription_id", id, "existing_ref", sub.PaymentRef, "incoming_ref", paymentRef)
		}
		return sub, false, nil
	}

	to := sub.StatusOnPayment()
	changed, err := s.subscriptionRepo.MarkPaidIf(ctx, nil, id, paymentRef, to, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	if !changed {
		current, err := s.GetByID(ctx, id)
		return current, false, err
	}

	sub, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, true, err
	}
	s.log.Info("Subscription payment recorded",
		"subscription_id", id, "payment_ref", paymentRef, "status", sub.Status, "source", source)

	// The target status was computed before the paid write; the deposit may
	// have landed in between. The re-read above sees it, and whichever path
	// wins the guarded promotion renders the certificate.
	activated := to == types.SubscriptionActive
	if sub.Status == types.SubscriptionAwaitingDeposit && sub.DepositStatus == types.DepositReceived {
		promoted, err := s.subscriptionRepo.SetStatusIf(ctx, nil, id,
			[]types.SubscriptionStatus{types.SubscriptionAwaitingDeposit}, types.SubscriptionActive)
		if err != nil {
			return nil, true, err
		}
		if promoted {
			sub, err = s.GetByID(ctx, id)
			if err != nil {
				return nil, true, err
			}
			s.log.Info("Subscription activated, deposit received before payment settled", "subscription_id", id)
			activated = true
		}
	}

	if activated {
		s.issueCertificate(ctx, sub)
	}
	return sub, true, nil
}

func (s *subscriptionService) SetDepositStatus(ctx context.Context, id uuid.UUID, newStatus types.DepositStatus) (*types.Subscription, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.DepositAmountCents == 0 {
		return nil, apierr.InvalidTransition("subscription %s carries no deposit", id)
	}

	switch newStatus {
	case types.DepositReceived:
		changed, err := s.subscriptionRepo.SetDepositStatusIf(ctx, nil, id, types.DepositPending, types.DepositReceived)
		if err != nil {
			return nil, err
		}
		if !changed && sub.DepositStatus != types.DepositReceived {
			return nil, apierr.InvalidTransition("deposit cannot move from %q to received", sub.DepositStatus)
		}
		// Re-read after the deposit write: a payment settling in between must
		// not be missed. Whichever of the deposit path and the payment path
		// runs second performs the promotion, and the guarded write keeps it
		// single-shot.
		sub, err = s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.PaymentStatus == types.PaymentPaid {
			promoted, err := s.subscriptionRepo.SetStatusIf(ctx, nil, id,
				[]types.SubscriptionStatus{types.SubscriptionAwaitingDeposit}, types.SubscriptionActive)
			if err != nil {
				return nil, err
			}
			if promoted {
				sub, err = s.GetByID(ctx, id)
				if err != nil {
					return nil, err
				}
				s.log.Info("Subscription activated on deposit receipt", "subscription_id", id)
				s.issueCertificate(ctx, sub)
				return sub, nil
			}
		}
	case types.DepositReturned:
		changed, err := s.subscriptionRepo.SetDepositStatusIf(ctx, nil, id, types.DepositReceived, types.DepositReturned)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, apierr.InvalidTransition("deposit cannot move from %q to returned", sub.DepositStatus)
		}
	default:
		return nil, apierr.Validation("unknown deposit status %q", newStatus)
	}

	return s.GetByID(ctx, id)
}

func (s *subscriptionService) RequestModification(ctx context.Context, id uuid.UUID, req tariff.ModificationRequest) (*types.ModificationEntry, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Kind != types.KindInsurance {
		return nil, apierr.Validation("modifications only apply to %s subscriptions", types.KindInsurance)
	}

	delta, err := s.calc.ValidateModification(sub.Options, sub.HiveCount, req)
	if err != nil {
		return nil, err
	}

	var entry *types.ModificationEntry
	err = s.db.Transaction(func(tx *gorm.DB) error {
		count, err := s.modificationRepo.CountForSubscription(ctx, tx, id)
		if err != nil {
			return err
		}
		entry = &types.ModificationEntry{
			SubscriptionID:     id,
			Idx:                int(count),
			NewInsuranceTier:   req.NewInsuranceTier,
			NewPublication:     req.NewPublication,
			AddLegalAssistance: req.AddLegalAssistance,
			ExtraAmountCents:   delta.ExtraAmountCents,
		}
		return s.modificationRepo.Append(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.DuplicateEntity("concurrent modification request for subscription %s", id)
		}
		return nil, err
	}

	s.log.Info("Modification requested",
		"subscription_id", id, "idx", entry.Idx, "extra_amount_cents", entry.ExtraAmountCents)
	return entry, nil
}

func (s *subscriptionService) ConfirmModification(ctx context.Context, id uuid.UUID, idx int, paymentRef string, source types.PaymentSource) (*types.ModificationEntry, bool, error) {
	entry, err := s.modificationRepo.GetBySubscriptionAndIdx(ctx, nil, id, idx)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, apierr.NotFound("modification %d on subscription %s not found", idx, id)
	}

	if entry.PaymentStatus == types.PaymentPaid {
		if entry.PaymentRef != paymentRef {
			s.log.Warn("Modification already paid under a different payment ref",
				"subscription_id", id, "idx", idx, "existing_ref", entry.PaymentRef, "incoming_ref", paymentRef)
		}
		return entry, false, nil
	}

	var confirmed bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		changed, err := s.modificationRepo.MarkPaidAppliedIf(ctx, tx, entry.ID, paymentRef, time.Now().UTC())
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		confirmed = true

		sub, err := s.subscriptionRepo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return apierr.NotFound("subscription %s not found", id)
		}
		newOpts := applyModification(sub.Options, entry)
		return s.subscriptionRepo.ApplyOptions(ctx, tx, id, newOpts, sub.AmountCents+entry.ExtraAmountCents)
	})
	if err != nil {
		return nil, false, err
	}

	entry, getErr := s.modificationRepo.GetBySubscriptionAndIdx(ctx, nil, id, idx)
	if getErr != nil {
		return nil, confirmed, getErr
	}
	if confirmed {
		s.log.Info("Modification confirmed and applied",
			"subscription_id", id, "idx", idx, "payment_ref", paymentRef, "source", source)
	}
	return entry, confirmed, nil
}

func (s *subscriptionService) issueCertificate(ctx context.Context, sub *types.Subscription) {
	key, err := s.certificates.IssueForSubscription(ctx, sub, sub.Member)
	if err != nil {
		s.log.Error("Subscription certificate issue failed, payment state unaffected",
			"subscription_id", sub.ID, "error", err)
		return
	}
	if err := s.subscriptionRepo.SetCertificateKey(ctx, nil, sub.ID, key); err != nil {
		s.log.Error("Could not persist certificate key", "subscription_id", sub.ID, "error", err)
		return
	}
	sub.CertificateKey = key
}

// applyModification folds a confirmed entry into the live option set.
func applyModification(current types.Options, entry *types.ModificationEntry) types.Options {
	next := current
	if entry.NewInsuranceTier != "" {
		next.InsuranceTier = entry.NewInsuranceTier
	}
	if entry.NewPublication != "" {
		next.Publication = entry.NewPublication
	}
	if entry.AddLegalAssistance {
		next.LegalAssistance = true
	}
	return next
}
