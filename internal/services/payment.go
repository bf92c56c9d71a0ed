package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/stripegw"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/types"
	"github.com/hivedesk/membership-backend/internal/utils"
)

// DispatchOutcome classifies what one gateway event did to the ledgers.
type DispatchOutcome string

const (
	OutcomeProcessed        DispatchOutcome = "processed"
	OutcomeAlreadyProcessed DispatchOutcome = "already-processed"
	OutcomeSkipped          DispatchOutcome = "skipped"
	OutcomeError            DispatchOutcome = "error"
)

// PaymentService is the gateway adapter: checkout creation on the way out,
// event dispatch on the way in. The live webhook and the reconciliation
// sweeper both funnel through Dispatch, so convergence rests entirely on the
// ledgers' idempotency.
type PaymentService interface {
	CheckoutForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*stripegw.CheckoutSession, error)
	CheckoutForModification(ctx context.Context, subscriptionID uuid.UUID, idx int) (*stripegw.CheckoutSession, error)

	// HandleWebhook verifies and dispatches one delivery. InvalidSignature is
	// the one error the gateway must not blindly retry on.
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error

	Dispatch(ctx context.Context, ev stripegw.CheckoutEvent, source types.PaymentSource) (DispatchOutcome, error)
}

type paymentService struct {
	log              *logger.Logger
	gateway          stripegw.Gateway
	memberships      MembershipService
	subscriptions    SubscriptionService
	subscriptionRepo repos.SubscriptionRepo
	modificationRepo repos.ModificationRepo
	calc             *tariff.Calculator
	payoutAccounts   map[string]string
}

func NewPaymentService(
	log *logger.Logger,
	gateway stripegw.Gateway,
	memberships MembershipService,
	subscriptions SubscriptionService,
	subscriptionRepo repos.SubscriptionRepo,
	modificationRepo repos.ModificationRepo,
	calc *tariff.Calculator,
) PaymentService {
	payoutAccounts := map[string]string{}
	if acct := utils.GetEnv("STRIPE_PAYOUT_ACCOUNT_SAR", "", log); acct != "" {
		payoutAccounts[string(types.OrgSAR)] = acct
	}
	if acct := utils.GetEnv("STRIPE_PAYOUT_ACCOUNT_AMAIR", "", log); acct != "" {
		payoutAccounts[string(types.OrgAMAIR)] = acct
	}
	return &paymentService{
		log:              log.With("service", "PaymentService"),
		gateway:          gateway,
		memberships:      memberships,
		subscriptions:    subscriptions,
		subscriptionRepo: subscriptionRepo,
		modificationRepo: modificationRepo,
		calc:             calc,
		payoutAccounts:   payoutAccounts,
	}
}

func (s *paymentService) CheckoutForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*stripegw.CheckoutSession, error) {
	sub, err := s.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.PaymentStatus == types.PaymentPaid {
		return nil, apierr.InvalidTransition("subscription %s is already paid", subscriptionID)
	}
	if sub.AmountCents < s.calc.MinChargeableCents() {
		return nil, apierr.BelowMinimumChargeable(sub.AmountCents, s.calc.MinChargeableCents())
	}
	return s.gateway.CreateCheckoutSession(ctx, stripegw.CheckoutRequest{
		AmountCents: sub.AmountCents,
		Description: fmt.Sprintf("%s service %d", sub.Kind, sub.Year),
		Metadata: map[string]string{
			stripegw.MetaEntityType:   stripegw.EntitySubscription,
			stripegw.MetaEntityID:     sub.ID.String(),
			stripegw.MetaMemberID:     sub.MemberID.String(),
			stripegw.MetaOrganization: string(sub.Organization),
		},
		PayoutDestination: s.payoutAccounts[string(sub.Organization)],
	})
}

func (s *paymentService) CheckoutForModification(ctx context.Context, subscriptionID uuid.UUID, idx int) (*stripegw.CheckoutSession, error) {
	sub, err := s.subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	entry, err := s.modificationRepo.GetBySubscriptionAndIdx(ctx, nil, subscriptionID, idx)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apierr.NotFound("modification %d on subscription %s not found", idx, subscriptionID)
	}
	if entry.PaymentStatus == types.PaymentPaid {
		return nil, apierr.InvalidTransition("modification %d on subscription %s is already paid", idx, subscriptionID)
	}
	// The tariff validator enforced the floor when the entry was priced; this
	// is the last check before the gateway sees the amount.
	if entry.ExtraAmountCents < s.calc.MinChargeableCents() {
		return nil, apierr.BelowMinimumChargeable(entry.ExtraAmountCents, s.calc.MinChargeableCents())
	}
	return s.gateway.CreateCheckoutSession(ctx, stripegw.CheckoutRequest{
		AmountCents: entry.ExtraAmountCents,
		Description: fmt.Sprintf("%s service upgrade %d", sub.Kind, sub.Year),
		Metadata: map[string]string{
			stripegw.MetaEntityType:   stripegw.EntityModification,
			stripegw.MetaEntityID:     sub.ID.String(),
			stripegw.MetaModIndex:     strconv.Itoa(idx),
			stripegw.MetaMemberID:     sub.MemberID.String(),
			stripegw.MetaOrganization: string(sub.Organization),
		},
		PayoutDestination: s.payoutAccounts[string(sub.Organization)],
	})
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	ev, err := s.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		return err
	}
	if ev == nil {
		// Authentic but irrelevant event kind; acknowledge.
		return nil
	}
	outcome, err := s.Dispatch(ctx, *ev, types.SourceWebhook)
	if err != nil {
		s.log.Error("Webhook dispatch failed", "session_id", ev.SessionID, "error", err)
		return err
	}
	s.log.Info("Webhook dispatched", "session_id", ev.SessionID, "outcome", outcome)
	return nil
}

func (s *paymentService) Dispatch(ctx context.Context, ev stripegw.CheckoutEvent, source types.PaymentSource) (DispatchOutcome, error) {
	if !ev.PaymentPaid {
		return OutcomeSkipped, nil
	}
	entityType := ev.Metadata[stripegw.MetaEntityType]
	entityID := ev.Metadata[stripegw.MetaEntityID]
	if entityType == "" || entityID == "" {
		s.log.Debug("Gateway event without entity metadata", "session_id", ev.SessionID)
		return OutcomeSkipped, nil
	}
	id, err := uuid.Parse(entityID)
	if err != nil {
		return OutcomeError, fmt.Errorf("invalid entity id %q: %w", entityID, err)
	}

	switch entityType {
	case stripegw.EntityMembership:
		_, changed, err := s.memberships.MarkPaid(ctx, id, ev.PaymentRef, source)
		return outcomeOf(changed, err)
	case stripegw.EntitySubscription:
		_, changed, err := s.subscriptions.MarkPaid(ctx, id, ev.PaymentRef, source)
		return outcomeOf(changed, err)
	case stripegw.EntityModification:
		idx, err := strconv.Atoi(ev.Metadata[stripegw.MetaModIndex])
		if err != nil {
			return OutcomeError, fmt.Errorf("invalid modification index %q: %w", ev.Metadata[stripegw.MetaModIndex], err)
		}
		_, changed, err := s.subscriptions.ConfirmModification(ctx, id, idx, ev.PaymentRef, source)
		return outcomeOf(changed, err)
	default:
		s.log.Warn("Gateway event with unknown entity type", "entity_type", entityType, "session_id", ev.SessionID)
		return OutcomeSkipped, nil
	}
}

func outcomeOf(changed bool, err error) (DispatchOutcome, error) {
	if err != nil {
		return OutcomeError, err
	}
	if changed {
		return OutcomeProcessed, nil
	}
	return OutcomeAlreadyProcessed, nil
}
