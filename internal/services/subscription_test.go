package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/types"
)

func TestSubscriptionCreateRequiresMatchingActiveMembership(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)

	pending := f.createMembership(t, member.ID, types.OrgSAR, false)
	_, err := f.subscriptionSvc.Create(context.Background(), CreateSubscriptionInput{
		MemberID:     member.ID,
		MembershipID: pending.ID,
		Kind:         types.KindInsurance,
		Year:         2026,
		HiveCount:    10,
		Options:      types.Options{InsuranceTier: "standard"},
	})
	if apierr.CodeOf(err) != apierr.CodeInvalidTransition {
		t.Fatalf("pending parent: want code=%q got err=%v", apierr.CodeInvalidTransition, err)
	}

	// Site rental hangs off the companion organization, not the primary.
	active, changed, err := f.membershipSvc.MarkPaid(context.Background(), pending.ID, "pi_parent_"+pending.ID.String(), types.SourceManual)
	if err != nil {
		t.Fatalf("activate membership: %v", err)
	}
	if !changed {
		t.Fatalf("activate membership: expected transition")
	}
	_, err = f.subscriptionSvc.Create(context.Background(), CreateSubscriptionInput{
		MemberID:     member.ID,
		MembershipID: active.ID,
		Kind:         types.KindSiteRental,
		Year:         2026,
	})
	if apierr.CodeOf(err) != apierr.CodeValidation {
		t.Fatalf("org mismatch: want code=%q got err=%v", apierr.CodeValidation, err)
	}

	sub, err := f.subscriptionSvc.Create(context.Background(), CreateSubscriptionInput{
		MemberID:     member.ID,
		MembershipID: active.ID,
		Kind:         types.KindInsurance,
		Year:         2026,
		HiveCount:    10,
		Options:      types.Options{InsuranceTier: "standard"},
	})
	if err != nil {
		t.Fatalf("create insurance: %v", err)
	}
	// 1800 base fee + 165/hive over 10 hives.
	if sub.AmountCents != 3450 {
		t.Fatalf("amount: want=3450 got=%d", sub.AmountCents)
	}
	if sub.DepositAmountCents != 0 {
		t.Fatalf("insurance must carry no deposit, got %d", sub.DepositAmountCents)
	}
	if sub.Status != types.SubscriptionAwaitingPayment {
		t.Fatalf("status: want=%q got=%q", types.SubscriptionAwaitingPayment, sub.Status)
	}

	_, err = f.subscriptionSvc.Create(context.Background(), CreateSubscriptionInput{
		MemberID:     member.ID,
		MembershipID: active.ID,
		Kind:         types.KindInsurance,
		Year:         2026,
		HiveCount:    5,
		Options:      types.Options{InsuranceTier: "liability"},
	})
	if apierr.CodeOf(err) != apierr.CodeDuplicateEntity {
		t.Fatalf("duplicate: want code=%q got err=%v", apierr.CodeDuplicateEntity, err)
	}
}

func TestInsurancePaymentWaitsForValidation(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	sub := f.createInsuranceSubscription(t, member, types.Options{InsuranceTier: "standard"}, 10)

	paid, changed, err := f.subscriptionSvc.MarkPaid(context.Background(), sub.ID, "pi_ins", types.SourceWebhook)
	if err != nil || !changed {
		t.Fatalf("MarkPaid: changed=%v err=%v", changed, err)
	}
	if paid.Status != types.SubscriptionAwaitingValidation {
		t.Fatalf("status: want=%q got=%q", types.SubscriptionAwaitingValidation, paid.Status)
	}
	// Not active yet, so no certificate.
	if f.renderer.subscriptionRenders != 0 {
		t.Fatalf("renders: want=0 got=%d", f.renderer.subscriptionRenders)
	}

	again, changed, err := f.subscriptionSvc.MarkPaid(context.Background(), sub.ID, "pi_ins", types.SourceSweep)
	if err != nil || changed {
		t.Fatalf("replay: changed=%v err=%v", changed, err)
	}
	if again.PaymentRef != "pi_ins" {
		t.Fatalf("replay ref: want=pi_ins got=%q", again.PaymentRef)
	}
}

func (f *fixture) createSiteRental(t *testing.T, member *types.Member) *types.Subscription {
	t.Helper()
	parent := f.activeMembership(t, member.ID, types.OrgAMAIR)
	sub, err := f.subscriptionSvc.Create(context.Background(), CreateSubscriptionInput{
		MemberID:     member.ID,
		MembershipID: parent.ID,
		Kind:         types.KindSiteRental,
		Year:         2026,
	})
	if err != nil {
		t.Fatalf("create site rental: %v", err)
	}
	return sub
}

func TestSiteRentalPaymentThenDeposit(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	sub := f.createSiteRental(t, member)
	if sub.DepositAmountCents != 8000 {
		t.Fatalf("deposit: want=8000 got=%d", sub.DepositAmountCents)
	}

	paid, changed, err := f.subscriptionSvc.MarkPaid(context.Background(), sub.ID, "pi_rent", types.SourceWebhook)
	if err != nil || !changed {
		t.Fatalf("MarkPaid: changed=%v err=%v", changed, err)
	}
	if paid.Status != types.SubscriptionAwaitingDeposit {
		t.Fatalf("status: want=%q got=%q", types.SubscriptionAwaitingDeposit, paid.Status)
	}

	// Returning a deposit that was never received is rejected.
	if _, err := f.subscriptionSvc.SetDepositStatus(context.Background(), sub.ID, types.DepositReturned); apierr.CodeOf(err) != apierr.CodeInvalidTransition {
		t.Fatalf("return pending deposit: want code=%q got err=%v", apierr.CodeInvalidTransition, err)
	}

	received, err := f.subscriptionSvc.SetDepositStatus(context.Background(), sub.ID, types.DepositReceived)
	if err != nil {
		t.Fatalf("SetDepositStatus received: %v", err)
	}
	if received.Status != types.SubscriptionActive {
		t.Fatalf("status: want=%q got=%q", types.SubscriptionActive, received.Status)
	}
	if f.renderer.subscriptionRenders != 1 {
		t.Fatalf("renders: want=1 got=%d", f.renderer.subscriptionRenders)
	}

	// Receiving twice changes nothing and renders nothing.
	if _, err := f.subscriptionSvc.SetDepositStatus(context.Background(), sub.ID, types.DepositReceived); err != nil {
		t.Fatalf("SetDepositStatus rerun: %v", err)
	}
	if f.renderer.subscriptionRenders != 1 {
		t.Fatalf("renders after rerun: want=1 got=%d", f.renderer.subscriptionRenders)
	}

	returned, err := f.subscriptionSvc.SetDepositStatus(context.Background(), sub.ID, types.DepositReturned)
	if err != nil {
		t.Fatalf("SetDepositStatus returned: %v", err)
	}
	if returned.DepositStatus != types.DepositReturned {
		t.Fatalf("deposit status: want=%q got=%q", types.DepositReturned, returned.DepositStatus)
	}
	// The service itself stays active; only the deposit leg closes.
	if returned.Status != types.SubscriptionActive {
		t.Fatalf("status after return: want=%q got=%q", types.SubscriptionActive, returned.Status)
	}
}

func TestSiteRentalDepositThenPayment(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	sub := f.createSiteRental(t, member)

	if _, err := f.subscriptionSvc.SetDepositStatus(context.Background(), sub.ID, types.DepositReceived); err != nil {
		t.Fatalf("SetDepositStatus: %v", err)
	}
	if f.renderer.subscriptionRenders != 0 {
		t.Fatalf("renders before payment: want=0 got=%d", f.renderer.subscriptionRenders)
	}

	paid, changed, err := f.subscriptionSvc.MarkPaid(context.Background(), sub.ID, "pi_rent", types.SourceManual)
	if err != nil || !changed {
		t.Fatalf("MarkPaid: changed=%v err=%v", changed, err)
	}
	if paid.Status != types.SubscriptionActive {
		t.Fatalf("status: want=%q got=%q", types.SubscriptionActive, paid.Status)
	}
	if f.renderer.subscriptionRenders != 1 {
		t.Fatalf("renders: want=1 got=%d", f.renderer.subscriptionRenders)
	}
}

// interleavingSubscriptionRepo injects a competing call between a service
// method's read and its guarded write. Each hook fires once.
type interleavingSubscriptionRepo struct {
	repos.SubscriptionRepo
	beforeMarkPaid   func()
	beforeSetDeposit func()
}

func (r *interleavingSubscriptionRepo) MarkPaidIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, paymentRef string, to types.SubscriptionStatus, at time.Time) (bool, error) {
	if hook := r.beforeMarkPaid; hook != nil {
		r.beforeMarkPaid = nil
		hook()
	}
	return r.SubscriptionRepo.MarkPaidIf(ctx, tx, id, paymentRef, to, at)
}

func (r *interleavingSubscriptionRepo) SetDepositStatusIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.DepositStatus) (bool, error) {
	if hook := r.beforeSetDeposit; hook != nil {
		r.beforeSetDeposit = nil
		hook()
	}
	return r.SubscriptionRepo.SetDepositStatusIf(ctx, tx, id, from, to)
}

func TestSiteRentalDepositRacingPaymentConverges(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	sub := f.createSiteRental(t, member)

	wrapped := &interleavingSubscriptionRepo{SubscriptionRepo: f.subscriptions}
	svc := NewSubscriptionService(f.db, f.log, wrapped, f.modifications, f.memberships, f.calc, f.certificates)

	// The deposit lands after MarkPaid has decided on awaiting_deposit but
	// before the paid write commits.
	wrapped.beforeMarkPaid = func() {
		if _, err := f.subscriptionSvc.SetDepositStatus(context.Background(), sub.ID, types.DepositReceived); err != nil {
			t.Fatalf("interleaved deposit: %v", err)
		}
	}

	paid, changed, err := svc.MarkPaid(context.Background(), sub.ID, "pi_rent", types.SourceWebhook)
	if err != nil || !changed {
		t.Fatalf("MarkPaid: changed=%v err=%v", changed, err)
	}
	if paid.Status != types.SubscriptionActive {
		t.Fatalf("status: want=%q got=%q", types.SubscriptionActive, paid.Status)
	}
	if paid.DepositStatus != types.DepositReceived {
		t.Fatalf("deposit status: want=%q got=%q", types.DepositReceived, paid.DepositStatus)
	}
	if f.renderer.subscriptionRenders != 1 {
		t.Fatalf("renders: want=1 got=%d", f.renderer.subscriptionRenders)
	}

	// A replay of the same ref sees the settled state and changes nothing.
	replayed, changed, err := svc.MarkPaid(context.Background(), sub.ID, "pi_rent", types.SourceSweep)
	if err != nil || changed {
		t.Fatalf("replay: changed=%v err=%v", changed, err)
	}
	if replayed.Status != types.SubscriptionActive {
		t.Fatalf("status after replay: want=%q got=%q", types.SubscriptionActive, replayed.Status)
	}
	if f.renderer.subscriptionRenders != 1 {
		t.Fatalf("renders after replay: want=1 got=%d", f.renderer.subscriptionRenders)
	}
}

func TestSiteRentalPaymentRacingDepositConverges(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	sub := f.createSiteRental(t, member)

	wrapped := &interleavingSubscriptionRepo{SubscriptionRepo: f.subscriptions}
	svc := NewSubscriptionService(f.db, f.log, wrapped, f.modifications, f.memberships, f.calc, f.certificates)

	// The payment settles after SetDepositStatus has read the unpaid row but
	// before the deposit write commits.
	wrapped.beforeSetDeposit = func() {
		if _, _, err := f.subscriptionSvc.MarkPaid(context.Background(), sub.ID, "pi_rent", types.SourceWebhook); err != nil {
			t.Fatalf("interleaved payment: %v", err)
		}
	}

	received, err := svc.SetDepositStatus(context.Background(), sub.ID, types.DepositReceived)
	if err != nil {
		t.Fatalf("SetDepositStatus: %v", err)
	}
	if received.Status != types.SubscriptionActive {
		t.Fatalf("status: want=%q got=%q", types.SubscriptionActive, received.Status)
	}
	if f.renderer.subscriptionRenders != 1 {
		t.Fatalf("renders: want=1 got=%d", f.renderer.subscriptionRenders)
	}
}

func TestModificationAppliedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	sub := f.createInsuranceSubscription(t, member, types.Options{InsuranceTier: "standard"}, 10)
	if _, _, err := f.subscriptionSvc.MarkPaid(context.Background(), sub.ID, "pi_base", types.SourceWebhook); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	entry, err := f.subscriptionSvc.RequestModification(context.Background(), sub.ID, tariff.ModificationRequest{
		NewInsuranceTier: "extended",
	})
	if err != nil {
		t.Fatalf("RequestModification: %v", err)
	}
	if entry.Idx != 0 {
		t.Fatalf("idx: want=0 got=%d", entry.Idx)
	}
	// (270-165) per hive over 10 hives.
	if entry.ExtraAmountCents != 1050 {
		t.Fatalf("extra amount: want=1050 got=%d", entry.ExtraAmountCents)
	}

	confirmed, changed, err := f.subscriptionSvc.ConfirmModification(context.Background(), sub.ID, 0, "pi_mod", types.SourceWebhook)
	if err != nil || !changed {
		t.Fatalf("ConfirmModification: changed=%v err=%v", changed, err)
	}
	if !confirmed.Applied || confirmed.PaymentStatus != types.PaymentPaid {
		t.Fatalf("entry: applied=%v payment=%q", confirmed.Applied, confirmed.PaymentStatus)
	}

	after, err := f.subscriptionSvc.GetByID(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.Options.InsuranceTier != "extended" {
		t.Fatalf("live tier: want=extended got=%q", after.Options.InsuranceTier)
	}
	if after.AmountCents != 3450+1050 {
		t.Fatalf("amount: want=%d got=%d", 3450+1050, after.AmountCents)
	}

	// The replay neither re-applies the delta nor touches the options.
	_, changed, err = f.subscriptionSvc.ConfirmModification(context.Background(), sub.ID, 0, "pi_mod", types.SourceSweep)
	if err != nil || changed {
		t.Fatalf("replay: changed=%v err=%v", changed, err)
	}
	again, err := f.subscriptionSvc.GetByID(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if again.AmountCents != after.AmountCents {
		t.Fatalf("amount after replay: want=%d got=%d", after.AmountCents, again.AmountCents)
	}

	// A downgrade back to the previous tier is an upgrade-only violation.
	_, err = f.subscriptionSvc.RequestModification(context.Background(), sub.ID, tariff.ModificationRequest{
		NewInsuranceTier: "standard",
	})
	if apierr.CodeOf(err) != apierr.CodeUpgradeOnlyViolation {
		t.Fatalf("downgrade: want code=%q got err=%v", apierr.CodeUpgradeOnlyViolation, err)
	}
}

func TestModificationRejectedOnSiteRental(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	sub := f.createSiteRental(t, member)

	_, err := f.subscriptionSvc.RequestModification(context.Background(), sub.ID, tariff.ModificationRequest{
		AddLegalAssistance: true,
	})
	if apierr.CodeOf(err) != apierr.CodeValidation {
		t.Fatalf("want code=%q got err=%v", apierr.CodeValidation, err)
	}
}
