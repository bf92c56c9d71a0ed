package services

import (
	"context"
	"errors"
	"testing"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/types"
)

func TestMembershipCreateRejectsSecondEnrollment(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)

	first := f.createMembership(t, member.ID, types.OrgSAR, false)
	if first.Status != types.MembershipPending {
		t.Fatalf("status: want=%q got=%q", types.MembershipPending, first.Status)
	}
	if first.AmountCents != 3500 {
		t.Fatalf("hobbyist SAR amount: want=3500 got=%d", first.AmountCents)
	}

	_, err := f.membershipSvc.Create(context.Background(), CreateMembershipInput{
		MemberID:     member.ID,
		Organization: types.OrgSAR,
		Year:         2026,
		Category:     types.CategoryProfessional,
	})
	if apierr.CodeOf(err) != apierr.CodeDuplicateEntity {
		t.Fatalf("duplicate create: want code=%q got err=%v", apierr.CodeDuplicateEntity, err)
	}
}

func TestMembershipRequestPaymentGatedOnNotifier(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	membership := f.createMembership(t, member.ID, types.OrgSAR, false)

	f.notifier.payLinkErr = errors.New("smtp relay down")
	if _, _, err := f.membershipSvc.RequestPayment(context.Background(), membership.ID); err == nil {
		t.Fatalf("RequestPayment: expected error when pay link mail fails")
	}

	// The failed mail must not leave a half-requested membership behind.
	current, err := f.membershipSvc.GetByID(context.Background(), membership.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != types.MembershipPending {
		t.Fatalf("status after failed mail: want=%q got=%q", types.MembershipPending, current.Status)
	}

	f.notifier.payLinkErr = nil
	updated, payURL, err := f.membershipSvc.RequestPayment(context.Background(), membership.ID)
	if err != nil {
		t.Fatalf("RequestPayment: %v", err)
	}
	if updated.Status != types.MembershipPaymentRequested {
		t.Fatalf("status: want=%q got=%q", types.MembershipPaymentRequested, updated.Status)
	}
	if payURL == "" || f.notifier.lastPayURL != payURL {
		t.Fatalf("pay url not delivered: url=%q mailed=%q", payURL, f.notifier.lastPayURL)
	}
	if f.gateway.lastRequest.AmountCents != membership.AmountCents {
		t.Fatalf("checkout amount: want=%d got=%d", membership.AmountCents, f.gateway.lastRequest.AmountCents)
	}

	// Requesting again from payment_requested is rejected.
	if _, _, err := f.membershipSvc.RequestPayment(context.Background(), membership.ID); apierr.CodeOf(err) != apierr.CodeInvalidTransition {
		t.Fatalf("second request: want code=%q got err=%v", apierr.CodeInvalidTransition, err)
	}
}

func TestMembershipMarkPaidConvergesOnOneActivation(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	membership := f.createMembership(t, member.ID, types.OrgSAR, true)

	activated, changed, err := f.membershipSvc.MarkPaid(context.Background(), membership.ID, "pi_1", types.SourceWebhook)
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if !changed {
		t.Fatalf("MarkPaid: expected first call to transition")
	}
	if activated.Status != types.MembershipActive {
		t.Fatalf("status: want=%q got=%q", types.MembershipActive, activated.Status)
	}
	if activated.PaymentRef != "pi_1" || activated.PaymentSource != types.SourceWebhook {
		t.Fatalf("payment fields: ref=%q source=%q", activated.PaymentRef, activated.PaymentSource)
	}
	if activated.CertificateKey == "" {
		t.Fatalf("expected a certificate key after activation")
	}

	// One render for the primary, one for the granted companion.
	if f.renderer.membershipRenders != 2 {
		t.Fatalf("membership renders: want=2 got=%d", f.renderer.membershipRenders)
	}

	companion, err := f.memberships.GetByKey(context.Background(), nil, member.ID, types.OrgAMAIR, 2026)
	if err != nil {
		t.Fatalf("GetByKey companion: %v", err)
	}
	if companion == nil {
		t.Fatalf("expected a companion membership")
	}
	if companion.Status != types.MembershipActive || !companion.FreeViaCompanion || companion.AmountCents != 0 {
		t.Fatalf("companion: status=%q free=%v amount=%d", companion.Status, companion.FreeViaCompanion, companion.AmountCents)
	}

	// Replays with the same and with a different ref are both no-ops.
	for _, ref := range []string{"pi_1", "pi_other"} {
		again, changed, err := f.membershipSvc.MarkPaid(context.Background(), membership.ID, ref, types.SourceSweep)
		if err != nil {
			t.Fatalf("MarkPaid replay(%s): %v", ref, err)
		}
		if changed {
			t.Fatalf("MarkPaid replay(%s): expected no transition", ref)
		}
		if again.PaymentRef != "pi_1" {
			t.Fatalf("replay(%s) ref: want=pi_1 got=%q", ref, again.PaymentRef)
		}
	}
	if f.renderer.membershipRenders != 2 {
		t.Fatalf("renders after replays: want=2 got=%d", f.renderer.membershipRenders)
	}

	var companions int64
	if err := f.db.Model(&types.Membership{}).
		Where("member_id = ? AND organization = ?", member.ID, types.OrgAMAIR).
		Count(&companions).Error; err != nil {
		t.Fatalf("count companions: %v", err)
	}
	if companions != 1 {
		t.Fatalf("companion rows: want=1 got=%d", companions)
	}
}

func TestMembershipMarkPaidRejectedFromTerminalStatus(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)
	membership := f.createMembership(t, member.ID, types.OrgSAR, false)

	if err := f.membershipSvc.MarkRefused(context.Background(), membership.ID); err != nil {
		t.Fatalf("MarkRefused: %v", err)
	}
	_, _, err := f.membershipSvc.MarkPaid(context.Background(), membership.ID, "pi_late", types.SourceManual)
	if apierr.CodeOf(err) != apierr.CodeInvalidTransition {
		t.Fatalf("MarkPaid from refused: want code=%q got err=%v", apierr.CodeInvalidTransition, err)
	}
}

func TestMembershipTerminalTransitions(t *testing.T) {
	f := newFixture(t)
	member := f.createMember(t)

	membership := f.activeMembership(t, member.ID, types.OrgSAR)
	if err := f.membershipSvc.MarkRefused(context.Background(), membership.ID); apierr.CodeOf(err) != apierr.CodeInvalidTransition {
		t.Fatalf("refuse active: want code=%q got err=%v", apierr.CodeInvalidTransition, err)
	}
	if err := f.membershipSvc.MarkExpired(context.Background(), membership.ID); err != nil {
		t.Fatalf("expire active: %v", err)
	}

	current, err := f.membershipSvc.GetByID(context.Background(), membership.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != types.MembershipExpired {
		t.Fatalf("status: want=%q got=%q", types.MembershipExpired, current.Status)
	}
}
