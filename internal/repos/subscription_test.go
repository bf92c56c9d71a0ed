package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/types"
)

func seedSubscription(t *testing.T, repo SubscriptionRepo, memberID uuid.UUID, kind types.ServiceKind, paid bool) *types.Subscription {
	t.Helper()
	ctx := context.Background()
	sub := &types.Subscription{
		MemberID:     memberID,
		MembershipID: uuid.New(),
		Organization: kind.RequiredOrganization(),
		Kind:         kind,
		Year:         2026,
		HiveCount:    10,
		AmountCents:  3450,
		Status:       types.SubscriptionAwaitingPayment,
	}
	if err := repo.Create(ctx, nil, sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	if paid {
		if _, err := repo.MarkPaidIf(ctx, nil, sub.ID, "pi_seed", types.SubscriptionAwaitingValidation, time.Now().UTC()); err != nil {
			t.Fatalf("seed payment: %v", err)
		}
	}
	return sub
}

func TestListUnexportedPaidFiltersKindAndState(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriptionRepo(db, logger.NewNop())
	ctx := context.Background()

	paidInsurance := seedSubscription(t, repo, seedMember(t, db).ID, types.KindInsurance, true)
	seedSubscription(t, repo, seedMember(t, db).ID, types.KindInsurance, false)
	seedSubscription(t, repo, seedMember(t, db).ID, types.KindSiteRental, true)

	subs, err := repo.ListUnexportedPaid(ctx, nil, 2026)
	if err != nil {
		t.Fatalf("ListUnexportedPaid: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != paidInsurance.ID {
		t.Fatalf("listed: %d rows", len(subs))
	}
	if subs[0].Member == nil {
		t.Fatalf("member not preloaded")
	}
}

func TestMarkExportedClaimsEachRowOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriptionRepo(db, logger.NewNop())
	ctx := context.Background()

	a := seedSubscription(t, repo, seedMember(t, db).ID, types.KindInsurance, true)
	b := seedSubscription(t, repo, seedMember(t, db).ID, types.KindInsurance, true)

	marked, err := repo.MarkExported(ctx, nil, []uuid.UUID{a.ID, b.ID}, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkExported: %v", err)
	}
	if marked != 2 {
		t.Fatalf("marked: want=2 got=%d", marked)
	}

	// Re-claiming already exported rows affects nothing.
	marked, err = repo.MarkExported(ctx, nil, []uuid.UUID{a.ID, b.ID}, time.Now().UTC())
	if err != nil {
		t.Fatalf("MarkExported rerun: %v", err)
	}
	if marked != 0 {
		t.Fatalf("rerun marked: want=0 got=%d", marked)
	}

	subs, err := repo.ListUnexportedPaid(ctx, nil, 2026)
	if err != nil {
		t.Fatalf("ListUnexportedPaid: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("unexported after claim: want=0 got=%d", len(subs))
	}
}
