package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/stripegw"
	"github.com/hivedesk/membership-backend/internal/repos"
	"github.com/hivedesk/membership-backend/internal/tariff"
	"github.com/hivedesk/membership-backend/internal/types"
)

// fakeGateway records checkout sessions and replays canned events.
type fakeGateway struct {
	createCalls   int
	createErr     error
	lastRequest   stripegw.CheckoutRequest
	verifyEvent   *stripegw.CheckoutEvent
	verifyErr     error
	listedEvents  []stripegw.CheckoutEvent
	listErr       error
	listSinceSeen time.Time
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req stripegw.CheckoutRequest) (*stripegw.CheckoutSession, error) {
	g.createCalls++
	g.lastRequest = req
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &stripegw.CheckoutSession{
		SessionRef:  fmt.Sprintf("cs_test_%d", g.createCalls),
		RedirectURL: fmt.Sprintf("https://pay.example/cs_test_%d", g.createCalls),
	}, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, sigHeader string) (*stripegw.CheckoutEvent, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyEvent, nil
}

func (g *fakeGateway) ListCheckoutEvents(ctx context.Context, since time.Time) ([]stripegw.CheckoutEvent, error) {
	g.listSinceSeen = since
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.listedEvents, nil
}

type fakeNotifier struct {
	payLinkCalls   int
	payLinkErr     error
	lastPayURL     string
	exportCalls    int
	exportErr      error
	lastFilename   string
	lastExportData []byte
}

func (n *fakeNotifier) SendPayLink(ctx context.Context, member *types.Member, description string, amountCents int64, payURL string) error {
	n.payLinkCalls++
	n.lastPayURL = payURL
	return n.payLinkErr
}

func (n *fakeNotifier) SendExportFile(ctx context.Context, batch *types.ExportBatch, filename string, data []byte) error {
	n.exportCalls++
	n.lastFilename = filename
	n.lastExportData = data
	return n.exportErr
}

type fakeRenderer struct {
	membershipRenders   int
	subscriptionRenders int
	renderErr           error
}

func (r *fakeRenderer) RenderMembershipCertificate(membership *types.Membership, member *types.Member) ([]byte, error) {
	r.membershipRenders++
	if r.renderErr != nil {
		return nil, r.renderErr
	}
	return []byte("membership-certificate"), nil
}

func (r *fakeRenderer) RenderSubscriptionCertificate(sub *types.Subscription, member *types.Member) ([]byte, error) {
	r.subscriptionRenders++
	if r.renderErr != nil {
		return nil, r.renderErr
	}
	return []byte("subscription-certificate"), nil
}

// memStore is an in-memory stand-in for the documents bucket.
type memStore struct {
	objects     map[string][]byte
	uploadErr   error
	downloadErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.objects[key] = data
	return nil
}

func (s *memStore) Download(ctx context.Context, key string) ([]byte, error) {
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return data, nil
}

func (s *memStore) PublicURL(key string) string {
	return "mem://" + key
}

type fixture struct {
	db       *gorm.DB
	log      *logger.Logger
	calc     *tariff.Calculator
	gateway  *fakeGateway
	notifier *fakeNotifier
	renderer *fakeRenderer
	store    *memStore

	members       repos.MemberRepo
	memberships   repos.MembershipRepo
	subscriptions repos.SubscriptionRepo
	modifications repos.ModificationRepo
	batches       repos.ExportBatchRepo

	certificates    CertificateService
	cascade         CascadeService
	membershipSvc   MembershipService
	subscriptionSvc SubscriptionService
	paymentSvc      PaymentService
	exportSvc       ExportService
	sweepSvc        SweepService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A pooled second connection would see an empty database; pin to one.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&types.Member{},
		&types.Membership{},
		&types.Subscription{},
		&types.ModificationEntry{},
		&types.ExportBatch{},
		&types.ExportBatchItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{
		db:       db,
		log:      logger.NewNop(),
		calc:     tariff.NewCalculator(tariff.DefaultRates()),
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		renderer: &fakeRenderer{},
		store:    newMemStore(),
	}
	f.members = repos.NewMemberRepo(db, f.log)
	f.memberships = repos.NewMembershipRepo(db, f.log)
	f.subscriptions = repos.NewSubscriptionRepo(db, f.log)
	f.modifications = repos.NewModificationRepo(db, f.log)
	f.batches = repos.NewExportBatchRepo(db, f.log)

	f.certificates = NewCertificateService(f.log, f.renderer, f.store)
	f.cascade = NewCascadeService(db, f.log, f.memberships, f.certificates)
	f.membershipSvc = NewMembershipService(db, f.log, f.memberships, f.members,
		f.calc, f.gateway, f.notifier, f.certificates, f.cascade)
	f.subscriptionSvc = NewSubscriptionService(db, f.log, f.subscriptions,
		f.modifications, f.memberships, f.calc, f.certificates)
	f.paymentSvc = NewPaymentService(f.log, f.gateway, f.membershipSvc,
		f.subscriptionSvc, f.subscriptions, f.modifications, f.calc)
	f.exportSvc = NewExportService(db, f.log, f.subscriptions, f.modifications,
		f.batches, f.store, f.notifier, f.certificates)
	f.sweepSvc = NewSweepService(f.log, f.gateway, f.paymentSvc)
	return f
}

func (f *fixture) createMember(t *testing.T) *types.Member {
	t.Helper()
	member := &types.Member{
		LastName:   "Dupont",
		FirstName:  "Camille",
		Street:     "12 rue des Tilleuls",
		PostalCode: "64000",
		City:       "Pau",
		Email:      fmt.Sprintf("%s@example.test", uuid.NewString()),
	}
	if err := f.members.Create(context.Background(), nil, member); err != nil {
		t.Fatalf("create member: %v", err)
	}
	return member
}

func (f *fixture) createMembership(t *testing.T, memberID uuid.UUID, org types.Organization, grantsCompanion bool) *types.Membership {
	t.Helper()
	membership, err := f.membershipSvc.Create(context.Background(), CreateMembershipInput{
		MemberID:        memberID,
		Organization:    org,
		Year:            2026,
		Category:        types.CategoryHobbyist,
		HiveCount:       10,
		GrantsCompanion: grantsCompanion,
	})
	if err != nil {
		t.Fatalf("create membership: %v", err)
	}
	return membership
}

// activeMembership shortcuts the pay flow for tests that need a paid parent.
func (f *fixture) activeMembership(t *testing.T, memberID uuid.UUID, org types.Organization) *types.Membership {
	t.Helper()
	membership := f.createMembership(t, memberID, org, false)
	activated, changed, err := f.membershipSvc.MarkPaid(context.Background(), membership.ID, "pi_parent_"+membership.ID.String(), types.SourceManual)
	if err != nil {
		t.Fatalf("activate membership: %v", err)
	}
	if !changed {
		t.Fatalf("activate membership: expected transition")
	}
	return activated
}

func (f *fixture) createInsuranceSubscription(t *testing.T, member *types.Member, opts types.Options, hives int) *types.Subscription {
	t.Helper()
	parent := f.activeMembership(t, member.ID, types.OrgSAR)
	sub, err := f.subscriptionSvc.Create(context.Background(), CreateSubscriptionInput{
		MemberID:     member.ID,
		MembershipID: parent.ID,
		Kind:         types.KindInsurance,
		Year:         2026,
		HiveCount:    hives,
		Options:      opts,
	})
	if err != nil {
		t.Fatalf("create insurance subscription: %v", err)
	}
	return sub
}
