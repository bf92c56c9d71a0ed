package stripegw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/event"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/hivedesk/membership-backend/internal/apierr"
	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/utils"
)

// Metadata keys carried on every checkout session so webhook and sweeper can
// re-derive the target entity.
const (
	MetaEntityType   = "entity_type"
	MetaEntityID     = "entity_id"
	MetaMemberID     = "member_id"
	MetaOrganization = "organization"
	MetaModIndex     = "modification_index"
)

const (
	EntityMembership   = "membership"
	EntitySubscription = "subscription"
	EntityModification = "modification"
)

type CheckoutRequest struct {
	AmountCents       int64
	Description       string
	Metadata          map[string]string
	PayoutDestination string
}

type CheckoutSession struct {
	SessionRef  string
	RedirectURL string
}

// CheckoutEvent is a normalized "checkout completed" gateway event.
type CheckoutEvent struct {
	SessionID   string
	PaymentRef  string
	PaymentPaid bool
	AmountCents int64
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Gateway is the payment-gateway seam the services depend on; tests swap a
// fake in, production wires the Stripe client below.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// VerifyWebhook checks the signature and normalizes the event. It returns
	// (nil, nil) for authentic events of kinds this system ignores.
	VerifyWebhook(payload []byte, sigHeader string) (*CheckoutEvent, error)
	ListCheckoutEvents(ctx context.Context, since time.Time) ([]CheckoutEvent, error)
}

type Config struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
	// PayoutAccounts maps an organization code to a connected account the
	// payment is routed to. Empty means the platform account keeps the funds.
	PayoutAccounts map[string]string
}

func ConfigFromEnv(log *logger.Logger) Config {
	payoutAccounts := map[string]string{}
	if acct := strings.TrimSpace(utils.GetEnv("STRIPE_PAYOUT_ACCOUNT_SAR", "", log)); acct != "" {
		payoutAccounts["SAR"] = acct
	}
	if acct := strings.TrimSpace(utils.GetEnv("STRIPE_PAYOUT_ACCOUNT_AMAIR", "", log)); acct != "" {
		payoutAccounts["AMAIR"] = acct
	}
	return Config{
		APIKey:         strings.TrimSpace(utils.GetEnv("STRIPE_API_KEY", "", log)),
		WebhookSecret:  strings.TrimSpace(utils.GetEnv("STRIPE_WEBHOOK_SECRET", "", log)),
		SuccessURL:     utils.GetEnv("STRIPE_SUCCESS_URL", "https://localhost/pay/success", log),
		CancelURL:      utils.GetEnv("STRIPE_CANCEL_URL", "https://localhost/pay/cancel", log),
		Currency:       utils.GetEnv("STRIPE_CURRENCY", "eur", log),
		PayoutAccounts: payoutAccounts,
	}
}

type client struct {
	cfg Config
	log *logger.Logger
}

func New(log *logger.Logger, cfg Config) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing STRIPE_API_KEY")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("missing STRIPE_WEBHOOK_SECRET")
	}
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	stripe.Key = cfg.APIKey
	return &client{cfg: cfg, log: log.With("service", "StripeGateway")}, nil
}

func (c *client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive, got %d", req.AmountCents)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(c.cfg.Currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}
	if req.PayoutDestination != "" {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(req.PayoutDestination),
			},
		}
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return &CheckoutSession{SessionRef: s.ID, RedirectURL: s.URL}, nil
}

func (c *client) VerifyWebhook(payload []byte, sigHeader string) (*CheckoutEvent, error) {
	ev, err := webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
	if err != nil {
		return nil, apierr.InvalidSignature(fmt.Errorf("webhook signature verification failed: %w", err))
	}
	if ev.Type != "checkout.session.completed" {
		c.log.Debug("Ignoring gateway event", "type", ev.Type)
		return nil, nil
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("parse checkout session payload: %w", err)
	}
	return normalizeSession(&s, time.Unix(ev.Created, 0)), nil
}

func (c *client) ListCheckoutEvents(ctx context.Context, since time.Time) ([]CheckoutEvent, error) {
	params := &stripe.EventListParams{
		Type: stripe.String("checkout.session.completed"),
	}
	params.Context = ctx
	params.Filters.AddFilter("created[gte]", "", fmt.Sprintf("%d", since.Unix()))

	var out []CheckoutEvent
	it := event.List(params)
	for it.Next() {
		ev := it.Event()
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			c.log.Warn("Skipping unparseable gateway event", "event_id", ev.ID, "error", err)
			continue
		}
		out = append(out, *normalizeSession(&s, time.Unix(ev.Created, 0)))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list gateway events: %w", err)
	}
	return out, nil
}

func normalizeSession(s *stripe.CheckoutSession, createdAt time.Time) *CheckoutEvent {
	paymentRef := s.ID
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		paymentRef = s.PaymentIntent.ID
	}
	return &CheckoutEvent{
		SessionID:   s.ID,
		PaymentRef:  paymentRef,
		PaymentPaid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountCents: s.AmountTotal,
		Metadata:    s.Metadata,
		CreatedAt:   createdAt,
	}
}
