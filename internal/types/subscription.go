package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ServiceKind string

const (
	// KindInsurance is the fee-only add-on. Paid insurance subscriptions wait
	// for partner-side validation (the export/activate cycle) before turning
	// active.
	KindInsurance ServiceKind = "insurance"
	// KindSiteRental is the deposit-bearing add-on (an apiary site placement
	// with a refundable deposit).
	KindSiteRental ServiceKind = "site_rental"
)

func (k ServiceKind) Valid() bool {
	return k == KindInsurance || k == KindSiteRental
}

// RequiredOrganization is the organization a parent membership must belong to
// for this service kind.
func (k ServiceKind) RequiredOrganization() Organization {
	if k == KindSiteRental {
		return OrgAMAIR
	}
	return OrgSAR
}

type SubscriptionStatus string

const (
	SubscriptionAwaitingPayment    SubscriptionStatus = "awaiting_payment"
	SubscriptionAwaitingDeposit    SubscriptionStatus = "awaiting_deposit"
	SubscriptionAwaitingValidation SubscriptionStatus = "awaiting_validation"
	SubscriptionActive             SubscriptionStatus = "active"
)

// All subscription transitions are one-directional; there is no downgrade path.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionAwaitingPayment:    {SubscriptionAwaitingDeposit, SubscriptionAwaitingValidation, SubscriptionActive},
	SubscriptionAwaitingDeposit:    {SubscriptionActive},
	SubscriptionAwaitingValidation: {SubscriptionActive},
}

func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositReceived DepositStatus = "received"
	DepositReturned DepositStatus = "returned"
)

// Options is the itemized option set of an insurance subscription. The live
// values only ever change when a paid modification entry is applied.
type Options struct {
	InsuranceTier   string `gorm:"column:opt_insurance_tier" json:"insurance_tier"`
	Publication     string `gorm:"column:opt_publication" json:"publication"`
	LegalAssistance bool   `gorm:"not null;default:false;column:opt_legal_assistance" json:"legal_assistance"`
}

// Subscription is a year-scoped add-on service tied to an active membership.
type Subscription struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID     uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_key;column:member_id" json:"member_id"`
	Member       *Member      `gorm:"foreignKey:MemberID" json:"member,omitempty"`
	MembershipID uuid.UUID    `gorm:"type:uuid;not null;column:membership_id" json:"membership_id"`
	Organization Organization `gorm:"not null;column:organization" json:"organization"`
	Kind         ServiceKind  `gorm:"not null;uniqueIndex:idx_subscription_key;column:kind" json:"kind"`
	Year         int          `gorm:"not null;uniqueIndex:idx_subscription_key;column:year" json:"year"`

	HiveCount int `gorm:"not null;default:0;column:hive_count" json:"hive_count"`
	Options   Options `gorm:"embedded" json:"options"`

	AmountCents   int64         `gorm:"not null;column:amount_cents" json:"amount_cents"`
	PaymentStatus PaymentStatus `gorm:"not null;default:unpaid;column:payment_status" json:"payment_status"`
	PaymentRef    string        `gorm:"column:payment_ref" json:"payment_ref"`
	PaidAt        *time.Time    `gorm:"column:paid_at" json:"paid_at"`

	DepositAmountCents int64         `gorm:"not null;default:0;column:deposit_amount_cents" json:"deposit_amount_cents"`
	DepositStatus      DepositStatus `gorm:"not null;default:pending;column:deposit_status" json:"deposit_status"`

	Status SubscriptionStatus `gorm:"not null;default:awaiting_payment;column:status" json:"status"`

	Modifications []ModificationEntry `gorm:"foreignKey:SubscriptionID" json:"modifications,omitempty"`

	Exported   bool       `gorm:"not null;default:false;column:exported" json:"exported"`
	ExportedAt *time.Time `gorm:"column:exported_at" json:"exported_at"`

	CertificateKey string `gorm:"column:certificate_key" json:"certificate_key"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// StatusOnPayment derives the post-payment status from the service kind and
// deposit state. Insurance waits for partner validation; a deposit-bearing
// subscription activates only once the deposit is in.
func (s *Subscription) StatusOnPayment() SubscriptionStatus {
	if s.Kind == KindInsurance {
		return SubscriptionAwaitingValidation
	}
	if s.DepositAmountCents == 0 || s.DepositStatus == DepositReceived {
		return SubscriptionActive
	}
	return SubscriptionAwaitingDeposit
}
