package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Organization string

const (
	// OrgSAR is the primary organization; a paid SAR membership can grant a
	// free companion membership in AMAIR.
	OrgSAR   Organization = "SAR"
	OrgAMAIR Organization = "AMAIR"
)

func (o Organization) Valid() bool {
	return o == OrgSAR || o == OrgAMAIR
}

type MemberCategory string

const (
	CategoryHobbyist     MemberCategory = "hobbyist"
	CategoryProfessional MemberCategory = "professional"
)

type MembershipStatus string

const (
	MembershipPending          MembershipStatus = "pending"
	MembershipPaymentRequested MembershipStatus = "payment_requested"
	MembershipActive           MembershipStatus = "active"
	MembershipRefused          MembershipStatus = "refused"
	MembershipExpired          MembershipStatus = "expired"
)

// membershipTransitions is the closed transition table; anything not listed
// is rejected.
var membershipTransitions = map[MembershipStatus][]MembershipStatus{
	MembershipPending:          {MembershipPaymentRequested, MembershipActive, MembershipRefused, MembershipExpired},
	MembershipPaymentRequested: {MembershipActive, MembershipRefused, MembershipExpired},
	MembershipActive:           {MembershipExpired},
}

func (s MembershipStatus) CanTransitionTo(next MembershipStatus) bool {
	for _, allowed := range membershipTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// PaymentSource records which path confirmed a payment.
type PaymentSource string

const (
	SourceWebhook PaymentSource = "webhook"
	SourceManual  PaymentSource = "manual"
	SourceSweep   PaymentSource = "sweep"
)

// Membership is one (member, organization, year) enrollment. The composite
// unique index is the store-level backstop behind the cascade resolver's
// existence check.
type Membership struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_membership_key;column:member_id" json:"member_id"`
	Member       *Member        `gorm:"foreignKey:MemberID" json:"member,omitempty"`
	Organization Organization   `gorm:"not null;uniqueIndex:idx_membership_key;column:organization" json:"organization"`
	Year         int            `gorm:"not null;uniqueIndex:idx_membership_key;column:year" json:"year"`
	Category     MemberCategory `gorm:"not null;column:category" json:"category"`

	ApiaryLocation string `gorm:"column:apiary_location" json:"apiary_location"`
	HiveCount      int    `gorm:"column:hive_count" json:"hive_count"`

	AmountCents   int64         `gorm:"not null;column:amount_cents" json:"amount_cents"`
	PaymentStatus PaymentStatus `gorm:"not null;default:unpaid;column:payment_status" json:"payment_status"`
	PaymentRef    string        `gorm:"column:payment_ref" json:"payment_ref"`
	PaymentSource PaymentSource `gorm:"column:payment_source" json:"payment_source"`

	Status      MembershipStatus `gorm:"not null;default:pending;column:status" json:"status"`
	ValidatedAt *time.Time       `gorm:"column:validated_at" json:"validated_at"`

	// GrantsCompanion marks a primary membership whose payment grants a free
	// AMAIR membership for the same member and year.
	GrantsCompanion  bool `gorm:"not null;default:false;column:grants_companion" json:"grants_companion"`
	FreeViaCompanion bool `gorm:"not null;default:false;column:free_via_companion" json:"free_via_companion"`

	CertificateKey string `gorm:"column:certificate_key" json:"certificate_key"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Membership) TableName() string {
	return "membership"
}

func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
