package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ModificationEntry is an upgrade-only change request against a subscription's
// option set. It stays unapplied until its payment is confirmed; applying it is
// the only operation that touches the subscription's live options.
type ModificationEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_modification_key;column:subscription_id" json:"subscription_id"`
	Idx            int       `gorm:"not null;uniqueIndex:idx_modification_key;column:idx" json:"idx"`

	// Requested changes; empty string / false means "unchanged".
	NewInsuranceTier   string `gorm:"column:new_insurance_tier" json:"new_insurance_tier"`
	NewPublication     string `gorm:"column:new_publication" json:"new_publication"`
	AddLegalAssistance bool   `gorm:"not null;default:false;column:add_legal_assistance" json:"add_legal_assistance"`

	ExtraAmountCents int64         `gorm:"not null;column:extra_amount_cents" json:"extra_amount_cents"`
	PaymentStatus    PaymentStatus `gorm:"not null;default:unpaid;column:payment_status" json:"payment_status"`
	PaymentRef       string        `gorm:"column:payment_ref" json:"payment_ref"`
	PaidAt           *time.Time    `gorm:"column:paid_at" json:"paid_at"`

	Applied  bool `gorm:"not null;default:false;column:applied" json:"applied"`
	Exported bool `gorm:"not null;default:false;column:exported" json:"exported"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ModificationEntry) TableName() string {
	return "modification_entry"
}

func (m *ModificationEntry) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
