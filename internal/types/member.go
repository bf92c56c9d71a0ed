package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member is the person record memberships and subscriptions hang off.
// The contact and address fields mirror what the partner export file needs.
type Member struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LastName   string    `gorm:"not null;column:last_name" json:"last_name"`
	FirstName  string    `gorm:"not null;column:first_name" json:"first_name"`
	Street     string    `gorm:"column:street" json:"street"`
	Complement string    `gorm:"column:complement" json:"complement"`
	PostalCode string    `gorm:"column:postal_code" json:"postal_code"`
	City       string    `gorm:"column:city" json:"city"`
	Country    string    `gorm:"column:country;default:FR" json:"country"`
	Email      string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Phone      string    `gorm:"column:phone" json:"phone"`
	Mobile     string    `gorm:"column:mobile" json:"mobile"`
	TaxID      string    `gorm:"column:tax_id" json:"tax_id"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Member) TableName() string {
	return "member"
}

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (m *Member) FullName() string {
	return m.FirstName + " " + m.LastName
}
