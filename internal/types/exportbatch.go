package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSent    SendStatus = "sent"
)

// ExportBatch records one submission of paid items to the partner. Items are
// flagged exported in the same transaction that creates the batch, after the
// file is durably stored, so an item can never land in two batches.
type ExportBatch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Year      int       `gorm:"not null;column:year" json:"year"`
	BatchDate time.Time `gorm:"not null;column:batch_date" json:"batch_date"`

	ItemCount  int   `gorm:"not null;column:item_count" json:"item_count"`
	TotalCents int64 `gorm:"not null;column:total_cents" json:"total_cents"`

	FileKey string `gorm:"not null;column:file_key" json:"file_key"`

	SendStatus SendStatus `gorm:"not null;default:pending;column:send_status" json:"send_status"`
	SentAt     *time.Time `gorm:"column:sent_at" json:"sent_at"`

	Items []ExportBatchItem `gorm:"foreignKey:BatchID" json:"items,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ExportBatch) TableName() string {
	return "export_batch"
}

func (b *ExportBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// ExportBatchItem ties one exported subscription, or one exported modification
// entry of a subscription, to its batch.
type ExportBatchItem struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID        uuid.UUID  `gorm:"type:uuid;not null;index;column:batch_id" json:"batch_id"`
	SubscriptionID uuid.UUID  `gorm:"type:uuid;not null;column:subscription_id" json:"subscription_id"`
	ModificationID *uuid.UUID `gorm:"type:uuid;column:modification_id" json:"modification_id"`
	AmountCents    int64      `gorm:"not null;column:amount_cents" json:"amount_cents"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ExportBatchItem) TableName() string {
	return "export_batch_item"
}

func (i *ExportBatchItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
