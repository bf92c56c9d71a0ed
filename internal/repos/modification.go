package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/types"
)

type ModificationRepo interface {
	Append(ctx context.Context, tx *gorm.DB, entry *types.ModificationEntry) error
	GetBySubscriptionAndIdx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, idx int) (*types.ModificationEntry, error)
	CountForSubscription(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) (int64, error)

	// MarkPaidAppliedIf confirms the payment and flips the applied flag in one
	// conditional write gated on the entry still being unpaid.
	MarkPaidAppliedIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, paymentRef string, at time.Time) (bool, error)

	ListUnexportedPaid(ctx context.Context, tx *gorm.DB, year int) ([]*types.ModificationEntry, error)
	MarkExported(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error)
}

type modificationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModificationRepo(db *gorm.DB, baseLog *logger.Logger) ModificationRepo {
	return &modificationRepo{db: db, log: baseLog.With("repo", "ModificationRepo")}
}

func (r *modificationRepo) Append(ctx context.Context, tx *gorm.DB, entry *types.ModificationEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(entry).Error
}

func (r *modificationRepo) GetBySubscriptionAndIdx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, idx int) (*types.ModificationEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entry types.ModificationEntry
	if err := transaction.WithContext(ctx).
		First(&entry, "subscription_id = ? AND idx = ?", subscriptionID, idx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *modificationRepo) CountForSubscription(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ModificationEntry{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *modificationRepo) MarkPaidAppliedIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, paymentRef string, at time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.ModificationEntry{}).
		Where("id = ? AND payment_status = ?", id, types.PaymentUnpaid).
		Updates(map[string]interface{}{
			"payment_status": types.PaymentPaid,
			"payment_ref":    paymentRef,
			"paid_at":        at,
			"applied":        true,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *modificationRepo) ListUnexportedPaid(ctx context.Context, tx *gorm.DB, year int) ([]*types.ModificationEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entries []*types.ModificationEntry
	if err := transaction.WithContext(ctx).
		Joins("JOIN subscription ON subscription.id = modification_entry.subscription_id").
		Where("subscription.year = ? AND subscription.kind = ?", year, types.KindInsurance).
		Where("modification_entry.payment_status = ? AND modification_entry.exported = ? AND modification_entry.applied = ?",
			types.PaymentPaid, false, true).
		Order("modification_entry.created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *modificationRepo) MarkExported(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.ModificationEntry{}).
		Where("id IN ? AND exported = ?", ids, false).
		Update("exported", true)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
