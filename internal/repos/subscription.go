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

type SubscriptionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sub *types.Subscription) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Subscription, error)
	GetByKey(ctx context.Context, tx *gorm.DB, memberID uuid.UUID, kind types.ServiceKind, year int) (*types.Subscription, error)

	// MarkPaidIf records the payment and moves the status in one conditional
	// write gated on the payment still being unpaid.
	MarkPaidIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, paymentRef string, to types.SubscriptionStatus, at time.Time) (bool, error)

	SetStatusIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []types.SubscriptionStatus, to types.SubscriptionStatus) (bool, error)
	SetDepositStatusIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.DepositStatus) (bool, error)

	// ApplyOptions overwrites the live option set and total. Only the
	// modification-confirmation path calls this.
	ApplyOptions(ctx context.Context, tx *gorm.DB, id uuid.UUID, opts types.Options, amountCents int64) error

	SetCertificateKey(ctx context.Context, tx *gorm.DB, id uuid.UUID, key string) error

	ListUnexportedPaid(ctx context.Context, tx *gorm.DB, year int) ([]*types.Subscription, error)
	MarkExported(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, at time.Time) (int64, error)
}

type subscriptionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubscriptionRepo(db *gorm.DB, baseLog *logger.Logger) SubscriptionRepo {
	return &subscriptionRepo{db: db, log: baseLog.With("repo", "SubscriptionRepo")}
}

func (r *subscriptionRepo) Create(ctx context.Context, tx *gorm.DB, sub *types.Subscription) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Subscription, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sub types.Subscription
	if err := transaction.WithContext(ctx).
		Preload("Member").
		Preload("Modifications", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepo) GetByKey(ctx context.Context, tx *gorm.DB, memberID uuid.UUID, kind types.ServiceKind, year int) (*types.Subscription, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sub types.Subscription
	if err := transaction.WithContext(ctx).
		Preload("Member").
		Preload("Modifications", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		First(&sub, "member_id = ? AND kind = ? AND year = ?", memberID, kind, year).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepo) MarkPaidIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, paymentRef string, to types.SubscriptionStatus, at time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Subscription{}).
		Where("id = ? AND payment_status = ?", id, types.PaymentUnpaid).
		Updates(map[string]interface{}{
			"payment_status": types.PaymentPaid,
			"payment_ref":    paymentRef,
			"paid_at":        at,
			"status":         to,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *subscriptionRepo) SetStatusIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []types.SubscriptionStatus, to types.SubscriptionStatus) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Subscription{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *subscriptionRepo) SetDepositStatusIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.DepositStatus) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Subscription{}).
		Where("id = ? AND deposit_status = ?", id, from).
		Update("deposit_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *subscriptionRepo) ApplyOptions(ctx context.Context, tx *gorm.DB, id uuid.UUID, opts types.Options, amountCents int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"opt_insurance_tier":   opts.InsuranceTier,
			"opt_publication":      opts.Publication,
			"opt_legal_assistance": opts.LegalAssistance,
			"amount_cents":         amountCents,
		}).Error
}

func (r *subscriptionRepo) SetCertificateKey(ctx context.Context, tx *gorm.DB, id uuid.UUID, key string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Subscription{}).
		Where("id = ?", id).
		Update("certificate_key", key).Error
}

func (r *subscriptionRepo) ListUnexportedPaid(ctx context.Context, tx *gorm.DB, year int) ([]*types.Subscription, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var subs []*types.Subscription
	if err := transaction.WithContext(ctx).
		Preload("Member").
		Preload("Modifications", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		Where("kind = ? AND year = ? AND payment_status = ? AND exported = ?",
			types.KindInsurance, year, types.PaymentPaid, false).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *subscriptionRepo) MarkExported(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, at time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.Subscription{}).
		Where("id IN ? AND exported = ?", ids, false).
		Updates(map[string]interface{}{"exported": true, "exported_at": at})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
