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

type MembershipRepo interface {
	Create(ctx context.Context, tx *gorm.DB, membership *types.Membership) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Membership, error)
	GetByKey(ctx context.Context, tx *gorm.DB, memberID uuid.UUID, org types.Organization, year int) (*types.Membership, error)

	// SetStatusIf performs the guarded write: the status only moves when the
	// current value is one of from. Returns false when a concurrent caller won.
	SetStatusIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []types.MembershipStatus, to types.MembershipStatus) (bool, error)

	// MarkPaidIf activates the membership and records the payment in one
	// conditional write; it only fires while the row is not yet active.
	MarkPaidIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, paymentRef string, source types.PaymentSource, at time.Time) (bool, error)

	SetCertificateKey(ctx context.Context, tx *gorm.DB, id uuid.UUID, key string) error
}

type membershipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMembershipRepo(db *gorm.DB, baseLog *logger.Logger) MembershipRepo {
	return &membershipRepo{db: db, log: baseLog.With("repo", "MembershipRepo")}
}

func (r *membershipRepo) Create(ctx context.Context, tx *gorm.DB, membership *types.Membership) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(membership).Error
}

func (r *membershipRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Membership, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var membership types.Membership
	if err := transaction.WithContext(ctx).
		Preload("Member").
		First(&membership, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

func (r *membershipRepo) GetByKey(ctx context.Context, tx *gorm.DB, memberID uuid.UUID, org types.Organization, year int) (*types.Membership, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var membership types.Membership
	if err := transaction.WithContext(ctx).
		Preload("Member").
		First(&membership, "member_id = ? AND organization = ? AND year = ?", memberID, org, year).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

func (r *membershipRepo) SetStatusIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []types.MembershipStatus, to types.MembershipStatus) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Membership{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *membershipRepo) MarkPaidIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, paymentRef string, source types.PaymentSource, at time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Membership{}).
		Where("id = ? AND status IN ?", id, []types.MembershipStatus{types.MembershipPending, types.MembershipPaymentRequested}).
		Updates(map[string]interface{}{
			"status":         types.MembershipActive,
			"payment_status": types.PaymentPaid,
			"payment_ref":    paymentRef,
			"payment_source": source,
			"validated_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *membershipRepo) SetCertificateKey(ctx context.Context, tx *gorm.DB, id uuid.UUID, key string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Membership{}).
		Where("id = ?", id).
		Update("certificate_key", key).Error
}
