package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/types"
)

type MemberRepo interface {
	Create(ctx context.Context, tx *gorm.DB, member *types.Member) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Member, error)
	GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.Member, error)
}

type memberRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMemberRepo(db *gorm.DB, baseLog *logger.Logger) MemberRepo {
	return &memberRepo{db: db, log: baseLog.With("repo", "MemberRepo")}
}

func (r *memberRepo) Create(ctx context.Context, tx *gorm.DB, member *types.Member) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(member).Error
}

func (r *memberRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Member, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var member types.Member
	if err := transaction.WithContext(ctx).First(&member, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

func (r *memberRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.Member, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var member types.Member
	if err := transaction.WithContext(ctx).First(&member, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}
