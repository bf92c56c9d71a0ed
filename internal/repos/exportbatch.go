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

type ExportBatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, batch *types.ExportBatch) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ExportBatch, error)
	CountForYear(ctx context.Context, tx *gorm.DB, year int) (int64, error)
	MarkSentIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error)
}

type exportBatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExportBatchRepo(db *gorm.DB, baseLog *logger.Logger) ExportBatchRepo {
	return &exportBatchRepo{db: db, log: baseLog.With("repo", "ExportBatchRepo")}
}

func (r *exportBatchRepo) Create(ctx context.Context, tx *gorm.DB, batch *types.ExportBatch) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(batch).Error
}

func (r *exportBatchRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ExportBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var batch types.ExportBatch
	if err := transaction.WithContext(ctx).
		Preload("Items").
		First(&batch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

func (r *exportBatchRepo) CountForYear(ctx context.Context, tx *gorm.DB, year int) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ExportBatch{}).
		Where("year = ?", year).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *exportBatchRepo) MarkSentIf(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.ExportBatch{}).
		Where("id = ? AND send_status = ?", id, types.SendPending).
		Updates(map[string]interface{}{"send_status": types.SendSent, "sent_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
