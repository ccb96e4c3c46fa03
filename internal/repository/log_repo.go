package repository

import (
	"context"

	"ringi/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalLogRepository is append-only. Log rows are never updated or
// deleted; the interface does not offer a way to.
type ApprovalLogRepository interface {
	Append(ctx context.Context, entry *model.ApprovalLog) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalLog, error)
}

type approvalLogRepository struct {
	db *gorm.DB
}

func NewApprovalLogRepository(db *gorm.DB) ApprovalLogRepository {
	return &approvalLogRepository{db: db}
}

func (r *approvalLogRepository) Append(ctx context.Context, entry *model.ApprovalLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *approvalLogRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalLog, error) {
	var logs []model.ApprovalLog
	err := GetDB(ctx, r.db).
		Preload("Actor").
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
