package repository

import (
	"context"

	"ringi/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ApproverRepository interface {
	// CreateChain persists a full approver chain in one batch. Chains
	// are only ever created whole; partial edits do not exist.
	CreateChain(ctx context.Context, chain []model.Approver) error
	// DeleteByRequest removes the entire chain of a request (resubmission).
	DeleteByRequest(ctx context.Context, requestID uuid.UUID) error
	Save(ctx context.Context, approver *model.Approver) error
}

type approverRepository struct {
	db *gorm.DB
}

func NewApproverRepository(db *gorm.DB) ApproverRepository {
	return &approverRepository{db: db}
}

func (r *approverRepository) CreateChain(ctx context.Context, chain []model.Approver) error {
	if len(chain) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(&chain).Error
}

func (r *approverRepository) DeleteByRequest(ctx context.Context, requestID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Where("request_id = ?", requestID).
		Delete(&model.Approver{}).Error
}

func (r *approverRepository) Save(ctx context.Context, approver *model.Approver) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(approver).Error
}
