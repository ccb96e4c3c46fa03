package repository

import (
	"context"
	"time"

	"ringi/internal/model"
	"ringi/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestFilter narrows the dashboard list query. The visibility
// pre-filter for restricted requests is applied on top of it and is
// not expressible here.
type RequestFilter struct {
	Query       string // free-text match on title / request_number
	Status      string
	ApplicantID *uuid.UUID
	Kind        string
}

type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	Save(ctx context.Context, req *model.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.Request, error)
	// FindForUpdate locks the request row before reading it, then loads
	// the chain. All state-mutating operations go through this so two
	// concurrent actions on the same request serialize.
	FindForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error)
	List(ctx context.Context, filter RequestFilter, viewer *model.User, params pagination.Params) ([]model.Request, int64, error)
	PendingForUser(ctx context.Context, userID uuid.UUID) ([]model.Request, error)
	RemandedForApplicant(ctx context.Context, applicantID uuid.UUID) ([]model.Request, error)
	// StalledPending returns PENDING requests untouched since the given time.
	StalledPending(ctx context.Context, before time.Time) ([]model.Request, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(req).Error
}

func (r *requestRepository) Save(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	err := GetDB(ctx, r.db).
		Preload("Applicant").
		Preload("Approvers", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Preload("Approvers.User").
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Logs.Actor").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	db := GetDB(ctx, r.db)

	var req model.Request
	if err := lockForUpdate(db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}

	// The chain is loaded after the row lock is held, so it cannot be
	// mutated underneath us by a concurrent operation on this request.
	err := db.
		Preload("User").
		Order("step_order ASC").
		Find(&req.Approvers, "request_id = ?", req.ID).Error
	if err != nil {
		return nil, err
	}
	if err := db.First(&req.Applicant, "id = ?", req.ApplicantID).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// visibleTo restricts the query to requests the viewer may see:
// unrestricted ones, plus restricted ones where the viewer is the
// applicant or a chain member. Administrators see everything. Applied
// before counting so pagination totals stay correct.
func visibleTo(db *gorm.DB, viewer *model.User) *gorm.DB {
	if viewer != nil && viewer.IsAdmin {
		return db
	}
	if viewer == nil {
		return db.Where("is_restricted = ?", false)
	}
	return db.Where(
		"is_restricted = ? OR applicant_id = ? OR id IN (?)",
		false,
		viewer.ID,
		db.Session(&gorm.Session{NewDB: true}).
			Model(&model.Approver{}).
			Select("request_id").
			Where("user_id = ?", viewer.ID),
	)
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter, viewer *model.User, params pagination.Params) ([]model.Request, int64, error) {
	db := GetDB(ctx, r.db)

	applyFilter := func(q *gorm.DB) *gorm.DB {
		q = visibleTo(q, viewer)
		if filter.Query != "" {
			pattern := "%" + filter.Query + "%"
			q = q.Where("title LIKE ? OR request_number LIKE ?", pattern, pattern)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.ApplicantID != nil {
			q = q.Where("applicant_id = ?", *filter.ApplicantID)
		}
		if filter.Kind != "" {
			q = q.Where("kind = ?", filter.Kind)
		}
		return q
	}

	var total int64
	if err := applyFilter(db.Model(&model.Request{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []model.Request
	err := applyFilter(db.Model(&model.Request{})).
		Preload("Applicant").
		Order("submitted_at DESC NULLS LAST").
		Offset(params.Offset).
		Limit(params.Limit).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *requestRepository) PendingForUser(ctx context.Context, userID uuid.UUID) ([]model.Request, error) {
	var requests []model.Request
	err := GetDB(ctx, r.db).
		Joins("JOIN approvers ON approvers.request_id = requests.id").
		Where("requests.status = ?", model.StatusPending).
		Where("approvers.user_id = ?", userID).
		Where("approvers.status = ?", model.ApproverStatusPending).
		Where("approvers.step_order = requests.current_step").
		Preload("Applicant").
		Order("requests.submitted_at ASC").
		Find(&requests).Error
	return requests, err
}

func (r *requestRepository) RemandedForApplicant(ctx context.Context, applicantID uuid.UUID) ([]model.Request, error) {
	var requests []model.Request
	err := GetDB(ctx, r.db).
		Where("applicant_id = ? AND status = ?", applicantID, model.StatusRemanded).
		Order("updated_at DESC").
		Find(&requests).Error
	return requests, err
}

func (r *requestRepository) StalledPending(ctx context.Context, before time.Time) ([]model.Request, error) {
	var requests []model.Request
	err := GetDB(ctx, r.db).
		Where("status = ? AND updated_at <= ?", model.StatusPending, before).
		Preload("Applicant").
		Preload("Approvers", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Preload("Approvers.User").
		Find(&requests).Error
	return requests, err
}
