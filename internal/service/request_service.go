package service

import (
	"context"
	"errors"
	"time"

	"ringi/internal/model"
	"ringi/internal/repository"
	"ringi/pkg/apperror"
	"ringi/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CanView decides whether a viewer may see a request. Unrestricted
// requests are public. Restricted ones are limited to the applicant,
// anyone in the approver chain (any order, any status) and
// administrators. Requires Approvers to be loaded.
func CanView(req *model.Request, viewer *model.User) bool {
	if !req.IsRestricted {
		return true
	}
	if viewer == nil {
		return false
	}
	if viewer.IsAdmin || req.ApplicantID == viewer.ID {
		return true
	}
	return req.ChainEntryFor(viewer.ID) != nil
}

// ListFilter is the dashboard search input.
type ListFilter struct {
	Query     string
	Status    string
	Kind      string
	Applicant string // applicant user id
	OwnOnly   bool
	Page      int
	Limit     int
}

// RequestSummary is the list-row projection of a request.
type RequestSummary struct {
	ID            string  `json:"id"`
	RequestNumber string  `json:"request_number"`
	Kind          string  `json:"kind"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	CurrentStep   int     `json:"current_step"`
	ApplicantName string  `json:"applicant_name"`
	SubmittedAt   *string `json:"submitted_at"`
	IsRestricted  bool    `json:"is_restricted"`
}

// ApproverView is one chain entry in a detail response.
type ApproverView struct {
	Order       int     `json:"order"`
	UserName    string  `json:"user_name"`
	Status      string  `json:"status"`
	Comment     string  `json:"comment"`
	ProcessedAt *string `json:"processed_at"`
}

// LogView is one audit entry in a detail response.
type LogView struct {
	Action    string `json:"action"`
	ActorName string `json:"actor_name"`
	Step      *int   `json:"step"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

// RequestDetail is the full projection of one request, including the
// per-viewer action flags the UI renders buttons from.
type RequestDetail struct {
	RequestSummary
	Payload   []model.PayloadField `json:"payload"`
	Approvers []ApproverView       `json:"approvers"`
	Logs      []LogView            `json:"logs"`

	CanApprove     bool `json:"can_approve"`
	CanRemand      bool `json:"can_remand"`
	CanReject      bool `json:"can_reject"`
	CanWithdraw    bool `json:"can_withdraw"`
	CanResubmit    bool `json:"can_resubmit"`
	CanProxyRemand bool `json:"can_proxy_remand"`
}

type RequestService interface {
	Detail(ctx context.Context, viewer *model.User, id uuid.UUID) (*RequestDetail, error)
	List(ctx context.Context, viewer *model.User, filter ListFilter) ([]RequestSummary, int64, error)
	PendingForMe(ctx context.Context, viewer *model.User) ([]RequestSummary, error)
	RemandedForMe(ctx context.Context, viewer *model.User) ([]RequestSummary, error)
	Kinds() []model.Kind
}

type requestService struct {
	requests repository.RequestRepository
	registry *model.Registry
}

func NewRequestService(requests repository.RequestRepository, registry *model.Registry) RequestService {
	return &requestService{requests: requests, registry: registry}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toSummary(req *model.Request) RequestSummary {
	out := RequestSummary{
		ID:            req.ID.String(),
		RequestNumber: req.Number(),
		Kind:          req.Kind,
		Title:         req.Title,
		Status:        req.Status,
		CurrentStep:   req.CurrentStep,
		SubmittedAt:   formatTime(req.SubmittedAt),
		IsRestricted:  req.IsRestricted,
	}
	if req.Applicant != nil {
		out.ApplicantName = req.Applicant.DisplayName()
	}
	return out
}

func (s *requestService) Detail(ctx context.Context, viewer *model.User, id uuid.UUID) (*RequestDetail, error) {
	req, err := s.requests.FindByIDWithRelations(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("request not found")
		}
		return nil, apperror.Transient("failed to load request", err)
	}

	if !CanView(req, viewer) {
		return nil, apperror.Authorization("you do not have permission to view this request")
	}

	detail := &RequestDetail{
		RequestSummary: toSummary(req),
		Payload:        s.registry.DecodePayload(req),
	}

	for _, a := range req.Approvers {
		view := ApproverView{
			Order:       a.Order,
			Status:      a.Status,
			Comment:     a.Comment,
			ProcessedAt: formatTime(a.ProcessedAt),
		}
		if a.User != nil {
			view.UserName = a.User.DisplayName()
		}
		detail.Approvers = append(detail.Approvers, view)
	}

	for _, l := range req.Logs {
		view := LogView{
			Action:    l.Action,
			Step:      l.Step,
			Comment:   l.Comment,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
		if l.Actor != nil {
			view.ActorName = l.Actor.DisplayName()
		}
		detail.Logs = append(detail.Logs, view)
	}

	if viewer != nil {
		isPending := req.Status == model.StatusPending
		current := req.CurrentApprover()
		isCurrentApprover := isPending && current != nil && current.UserID == viewer.ID

		detail.CanApprove = isCurrentApprover
		detail.CanRemand = isCurrentApprover
		detail.CanReject = isCurrentApprover ||
			(req.Status == model.StatusApproved && req.ChainEntryFor(viewer.ID) != nil)

		if req.ApplicantID == viewer.ID {
			switch req.Status {
			case model.StatusPending, model.StatusApproved, model.StatusRemanded:
				detail.CanWithdraw = true
			}
			detail.CanResubmit = req.Status == model.StatusRemanded
		}

		if viewer.IsAdmin {
			switch req.Status {
			case model.StatusPending, model.StatusApproved:
				detail.CanProxyRemand = true
			}
		}
	}

	return detail, nil
}

func (s *requestService) List(ctx context.Context, viewer *model.User, filter ListFilter) ([]RequestSummary, int64, error) {
	repoFilter := repository.RequestFilter{
		Query:  filter.Query,
		Status: filter.Status,
		Kind:   filter.Kind,
	}
	if filter.OwnOnly && viewer != nil {
		id := viewer.ID
		repoFilter.ApplicantID = &id
	} else if filter.Applicant != "" {
		id, err := uuid.Parse(filter.Applicant)
		if err != nil {
			return nil, 0, apperror.Validation("invalid applicant id")
		}
		repoFilter.ApplicantID = &id
	}

	params := pagination.Normalize(filter.Page, filter.Limit)
	requests, total, err := s.requests.List(ctx, repoFilter, viewer, params)
	if err != nil {
		return nil, 0, apperror.Transient("failed to list requests", err)
	}

	out := make([]RequestSummary, 0, len(requests))
	for i := range requests {
		out = append(out, toSummary(&requests[i]))
	}
	return out, total, nil
}

func (s *requestService) PendingForMe(ctx context.Context, viewer *model.User) ([]RequestSummary, error) {
	requests, err := s.requests.PendingForUser(ctx, viewer.ID)
	if err != nil {
		return nil, apperror.Transient("failed to list pending approvals", err)
	}
	out := make([]RequestSummary, 0, len(requests))
	for i := range requests {
		out = append(out, toSummary(&requests[i]))
	}
	return out, nil
}

func (s *requestService) RemandedForMe(ctx context.Context, viewer *model.User) ([]RequestSummary, error) {
	requests, err := s.requests.RemandedForApplicant(ctx, viewer.ID)
	if err != nil {
		return nil, apperror.Transient("failed to list remanded requests", err)
	}
	out := make([]RequestSummary, 0, len(requests))
	for i := range requests {
		out = append(out, toSummary(&requests[i]))
	}
	return out, nil
}

func (s *requestService) Kinds() []model.Kind {
	return s.registry.Kinds()
}
