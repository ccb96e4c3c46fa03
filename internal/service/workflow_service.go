package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ringi/internal/model"
	"ringi/internal/repository"
	"ringi/pkg/apperror"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fallbackPrefix is used when a request carries a kind tag no longer
// present in the registry. The request is still workable; only its
// numbering namespace degrades to the generic one.
const fallbackPrefix = "REQ"

// SubmitInput carries a new request. With Draft set the request is
// stored without a chain or number and submitted later.
type SubmitInput struct {
	Kind         string      `json:"kind"`
	Title        string      `json:"title"`
	Payload      string      `json:"payload"`
	IsRestricted bool        `json:"is_restricted"`
	ApproverIDs  []uuid.UUID `json:"approver_ids"`
	Draft        bool        `json:"draft"`
}

// ResubmitInput updates a remanded request before it re-enters the
// chain. Empty Title/Payload leave the stored values untouched.
type ResubmitInput struct {
	Title        string      `json:"title"`
	Payload      string      `json:"payload"`
	IsRestricted *bool       `json:"is_restricted"`
	ApproverIDs  []uuid.UUID `json:"approver_ids"`
}

// WorkflowService is the state machine governing request transitions.
// Every operation runs in a single transaction that locks the request
// row before validating, so concurrent actions on the same request
// serialize instead of racing. Notifications fire only after commit.
type WorkflowService interface {
	Submit(ctx context.Context, actor *model.User, in SubmitInput) (*model.Request, error)
	SubmitDraft(ctx context.Context, actor *model.User, requestID uuid.UUID, approverIDs []uuid.UUID) (*model.Request, error)
	Approve(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error)
	Remand(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error)
	Reject(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error)
	Withdraw(ctx context.Context, actor *model.User, requestID uuid.UUID) (*model.Request, error)
	Resubmit(ctx context.Context, actor *model.User, requestID uuid.UUID, in ResubmitInput) (*model.Request, error)
	ProxyRemand(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error)
}

// EventSink receives workflow transition events for live dashboards.
type EventSink interface {
	GetBroadcast() chan []byte
}

type workflowService struct {
	tx        repository.TransactionManager
	requests  repository.RequestRepository
	approvers repository.ApproverRepository
	logs      repository.ApprovalLogRepository
	users     repository.UserRepository
	sequence  repository.SequenceAllocator
	registry  *model.Registry
	notifier  Notifier
	events    EventSink
	now       func() time.Time
}

func NewWorkflowService(
	tx repository.TransactionManager,
	requests repository.RequestRepository,
	approvers repository.ApproverRepository,
	logs repository.ApprovalLogRepository,
	users repository.UserRepository,
	sequence repository.SequenceAllocator,
	registry *model.Registry,
	notifier Notifier,
	events EventSink,
) WorkflowService {
	return &workflowService{
		tx:        tx,
		requests:  requests,
		approvers: approvers,
		logs:      logs,
		users:     users,
		sequence:  sequence,
		registry:  registry,
		notifier:  notifier,
		events:    events,
		now:       time.Now,
	}
}

// --- helpers ---

func (s *workflowService) findLocked(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	req, err := s.requests.FindForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("request not found")
		}
		return nil, apperror.Transient("failed to load request", err)
	}
	return req, nil
}

// wrapTx normalizes errors leaving a transaction: typed workflow
// errors pass through, anything else is an infrastructure failure the
// caller may retry (the rollback left no partial state).
func wrapTx(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperror.Transient("operation failed", err)
}

// currentTurn returns the actor's pending chain entry at the current
// step. A failed lookup is classified: an actor whose step was already
// processed gets a state conflict (retrying the same action must not
// look like a permission problem), anyone who never had the turn gets
// an authorization error.
func currentTurn(req *model.Request, actor *model.User) (*model.Approver, error) {
	current := req.CurrentApprover()
	if current != nil && current.UserID == actor.ID {
		return current, nil
	}
	if entry := req.ChainEntryFor(actor.ID); entry != nil && entry.Status != model.ApproverStatusPending {
		return nil, apperror.StateConflict("you already processed your step of this request")
	}
	return nil, apperror.Authorization("you are not the approver for the current step of this request")
}

// resolveChain validates an approver user-ID list against the chain
// rules and returns the users in chain order.
func (s *workflowService) resolveChain(ctx context.Context, actor *model.User, approverIDs []uuid.UUID) ([]model.User, error) {
	if len(approverIDs) == 0 {
		return nil, apperror.Validation("at least one approver is required")
	}
	for _, id := range approverIDs {
		if id == actor.ID {
			return nil, apperror.Validation("applicant cannot be an approver")
		}
	}
	for i := 0; i < len(approverIDs)-1; i++ {
		if approverIDs[i] == approverIDs[i+1] {
			return nil, apperror.Validation("the same approver cannot be assigned to consecutive steps")
		}
	}

	found, err := s.users.GetByIDs(ctx, approverIDs)
	if err != nil {
		return nil, apperror.Transient("failed to load approvers", err)
	}
	byID := make(map[uuid.UUID]model.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}

	chain := make([]model.User, 0, len(approverIDs))
	for _, id := range approverIDs {
		u, ok := byID[id]
		if !ok {
			return nil, apperror.Validation("approver %s does not exist", id)
		}
		if !u.IsActive {
			return nil, apperror.Validation("approver %s is not an active user", u.Email)
		}
		chain = append(chain, u)
	}
	return chain, nil
}

func (s *workflowService) createChain(ctx context.Context, req *model.Request, chain []model.User) error {
	rows := make([]model.Approver, len(chain))
	for i, u := range chain {
		u := u
		rows[i] = model.Approver{
			RequestID: req.ID,
			UserID:    u.ID,
			User:      &u,
			Order:     i + 1,
			Status:    model.ApproverStatusPending,
		}
	}
	if err := s.approvers.CreateChain(ctx, rows); err != nil {
		return err
	}
	req.Approvers = rows
	return nil
}

func (s *workflowService) appendLog(ctx context.Context, req *model.Request, actor *model.User, action string, step *int, comment string) error {
	return s.logs.Append(ctx, &model.ApprovalLog{
		RequestID: req.ID,
		ActorID:   actor.ID,
		Action:    action,
		Step:      step,
		Comment:   comment,
	})
}

func (s *workflowService) numberingPrefix(kind string) string {
	if k, ok := s.registry.BySlug(kind); ok {
		return k.Prefix
	}
	return fallbackPrefix
}

// publish pushes a transition event to the websocket hub without ever
// blocking the request path.
func (s *workflowService) publish(action string, req *model.Request) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"event":          "workflow",
		"action":         action,
		"request_id":     req.ID.String(),
		"request_number": req.Number(),
		"status":         req.Status,
	})
	if err != nil {
		return
	}
	select {
	case s.events.GetBroadcast() <- payload:
	default:
	}
}

// --- operations ---

func (s *workflowService) Submit(ctx context.Context, actor *model.User, in SubmitInput) (*model.Request, error) {
	kind, known := s.registry.BySlug(in.Kind)
	if !known {
		return nil, apperror.Validation("unknown request kind %q", in.Kind)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperror.Validation("title is required")
	}
	payload := in.Payload
	if payload == "" {
		payload = "{}"
	}
	if err := kind.ValidatePayload(payload); err != nil {
		return nil, apperror.Validation("invalid payload: %v", err)
	}

	var chain []model.User
	if !in.Draft {
		var err error
		if chain, err = s.resolveChain(ctx, actor, in.ApproverIDs); err != nil {
			return nil, err
		}
	}

	req := &model.Request{
		Kind:         in.Kind,
		Payload:      payload,
		ApplicantID:  actor.ID,
		Applicant:    actor,
		Title:        in.Title,
		Status:       model.StatusDraft,
		CurrentStep:  1,
		IsRestricted: in.IsRestricted,
	}

	var trigger *Trigger
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if in.Draft {
			return s.requests.Create(txCtx, req)
		}

		number, err := s.sequence.Allocate(txCtx, kind.Prefix)
		if err != nil {
			return err
		}
		now := s.now()
		req.RequestNumber = &number
		req.Status = model.StatusPending
		req.SubmittedAt = &now

		if err := s.requests.Create(txCtx, req); err != nil {
			return err
		}
		if err := s.createChain(txCtx, req, chain); err != nil {
			return err
		}
		if err := s.appendLog(txCtx, req, actor, model.ActionSubmit, nil, "Initial submission"); err != nil {
			return err
		}

		trigger = TriggerApprovalRequest(req, &chain[0])
		return nil
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	if !in.Draft {
		s.notifier.Dispatch(ctx, trigger)
		s.publish(model.ActionSubmit, req)
	}
	return req, nil
}

func (s *workflowService) SubmitDraft(ctx context.Context, actor *model.User, requestID uuid.UUID, approverIDs []uuid.UUID) (*model.Request, error) {
	var req *model.Request
	var trigger *Trigger

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if req, err = s.findLocked(txCtx, requestID); err != nil {
			return err
		}
		if req.ApplicantID != actor.ID {
			return apperror.Authorization("only the applicant can submit this request")
		}
		if req.Status != model.StatusDraft {
			return apperror.StateConflict("request %s is not a draft", req.Number())
		}

		chain, err := s.resolveChain(txCtx, actor, approverIDs)
		if err != nil {
			return err
		}

		number, err := s.sequence.Allocate(txCtx, s.numberingPrefix(req.Kind))
		if err != nil {
			return err
		}
		now := s.now()
		req.RequestNumber = &number
		req.Status = model.StatusPending
		req.CurrentStep = 1
		req.SubmittedAt = &now

		if err := s.requests.Save(txCtx, req); err != nil {
			return err
		}
		if err := s.createChain(txCtx, req, chain); err != nil {
			return err
		}
		if err := s.appendLog(txCtx, req, actor, model.ActionSubmit, nil, "Initial submission"); err != nil {
			return err
		}

		trigger = TriggerApprovalRequest(req, &chain[0])
		return nil
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	s.notifier.Dispatch(ctx, trigger)
	s.publish(model.ActionSubmit, req)
	return req, nil
}

func (s *workflowService) Approve(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error) {
	var req *model.Request
	var trigger *Trigger

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if req, err = s.findLocked(txCtx, requestID); err != nil {
			return err
		}
		if req.Status != model.StatusPending {
			return apperror.StateConflict("request %s has already been processed or withdrawn", req.Number())
		}
		current, err := currentTurn(req, actor)
		if err != nil {
			return err
		}

		now := s.now()
		current.Status = model.ApproverStatusApproved
		current.Comment = comment
		current.ProcessedAt = &now
		if err := s.approvers.Save(txCtx, current); err != nil {
			return err
		}

		completedStep := req.CurrentStep
		if next := req.ApproverAt(completedStep + 1); next != nil {
			req.CurrentStep = completedStep + 1
			trigger = TriggerApprovalRequest(req, next.User)
		} else {
			req.Status = model.StatusApproved
			trigger = TriggerApproved(req)
		}
		if err := s.requests.Save(txCtx, req); err != nil {
			return err
		}

		return s.appendLog(txCtx, req, actor, model.ActionApprove, &completedStep, comment)
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	s.notifier.Dispatch(ctx, trigger)
	s.publish(model.ActionApprove, req)
	return req, nil
}

func (s *workflowService) Remand(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, apperror.Validation("a comment is required when remanding")
	}

	var req *model.Request
	var trigger *Trigger

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if req, err = s.findLocked(txCtx, requestID); err != nil {
			return err
		}
		if req.Status != model.StatusPending {
			return apperror.StateConflict("request %s has already been processed or withdrawn", req.Number())
		}
		current, err := currentTurn(req, actor)
		if err != nil {
			return err
		}

		now := s.now()
		current.Status = model.ApproverStatusRemanded
		current.Comment = comment
		current.ProcessedAt = &now
		if err := s.approvers.Save(txCtx, current); err != nil {
			return err
		}

		// current_step is left as-is: it marks where the remand happened.
		req.Status = model.StatusRemanded
		if err := s.requests.Save(txCtx, req); err != nil {
			return err
		}

		step := req.CurrentStep
		trigger = TriggerRemanded(req, actor, comment)
		return s.appendLog(txCtx, req, actor, model.ActionRemand, &step, comment)
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	s.notifier.Dispatch(ctx, trigger)
	s.publish(model.ActionRemand, req)
	return req, nil
}

// Reject handles both the ordinary rejection by the current-step
// approver and the post-approval rejection, where any approver who
// participated in the chain can reopen an approved request.
func (s *workflowService) Reject(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, apperror.Validation("a comment is required when rejecting")
	}

	var req *model.Request
	var trigger *Trigger

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if req, err = s.findLocked(txCtx, requestID); err != nil {
			return err
		}

		var target *model.Approver
		switch req.Status {
		case model.StatusPending:
			current := req.CurrentApprover()
			if current == nil || current.UserID != actor.ID {
				return apperror.Authorization("you are not the approver for the current step of this request")
			}
			target = current
		case model.StatusApproved:
			target = req.ChainEntryFor(actor.ID)
			if target == nil {
				return apperror.Authorization("you did not participate in this request's approval chain")
			}
		default:
			return apperror.StateConflict("request %s is not in a rejectable state", req.Number())
		}

		now := s.now()
		target.Status = model.ApproverStatusRejected
		target.Comment = comment
		target.ProcessedAt = &now
		if err := s.approvers.Save(txCtx, target); err != nil {
			return err
		}

		req.Status = model.StatusRejected
		if err := s.requests.Save(txCtx, req); err != nil {
			return err
		}

		step := target.Order
		trigger = TriggerRejected(req, actor, comment)
		return s.appendLog(txCtx, req, actor, model.ActionReject, &step, comment)
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	s.notifier.Dispatch(ctx, trigger)
	s.publish(model.ActionReject, req)
	return req, nil
}

func (s *workflowService) Withdraw(ctx context.Context, actor *model.User, requestID uuid.UUID) (*model.Request, error) {
	var req *model.Request
	var trigger *Trigger

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if req, err = s.findLocked(txCtx, requestID); err != nil {
			return err
		}
		if req.ApplicantID != actor.ID {
			return apperror.Authorization("only the applicant can withdraw this request")
		}
		switch req.Status {
		case model.StatusPending, model.StatusApproved, model.StatusRemanded:
		default:
			return apperror.StateConflict("request %s cannot be withdrawn in its current state", req.Number())
		}

		// Recipients depend on the pre-withdrawal state, so the trigger
		// is built before the status flips.
		trigger = TriggerWithdrawn(req, req.Status == model.StatusRemanded)

		req.Status = model.StatusWithdrawn
		if err := s.requests.Save(txCtx, req); err != nil {
			return err
		}

		return s.appendLog(txCtx, req, actor, model.ActionWithdraw, nil, "Withdrawn by applicant")
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	s.notifier.Dispatch(ctx, trigger)
	s.publish(model.ActionWithdraw, req)
	return req, nil
}

func (s *workflowService) Resubmit(ctx context.Context, actor *model.User, requestID uuid.UUID, in ResubmitInput) (*model.Request, error) {
	var req *model.Request
	var trigger *Trigger

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if req, err = s.findLocked(txCtx, requestID); err != nil {
			return err
		}
		if req.ApplicantID != actor.ID {
			return apperror.Authorization("only the applicant can resubmit this request")
		}
		if req.Status != model.StatusRemanded {
			return apperror.StateConflict("request %s is not remanded", req.Number())
		}

		chain, err := s.resolveChain(txCtx, actor, in.ApproverIDs)
		if err != nil {
			return err
		}

		if in.Title != "" {
			req.Title = in.Title
		}
		if in.Payload != "" {
			if kind, ok := s.registry.BySlug(req.Kind); ok {
				if err := kind.ValidatePayload(in.Payload); err != nil {
					return apperror.Validation("invalid payload: %v", err)
				}
			}
			req.Payload = in.Payload
		}
		if in.IsRestricted != nil {
			req.IsRestricted = *in.IsRestricted
		}

		now := s.now()
		req.Status = model.StatusPending
		req.CurrentStep = 1
		req.SubmittedAt = &now
		if err := s.requests.Save(txCtx, req); err != nil {
			return err
		}

		// The old chain is destroyed, not archived. Log entries keep
		// referencing the removed approvers for audit.
		if err := s.approvers.DeleteByRequest(txCtx, req.ID); err != nil {
			return err
		}
		if err := s.createChain(txCtx, req, chain); err != nil {
			return err
		}
		if err := s.appendLog(txCtx, req, actor, model.ActionResubmit, nil, "Resubmitted"); err != nil {
			return err
		}

		trigger = TriggerResubmitted(req, &chain[0])
		return nil
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	s.notifier.Dispatch(ctx, trigger)
	s.publish(model.ActionResubmit, req)
	return req, nil
}

// ProxyRemand is the administrative override: it remands on behalf of
// the active approver regardless of chain membership.
func (s *workflowService) ProxyRemand(ctx context.Context, actor *model.User, requestID uuid.UUID, comment string) (*model.Request, error) {
	if !actor.IsAdmin {
		return nil, apperror.Authorization("administrator capability is required for proxy remand")
	}
	if strings.TrimSpace(comment) == "" {
		return nil, apperror.Validation("a comment is required when remanding")
	}

	var req *model.Request
	var trigger *Trigger

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if req, err = s.findLocked(txCtx, requestID); err != nil {
			return err
		}
		switch req.Status {
		case model.StatusPending, model.StatusApproved:
		default:
			return apperror.StateConflict("request %s cannot be remanded in its current state", req.Number())
		}

		req.Status = model.StatusRemanded
		if err := s.requests.Save(txCtx, req); err != nil {
			return err
		}

		// Override: the occupant of the current step is marked remanded
		// even if it was no longer pending.
		if occupant := req.ApproverAt(req.CurrentStep); occupant != nil {
			now := s.now()
			occupant.Status = model.ApproverStatusRemanded
			occupant.ProcessedAt = &now
			if err := s.approvers.Save(txCtx, occupant); err != nil {
				return err
			}
		}

		step := req.CurrentStep
		trigger = TriggerProxyRemanded(req, actor, comment)
		return s.appendLog(txCtx, req, actor, model.ActionProxyRemand, &step, comment)
	})
	if err != nil {
		return nil, wrapTx(err)
	}

	s.notifier.Dispatch(ctx, trigger)
	s.publish(model.ActionProxyRemand, req)
	return req, nil
}
