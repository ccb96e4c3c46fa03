package service

import (
	"context"
	"testing"

	"ringi/internal/model"
	"ringi/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanView(t *testing.T) {
	applicant := testUser("applicant@example.com")
	approver := testUser("approver@example.com")
	outsider := testUser("outsider@example.com")
	admin := testUser("admin@example.com")
	admin.IsAdmin = true

	restricted := &model.Request{
		ApplicantID:  applicant.ID,
		IsRestricted: true,
		Approvers: []model.Approver{
			{UserID: approver.ID, Order: 1, Status: model.ApproverStatusRemanded},
		},
	}

	assert.False(t, CanView(restricted, nil))
	assert.False(t, CanView(restricted, outsider))
	assert.True(t, CanView(restricted, applicant))
	assert.True(t, CanView(restricted, approver), "chain membership counts regardless of entry status")
	assert.True(t, CanView(restricted, admin))

	open := &model.Request{ApplicantID: applicant.ID}
	assert.True(t, CanView(open, nil))
	assert.True(t, CanView(open, outsider))
}

func TestDetailActionFlags(t *testing.T) {
	env := setupWorkflow(t)
	svc := NewRequestService(env.requests, model.DefaultRegistry())
	ctx := context.Background()

	applicant := env.user(t, "applicant@example.com", false)
	a1 := env.user(t, "a1@example.com", false)
	a2 := env.user(t, "a2@example.com", false)
	admin := env.user(t, "admin@example.com", true)

	req := env.submit(t, applicant, a1, a2)

	detail, err := svc.Detail(ctx, a1, req.ID)
	require.NoError(t, err)
	assert.True(t, detail.CanApprove)
	assert.True(t, detail.CanRemand)
	assert.True(t, detail.CanReject)
	assert.False(t, detail.CanWithdraw)

	detail, err = svc.Detail(ctx, a2, req.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanApprove, "not this approver's turn yet")

	detail, err = svc.Detail(ctx, applicant, req.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanApprove)
	assert.True(t, detail.CanWithdraw)
	assert.False(t, detail.CanResubmit)

	detail, err = svc.Detail(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.True(t, detail.CanProxyRemand)

	// after full approval any chain participant may still reject
	_, err = env.svc.Approve(ctx, a1, req.ID, "")
	require.NoError(t, err)
	_, err = env.svc.Approve(ctx, a2, req.ID, "")
	require.NoError(t, err)

	detail, err = svc.Detail(ctx, a1, req.ID)
	require.NoError(t, err)
	assert.False(t, detail.CanApprove)
	assert.True(t, detail.CanReject)

	detail, err = svc.Detail(ctx, applicant, req.ID)
	require.NoError(t, err)
	assert.True(t, detail.CanWithdraw, "approved requests can still be withdrawn")
}

func TestDetailDeniesHiddenRequest(t *testing.T) {
	env := setupWorkflow(t)
	svc := NewRequestService(env.requests, model.DefaultRegistry())
	ctx := context.Background()

	applicant := env.user(t, "applicant@example.com", false)
	a1 := env.user(t, "a1@example.com", false)
	outsider := env.user(t, "outsider@example.com", false)

	ids := []uuid.UUID{a1.ID}
	req, err := env.svc.Submit(ctx, applicant, SubmitInput{
		Kind:         "simple",
		Title:        "confidential",
		Payload:      `{"content":"salary revision"}`,
		IsRestricted: true,
		ApproverIDs:  ids,
	})
	require.NoError(t, err)

	_, err = svc.Detail(ctx, outsider, req.ID)
	assert.True(t, apperror.IsAuthorization(err), "got %v", err)

	_, err = svc.Detail(ctx, nil, req.ID)
	assert.True(t, apperror.IsAuthorization(err), "anonymous viewer: %v", err)

	detail, err := svc.Detail(ctx, a1, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "confidential", detail.Title)
	require.Len(t, detail.Payload, 1)
	assert.Equal(t, "Content", detail.Payload[0].Label)
	assert.Equal(t, "salary revision", detail.Payload[0].Value)
}

func TestDetailNotFound(t *testing.T) {
	env := setupWorkflow(t)
	svc := NewRequestService(env.requests, model.DefaultRegistry())

	_, err := svc.Detail(context.Background(), nil, uuid.New())
	assert.True(t, apperror.IsNotFound(err), "got %v", err)
}

func TestListAndDashboards(t *testing.T) {
	env := setupWorkflow(t)
	svc := NewRequestService(env.requests, model.DefaultRegistry())
	ctx := context.Background()

	applicant := env.user(t, "applicant@example.com", false)
	a1 := env.user(t, "a1@example.com", false)

	submitted := env.submit(t, applicant, a1)
	remanded := env.submit(t, applicant, a1)
	_, err := env.svc.Remand(ctx, a1, remanded.ID, "redo")
	require.NoError(t, err)

	rows, total, err := svc.List(ctx, applicant, ListFilter{OwnOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rows, 2)

	rows, _, err = svc.List(ctx, nil, ListFilter{Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, submitted.ID.String(), rows[0].ID)

	_, _, err = svc.List(ctx, nil, ListFilter{Applicant: "not-a-uuid"})
	assert.True(t, apperror.IsValidation(err), "got %v", err)

	pending, err := svc.PendingForMe(ctx, a1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, submitted.ID.String(), pending[0].ID)

	mine, err := svc.RemandedForMe(ctx, applicant)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, remanded.ID.String(), mine[0].ID)
}
