package service

import (
	"testing"

	"ringi/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser(email string) *model.User {
	return &model.User{ID: uuid.New(), Email: email, IsActive: true}
}

func emails(users []model.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}

// chainRequest builds a request whose chain statuses are given in order.
func chainRequest(applicant *model.User, statuses ...string) (*model.Request, []*model.User) {
	req := &model.Request{
		ID:          uuid.New(),
		ApplicantID: applicant.ID,
		Applicant:   applicant,
		Title:       "t",
		Status:      model.StatusPending,
		CurrentStep: 1,
	}
	var users []*model.User
	for i, status := range statuses {
		u := testUser("approver" + string(rune('1'+i)) + "@example.com")
		users = append(users, u)
		req.Approvers = append(req.Approvers, model.Approver{
			RequestID: req.ID,
			UserID:    u.ID,
			User:      u,
			Order:     i + 1,
			Status:    status,
		})
	}
	return req, users
}

func TestTriggerApproved(t *testing.T) {
	applicant := testUser("applicant@example.com")
	req, approvers := chainRequest(applicant, model.ApproverStatusApproved, model.ApproverStatusApproved)
	req.Status = model.StatusApproved

	trig := TriggerApproved(req)
	require.NotNil(t, trig)
	assert.Equal(t, MsgApproved, trig.Kind)
	assert.Equal(t, []string{applicant.Email}, emails(trig.To))
	assert.ElementsMatch(t, []string{approvers[0].Email, approvers[1].Email}, emails(trig.CC))
}

func TestTriggerRemandedCCsActorAndApproved(t *testing.T) {
	applicant := testUser("applicant@example.com")
	req, approvers := chainRequest(applicant, model.ApproverStatusApproved, model.ApproverStatusRemanded)

	trig := TriggerRemanded(req, approvers[1], "fix the dates")
	require.NotNil(t, trig)
	assert.Equal(t, []string{applicant.Email}, emails(trig.To))
	// the remanding actor plus the step that already approved
	assert.ElementsMatch(t, []string{approvers[1].Email, approvers[0].Email}, emails(trig.CC))
	assert.Equal(t, "fix the dates", trig.Comment)
}

func TestTriggerRemandedDeduplicatesRecipients(t *testing.T) {
	applicant := testUser("applicant@example.com")
	req, approvers := chainRequest(applicant, model.ApproverStatusRemanded)

	trig := TriggerRemanded(req, approvers[0], "no")
	require.NotNil(t, trig)
	assert.Equal(t, []string{approvers[0].Email}, emails(trig.CC))

	// an actor already in To must not reappear in CC
	trig2 := TriggerRemanded(req, applicant, "withdrawing-ish")
	assert.Empty(t, emails(trig2.CC))
}

func TestTriggerWithdrawn(t *testing.T) {
	applicant := testUser("applicant@example.com")

	t.Run("from remanded notifies nobody", func(t *testing.T) {
		req, _ := chainRequest(applicant, model.ApproverStatusRemanded)
		req.Status = model.StatusRemanded
		assert.Nil(t, TriggerWithdrawn(req, true))
	})

	t.Run("pending notifies current approver with approved in cc", func(t *testing.T) {
		req, approvers := chainRequest(applicant, model.ApproverStatusApproved, model.ApproverStatusPending)
		req.CurrentStep = 2
		trig := TriggerWithdrawn(req, false)
		require.NotNil(t, trig)
		assert.Equal(t, []string{approvers[1].Email}, emails(trig.To))
		assert.Equal(t, []string{approvers[0].Email}, emails(trig.CC))
	})

	t.Run("post-approval notifies approved directly", func(t *testing.T) {
		req, approvers := chainRequest(applicant, model.ApproverStatusApproved, model.ApproverStatusApproved)
		req.Status = model.StatusApproved
		req.CurrentStep = 2
		trig := TriggerWithdrawn(req, false)
		require.NotNil(t, trig)
		assert.ElementsMatch(t, []string{approvers[0].Email, approvers[1].Email}, emails(trig.To))
		assert.Empty(t, trig.CC)
	})

	t.Run("no chain at all notifies nobody", func(t *testing.T) {
		req, _ := chainRequest(applicant)
		assert.Nil(t, TriggerWithdrawn(req, false))
	})
}

func TestTriggerProxyRemandedIncludesCurrentStepOccupant(t *testing.T) {
	applicant := testUser("applicant@example.com")
	admin := testUser("admin@example.com")

	// occupant was overridden to REMANDED by the operation itself; it
	// still must be informed
	req, approvers := chainRequest(applicant, model.ApproverStatusApproved, model.ApproverStatusRemanded)
	req.CurrentStep = 2

	trig := TriggerProxyRemanded(req, admin, "stalled, restarting")
	require.NotNil(t, trig)
	assert.Equal(t, MsgProxyRemanded, trig.Kind)
	assert.Equal(t, []string{applicant.Email}, emails(trig.To))
	assert.ElementsMatch(t, []string{approvers[0].Email, approvers[1].Email}, emails(trig.CC))
}
