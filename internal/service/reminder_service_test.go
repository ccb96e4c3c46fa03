package service

import (
	"context"
	"testing"
	"time"

	"ringi/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	sent []struct {
		to      []string
		subject string
		body    string
	}
}

func (m *captureMailer) Send(_ context.Context, to, _ []string, subject, body string) error {
	m.sent = append(m.sent, struct {
		to      []string
		subject string
		body    string
	}{to, subject, body})
	return nil
}

func TestSendRemindersBatchesPerApprover(t *testing.T) {
	env := setupWorkflow(t)
	ctx := context.Background()

	applicant := env.user(t, "applicant@example.com", false)
	slow := env.user(t, "slow@example.com", false)
	fast := env.user(t, "fast@example.com", false)

	first := env.submit(t, applicant, slow)
	second := env.submit(t, applicant, slow)
	env.submit(t, applicant, fast) // stays fresh, no reminder due

	old := time.Now().Add(-48 * time.Hour)
	for _, id := range []any{first.ID, second.ID} {
		require.NoError(t, env.db.Model(&model.Request{}).Where("id = ?", id).UpdateColumn("updated_at", old).Error)
	}

	mail := &captureMailer{}
	svc := NewReminderService(env.requests, mail, "http://localhost:8080")

	count, err := svc.SendReminders(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "only the aged requests count")

	require.Len(t, mail.sent, 1, "one mail per approver, not per request")
	assert.Equal(t, []string{slow.Email}, mail.sent[0].to)
	assert.Contains(t, mail.sent[0].body, *first.RequestNumber)
	assert.Contains(t, mail.sent[0].body, *second.RequestNumber)
}

func TestSendRemindersDryRun(t *testing.T) {
	env := setupWorkflow(t)
	ctx := context.Background()

	applicant := env.user(t, "applicant@example.com", false)
	approver := env.user(t, "approver@example.com", false)

	req := env.submit(t, applicant, approver)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, env.db.Model(&model.Request{}).Where("id = ?", req.ID).UpdateColumn("updated_at", old).Error)

	mail := &captureMailer{}
	svc := NewReminderService(env.requests, mail, "http://localhost:8080")

	count, err := svc.SendReminders(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, mail.sent, "dry run sends nothing")
}

func TestSendRemindersNothingStalled(t *testing.T) {
	env := setupWorkflow(t)
	applicant := env.user(t, "applicant@example.com", false)
	approver := env.user(t, "approver@example.com", false)
	env.submit(t, applicant, approver)

	mail := &captureMailer{}
	svc := NewReminderService(env.requests, mail, "http://localhost:8080")

	count, err := svc.SendReminders(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, mail.sent)
}
