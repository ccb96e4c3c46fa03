package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"ringi/internal/mailer"
	"ringi/internal/model"
	"ringi/internal/repository"
)

// StalledAfter is how long a pending request may sit untouched before
// its current approver gets a reminder.
const StalledAfter = 24 * time.Hour

// ReminderService nudges approvers about requests stalled at their
// step. One mail per approver, batching all of their stalled requests.
type ReminderService interface {
	// SendReminders returns the number of stalled requests covered.
	// With dryRun set, nothing is sent; candidates are only logged.
	SendReminders(ctx context.Context, dryRun bool) (int, error)
}

type reminderService struct {
	requests repository.RequestRepository
	mailer   mailer.Mailer
	baseURL  string
	now      func() time.Time
}

func NewReminderService(requests repository.RequestRepository, m mailer.Mailer, baseURL string) ReminderService {
	return &reminderService{requests: requests, mailer: m, baseURL: baseURL, now: time.Now}
}

func (s *reminderService) SendReminders(ctx context.Context, dryRun bool) (int, error) {
	stalled, err := s.requests.StalledPending(ctx, s.now().Add(-StalledAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to query stalled requests: %w", err)
	}
	if len(stalled) == 0 {
		return 0, nil
	}

	type batch struct {
		approver model.User
		requests []*model.Request
	}
	batches := make(map[string]*batch)

	count := 0
	for i := range stalled {
		req := &stalled[i]
		current := req.CurrentApprover()
		if current == nil || current.User == nil {
			log.Printf("request %s has no pending approver at step %d, skipping reminder", req.Number(), req.CurrentStep)
			continue
		}
		key := current.UserID.String()
		if batches[key] == nil {
			batches[key] = &batch{approver: *current.User}
		}
		batches[key].requests = append(batches[key].requests, req)
		count++
	}

	for _, b := range batches {
		if b.approver.Email == "" {
			continue
		}

		var body strings.Builder
		fmt.Fprintf(&body, "Hello %s,\n\nThe following requests are waiting for your approval:\n\n", b.approver.DisplayName())
		for _, req := range b.requests {
			fmt.Fprintf(&body, "- %s: %s\n  %s/requests/%s\n", req.Number(), req.Title, s.baseURL, req.ID)
		}

		subject := fmt.Sprintf("[ringi] %s", subjects[MsgReminder])
		if dryRun {
			log.Printf("dry run: would send reminder to %s (%d requests)", b.approver.Email, len(b.requests))
			continue
		}
		if err := s.mailer.Send(ctx, []string{b.approver.Email}, nil, subject, body.String()); err != nil {
			log.Printf("failed to send reminder to %s: %v", b.approver.Email, err)
		}
	}

	return count, nil
}
