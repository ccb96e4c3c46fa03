package repository

import (
	"context"
	"testing"
	"time"

	"ringi/internal/model"
	"ringi/pkg/pagination"

	"gorm.io/gorm"
)

func seedRequest(t *testing.T, db *gorm.DB, applicant *model.User, title, status string, restricted bool, chain ...*model.User) *model.Request {
	t.Helper()
	now := time.Now()
	number := "REQ-S-202608-" + title
	req := &model.Request{
		RequestNumber: &number,
		Kind:          "simple",
		Payload:       `{"content":"x"}`,
		ApplicantID:   applicant.ID,
		Title:         title,
		Status:        status,
		CurrentStep:   1,
		SubmittedAt:   &now,
		IsRestricted:  restricted,
	}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("failed to seed request %s: %v", title, err)
	}
	for i, u := range chain {
		a := &model.Approver{
			RequestID: req.ID,
			UserID:    u.ID,
			Order:     i + 1,
			Status:    model.ApproverStatusPending,
		}
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("failed to seed approver: %v", err)
		}
	}
	return req
}

func TestListVisibility(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	applicant := seedUser(t, db, "applicant@example.com")
	approver := seedUser(t, db, "approver@example.com")
	outsider := seedUser(t, db, "outsider@example.com")
	admin := seedUser(t, db, "admin@example.com")
	admin.IsAdmin = true
	if err := db.Save(admin).Error; err != nil {
		t.Fatalf("failed to promote admin: %v", err)
	}

	seedRequest(t, db, applicant, "open", model.StatusPending, false, approver)
	seedRequest(t, db, applicant, "secret", model.StatusPending, true, approver)

	params := pagination.Normalize(1, 20)

	cases := []struct {
		name   string
		viewer *model.User
		want   int
	}{
		{"anonymous sees only unrestricted", nil, 1},
		{"outsider sees only unrestricted", outsider, 1},
		{"applicant sees own restricted", applicant, 2},
		{"chain member sees restricted", approver, 2},
		{"admin sees everything", admin, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, total, err := repo.List(ctx, RequestFilter{}, tc.viewer, params)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(rows) != tc.want || total != int64(tc.want) {
				t.Errorf("got %d rows (total %d), want %d", len(rows), total, tc.want)
			}
		})
	}
}

func TestListFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice@example.com")
	bob := seedUser(t, db, "bob@example.com")

	seedRequest(t, db, alice, "travel budget", model.StatusPending, false)
	seedRequest(t, db, alice, "office chairs", model.StatusApproved, false)
	seedRequest(t, db, bob, "travel plan", model.StatusPending, false)

	params := pagination.Normalize(1, 20)

	rows, _, err := repo.List(ctx, RequestFilter{Query: "travel"}, nil, params)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("free-text filter: got %d rows, want 2", len(rows))
	}

	rows, _, err = repo.List(ctx, RequestFilter{Status: model.StatusApproved}, nil, params)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "office chairs" {
		t.Errorf("status filter returned wrong rows: %v", rows)
	}

	id := alice.ID
	rows, _, err = repo.List(ctx, RequestFilter{ApplicantID: &id, Query: "travel"}, nil, params)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "travel budget" {
		t.Errorf("combined filter returned wrong rows: %v", rows)
	}
}

func TestPendingForUserMatchesCurrentStepOnly(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	applicant := seedUser(t, db, "a@example.com")
	first := seedUser(t, db, "first@example.com")
	second := seedUser(t, db, "second@example.com")

	seedRequest(t, db, applicant, "two-step", model.StatusPending, false, first, second)

	rows, err := repo.PendingForUser(ctx, first.ID)
	if err != nil {
		t.Fatalf("pending query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("first approver: got %d rows, want 1", len(rows))
	}

	// the second approver's turn has not come
	rows, err = repo.PendingForUser(ctx, second.ID)
	if err != nil {
		t.Fatalf("pending query failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("second approver: got %d rows, want 0", len(rows))
	}
}

func TestFindForUpdateLoadsChainInOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	applicant := seedUser(t, db, "a@example.com")
	first := seedUser(t, db, "first@example.com")
	second := seedUser(t, db, "second@example.com")

	seeded := seedRequest(t, db, applicant, "chain", model.StatusPending, false, first, second)

	req, err := repo.FindForUpdate(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(req.Approvers) != 2 {
		t.Fatalf("got %d chain entries, want 2", len(req.Approvers))
	}
	if req.Approvers[0].Order != 1 || req.Approvers[1].Order != 2 {
		t.Errorf("chain out of order: %v, %v", req.Approvers[0].Order, req.Approvers[1].Order)
	}
	if req.Approvers[0].User == nil || req.Approvers[0].User.Email != "first@example.com" {
		t.Errorf("chain user not preloaded")
	}
	if req.Applicant == nil || req.Applicant.Email != "a@example.com" {
		t.Errorf("applicant not loaded")
	}
}

func TestStalledPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	applicant := seedUser(t, db, "a@example.com")
	approver := seedUser(t, db, "b@example.com")

	stale := seedRequest(t, db, applicant, "stale", model.StatusPending, false, approver)
	old := time.Now().Add(-48 * time.Hour)
	if err := db.Model(stale).UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("failed to age request: %v", err)
	}
	seedRequest(t, db, applicant, "fresh", model.StatusPending, false, approver)

	rows, err := repo.StalledPending(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("stalled query failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "stale" {
		t.Errorf("got %d rows, want only the stale one", len(rows))
	}
}
