package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ringi/internal/model"

	"gorm.io/gorm"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// consume stores a request carrying the allocated number so the next
// allocation sees it, the way the submission transaction does.
func consume(t *testing.T, db *gorm.DB, applicant *model.User, number string) {
	t.Helper()
	req := &model.Request{
		RequestNumber: &number,
		Kind:          "simple",
		Payload:       "{}",
		ApplicantID:   applicant.ID,
		Title:         "seq",
		Status:        model.StatusPending,
		CurrentStep:   1,
	}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("failed to store request %s: %v", number, err)
	}
}

// Concurrent submitters are serialized by the pg_advisory_xact_lock in
// Allocate, which only runs on the postgres dialect; in-memory SQLite
// serializes writers on its own, so these tests can only exercise the
// counter logic sequentially. The contention path needs a postgres
// instance to be observable.
func TestAllocateSequential(t *testing.T) {
	db := setupTestDB(t)
	applicant := seedUser(t, db, "seq@example.com")

	alloc := &sequenceAllocator{db: db, now: fixedClock(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC))}
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 1; i <= 50; i++ {
		number, err := alloc.Allocate(ctx, "REQ-S")
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		want := fmt.Sprintf("REQ-S-202608-%04d", i)
		if number != want {
			t.Fatalf("allocation %d: got %s, want %s", i, number, want)
		}
		if seen[number] {
			t.Fatalf("duplicate number %s", number)
		}
		seen[number] = true
		consume(t, db, applicant, number)
	}
}

func TestAllocateNamespacesByPrefixAndMonth(t *testing.T) {
	db := setupTestDB(t)
	applicant := seedUser(t, db, "ns@example.com")
	ctx := context.Background()

	august := &sequenceAllocator{db: db, now: fixedClock(time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC))}

	n1, err := august.Allocate(ctx, "REQ-S")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	consume(t, db, applicant, n1)

	// a different prefix starts its own counter
	n2, err := august.Allocate(ctx, "REQ-L")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if n2 != "REQ-L-202608-0001" {
		t.Errorf("expected REQ-L-202608-0001, got %s", n2)
	}
	consume(t, db, applicant, n2)

	// the month boundary resets the counter
	september := &sequenceAllocator{db: db, now: fixedClock(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))}
	n3, err := september.Allocate(ctx, "REQ-S")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if n3 != "REQ-S-202609-0001" {
		t.Errorf("expected REQ-S-202609-0001, got %s", n3)
	}
}

func TestAllocateGrowsPastFourDigits(t *testing.T) {
	db := setupTestDB(t)
	applicant := seedUser(t, db, "big@example.com")
	ctx := context.Background()

	alloc := &sequenceAllocator{db: db, now: fixedClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))}

	consume(t, db, applicant, "REQ-S-202608-9999")
	n, err := alloc.Allocate(ctx, "REQ-S")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if n != "REQ-S-202608-10000" {
		t.Errorf("expected REQ-S-202608-10000, got %s", n)
	}
	consume(t, db, applicant, n)

	// the 5-digit number must win over all 4-digit ones
	n, err = alloc.Allocate(ctx, "REQ-S")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if n != "REQ-S-202608-10001" {
		t.Errorf("expected REQ-S-202608-10001, got %s", n)
	}
}
