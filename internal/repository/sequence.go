package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ringi/internal/model"

	"gorm.io/gorm"
)

// SequenceAllocator generates collision-free, monotonically increasing
// request numbers per prefix per month: {PREFIX}-{YYYYMM}-{NNNN}.
// It must be called inside the submission transaction so the number is
// allocated and consumed atomically.
type SequenceAllocator interface {
	Allocate(ctx context.Context, prefix string) (string, error)
}

type sequenceAllocator struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSequenceAllocator(db *gorm.DB) SequenceAllocator {
	return &sequenceAllocator{db: db, now: time.Now}
}

// Allocate serializes concurrent submitters sharing a prefix+month via
// a transaction-scoped advisory lock, then reads the greatest existing
// counter under a row lock and increments it. No optimistic retry: a
// collision would burn a unique request number, a short lock wait is
// the cheaper cost.
func (a *sequenceAllocator) Allocate(ctx context.Context, prefix string) (string, error) {
	db := GetDB(ctx, a.db)

	namespace := fmt.Sprintf("%s-%s", prefix, a.now().Format("200601"))

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", namespace).Error; err != nil {
			return "", fmt.Errorf("failed to acquire sequence lock for %s: %w", namespace, err)
		}
	}

	// The counter may outgrow 4 digits; longer numbers must sort after
	// shorter ones, so length takes precedence over the string value.
	var latest string
	err := lockForUpdate(db.Model(&model.Request{})).
		Select("request_number").
		Where("request_number LIKE ?", namespace+"-%").
		Order("LENGTH(request_number) DESC, request_number DESC").
		Limit(1).
		Scan(&latest).Error
	if err != nil {
		return "", fmt.Errorf("failed to read latest request number for %s: %w", namespace, err)
	}

	next := 1
	if latest != "" {
		parts := strings.Split(latest, "-")
		n, parseErr := strconv.Atoi(parts[len(parts)-1])
		if parseErr != nil {
			return "", fmt.Errorf("malformed request number %q: %w", latest, parseErr)
		}
		next = n + 1
	}

	return fmt.Sprintf("%s-%04d", namespace, next), nil
}
