package service

import (
	"context"
	"testing"

	"ringi/internal/database"
	"ringi/internal/model"
	"ringi/internal/repository"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// captureNotifier records dispatched triggers instead of sending mail.
type captureNotifier struct {
	got []*Trigger
}

func (c *captureNotifier) Dispatch(_ context.Context, t *Trigger) {
	if t != nil {
		c.got = append(c.got, t)
	}
}

func (c *captureNotifier) last(t *testing.T) *Trigger {
	t.Helper()
	if len(c.got) == 0 {
		t.Fatal("expected a dispatched notification")
	}
	return c.got[len(c.got)-1]
}

// testSink is a buffered stand-in for the websocket hub.
type testSink struct {
	ch chan []byte
}

func (s *testSink) GetBroadcast() chan []byte { return s.ch }

type workflowEnv struct {
	db       *gorm.DB
	svc      WorkflowService
	requests repository.RequestRepository
	logs     repository.ApprovalLogRepository
	notifier *captureNotifier
	sink     *testSink
}

func setupWorkflow(t *testing.T) *workflowEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	notifier := &captureNotifier{}
	sink := &testSink{ch: make(chan []byte, 16)}
	requests := repository.NewRequestRepository(db)
	logs := repository.NewApprovalLogRepository(db)

	svc := NewWorkflowService(
		repository.NewTransactionManager(db),
		requests,
		repository.NewApproverRepository(db),
		logs,
		repository.NewUserRepository(db),
		repository.NewSequenceAllocator(db),
		model.DefaultRegistry(),
		notifier,
		sink,
	)

	return &workflowEnv{db: db, svc: svc, requests: requests, logs: logs, notifier: notifier, sink: sink}
}

func (e *workflowEnv) user(t *testing.T, email string, admin bool) *model.User {
	t.Helper()
	u := &model.User{
		ID:         uuid.New(),
		Email:      email,
		Password:   "x",
		IsAdmin:    admin,
		IsActive:   true,
		IsApprover: true,
	}
	if err := e.db.Create(u).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return u
}

// submit creates a simple two-field request through the service.
func (e *workflowEnv) submit(t *testing.T, applicant *model.User, approvers ...*model.User) *model.Request {
	t.Helper()
	ids := make([]uuid.UUID, len(approvers))
	for i, u := range approvers {
		ids[i] = u.ID
	}
	req, err := e.svc.Submit(context.Background(), applicant, SubmitInput{
		Kind:        "simple",
		Title:       "test request",
		Payload:     `{"content":"please approve"}`,
		ApproverIDs: ids,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return req
}

// reload fetches the request with chain and logs for assertions.
func (e *workflowEnv) reload(t *testing.T, id uuid.UUID) *model.Request {
	t.Helper()
	req, err := e.requests.FindByIDWithRelations(context.Background(), id)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	return req
}
