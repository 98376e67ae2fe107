package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifykit/notifykit/internal/domain"
	"github.com/notifykit/notifykit/internal/queue"
	"github.com/notifykit/notifykit/internal/repository"
	"go.uber.org/zap"
)

func TestRecorderFirstRecordCreatesLogAndAttempt(t *testing.T) {
	t.Parallel()

	var gotLog *domain.NotificationLog
	var gotAttempt *domain.NotificationAttempt
	repo := &fakeLogRepo{
		createFn: func(ctx context.Context, log *domain.NotificationLog, attempt *domain.NotificationAttempt) error {
			gotLog = log
			gotAttempt = attempt
			return nil
		},
		updateFn: func(ctx context.Context, id string, patch repository.LogPatch, attempt *domain.NotificationAttempt) error {
			t.Fatal("Update should not be called on the first record")
			return nil
		},
	}

	recorder, err := NewRecorder(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	job := newTestJob("j1", 1)
	logID, err := recorder.Record(context.Background(), job, domain.StateCompleted, map[string]any{"ok": true}, nil)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if logID == "" {
		t.Fatal("Record() should return the new log id")
	}

	if gotLog == nil {
		t.Fatal("log should be created")
	}
	if gotLog.JobName != "email" {
		t.Fatalf("job name = %q, want email", gotLog.JobName)
	}
	if gotLog.State != domain.StateCompleted {
		t.Fatalf("state = %q, want completed", gotLog.State)
	}
	if gotLog.AttemptsMade != 1 {
		t.Fatalf("attemptsMade = %d, want 1", gotLog.AttemptsMade)
	}
	if !gotLog.AddedAt.Equal(job.Timestamp) {
		t.Fatalf("addedAt = %v, want the job's enqueue time %v", gotLog.AddedAt, job.Timestamp)
	}

	if gotAttempt == nil {
		t.Fatal("terminal state should append an attempt row")
	}
	if gotAttempt.AttemptNumber != 1 {
		t.Fatalf("attempt number = %d, want 1", gotAttempt.AttemptNumber)
	}
	if gotAttempt.Result == nil || gotAttempt.Error != nil {
		t.Fatalf("attempt = %+v, want result set and error empty", gotAttempt)
	}
}

func TestRecorderKnownLogIDUpdatesSameRecord(t *testing.T) {
	t.Parallel()

	var gotID string
	var gotPatch repository.LogPatch
	var gotAttempt *domain.NotificationAttempt
	repo := &fakeLogRepo{
		createFn: func(ctx context.Context, log *domain.NotificationLog, attempt *domain.NotificationAttempt) error {
			t.Fatal("Create should not be called when the job already has a log id")
			return nil
		},
		updateFn: func(ctx context.Context, id string, patch repository.LogPatch, attempt *domain.NotificationAttempt) error {
			gotID = id
			gotPatch = patch
			gotAttempt = attempt
			return nil
		},
	}

	recorder, err := NewRecorder(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	job := newTestJob("j2", 3)
	job.Data[domain.LogRecordIDKey] = "log-42"

	jobErr := errors.New("smtp unavailable")
	logID, err := recorder.Record(context.Background(), job, domain.StateFailed, nil, jobErr)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if logID != "log-42" {
		t.Fatalf("Record() = %q, want the existing log id", logID)
	}

	if gotID != "log-42" {
		t.Fatalf("updated id = %q, want log-42", gotID)
	}
	if gotPatch.State != domain.StateFailed || gotPatch.AttemptsMade != 3 {
		t.Fatalf("patch = %+v", gotPatch)
	}
	if _, present := gotPatch.JobData[domain.LogRecordIDKey]; present {
		t.Fatal("snapshot should not reference its own log record")
	}

	if gotAttempt == nil {
		t.Fatal("failed state should append an attempt row")
	}
	if gotAttempt.Error == nil || *gotAttempt.Error != "smtp unavailable" {
		t.Fatalf("attempt error = %v, want the job error message", gotAttempt.Error)
	}
	if gotAttempt.Result != nil {
		t.Fatal("failed attempt should carry no result")
	}
}

func TestRecorderDelayedStateSkipsAttemptRow(t *testing.T) {
	t.Parallel()

	var gotAttempt *domain.NotificationAttempt
	var updateCalled bool
	repo := &fakeLogRepo{
		updateFn: func(ctx context.Context, id string, patch repository.LogPatch, attempt *domain.NotificationAttempt) error {
			updateCalled = true
			gotAttempt = attempt
			if patch.State != domain.StateDelayed {
				t.Fatalf("state = %q, want delayed", patch.State)
			}
			return nil
		},
	}

	recorder, err := NewRecorder(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	job := newTestJob("j3", 2)
	job.Data[domain.LogRecordIDKey] = "log-7"

	if _, err := recorder.Record(context.Background(), job, domain.StateDelayed, nil, errors.New("timeout")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !updateCalled {
		t.Fatal("expected the log to be updated")
	}
	if gotAttempt != nil {
		t.Fatal("non-terminal state must not append an attempt row")
	}
}

func TestRecorderOutOfOrderUpdateIsSkipped(t *testing.T) {
	t.Parallel()

	repo := &fakeLogRepo{
		updateFn: func(ctx context.Context, id string, patch repository.LogPatch, attempt *domain.NotificationAttempt) error {
			return domain.ErrConflict
		},
	}

	recorder, err := NewRecorder(repo, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	job := newTestJob("j4", 1)
	job.Data[domain.LogRecordIDKey] = "log-9"

	logID, err := recorder.Record(context.Background(), job, domain.StateDelayed, nil, errors.New("timeout"))
	if err != nil {
		t.Fatalf("Record() error = %v, want conflict swallowed", err)
	}
	if logID != "log-9" {
		t.Fatalf("Record() = %q, want the existing log id", logID)
	}
}

func TestRecorderRejectsInvalidState(t *testing.T) {
	t.Parallel()

	recorder, err := NewRecorder(&fakeLogRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	_, err = recorder.Record(context.Background(), newTestJob("j5", 1), domain.JobState("bogus"), nil, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Record() error = %v, want ErrValidation", err)
	}
}

func newTestJob(id string, attemptsMade int) *queue.Job {
	added := time.Unix(1_700_000_000, 0).UTC()
	processed := added.Add(time.Minute)

	return &queue.Job{
		ID:           id,
		Name:         "email",
		Data:         map[string]any{"to": "user@example.com", "body": "hello"},
		AttemptsMade: attemptsMade,
		MaxAttempts:  5,
		Timestamp:    added,
		ProcessedOn:  &processed,
	}
}

type fakeLogRepo struct {
	createFn       func(ctx context.Context, log *domain.NotificationLog, attempt *domain.NotificationAttempt) error
	updateFn       func(ctx context.Context, id string, patch repository.LogPatch, attempt *domain.NotificationAttempt) error
	getByIDFn      func(ctx context.Context, id string) (*domain.NotificationLog, error)
	listAttemptsFn func(ctx context.Context, logID string) ([]domain.NotificationAttempt, error)
}

func (f *fakeLogRepo) Create(ctx context.Context, log *domain.NotificationLog, attempt *domain.NotificationAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, log, attempt)
	}
	return nil
}

func (f *fakeLogRepo) Update(ctx context.Context, id string, patch repository.LogPatch, attempt *domain.NotificationAttempt) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, patch, attempt)
	}
	return nil
}

func (f *fakeLogRepo) GetByID(ctx context.Context, id string) (*domain.NotificationLog, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeLogRepo) ListAttempts(ctx context.Context, logID string) ([]domain.NotificationAttempt, error) {
	if f.listAttemptsFn != nil {
		return f.listAttemptsFn(ctx, logID)
	}
	return nil, nil
}

var _ repository.LogRepository = (*fakeLogRepo)(nil)
