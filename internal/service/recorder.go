package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/notifykit/notifykit/internal/domain"
	"github.com/notifykit/notifykit/internal/observability"
	"github.com/notifykit/notifykit/internal/queue"
	"github.com/notifykit/notifykit/internal/repository"
	"go.uber.org/zap"
)

// Recorder persists the durable attempt log for queue jobs. The first call
// for a logical job creates its NotificationLog; the log id is returned so
// the caller can write it back into the job's data, and every later call
// carrying that id updates the same row instead of creating another.
//
// Attempt-history rows are appended for terminal states only.
type Recorder struct {
	logs    repository.LogRepository
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewRecorder(logs repository.LogRepository, logger *zap.Logger) (*Recorder, error) {
	if logs == nil {
		return nil, fmt.Errorf("log repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logs: logs, logger: logger}, nil
}

func (r *Recorder) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Record creates or updates the job's notification log for the given state
// and returns the log record id.
func (r *Recorder) Record(ctx context.Context, job *queue.Job, state domain.JobState, result any, jobErr error) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: job is required", domain.ErrValidation)
	}
	if !state.IsValid() {
		return "", fmt.Errorf("%w: invalid job state %q", domain.ErrValidation, state)
	}

	snapshot := snapshotJobData(job.Data)

	var attempt *domain.NotificationAttempt
	if state.IsTerminal() {
		built, err := buildAttempt(job, state, result, jobErr)
		if err != nil {
			return "", err
		}
		attempt = built
	}

	if existingID, ok := job.Data[domain.LogRecordIDKey].(string); ok && existingID != "" {
		patch := repository.LogPatch{
			State:        state,
			AttemptsMade: job.AttemptsMade,
			JobData:      snapshot,
			FinishedAt:   job.FinishedOn,
		}

		err := r.logs.Update(ctx, existingID, patch, attempt)
		if errors.Is(err, domain.ErrConflict) {
			// Out-of-order event: a newer attempt already updated the log.
			r.logger.Warn("skipping out-of-order notification log update",
				zap.String("logId", existingID),
				zap.String("jobId", job.ID),
				zap.Int("attemptsMade", job.AttemptsMade),
			)
			return existingID, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to update notification log: %w", err)
		}

		r.metrics.IncAttemptRecorded(state.String())
		return existingID, nil
	}

	log := &domain.NotificationLog{
		ID:           uuid.NewString(),
		JobName:      job.Name,
		State:        state,
		AttemptsMade: job.AttemptsMade,
		JobData:      snapshot,
		AddedAt:      job.Timestamp,
		FinishedAt:   job.FinishedOn,
	}

	if err := r.logs.Create(ctx, log, attempt); err != nil {
		return "", fmt.Errorf("failed to create notification log: %w", err)
	}

	r.metrics.IncAttemptRecorded(state.String())
	return log.ID, nil
}

// snapshotJobData copies the job data with the log-record id stripped out,
// so the stored snapshot never references its own row.
func snapshotJobData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	snapshot := make(map[string]any, len(data))
	for key, value := range data {
		if key == domain.LogRecordIDKey {
			continue
		}
		snapshot[key] = value
	}
	return snapshot
}

// buildAttempt shapes the append-only attempt row for a terminal state.
// Exactly one of result and error is stored.
func buildAttempt(job *queue.Job, state domain.JobState, result any, jobErr error) (*domain.NotificationAttempt, error) {
	attempt := &domain.NotificationAttempt{
		ID:            uuid.NewString(),
		AttemptNumber: job.AttemptsMade,
		ProcessedAt:   job.ProcessedOn,
	}

	if state == domain.StateFailed {
		message := "unknown failure"
		if jobErr != nil {
			message = jobErr.Error()
		}
		attempt.Error = &message
		return attempt, nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attempt result: %w", err)
	}
	value := string(raw)
	attempt.Result = &value
	return attempt, nil
}
