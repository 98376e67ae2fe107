package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/notifykit/notifykit/internal/domain"
)

// EventKind names a job lifecycle event. Hooks are registered per kind in
// an explicit dispatch table and run synchronously after the attempt that
// produced the event.
type EventKind string

const (
	// EventCompleted fires after a successful attempt.
	EventCompleted EventKind = "completed"
	// EventFailed fires after the final attempt of a job that will not be
	// retried again.
	EventFailed EventKind = "failed"
	// EventDelayed fires after a failed attempt that has been scheduled
	// for retry.
	EventDelayed EventKind = "delayed"
)

// EventHook observes a job lifecycle event. Exactly one of result and
// jobErr is meaningful, depending on the event kind. Hooks handle their
// own failures; they must not fail the job.
type EventHook func(ctx context.Context, job *Job, result any, jobErr error)

// Handler processes one claimed job and returns its result value. A
// returned error wrapped as unrecoverable stops retries immediately.
type Handler func(ctx context.Context, job *Job) (any, error)

// Consumer pulls jobs off a work queue and runs a handler per attempt.
type Consumer interface {
	Consume(ctx context.Context, queueName string, handler Handler) error
	Close() error
}

var queueRoutedMethods = []domain.DeliveryMethod{
	domain.MethodEmail,
	domain.MethodSMS,
	domain.MethodCall,
}

// QueueName returns the work queue for a delivery method, e.g. "email".
func QueueName(method domain.DeliveryMethod) string {
	return method.String()
}

// WorkQueueNames returns the queues the router consumes. Push is not
// queue-routed; its dispatch path is invoked directly.
func WorkQueueNames() []string {
	names := make([]string, 0, len(queueRoutedMethods))
	for _, method := range queueRoutedMethods {
		names = append(names, QueueName(method))
	}
	return names
}

// Job is one unit of queued work. The queue mutates AttemptsMade and the
// timing fields on every attempt; Data may be rewritten by the job's own
// observers via Update.
//
// UpdateFn and LogFn back Update and Log; the owning queue attaches them
// when it materializes the job.
type Job struct {
	ID           string
	Name         string
	Data         map[string]any
	AttemptsMade int
	MaxAttempts  int
	Timestamp    time.Time
	ProcessedOn  *time.Time
	FinishedOn   *time.Time

	UpdateFn func(ctx context.Context, data map[string]any) error
	LogFn    func(ctx context.Context, message string) error
}

// Update persists a replacement data payload for the job so later attempts
// observe it.
func (j *Job) Update(ctx context.Context, data map[string]any) error {
	if j == nil || j.UpdateFn == nil {
		return fmt.Errorf("job is not attached to a queue")
	}
	if err := j.UpdateFn(ctx, data); err != nil {
		return err
	}
	j.Data = data
	return nil
}

// Log appends a message to the job's audit trail.
func (j *Job) Log(ctx context.Context, message string) error {
	if j == nil || j.LogFn == nil {
		return fmt.Errorf("job is not attached to a queue")
	}
	return j.LogFn(ctx, message)
}
