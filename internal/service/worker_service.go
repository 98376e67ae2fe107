package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notifykit/notifykit/internal/domain"
	"github.com/notifykit/notifykit/internal/observability"
	"github.com/notifykit/notifykit/internal/provider"
	"github.com/notifykit/notifykit/internal/queue"
	"github.com/notifykit/notifykit/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency   = 1
	defaultPromoteInterval = time.Second
)

// JobQueue is the queue surface the router needs: claiming jobs, lifecycle
// hook registration, and delayed-job promotion.
type JobQueue interface {
	Consume(ctx context.Context, queueName string, handler queue.Handler) error
	On(kind queue.EventKind, hook queue.EventHook)
	PromoteDelayed(ctx context.Context) error
	Close() error
}

// WorkerService is the queue worker entry point. It routes jobs by name to
// the dispatcher, classifies failures as retryable or unrecoverable, and
// observes terminal attempts through the attempt-log recorder.
type WorkerService struct {
	queue           JobQueue
	dispatcher      *Dispatcher
	recorder        *Recorder
	rateLimiter     ratelimit.RateLimiter
	logger          *zap.Logger
	metrics         *observability.Metrics
	concurrency     int
	promoteInterval time.Duration
	now             func() time.Time
}

func NewWorkerService(
	jobQueue JobQueue,
	dispatcher *Dispatcher,
	recorder *Recorder,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if jobQueue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		queue:           jobQueue,
		dispatcher:      dispatcher,
		recorder:        recorder,
		rateLimiter:     rateLimiter,
		logger:          logger,
		concurrency:     concurrency,
		promoteInterval: defaultPromoteInterval,
		now:             time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start registers the lifecycle hooks and consumes the work queues until
// context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.queue.On(queue.EventCompleted, s.onCompleted)
	s.queue.On(queue.EventFailed, s.onFailed)
	s.queue.On(queue.EventDelayed, s.onDelayed)

	queueNames := queue.WorkQueueNames()

	// Every work queue needs a consumer even when the configured
	// concurrency is lower than the queue count, or jobs on the uncovered
	// queues would sit unclaimed forever.
	workers := s.concurrency
	if workers < len(queueNames) {
		workers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := s.queue.Consume(groupCtx, queueName, s.processJob); err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	g.Go(func() error {
		return s.promoteLoop(groupCtx)
	})

	return g.Wait()
}

// processJob routes one claimed job. Errors wrapped unrecoverable stop
// retries; everything else is left for the queue's backoff policy.
func (s *WorkerService) processJob(ctx context.Context, job *queue.Job) (any, error) {
	method, err := domain.ParseDeliveryMethod(job.Name)
	if err != nil || !method.QueueRouted() {
		return nil, domain.Unrecoverable(fmt.Errorf("unknown job name %q", job.Name))
	}

	methodName := method.String()
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(methodName)
		defer s.metrics.DecWorkerInFlight(methodName)
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, methodName); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	req, err := s.dispatcher.CreateRequest(method, job.Data)
	if err != nil {
		// A structurally invalid payload can never succeed on retry.
		return nil, domain.Unrecoverable(err)
	}

	sendStart := s.now()
	result, err := s.dispatcher.Dispatch(ctx, req)
	if s.metrics != nil {
		s.metrics.ObserveSendDuration(methodName, s.now().Sub(sendStart))
	}
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, domain.Unrecoverable(err)
		}
		// A provider that rejected the message outright will reject the
		// same message again; only transient failures are worth a retry.
		var sendErr *provider.SendError
		if errors.As(err, &sendErr) && !provider.IsTransient(err) {
			return nil, domain.Unrecoverable(err)
		}
		return nil, err
	}

	return result, nil
}

func (s *WorkerService) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.queue.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("delayed-job promotion failed", zap.Error(err))
			}
		}
	}
}

func (s *WorkerService) onCompleted(ctx context.Context, job *queue.Job, result any, _ error) {
	if s.metrics != nil {
		s.metrics.IncJobProcessed(job.Name, domain.StateCompleted.String())
	}
	s.recordOutcome(ctx, job, domain.StateCompleted, result, nil)
}

func (s *WorkerService) onFailed(ctx context.Context, job *queue.Job, _ any, jobErr error) {
	if s.metrics != nil {
		s.metrics.IncJobProcessed(job.Name, domain.StateFailed.String())
	}
	s.recordOutcome(ctx, job, domain.StateFailed, nil, jobErr)
}

func (s *WorkerService) onDelayed(ctx context.Context, job *queue.Job, _ any, jobErr error) {
	if s.metrics != nil {
		s.metrics.IncRetryScheduled(job.Name)
	}
	s.recordOutcome(ctx, job, domain.StateDelayed, nil, jobErr)
}

// recordOutcome persists the attempt log and patches the job's data with
// the log record id so later attempts update the same record. Log-write
// failures are reported through the job's audit log and the worker log
// only; they never fail the job itself.
func (s *WorkerService) recordOutcome(ctx context.Context, job *queue.Job, state domain.JobState, result any, jobErr error) {
	logID, err := s.recorder.Record(ctx, job, state, result, jobErr)
	if err != nil {
		_ = job.Log(ctx, fmt.Sprintf("failed to record %s attempt: %v", state, err))
		s.logger.Error("attempt log write failed",
			zap.String("jobId", job.ID),
			zap.String("state", state.String()),
			zap.Error(err),
		)
		return
	}

	if current, ok := job.Data[domain.LogRecordIDKey].(string); ok && current == logID {
		return
	}

	data := make(map[string]any, len(job.Data)+1)
	for key, value := range job.Data {
		data[key] = value
	}
	data[domain.LogRecordIDKey] = logID

	if err := job.Update(ctx, data); err != nil {
		_ = job.Log(ctx, fmt.Sprintf("failed to persist log record id %s: %v", logID, err))
		s.logger.Error("job data patch failed",
			zap.String("jobId", job.ID),
			zap.String("logId", logID),
			zap.Error(err),
		)
	}
}
