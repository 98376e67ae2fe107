package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notifykit/notifykit/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix      = "notify:"
	delayedKey     = keyPrefix + "delayed"
	failedKey      = keyPrefix + "failed"
	claimBlock     = 5 * time.Second
	consumeBackoff = time.Second
	maxJobLogLines = 100
	promoteBatch   = 128

	defaultMaxAttempts = 5
	defaultRetention   = 24 * time.Hour

	baseRetryDelay       = time.Second
	maxRetryDelay        = 60 * time.Second
	maxRetryJitterMillis = 250
)

// promoteScript atomically moves due delayed jobs back onto their pending
// queues. ARGV: now-millis, batch size, job key prefix, pending key prefix.
var promoteScript = goredis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  local queue = redis.call("HGET", ARGV[3] .. id, "queue")
  if queue then
    redis.call("HSET", ARGV[3] .. id, "state", "waiting")
    redis.call("LPUSH", ARGV[4] .. queue, id)
  end
  redis.call("ZREM", KEYS[1], id)
end
return #due
`)

// EnqueueOptions tune a single enqueue.
type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
}

// RedisQueue is a Redis-backed work queue with at-least-once delivery,
// per-job mutable data, an audit log per job, and bounded exponential
// retry backoff. A job id lives on exactly one list at a time, which gives
// at-most-one in-flight execution per job.
type RedisQueue struct {
	client      *goredis.Client
	logger      *zap.Logger
	maxAttempts int
	retention   time.Duration
	now         func() time.Time
	randIntn    func(n int) int

	mu    sync.RWMutex
	hooks map[EventKind][]EventHook
}

func NewRedisQueue(client *goredis.Client, maxAttempts int, retention time.Duration, logger *zap.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisQueue{
		client:      client,
		logger:      logger,
		maxAttempts: maxAttempts,
		retention:   retention,
		now:         time.Now,
		randIntn:    rand.Intn,
		hooks:       make(map[EventKind][]EventHook),
	}, nil
}

// On registers a lifecycle hook for an event kind.
func (q *RedisQueue) On(kind EventKind, hook EventHook) {
	if q == nil || hook == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hooks[kind] = append(q.hooks[kind], hook)
}

func (q *RedisQueue) emit(ctx context.Context, kind EventKind, job *Job, result any, jobErr error) {
	q.mu.RLock()
	hooks := q.hooks[kind]
	q.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, job, result, jobErr)
	}
}

// Enqueue stores a new job and makes it claimable, immediately or after
// opts.Delay. It returns the new job id.
func (q *RedisQueue) Enqueue(ctx context.Context, method domain.DeliveryMethod, data map[string]any, opts EnqueueOptions) (string, error) {
	if q == nil || q.client == nil {
		return "", fmt.Errorf("queue is not initialized")
	}
	if !method.IsValid() || !method.QueueRouted() {
		return "", fmt.Errorf("%w: method %q is not queue-routed", domain.ErrValidation, method)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode job data: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = q.maxAttempts
	}

	id := uuid.NewString()
	queueName := QueueName(method)
	now := q.now().UTC()

	state := domain.StateWaiting
	if opts.Delay > 0 {
		state = domain.StateDelayed
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"name":         method.String(),
		"queue":        queueName,
		"data":         raw,
		"attemptsMade": 0,
		"maxAttempts":  maxAttempts,
		"timestamp":    now.UnixMilli(),
		"state":        state.String(),
	})
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, delayedKey, goredis.Z{
			Score:  float64(now.Add(opts.Delay).UnixMilli()),
			Member: id,
		})
	} else {
		pipe.LPush(ctx, q.pendingKey(queueName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// Consume claims jobs off queueName until context cancellation. Each claim
// increments the job's attempt counter before the handler runs.
func (q *RedisQueue) Consume(ctx context.Context, queueName string, handler Handler) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("queue is not initialized")
	}
	if queueName == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}

	pending := q.pendingKey(queueName)
	active := q.activeKey(queueName)

	for {
		if ctx.Err() != nil {
			return nil
		}

		id, err := q.client.BLMove(ctx, pending, active, "RIGHT", "LEFT", claimBlock).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warn("queue claim failed",
				zap.String("queue", queueName),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(consumeBackoff):
			}
			continue
		}

		job, err := q.claimJob(ctx, id)
		if err != nil {
			q.logger.Warn("dropping unclaimable job",
				zap.String("jobId", id),
				zap.Error(err),
			)
			_ = q.client.LRem(ctx, active, 1, id).Err()
			continue
		}

		result, handlerErr := handler(ctx, job)
		q.settle(ctx, queueName, job, result, handlerErr)
	}
}

func (q *RedisQueue) Close() error {
	// The Redis client is shared with the cache and rate limiter; its
	// owner closes it.
	return nil
}

// PromoteDelayed moves jobs whose retry delay has elapsed back onto their
// pending queues. Callers run it on a ticker.
func (q *RedisQueue) PromoteDelayed(ctx context.Context) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("queue is not initialized")
	}

	_, err := promoteScript.Run(ctx, q.client,
		[]string{delayedKey},
		q.now().UTC().UnixMilli(),
		promoteBatch,
		keyPrefix+"job:",
		keyPrefix+"q:",
	).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return nil
}

func (q *RedisQueue) claimJob(ctx context.Context, id string) (*Job, error) {
	now := q.now().UTC()

	pipe := q.client.TxPipeline()
	attemptsCmd := pipe.HIncrBy(ctx, q.jobKey(id), "attemptsMade", 1)
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"state":       domain.StateActive.String(),
		"processedOn": now.UnixMilli(),
	})
	fieldsCmd := pipe.HGetAll(ctx, q.jobKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to claim job %q: %w", id, err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 || fields["name"] == "" {
		return nil, fmt.Errorf("job %q has no stored state", id)
	}

	job := &Job{
		ID:           id,
		Name:         fields["name"],
		AttemptsMade: int(attemptsCmd.Val()),
		MaxAttempts:  parseIntField(fields["maxAttempts"], q.maxAttempts),
		Timestamp:    millisToTime(fields["timestamp"], now),
	}
	job.UpdateFn = func(ctx context.Context, data map[string]any) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode job data: %w", err)
		}
		if err := q.client.HSet(ctx, q.jobKey(id), "data", raw).Err(); err != nil {
			return fmt.Errorf("failed to persist job data: %w", err)
		}
		return nil
	}
	job.LogFn = func(ctx context.Context, message string) error {
		return q.appendJobLog(ctx, id, message)
	}
	processedOn := now
	job.ProcessedOn = &processedOn

	if raw := fields["data"]; raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("job %q carries malformed data: %w", id, err)
		}
		job.Data = data
	}

	return job, nil
}

// settle finalizes one attempt: completed, scheduled for retry, or failed
// for good. Lifecycle hooks run synchronously; on the terminal paths they
// see the final persisted state, and on the retry path they run before the
// job is scheduled back, so the next attempt observes their effects.
func (q *RedisQueue) settle(ctx context.Context, queueName string, job *Job, result any, handlerErr error) {
	// An attempt that already ran must settle even when the consumer is
	// shutting down, or the job would be stranded mid-transition.
	ctx = context.WithoutCancel(ctx)

	active := q.activeKey(queueName)
	now := q.now().UTC()

	if handlerErr == nil {
		finished := now
		job.FinishedOn = &finished

		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.jobKey(job.ID), map[string]any{
			"state":      domain.StateCompleted.String(),
			"finishedOn": finished.UnixMilli(),
		})
		pipe.LRem(ctx, active, 1, job.ID)
		pipe.Expire(ctx, q.jobKey(job.ID), q.retention)
		pipe.Expire(ctx, q.logKey(job.ID), q.retention)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("failed to persist completed job state",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
		}

		q.emit(ctx, EventCompleted, job, result, nil)
		return
	}

	retryable := !domain.IsUnrecoverable(handlerErr) && job.AttemptsMade < job.MaxAttempts
	if retryable {
		delay := q.computeBackoff(job.AttemptsMade)

		if err := q.client.HSet(ctx, q.jobKey(job.ID), "state", domain.StateDelayed.String()).Err(); err != nil {
			q.logger.Error("failed to persist delayed job state",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
		}

		_ = q.appendJobLog(ctx, job.ID, fmt.Sprintf(
			"attempt %d failed, retrying in %s: %v", job.AttemptsMade, delay, handlerErr,
		))

		// Hooks must finish before the job becomes claimable again: the
		// next attempt has to observe any job-data patches they made. The
		// job stays on the active list until the retry is scheduled, so no
		// other consumer can claim it meanwhile.
		q.emit(ctx, EventDelayed, job, nil, handlerErr)

		pipe := q.client.TxPipeline()
		pipe.ZAdd(ctx, delayedKey, goredis.Z{
			Score:  float64(now.Add(delay).UnixMilli()),
			Member: job.ID,
		})
		pipe.LRem(ctx, active, 1, job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("failed to schedule job retry",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
		}
		return
	}

	finished := now
	job.FinishedOn = &finished

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]any{
		"state":      domain.StateFailed.String(),
		"finishedOn": finished.UnixMilli(),
	})
	pipe.LRem(ctx, active, 1, job.ID)
	pipe.RPush(ctx, failedKey, job.ID)
	pipe.Expire(ctx, q.jobKey(job.ID), q.retention)
	pipe.Expire(ctx, q.logKey(job.ID), q.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("failed to persist failed job state",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
	}

	reason := "attempts exhausted"
	if domain.IsUnrecoverable(handlerErr) {
		reason = "unrecoverable"
	}
	_ = q.appendJobLog(ctx, job.ID, fmt.Sprintf(
		"attempt %d failed (%s): %v", job.AttemptsMade, reason, handlerErr,
	))
	q.emit(ctx, EventFailed, job, nil, handlerErr)
}

func (q *RedisQueue) computeBackoff(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if q.randIntn != nil {
		jitterMillis = q.randIntn(maxRetryJitterMillis + 1)
	}
	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (q *RedisQueue) appendJobLog(ctx context.Context, id, message string) error {
	line := fmt.Sprintf("%s %s", q.now().UTC().Format(time.RFC3339), message)

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.logKey(id), line)
	pipe.LTrim(ctx, q.logKey(id), -maxJobLogLines, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

func (q *RedisQueue) pendingKey(queueName string) string {
	return keyPrefix + "q:" + queueName
}

func (q *RedisQueue) activeKey(queueName string) string {
	return keyPrefix + "q:" + queueName + ":active"
}

func (q *RedisQueue) jobKey(id string) string {
	return keyPrefix + "job:" + id
}

func (q *RedisQueue) logKey(id string) string {
	return keyPrefix + "job:" + id + ":log"
}

func parseIntField(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func millisToTime(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return time.UnixMilli(millis).UTC()
}
