package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notifykit/notifykit/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 50 * time.Millisecond
	windowSeconds            = 1
)

// allowScript counts sends in the current one-second window and expires
// the window key on first use.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a distributed per-second, per-method send limiter backed
// by Redis, shared across all worker processes.
type RateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(client *goredis.Client, limitPerSec int) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	limit := int64(limitPerSec)
	if limit <= 0 {
		limit = defaultLimitPerSec
	}

	return &RateLimiter{
		client:      client,
		limitPerSec: limit,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (r *RateLimiter) Allow(ctx context.Context, method string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(method))
	if normalized == "" {
		return false, fmt.Errorf("method is required")
	}

	key := fmt.Sprintf("notify:ratelimit:%s:%d", normalized, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{key}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

func (r *RateLimiter) Wait(ctx context.Context, method string) error {
	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, method)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
