package ratelimit

import "context"

// RateLimiter bounds outbound send throughput per delivery method.
type RateLimiter interface {
	Allow(ctx context.Context, method string) (bool, error)
	Wait(ctx context.Context, method string) error
}
