package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const revokedSubscribersKey = "notify:push:revoked"

// SubscriberRegistry records push subscriptions reported gone by the push
// service. The subscription-owning service reconciles against this set;
// the worker itself never deletes subscription rows.
type SubscriberRegistry struct {
	client *goredis.Client
}

func NewSubscriberRegistry(client *goredis.Client) (*SubscriberRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &SubscriberRegistry{client: client}, nil
}

func (r *SubscriberRegistry) RemoveSubscriber(ctx context.Context, endpoint string) error {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return fmt.Errorf("subscription endpoint is required")
	}

	if err := r.client.SAdd(ctx, revokedSubscribersKey, trimmed).Err(); err != nil {
		return fmt.Errorf("failed to mark subscriber revoked: %w", err)
	}
	return nil
}
