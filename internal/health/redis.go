// Package health provides readiness checks for the service's backing stores
// and the identification service.
package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker implements health checking for Redis.
type RedisChecker struct {
	client redis.Cmdable
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.Cmdable) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends a PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
