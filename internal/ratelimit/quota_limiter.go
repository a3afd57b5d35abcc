package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterguard/internal/config"
)

const quotaKeyPrefix = "meterguard:ratelimit:quota:"

// AccountLimiter throttles quota API calls per account and route, so a
// client hammering /quota/check does not starve its own settles.
type AccountLimiter struct {
	bucket *TokenBucket
	limit  Limit
}

// NewAccountLimiter returns nil when rate limiting is off.
func NewAccountLimiter(cfg config.Config, client *redis.Client) (*AccountLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	limit := Limit{Rate: limitCfg.AccountRate, Burst: limitCfg.AccountBurst}
	if !limit.valid() {
		return nil, ErrInvalidLimit
	}
	return &AccountLimiter{bucket: NewTokenBucket(client), limit: limit}, nil
}

func (l *AccountLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the account's bucket for route.
func (l *AccountLimiter) Allow(ctx context.Context, accountKey, route string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, bucketKey(accountKey, route), l.limit, 1)
}

func bucketKey(accountKey, route string) string {
	route = strings.Trim(strings.TrimSpace(route), "/")
	route = strings.ReplaceAll(route, "/", ".")
	if route == "" {
		route = "default"
	}
	return quotaKeyPrefix + strings.TrimSpace(accountKey) + ":" + route
}
