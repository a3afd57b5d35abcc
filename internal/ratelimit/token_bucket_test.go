package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTakeReply(t *testing.T) {
	limit := Limit{Rate: 2, Burst: 10}
	now := time.UnixMilli(1_700_000_000_000)

	res, err := parseTakeReply([]any{int64(1), "7.5", now.UnixMilli()}, limit, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, 7, res.Remaining)
	assert.Zero(t, res.RetryAfter)
	assert.Equal(t, now.Add(1250*time.Millisecond), res.ResetTime)

	res, err = parseTakeReply([]any{int64(0), "0.5", now.UnixMilli()}, limit, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 250*time.Millisecond, res.RetryAfter)
	assert.Equal(t, now.Add(250*time.Millisecond), res.ResetTime)

	_, err = parseTakeReply([]any{int64(1), int64(3), now.UnixMilli()}, limit, 1)
	assert.ErrorIs(t, err, errBadReply)
	_, err = parseTakeReply([]any{int64(1)}, limit, 1)
	assert.ErrorIs(t, err, errBadReply)
}

func TestLimitIdleTTL(t *testing.T) {
	assert.Equal(t, 100*time.Second, Limit{Rate: 2, Burst: 100}.idleTTL())
	assert.Equal(t, time.Second, Limit{Rate: 1000, Burst: 1}.idleTTL())
}

func TestTakeValidatesBeforeRedis(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Take(context.Background(), "k", Limit{Rate: 1, Burst: 1}, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBucketKeySeparatesRoutes(t *testing.T) {
	assert.Equal(t, "meterguard:ratelimit:quota:user:42:v1.quota.check", bucketKey("user:42", "/v1/quota/check"))
	assert.Equal(t, "meterguard:ratelimit:quota:user:42:default", bucketKey("user:42", ""))
}

func TestNewAccountLimiterDisabled(t *testing.T) {
	l, err := NewAccountLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, l.Enabled())

	res, err := l.Allow(context.Background(), "user:1", "/v1/quota/check")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = NewAccountLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, nil)
	assert.Error(t, err)
}
