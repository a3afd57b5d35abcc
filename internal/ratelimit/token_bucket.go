package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured = errors.New("ratelimit: not configured")
	ErrInvalidLimit  = errors.New("ratelimit: rate and burst must be positive")
	ErrInvalidCost   = errors.New("ratelimit: cost must be in [1, burst]")
	errBadReply      = errors.New("ratelimit: unexpected script reply")
)

// takeScript refills KEYS[1] from redis server time and takes ARGV[3] tokens
// when enough are available. Replies {taken, tokens_left, now_ms}.
const takeScript = `
local rate  = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local cost  = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
end

local taken = 0
if tokens >= cost then
  tokens = tokens - cost
  taken = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {taken, tostring(tokens), now}
`

// Limit is a bucket shape: Burst tokens, refilled at Rate per second.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// idleTTL keeps a bucket around for twice its full refill time.
func (l Limit) idleTTL() time.Duration {
	seconds := math.Max(1, math.Ceil(2*float64(l.Burst)/l.Rate))
	return time.Duration(seconds) * time.Second
}

// wait is how long until cost tokens exist given left in the bucket.
func (l Limit) wait(left float64, cost int) time.Duration {
	missing := float64(cost) - left
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / l.Rate * float64(time.Second))
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket keeps bucket state in redis so every replica shares it.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(takeScript)}
}

// Take removes cost tokens from key's bucket, or none if not enough remain.
func (b *TokenBucket) Take(ctx context.Context, key string, limit Limit, cost int) (*RateLimitResult, error) {
	if b == nil || b.client == nil || key == "" {
		return nil, ErrNotConfigured
	}
	if !limit.valid() {
		return nil, ErrInvalidLimit
	}
	if cost < 1 || cost > limit.Burst {
		return nil, ErrInvalidCost
	}

	reply, err := b.script.Run(ctx, b.client, []string{key},
		limit.Rate, limit.Burst, cost, limit.idleTTL().Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: take %s: %w", key, err)
	}
	return parseTakeReply(reply, limit, cost)
}

func parseTakeReply(reply []any, limit Limit, cost int) (*RateLimitResult, error) {
	if len(reply) != 3 {
		return nil, errBadReply
	}
	taken, ok1 := reply[0].(int64)
	leftRaw, ok2 := reply[1].(string)
	nowMs, ok3 := reply[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return nil, errBadReply
	}
	left, err := strconv.ParseFloat(leftRaw, 64)
	if err != nil {
		return nil, errBadReply
	}

	res := &RateLimitResult{
		Allowed:   taken == 1,
		Limit:     limit.Burst,
		Remaining: int(math.Floor(left)),
	}
	now := time.UnixMilli(nowMs)
	if res.Allowed {
		res.ResetTime = now.Add(limit.wait(left, limit.Burst))
		return res, nil
	}
	res.RetryAfter = limit.wait(left, cost)
	res.ResetTime = now.Add(res.RetryAfter)
	return res, nil
}
