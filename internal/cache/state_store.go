package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrProtectedKey = errs.New(errs.KindValidation, "protected_setting_key")
	ErrInvalidState = errs.New(errs.KindValidation, "invalid_state")
)

// StateStore keeps single-use login state values.
type StateStore interface {
	Put(ctx context.Context, state, value string, ttl time.Duration) error
	// Take returns the value once; a second Take of the same state misses.
	Take(ctx context.Context, state string) (string, bool, error)
	Sweep(ctx context.Context) int
}

type memoryStateStore struct {
	items *TTLCache[string, string]
	now   func() time.Time
}

func NewMemoryStateStore(now func() time.Time) StateStore {
	if now == nil {
		now = time.Now
	}
	return &memoryStateStore{items: NewTTLCacheWithClock[string, string](now), now: now}
}

func (s *memoryStateStore) Put(_ context.Context, state, value string, ttl time.Duration) error {
	state = strings.TrimSpace(state)
	if state == "" || ttl <= 0 {
		return ErrInvalidState
	}
	s.items.Set(state, value, ttl)
	return nil
}

func (s *memoryStateStore) Take(_ context.Context, state string) (string, bool, error) {
	v, ok := s.items.Take(strings.TrimSpace(state))
	return v, ok, nil
}

func (s *memoryStateStore) Sweep(context.Context) int {
	return s.items.Sweep(s.now())
}

type redisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client, prefix string) StateStore {
	if prefix == "" {
		prefix = "meterguard:state:"
	}
	return &redisStateStore{client: client, prefix: prefix}
}

func (s *redisStateStore) Put(ctx context.Context, state, value string, ttl time.Duration) error {
	state = strings.TrimSpace(state)
	if state == "" || ttl <= 0 {
		return ErrInvalidState
	}
	return s.client.Set(ctx, s.prefix+state, value, ttl).Err()
}

func (s *redisStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	v, err := s.client.GetDel(ctx, s.prefix+strings.TrimSpace(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Sweep is a no-op; redis expires keys itself.
func (s *redisStateStore) Sweep(context.Context) int { return 0 }
