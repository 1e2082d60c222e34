package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("day lock not acquired")
)

// Locker is used by the day repository to serialize writers of one day
// document across processes. It narrows the race window; the store's version
// check is what guarantees a single winner.
type Locker interface {
	WithDayLock(ctx context.Context, day string, fn func(ctx context.Context) error) error
}

type redisDayLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDayLocker creates a locker that uses a per day Redis key
func NewRedisDayLocker(client *redis.Client, collection string, ttl time.Duration) Locker {
	return &redisDayLocker{
		client: client,
		prefix: "lock:day:" + collection + ":",
		ttl:    ttl,
	}
}

func (l *redisDayLocker) WithDayLock(ctx context.Context, day string, fn func(ctx context.Context) error) error {
	key := l.prefix + day
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire day lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release day lock: %w", err)
	}
	return nil
}

// NopLocker runs fn directly. Used when Redis is disabled.
type NopLocker struct{}

func (NopLocker) WithDayLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
