package redisclient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("schedule lock not acquired")
)

const retryEvery = 20 * time.Millisecond

// Locker serialises work on provider schedules across API instances. It only
// reduces contention; the database stays the source of truth.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type redisScheduleLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisScheduleLocker creates a locker that holds one Redis key per
// schedule. ttl bounds how long a crashed holder can block others; wait
// bounds how long a caller queues before giving up.
func NewRedisScheduleLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisScheduleLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisScheduleLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	names := slices.Clone(keys)
	slices.Sort(names)
	names = slices.Compact(names)

	token := uuid.NewString()
	var held []string
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		for _, key := range held {
			_ = l.release(releaseCtx, key, token)
		}
	}()

	var firstAcquired time.Time
	for _, name := range names {
		key := "lock:" + name
		if err := l.acquire(ctx, key, token); err != nil {
			return err
		}
		if len(held) == 0 {
			firstAcquired = time.Now()
		}
		held = append(held, key)
	}

	// The earliest key expires first, so its TTL bounds the whole callback.
	deadline := firstAcquired.Add(l.ttl)
	if !time.Now().Before(deadline) {
		return ErrLockNotAcquired
	}
	ctxWithDeadline, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	return fn(ctxWithDeadline)
}

func (l *redisScheduleLocker) acquire(ctx context.Context, key, token string) error {
	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return ErrLockNotAcquired
			}
			return fmt.Errorf("acquire schedule lock: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrLockNotAcquired
		case <-ticker.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisScheduleLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}
