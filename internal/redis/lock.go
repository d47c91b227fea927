package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrLockWaitTimeout means another request held the slot for longer than
	// the caller was willing to wait.
	ErrLockWaitTimeout = errors.New("timed out waiting for slot lock")

	errLockHeld        = errors.New("slot lock held")
	errLockUnavailable = errors.New("slot lock unavailable")
)

// Locker serializes booking attempts for one doctor and instant across
// api-server instances. It is an optimization in front of the database
// constraint, not a replacement for it: when Redis cannot be reached fn runs
// unguarded.
type Locker interface {
	WithSlotLock(ctx context.Context, doctorID int64, at time.Time, fn func(ctx context.Context) error) error
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	log    zerolog.Logger
}

// NewRedisSlotLocker creates a locker that uses a per slot Redis key. Callers
// block for up to wait while another holder owns the key.
func NewRedisSlotLocker(client *redis.Client, ttl, wait time.Duration, log zerolog.Logger) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		log:    log.With().Str("component", "slot_lock").Logger(),
	}
}

func SlotKey(doctorID int64, at time.Time) string {
	return fmt.Sprintf("lock:slot:%d:%d", doctorID, at.Unix())
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, doctorID int64, at time.Time, fn func(ctx context.Context) error) error {
	key := SlotKey(doctorID, at)
	token := uuid.NewString()

	err := l.acquire(ctx, key, token)
	if errors.Is(err, errLockUnavailable) && ctx.Err() == nil {
		l.log.Warn().Err(err).Str("key", key).Msg("redis unavailable, booking without slot lock")
		return fn(ctx)
	}
	if err != nil {
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisSlotLocker) acquire(ctx context.Context, key, token string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 15 * time.Millisecond
	b.MaxInterval = 150 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, backoff.Permanent(fmt.Errorf("%w: %w", errLockUnavailable, err))
		}
		if !ok {
			return false, errLockHeld
		}
		return true, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(l.wait))

	if errors.Is(err, errLockHeld) {
		return ErrLockWaitTimeout
	}
	return err
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// NopLocker runs fn directly. Used when the Redis lock is disabled.
type NopLocker struct{}

func (NopLocker) WithSlotLock(ctx context.Context, _ int64, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
