package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes the key only while it still holds our token.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// refreshLockScript resets the TTL only while the key still holds our token.
var refreshLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// DistributedLock is a single SET NX lock owned by a random token.
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	token    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates an unacquired lock on key.
func NewDistributedLock(client redis.Cmdable, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    "lock:" + key,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire tries once to take the lock.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.acquired = ok
	return ok, nil
}

// Release gives the lock back. Releasing a lock that expired or was never
// acquired returns ErrLockNotHeld.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}

	res, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	l.acquired = false
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// Refresh pushes the expiry out by another TTL. It returns ErrLockNotHeld
// when the lock already expired and may belong to someone else.
func (l *DistributedLock) Refresh(ctx context.Context) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}

	res, err := refreshLockScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", l.key, err)
	}
	if res == 0 {
		l.acquired = false
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// Locker hands out short-lived locks with a fixed TTL.
type Locker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewLocker creates a Locker.
func NewLocker(client redis.Cmdable, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// TryLock takes the lock on key without waiting. It returns
// ErrLockAcquisitionFailed when someone else holds it.
func (lk *Locker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	l, err := lk.TryLease(ctx, key)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

// TryLease is TryLock for holders that outlive the TTL: the caller keeps
// the lock by calling Refresh on the returned lock.
func (lk *Locker) TryLease(ctx context.Context, key string) (*DistributedLock, error) {
	l := NewDistributedLock(lk.client, key, lk.ttl)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainErrors.ErrLockAcquisitionFailed
	}
	return l, nil
}

// TTL is the lifetime of each lock handed out.
func (lk *Locker) TTL() time.Duration {
	return lk.ttl
}
