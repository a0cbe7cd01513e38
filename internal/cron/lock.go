package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

// Lock coordinates exclusive job runs across instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory builds the lock guarding one job.
type LockFactory func(job string, minHold, maxHold time.Duration) Lock

var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	shortenScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLock is a SET NX PX lock with an owner token. maxHold bounds how long a
// crashed runner can block the job; minHold keeps the key alive after a fast
// run so another instance cannot fire the same tick again.
type RedisLock struct {
	client     goredis.Cmdable
	key        string
	minHold    time.Duration
	maxHold    time.Duration
	owner      string
	acquiredAt time.Time
	now        func() time.Time
}

// NewRedisLock constructs a Redis-backed lock for job.
func NewRedisLock(client goredis.Cmdable, job string, minHold, maxHold time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if job == "" {
		return nil, errors.New("lock key is required")
	}
	if maxHold <= 0 {
		return nil, errors.New("max hold must be positive")
	}
	if minHold < 0 || minHold > maxHold {
		return nil, fmt.Errorf("min hold %s must be within [0, %s]", minHold, maxHold)
	}
	return &RedisLock{
		client:  client,
		key:     redis.LockKey(job),
		minHold: minHold,
		maxHold: maxHold,
		now:     time.Now,
	}, nil
}

// RedisLockFactory builds RedisLocks over client.
func RedisLockFactory(client goredis.Cmdable) LockFactory {
	return func(job string, minHold, maxHold time.Duration) Lock {
		lock, err := NewRedisLock(client, job, minHold, maxHold)
		if err != nil {
			return failedLock{err: err}
		}
		return lock
	}
}

// Acquire tries to own the lock for maxHold.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.maxHold).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
		l.acquiredAt = l.now()
	}
	return ok, nil
}

// Release drops the lock if this instance still owns it. Before minHold has
// elapsed the key's TTL is cut to the remainder instead.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""

	remaining := l.minHold - l.now().Sub(l.acquiredAt)
	if remaining > 0 {
		ms := remaining.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		if err := shortenScript.Run(ctx, l.client, []string{l.key}, owner, ms).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("shorten lock: %w", err)
		}
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

type failedLock struct{ err error }

func (f failedLock) Acquire(context.Context) (bool, error) { return false, f.err }
func (f failedLock) Release(context.Context) error         { return nil }
