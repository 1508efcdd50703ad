package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mediaarchive:lock:"

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker shared by every archive instance using the same
// Redis. The lease is renewed while the lock is held and expires after ttl
// if its holder dies.
type RedisLocker struct {
	rdb        redis.UniversalClient
	ttl        time.Duration
	retryEvery time.Duration
	renewEvery time.Duration
	logger     logging.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, logger logging.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:        rdb,
		ttl:        ttl,
		retryEvery: 50 * time.Millisecond,
		renewEvery: max(ttl/3, time.Millisecond),
		logger:     logger,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			l.logger.Error(ctx, "redis SETNX failed", "key", k, "error", err)
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w: %w", key, common.ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retryEvery):
		}
	}

	l.logger.Debug(ctx, "lock acquired", "key", k)

	// Renew and release even if the caller's context is already canceled.
	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(bg, k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			rctx, cancel := context.WithTimeout(bg, 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil {
				l.logger.Warn(rctx, "lock release failed", "key", k, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lease every renewEvery until stop is closed or the
// key no longer carries token.
func (l *RedisLocker) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(l.renewEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		n, err := renewScript.Run(rctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.logger.Warn(ctx, "lock renewal failed", "key", key, "error", err)
		case n == 0:
			l.logger.Error(ctx, "lock lease lost", "key", key)
			return
		}
	}
}
