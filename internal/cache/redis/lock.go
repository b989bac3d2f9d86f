package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL of a lock key only while the caller still owns it.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL. A held
// lock is kept alive by a background refresh until it is released. The lease
// reports loss when the owner token is gone or no refresh has succeeded for a
// whole ttl.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire obtains the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return domain.Lease{}, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return domain.Lease{}, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	lost := make(chan struct{})
	extend := func(ctx context.Context) (bool, error) {
		n, err := lm.extendSc.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
		return n == 1, err
	}
	go keepAlive(extend, ttl, stop, done, lost)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done

			// Background context so release succeeds after the caller's
			// context is cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return domain.Lease{Lost: lost, Release: release}, nil
}

// keepAlive extends the lease every ttl/3 until stop is closed. It closes lost
// when extend reports the token gone, or when extend has failed for a full ttl
// so the key has expired server side.
func keepAlive(extend func(context.Context) (bool, error), ttl time.Duration, stop <-chan struct{}, done, lost chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			held, err := extend(ctx)
			cancel()
			switch {
			case err == nil && held:
				lastOK = time.Now()
				continue
			case err == nil || time.Since(lastOK) >= ttl:
				close(lost)
				return
			}
		}
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
