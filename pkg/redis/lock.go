package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("lock is held by another owner")

// Locker is a single-key mutex shared by every process that talks to the same redis.
type Locker struct {
	adapter RedisAdapter
	retries int
	backoff time.Duration
}

func NewLocker(adapter RedisAdapter) *Locker {
	return &Locker{adapter: adapter, retries: 1, backoff: 50 * time.Millisecond}
}

// WithRetries makes TryLock poll a few times before giving up.
func (l *Locker) WithRetries(retries int, backoff time.Duration) *Locker {
	return &Locker{adapter: l.adapter, retries: max(retries, 1), backoff: backoff}
}

// TryLock returns an owner token that must be passed to Unlock.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < l.retries; i++ {
		ok, err := l.adapter.SetNX(key, []byte(token), ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if i == l.retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.backoff):
		}
	}
	return "", ErrLockNotAcquired
}

var luaUnlock = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock only deletes the key while it still holds token, so an expired lock re-acquired by someone else survives.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.adapter.Client(), []string{l.adapter.Prefix() + key}, token).Result()
	return err
}
