package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"optionsmetrics/pkg/errors"
)

const lockPrefix = "optionsmetrics:lock:"

// Deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out TTL-bounded locks shared by every engine process on the same Redis
type Locker struct {
	client *Client
	ttl    time.Duration
}

// NewLocker creates a locker; ttl bounds how long a crashed holder blocks others
func NewLocker(client *Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes the lock for key. ok is false when another holder owns it.
// The returned release func is a no-op after the TTL has handed the key to someone else.
func (l *Locker) Acquire(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.client.rdb.SetNX(ctx, lockPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "acquire lock %s", key)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client.rdb, []string{lockPrefix + key}, token).Err()
		return errors.Wrapf(err, "release lock %s", key)
	}
	return release, true, nil
}

// Held reports whether key is currently locked by anyone
func (l *Locker) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.client.rdb.Exists(ctx, lockPrefix+key).Result()
	return n > 0, errors.Wrapf(err, "check lock %s", key)
}
