package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/rental-alerts/internal/logging"
)

const (
	keyPrefix      = "rental-alerts:lock:"
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so a
// holder whose TTL lapsed can never remove a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a non-blocking lock shared by every instance pointed at the
// same Redis.
type RedisLocker struct {
	client *redis.Client
	owned  bool
	log    *slog.Logger
}

func NewRedisLocker(url string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	l := NewRedisLockerFromClient(redis.NewClient(opts))
	l.owned = true
	return l, nil
}

func NewRedisLockerFromClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		log:    logging.Component("lock"),
	}
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// TryLock sets key with SET NX PX ttl. It returns ok=false without error when
// another holder owns the key.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l.buildRelease(key, token), true, nil
}

func (l *RedisLocker) buildRelease(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + key}, token).Err(); err != nil {
				l.log.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}
}

// Close closes the client only when the locker created it.
func (l *RedisLocker) Close() error {
	if !l.owned {
		return nil
	}
	return l.client.Close()
}
