package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("lock: timed out waiting for lock")

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker serializes callers across processes with SET NX PX.
type RedisLocker struct {
	rdb     *goredis.Client
	prefix  string
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
}

type RedisOption func(*RedisLocker)

// WithTTL bounds how long a crashed holder can keep the lock.
func WithTTL(d time.Duration) RedisOption { return func(l *RedisLocker) { l.ttl = d } }

// WithMaxWait bounds how long Lock waits before giving up.
func WithMaxWait(d time.Duration) RedisOption { return func(l *RedisLocker) { l.maxWait = d } }

func NewRedisLocker(rdb *goredis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rdb:     rdb,
		prefix:  "consult:lock:",
		ttl:     10 * time.Second,
		retry:   25 * time.Millisecond,
		maxWait: 5 * time.Second,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{k}, token).Err()
	}, nil
}
