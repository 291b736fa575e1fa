package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
)

// RedisConfig holds Redis connection and lock timing configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// KeyPrefix namespaces lock keys. Defaults to "migrator:lock:".
	KeyPrefix string
	// TTL bounds how long a crashed holder can block a key.
	TTL time.Duration
	// Wait is how long Acquire retries before giving up.
	Wait time.Duration
}

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger ectologger.Logger) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.WithContext(ctx).Infof("Connected to Redis at %s", addr)
	return rdb, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a Locker shared across processes, built on SET NX with a
// per-holder token.
type RedisLocker struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	wait   time.Duration
	logger ectologger.Logger
}

func NewRedisLocker(rdb redis.Cmdable, cfg RedisConfig, logger ectologger.Logger) *RedisLocker {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "migrator:lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	wait := cfg.Wait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl, wait: wait, logger: logger}
}

// TryAcquire makes a single SET NX attempt.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Lock, error) {
	lockKey := l.prefix + key
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return &redisLock{locker: l, key: lockKey, token: token}, nil
}

// Acquire retries TryAcquire with exponential backoff from 10ms up to 500ms
// until the configured wait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	start := time.Now()
	deadline := start.Add(l.wait)
	delay := 10 * time.Millisecond

	for {
		held, err := l.TryAcquire(ctx, key)
		if err == nil {
			metrics.LockWaitTime.Observe(time.Since(start).Seconds())
			return held, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay = min(delay*2, 500*time.Millisecond)
		}
	}
}

type redisLock struct {
	locker *RedisLocker
	key    string
	token  string
}

// Release deletes the key only while it still carries this holder's token.
func (rl *redisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, rl.locker.rdb, []string{rl.key}, rl.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	rl.locker.logger.WithContext(ctx).Debugf("Released lock: %s", rl.key)
	return nil
}
