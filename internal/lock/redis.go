package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlockLua deletes a lock key only if it still holds the caller's token, so a
// holder whose TTL lapsed cannot release somebody else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisConfig holds the distributed lock configuration.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	TTL           time.Duration // lock expiry if the holder dies
	RetryInterval time.Duration // delay between SETNX attempts
	WaitTimeout   time.Duration // give up with ErrLockHeld after this long
	Logger        *zap.Logger
}

// RedisLocker implements Locker with Redis SETNX and a token-checked unlock, so
// several service instances can share one database safely.
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	cfg      RedisConfig
	logger   *zap.Logger
}

// NewRedisLocker connects to Redis and verifies connectivity.
func NewRedisLocker(ctx context.Context, cfg RedisConfig) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}

	cfg.Logger.Info("redis-locker-connected", zap.String("addr", cfg.Addr))

	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		cfg:      cfg,
		logger:   cfg.Logger,
	}, nil
}

func redisKey(key string) string {
	return "parimutuel:lock:" + key
}

// Acquire polls SETNX until the lock is obtained, ctx is done, or WaitTimeout passes.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	rk := redisKey(key)
	deadline := time.Now().Add(l.cfg.WaitTimeout)

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, rk, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			LockWaitTimeoutsTotal.WithLabelValues("redis").Inc()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ErrLockHeld)
		}
		select {
		case <-ctx.Done():
			LockWaitTimeoutsTotal.WithLabelValues("redis").Inc()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
	LocksAcquiredTotal.WithLabelValues("redis").Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			// Background context so unlock succeeds even if the caller's ctx is cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := l.unlockSc.Run(unlockCtx, l.rdb, []string{rk}, token).Err(); err != nil {
				l.logger.Warn("redis-unlock-failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// Ping checks the Redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	l.logger.Info("closing-redis-locker")
	return l.rdb.Close()
}

var _ Locker = (*RedisLocker)(nil)
