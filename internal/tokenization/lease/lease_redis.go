package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attestra/internal/tokenization/ports"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block an asset.
const DefaultTTL = 2 * time.Minute

// RedisLease shares leases across instances through Redis. A lease expires
// after its TTL if the holder never releases it.
type RedisLease struct {
	locker *redislock.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedisLease(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLease {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLease{
		locker: redislock.New(client),
		ttl:    ttl,
		prefix: "attestra:lease:",
		logger: logger,
	}
}

func (l *RedisLease) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.locker.Obtain(ctx, l.prefix+key, l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ports.ErrLeaseHeld
		}
		return nil, fmt.Errorf("obtain lease %s: %w", key, err)
	}
	return func() {
		// Released with a fresh context: the caller's may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("failed to release lease", "lease_key", key, "error", err)
		}
	}, nil
}
