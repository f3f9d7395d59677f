package chargecode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const failureKeyPrefix = "chargecode:failures:"

// RedisFailureTracker keeps a per-user counter of failed redemptions that
// expires window after the first failure.
type RedisFailureTracker struct {
	rdb         *redis.Client
	maxFailures int64
	window      time.Duration
}

func NewRedisFailureTracker(rdb *redis.Client, maxFailures int, window time.Duration) *RedisFailureTracker {
	return &RedisFailureTracker{
		rdb:         rdb,
		maxFailures: int64(maxFailures),
		window:      window,
	}
}

func failureKey(userID int) string {
	return fmt.Sprintf("%s%d", failureKeyPrefix, userID)
}

func (t *RedisFailureTracker) Blocked(ctx context.Context, userID int) (bool, error) {
	if t.maxFailures <= 0 {
		return false, nil
	}
	n, err := t.rdb.Get(ctx, failureKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return n >= t.maxFailures, nil
}

func (t *RedisFailureTracker) RecordFailure(ctx context.Context, userID int) error {
	key := failureKey(userID)
	n, err := t.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		return t.rdb.Expire(ctx, key, t.window).Err()
	}
	return nil
}

func (t *RedisFailureTracker) Reset(ctx context.Context, userID int) error {
	return t.rdb.Del(ctx, failureKey(userID)).Err()
}
