package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kycflow/pkg/requestcontext"
)

const uploadQuotaKeyPrefix = "kyc:uploads:"

// RedisChecker counts uploads in Redis with a key per (user, UTC day) that
// expires at the end of the day. This is the shared implementation for
// scaled-out deployments.
type RedisChecker struct {
	client *redis.Client
	limit  int64
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client, limit: DailyUploadLimit}
}

func (c *RedisChecker) key(userID uuid.UUID, now time.Time) string {
	return uploadQuotaKeyPrefix + userID.String() + ":" + now.UTC().Format("2006-01-02")
}

func (c *RedisChecker) Allow(ctx context.Context, userID uuid.UUID) (bool, error) {
	now := requestcontext.Now(ctx)
	val, err := c.client.Get(ctx, c.key(userID, now)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read upload quota: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse upload quota: %w", err)
	}
	return n < c.limit, nil
}

func (c *RedisChecker) Record(ctx context.Context, userID uuid.UUID) error {
	now := requestcontext.Now(ctx)
	key := c.key(userID, now)

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	endOfDay := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	pipe.ExpireAt(ctx, key, endOfDay)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record upload quota: %w", err)
	}
	return nil
}
