package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when no status is cached for the user.
var ErrMiss = errors.New("cache miss")

type UserStatusCache interface {
	GetBanned(ctx context.Context, userID string) (bool, error)
	SetBanned(ctx context.Context, userID string, banned bool) error
	Invalidate(ctx context.Context, userID string) error
}

type redisUserStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisUserStatusCache(client *redis.Client, ttl time.Duration) UserStatusCache {
	return &redisUserStatusCache{
		client: client,
		ttl:    ttl,
	}
}

func key(userID string) string {
	return "user_status:" + userID
}

func (c *redisUserStatusCache) GetBanned(ctx context.Context, userID string) (bool, error) {
	val, err := c.client.Get(ctx, key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, ErrMiss
		}
		return false, err
	}
	return strconv.ParseBool(val)
}

func (c *redisUserStatusCache) SetBanned(ctx context.Context, userID string, banned bool) error {
	return c.client.Set(ctx, key(userID), strconv.FormatBool(banned), c.ttl).Err()
}

func (c *redisUserStatusCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, key(userID)).Err()
}
