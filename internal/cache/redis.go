package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oggyb/studymatch/internal/config"
)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// KeyForLastActive generates Redis key for a user's last heartbeat.
func (c *RedisCache) KeyForLastActive(userID uint64) string {
	return fmt.Sprintf("presence:last_active:%d", userID)
}

// SetLastActive stores the heartbeat time in unix millis. The key outlives the
// online window so status reads right after a window expiry still hit the cache.
func (c *RedisCache) SetLastActive(ctx context.Context, userID uint64, at time.Time, ttl time.Duration) error {
	return c.Client.Set(ctx, c.KeyForLastActive(userID), at.UnixMilli(), ttl).Err()
}

// ClearLastActive drops the cached heartbeat (explicit offline).
func (c *RedisCache) ClearLastActive(ctx context.Context, userID uint64) error {
	return c.Client.Del(ctx, c.KeyForLastActive(userID)).Err()
}

// GetLastActive returns cached heartbeat times for ids. Cache misses are
// reported in the second return value so callers can fall back to the DB.
func (c *RedisCache) GetLastActive(ctx context.Context, ids []uint64) (map[uint64]time.Time, []uint64, error) {
	hits := make(map[uint64]time.Time, len(ids))
	if len(ids) == 0 {
		return hits, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.KeyForLastActive(id)
	}
	vals, err := c.Client.MGet(ctx, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return hits, ids, nil
	} else if err != nil {
		return nil, nil, err
	}

	var misses []uint64
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			misses = append(misses, ids[i])
			continue
		}
		hits[ids[i]] = time.UnixMilli(ms)
	}
	return hits, misses, nil
}
