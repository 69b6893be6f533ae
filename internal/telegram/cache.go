package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/wliuy/TGmusic/internal/shared"
)

const filePathPrefix = "tgmusic:file_path:"

// RedisPathCache stores getFile results in Redis so every replica shares
// them. Cache errors are logged and treated as misses.
type RedisPathCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *log.Logger
}

func NewRedisPathCache(rdb *redis.Client, ttl time.Duration, logger *log.Logger) *RedisPathCache {
	if ttl <= 0 {
		ttl = 50 * time.Minute
	}
	return &RedisPathCache{rdb: rdb, ttl: ttl, log: shared.Component(logger, "path-cache")}
}

func (c *RedisPathCache) Get(ctx context.Context, fileID string) (string, bool) {
	p, err := c.rdb.Get(ctx, filePathPrefix+fileID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.log.Warn("cache get", "file_id", fileID, "err", err)
		return "", false
	}
	return p, true
}

func (c *RedisPathCache) Set(ctx context.Context, fileID, path string) {
	if err := c.rdb.Set(ctx, filePathPrefix+fileID, path, c.ttl).Err(); err != nil {
		c.log.Warn("cache set", "file_id", fileID, "err", err)
	}
}

func (c *RedisPathCache) Forget(ctx context.Context, fileID string) {
	if err := c.rdb.Del(ctx, filePathPrefix+fileID).Err(); err != nil {
		c.log.Warn("cache forget", "file_id", fileID, "err", err)
	}
}
