package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"transithub.dev/transithub/model"
)

const (
	// Static data changes on the order of days.
	StaticTTL = 24 * time.Hour
	// Realtime reads only need to survive a burst of identical
	// requests between ingest cycles.
	RealtimeTTL = 30 * time.Second
)

// CacheKey names the cache entry for an entity kind under a source.
// Writes invalidate exactly these keys.
func CacheKey(entity string, src model.Source) string {
	return entity + ":" + string(src)
}

// redisAPI is the slice of the redis client the cache uses.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache is a thin JSON layer over Redis. A nil client disables
// caching entirely, which keeps tests off the network.
type Cache struct {
	rdb     redisAPI
	logger  *slog.Logger
	refresh func(context.Context) error
}

func NewCache(rdb *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{logger: logger}
	if rdb != nil {
		c.rdb = rdb
	}
	return c
}

// SetRefresh registers the hook that repopulates static entries when a
// cached value fails to decode.
func (c *Cache) SetRefresh(fn func(context.Context) error) {
	c.refresh = fn
}

// Invalidate drops keys. Failures are logged, not returned; the
// database already has the truth and a stale entry expires on its TTL.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("invalidating cache", "keys", keys, "error", err)
	}
}

func (c *Cache) put(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	buf, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("encoding cache entry", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, buf, ttl).Err(); err != nil {
		c.logger.Warn("writing cache entry", "key", key, "error", err)
	}
}

// Cached reads key through the cache, falling back to load on a miss
// and storing the result with the given TTL. A value that exists but
// does not decode as T means something foreign ended up under our
// key; the entry is dropped, the static caches are rebuilt once, and
// the read is retried a single time before going to the database.
func Cached[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	return cached(ctx, c, key, ttl, load, true)
}

func cached[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error), recover bool) (T, error) {
	var zero T
	if c == nil || c.rdb == nil {
		return load(ctx)
	}

	buf, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if jerr := json.Unmarshal(buf, &v); jerr == nil {
			return v, nil
		}
		if recover {
			c.recover(ctx, key)
			return cached(ctx, c, key, ttl, load, false)
		}
	case err == redis.Nil:
		// miss
	case isWrongType(err):
		if recover {
			c.recover(ctx, key)
			return cached(ctx, c, key, ttl, load, false)
		}
	default:
		return zero, fmt.Errorf("cache get %s: %w", key, err)
	}

	v, err := load(ctx)
	if err != nil {
		return zero, err
	}
	c.put(ctx, key, v, ttl)
	return v, nil
}

func (c *Cache) recover(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("dropping bad cache entry", "key", key, "error", err)
	}
	if c.refresh == nil {
		return
	}
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("repopulating static caches", "error", err)
	}
}

// Redis reports a type mismatch in the reply rather than as a typed
// error.
func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}
