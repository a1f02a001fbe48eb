package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/frahmantamala/memory-permissions/internal/core/events"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "memperm:grant:"
	generationKey  = ":gen"

	// a reader that takes longer than this between Generation and Set may
	// write a stale entry once the counter has expired
	generationTTL = 24 * time.Hour
)

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[1].
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache holds the kinds a user has on a memory. Implementations treat backend
// failures as misses.
//
// Readers take a Generation before loading from the store and hand it to Set.
// Invalidate moves the generation forward, so a load that raced a write is
// never cached.
type Cache interface {
	Get(ctx context.Context, userID, memoryID string) (Set, bool)
	Generation(ctx context.Context, userID, memoryID string) (int64, bool)
	Set(ctx context.Context, userID, memoryID string, generation int64, kinds Set)
	Invalidate(ctx context.Context, userID, memoryID string) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, string, string) (Set, bool)          { return nil, false }
func (NopCache) Generation(context.Context, string, string) (int64, bool) { return 0, false }
func (NopCache) Set(context.Context, string, string, int64, Set)          {}
func (NopCache) Invalidate(context.Context, string, string) error         { return nil }

type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func CacheKey(userID, memoryID string) string {
	return cacheKeyPrefix + userID + ":" + memoryID
}

func GenerationKey(userID, memoryID string) string {
	return CacheKey(userID, memoryID) + generationKey
}

func (c *RedisCache) Get(ctx context.Context, userID, memoryID string) (Set, bool) {
	raw, err := c.client.Get(ctx, CacheKey(userID, memoryID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromOr(ctx, c.logger).Warn("permission cache read failed", "user_id", userID, "memory_id", memoryID, "error", err)
		}
		return nil, false
	}

	var labels []string
	if err := json.Unmarshal(raw, &labels); err != nil {
		logger.FromOr(ctx, c.logger).Warn("permission cache entry corrupt", "user_id", userID, "memory_id", memoryID, "error", err)
		return nil, false
	}
	return setFromStrings(labels), true
}

// Generation reports false when it cannot be read; the caller must then skip Set.
func (c *RedisCache) Generation(ctx context.Context, userID, memoryID string) (int64, bool) {
	gen, err := c.client.Get(ctx, GenerationKey(userID, memoryID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, true
	case err != nil:
		logger.FromOr(ctx, c.logger).Warn("permission cache generation read failed", "user_id", userID, "memory_id", memoryID, "error", err)
		return 0, false
	}
	return gen, true
}

// Set is a no-op when the entry was invalidated after generation was taken.
func (c *RedisCache) Set(ctx context.Context, userID, memoryID string, generation int64, kinds Set) {
	raw, err := json.Marshal(kinds.Strings())
	if err != nil {
		return
	}

	keys := []string{CacheKey(userID, memoryID), GenerationKey(userID, memoryID)}
	written, err := setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(generation, 10), raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		logger.FromOr(ctx, c.logger).Warn("permission cache write failed", "user_id", userID, "memory_id", memoryID, "error", err)
		return
	}
	if written == 0 {
		logger.FromOr(ctx, c.logger).Debug("permission cache write skipped, entry changed", "user_id", userID, "memory_id", memoryID)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userID, memoryID string) error {
	genKey := GenerationKey(userID, memoryID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, CacheKey(userID, memoryID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}

type Subscriber interface {
	Subscribe(eventType string, handler events.Handler)
}

// RegisterCacheInvalidation drops the cached entry for every grant change.
func RegisterCacheInvalidation(bus Subscriber, cache Cache) {
	bus.Subscribe(events.EventTypeGrantChanged, func(ctx context.Context, e events.Event) error {
		changed, ok := e.(*events.GrantChanged)
		if !ok {
			return nil
		}
		return cache.Invalidate(ctx, changed.UserID, changed.MemoryID)
	})
}
