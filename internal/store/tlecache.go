package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/satdb/codec"
)

// RedisTextCache caches assembled element sets in Redis hashes with fields
// line0, line1 and line2.
type RedisTextCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisTextCache wraps client. A ttl of zero keeps entries until evicted.
func NewRedisTextCache(client redis.UniversalClient, ttl time.Duration) *RedisTextCache {
	return &RedisTextCache{client: client, ttl: ttl}
}

// OpenRedisTextCache connects to addr and pings it.
func OpenRedisTextCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisTextCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisTextCache(client, ttl), nil
}

// TextCacheKey is the Redis key of the element set for catalogID requested
// at the given instant, at whole-second resolution.
func TextCacheKey(catalogID int, at time.Time) string {
	return fmt.Sprintf("satdb:tle:%d:%d", catalogID, at.Unix())
}

// Get returns the cached set. ok is false on a miss.
func (c *RedisTextCache) Get(ctx context.Context, catalogID int, at time.Time) (codec.ElementSet, bool, error) {
	fields, err := c.client.HGetAll(ctx, TextCacheKey(catalogID, at)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return codec.ElementSet{}, false, nil
		}
		return codec.ElementSet{}, false, fmt.Errorf("text cache get: %w", err)
	}
	if len(fields) == 0 {
		return codec.ElementSet{}, false, nil
	}
	set := codec.ElementSet{
		Line0: fields["line0"],
		Line1: fields["line1"],
		Line2: fields["line2"],
	}
	if len(set.Line1) != codec.LineLength || len(set.Line2) != codec.LineLength {
		return codec.ElementSet{}, false, fmt.Errorf("text cache get: corrupt entry %s", TextCacheKey(catalogID, at))
	}
	return set, true, nil
}

// Put stores set and sets its expiry in one transaction.
func (c *RedisTextCache) Put(ctx context.Context, catalogID int, at time.Time, set codec.ElementSet) error {
	key := TextCacheKey(catalogID, at)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "line0", set.Line0, "line1", set.Line1, "line2", set.Line2)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("text cache put: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisTextCache) Close() error {
	return c.client.Close()
}
