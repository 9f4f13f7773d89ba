package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FingerprintCache remembers the last computed history fingerprint per user
// so conditional requests can be answered without touching Postgres.
type FingerprintCache interface {
	// Lookup returns the cached fingerprint and a generation token to pass
	// to Store. ok is false on a miss.
	Lookup(ctx context.Context, userID int) (etag string, gen int64, ok bool, err error)
	// Store records etag for gen. A Store for a generation that has since
	// been invalidated is never visible to Lookup.
	Store(ctx context.Context, userID int, gen int64, etag string) error
	Invalidate(ctx context.Context, userID int) error
}

// RedisFingerprintCache keys fingerprints by a per-user generation counter.
// Invalidate bumps the counter, which orphans any value written by a reader
// that started before the change.
type RedisFingerprintCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisFingerprintCache(rdb *redis.Client, ttl time.Duration) *RedisFingerprintCache {
	return &RedisFingerprintCache{rdb: rdb, ttl: ttl}
}

func genKey(userID int) string {
	return "chat:etag-gen:" + strconv.Itoa(userID)
}

func etagKey(userID int, gen int64) string {
	return fmt.Sprintf("chat:etag:%d:%d", userID, gen)
}

func (c *RedisFingerprintCache) generation(ctx context.Context, userID int) (int64, error) {
	gen, err := c.rdb.Get(ctx, genKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisFingerprintCache) Lookup(ctx context.Context, userID int) (string, int64, bool, error) {
	gen, err := c.generation(ctx, userID)
	if err != nil {
		return "", 0, false, err
	}
	etag, err := c.rdb.Get(ctx, etagKey(userID, gen)).Result()
	if errors.Is(err, redis.Nil) {
		return "", gen, false, nil
	}
	if err != nil {
		return "", gen, false, err
	}
	return etag, gen, true, nil
}

func (c *RedisFingerprintCache) Store(ctx context.Context, userID int, gen int64, etag string) error {
	return c.rdb.Set(ctx, etagKey(userID, gen), etag, c.ttl).Err()
}

func (c *RedisFingerprintCache) Invalidate(ctx context.Context, userID int) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, genKey(userID))
	pipe.Expire(ctx, genKey(userID), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// noFingerprintCache always misses. Used when Redis is not configured.
type noFingerprintCache struct{}

func (noFingerprintCache) Lookup(context.Context, int) (string, int64, bool, error) {
	return "", 0, false, nil
}
func (noFingerprintCache) Store(context.Context, int, int64, string) error { return nil }
func (noFingerprintCache) Invalidate(context.Context, int) error          { return nil }
