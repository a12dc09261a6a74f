// Package cache memoizes per-user stats results. Entries live under a
// per-user generation number, so invalidating a user is one INCR and stale
// entries age out through their TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL applies when Options.TTL is zero.
const DefaultTTL = 10 * time.Minute

// Cache stores JSON-serializable values per user and generation.
//
// Readers take the generation once and use it for both Get and Set, so a
// value computed before an Invalidate is filed under the old generation and
// never served afterwards.
type Cache interface {
	// Generation returns the current generation of userID.
	Generation(ctx context.Context, userID uuid.UUID) (int64, error)
	// Get decodes the entry for (userID, gen, key) into dst and reports
	// whether it was present.
	Get(ctx context.Context, userID uuid.UUID, gen int64, key string, dst any) (bool, error)
	Set(ctx context.Context, userID uuid.UUID, gen int64, key string, v any) error
	// Invalidate moves userID to a new generation.
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Generation(context.Context, uuid.UUID) (int64, error)             { return 0, nil }
func (Noop) Get(context.Context, uuid.UUID, int64, string, any) (bool, error) { return false, nil }
func (Noop) Set(context.Context, uuid.UUID, int64, string, any) error         { return nil }
func (Noop) Invalidate(context.Context, uuid.UUID) error                      { return nil }

// Options configure the Redis cache.
type Options struct {
	Addr   string
	TTL    time.Duration
	Prefix string
}

// Redis is a Cache backed by go-redis.
type Redis struct {
	rdb    goredis.UniversalClient
	ttl    time.Duration
	prefix string
}

// Dial connects to opts.Addr and pings it.
func Dial(ctx context.Context, opts Options) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return NewRedis(rdb, opts), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb goredis.UniversalClient, opts Options) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = "onyria:stats"
	}
	return &Redis{rdb: rdb, ttl: opts.TTL, prefix: opts.Prefix}
}

// Close releases the client.
func (r *Redis) Close() error { return r.rdb.Close() }

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) genKey(userID uuid.UUID) string {
	return r.prefix + ":" + userID.String() + ":gen"
}

func (r *Redis) entryKey(userID uuid.UUID, gen int64, key string) string {
	return r.prefix + ":" + userID.String() + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

// Generation implements Cache. A user never invalidated is at generation 0.
func (r *Redis) Generation(ctx context.Context, userID uuid.UUID) (int64, error) {
	gen, err := r.rdb.Get(ctx, r.genKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: get generation: %w", err)
	}
	return gen, nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, userID uuid.UUID, gen int64, key string, dst any) (bool, error) {
	raw, err := r.rdb.Get(ctx, r.entryKey(userID, gen, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Warn("cache: dropping undecodable entry", "key", key, "err", err)
		return false, nil
	}
	return true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, userID uuid.UUID, gen int64, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, r.entryKey(userID, gen, key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Invalidate implements Cache.
func (r *Redis) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := r.rdb.Incr(ctx, r.genKey(userID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}

// Fetch returns the cached value for key or computes, stores and returns
// it. The generation is read before compute runs and the result is stored
// under it. Cache errors are logged and never fail the call; without a
// generation the value is computed and not stored.
func Fetch[T any](ctx context.Context, c Cache, userID uuid.UUID, key string, compute func(context.Context) (T, error)) (T, error) {
	gen, err := c.Generation(ctx, userID)
	if err != nil {
		slog.Warn("cache: generation unavailable", "key", key, "err", err)
		return compute(ctx)
	}

	var v T
	ok, err := c.Get(ctx, userID, gen, key, &v)
	if err != nil {
		slog.Warn("cache: read failed", "key", key, "err", err)
	}
	if ok {
		return v, nil
	}
	v, err = compute(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, userID, gen, key, v); err != nil {
		slog.Warn("cache: write failed", "key", key, "err", err)
	}
	return v, nil
}

type observed struct {
	Cache
	onLookup func(ctx context.Context, hit bool)
}

// Observed wraps c and reports the outcome of every successful Get.
func Observed(c Cache, onLookup func(ctx context.Context, hit bool)) Cache {
	return observed{Cache: c, onLookup: onLookup}
}

func (o observed) Get(ctx context.Context, userID uuid.UUID, gen int64, key string, dst any) (bool, error) {
	ok, err := o.Cache.Get(ctx, userID, gen, key, dst)
	if err == nil {
		o.onLookup(ctx, ok)
	}
	return ok, err
}
