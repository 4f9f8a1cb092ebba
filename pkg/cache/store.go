// Package cache provides the TTL key/value store shared by the engine.
// All cross-request state (verification results, rate counters, block
// flags, the IP pool index) lives here. The backing store is Redis; every
// operation fails open so the engine stays correct with the cache down.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the TTL key/value store consumed by the engine. Implementations
// must be safe for concurrent use. A failure of the backing store degrades
// to miss semantics: Get reports a miss, Incr reports 1, Exists reports
// false. Callers never see backend errors.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration)

	// Incr atomically increments the integer at key, creating it with
	// the given TTL when absent. A non-positive TTL leaves the key
	// persistent. Returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) int64

	// SetTTL resets the TTL of an existing key.
	SetTTL(ctx context.Context, key string, ttl time.Duration)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) bool

	// Close releases the underlying connection.
	Close() error
}

// Redis is the go-redis backed Store.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedis connects to the given redis URL and returns the store.
// The connection is verified with a PING so misconfiguration surfaces
// at startup rather than as silent misses.
func NewRedis(url string, log *zap.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client, log: log}, nil
}

// NewRedisClient wraps an existing client. Used by tests with miniredis.
func NewRedisClient(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.degraded("GET", key, err)
		}
		return "", false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.degraded("SET", key, err)
	}
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) int64 {
	val, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.degraded("INCR", key, err)
		return 1
	}
	// First increment anchors the window; ttl <= 0 means no expiry
	if ttl > 0 {
		if val == 1 {
			if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
				r.degraded("EXPIRE", key, err)
			}
		} else if d, err := r.client.TTL(ctx, key).Result(); err == nil && d == -1 {
			// A crash between INCR and EXPIRE can leave the counter
			// persistent; re-arm so the window still closes
			if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
				r.degraded("EXPIRE", key, err)
			}
		}
	}
	return val
}

func (r *Redis) SetTTL(ctx context.Context, key string, ttl time.Duration) {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		r.degraded("EXPIRE", key, err)
	}
}

func (r *Redis) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.degraded("EXISTS", key, err)
		return false
	}
	return n > 0
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) degraded(op, key string, err error) {
	r.log.Warn("cache degraded, failing open",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}
