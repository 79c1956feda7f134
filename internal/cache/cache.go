// Package cache stores HTTP response bodies keyed by request, with a TTL.
// The memory backend expires entries on the injected clock so cache behaviour
// can be driven on virtual time; the Redis backend shares a cache between
// processes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
)

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache is implemented by every backend. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns nil, nil when the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string        `yaml:"backend" json:"backend"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
}

// New builds the backend named by cfg.Backend. BackendNone yields a nil Cache
// and a nil error; callers treat a nil Cache as caching disabled.
func New(cfg Config, c clock.Clock) (Cache, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemoryCache(c), nil
	case BackendRedis:
		rc, err := NewRedisCache(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// GetJSON decodes the cached value for key into v. It reports false on a miss.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding cached %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q for cache: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
