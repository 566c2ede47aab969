package fundval

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zeromicro/go-zero/core/stores/redis"
)

// RedisStore keeps cache entries in Redis with native key expiry.
type RedisStore struct {
	client *redis.Redis
	prefix string
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	// Prefix namespaces keys, e.g. "fundval:".
	Prefix string
}

// NewRedisStore connects lazily to a single Redis node.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client, err := redis.NewRedis(redis.RedisConf{
		Host:     opts.Addr,
		Type:     redis.NodeType,
		Pass:     opts.Password,
		NonBlock: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	return &RedisStore{client: client, prefix: opts.Prefix}, nil
}

// Get implements Store. go-zero maps redis nil to an empty value.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.GetCtx(ctx, s.prefix+key)
	if err != nil {
		return nil, false, WrapError(ErrCodeCacheUnavailable, "redis get", err)
	}
	if value == "" {
		return nil, false, nil
	}
	return []byte(value), true, nil
}

// Set implements Store. TTLs are rounded up to whole seconds.
func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := s.client.SetexCtx(ctx, s.prefix+key, string(payload), expirySeconds(ttl)); err != nil {
		return WrapError(ErrCodeCacheUnavailable, "redis setex", err)
	}
	return nil
}

// Close implements Store. Connections are pooled by go-zero per address.
func (s *RedisStore) Close() error {
	return nil
}

func expirySeconds(ttl time.Duration) int {
	seconds := int(math.Ceil(ttl.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
