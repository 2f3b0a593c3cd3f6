package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores completions of deterministic prompts
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, text string) error
}

// MemoryCache is a process-local Cache
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.entries[key]
	return text, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = text
	return nil
}

const cachePrefix = "journeygen:completion:"

// RedisCache shares completions across runs and processes
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis server at redisURL
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func (r *RedisCache) key(k string) string {
	return cachePrefix + k
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	text, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get completion: %w", err)
	}
	return text, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, text string) error {
	if err := r.client.Set(ctx, r.key(key), text, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set completion: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// NewCache selects a cache for url: "memory" keeps completions in process,
// a redis:// or rediss:// URL uses Redis, and an empty url disables caching.
func NewCache(ctx context.Context, url string, ttl time.Duration) (Cache, error) {
	switch {
	case url == "":
		return nil, nil
	case url == "memory":
		return NewMemoryCache(), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return NewRedisCache(ctx, url, ttl)
	default:
		return nil, fmt.Errorf("unsupported cache url %q", url)
	}
}
