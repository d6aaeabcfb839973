package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

// CacheRepository stores derived gradebook payloads in Redis. A nil client
// turns every read into a miss and every write into a no-op.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// GradebookKey namespaces a cache entry under its gradebook so every entry of a
// gradebook can be dropped at once.
func GradebookKey(gradebookID, name string) string {
	return fmt.Sprintf("gradebook:%s:%s", gradebookID, name)
}

// generationKey lives outside the gradebook namespace so invalidation keeps it.
func generationKey(gradebookID string) string {
	return fmt.Sprintf("gradebook-generation:%s", gradebookID)
}

// Generation returns the gradebook's cache generation, 0 when it was never
// invalidated.
func (r *CacheRepository) Generation(ctx context.Context, gradebookID string) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	gen, err := r.client.Get(ctx, generationKey(gradebookID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get generation %s: %w", gradebookID, err)
	}
	return gen, nil
}

// Get unmarshals the cached value into dest or returns ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores value under key for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// InvalidateGradebook bumps the gradebook's generation and drops every entry
// cached for it. Entries written under an older generation are never read again.
func (r *CacheRepository) InvalidateGradebook(ctx context.Context, gradebookID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Incr(ctx, generationKey(gradebookID)).Err(); err != nil {
		return fmt.Errorf("redis bump generation %s: %w", gradebookID, err)
	}
	pattern := GradebookKey(gradebookID, "*")
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", pattern, err)
	}
	r.logger.Debug("gradebook cache invalidated", zap.String("gradebook_id", gradebookID), zap.Int("keys", len(keys)))
	return nil
}

// Ping reports whether Redis is reachable.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
