package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateGradebook(ctx context.Context, gradebookID string) error
	Generation(ctx context.Context, gradebookID string) (int64, error)
}

// CacheService orchestrates cache operations and related metrics. Only derived
// reports are cached; final grades for a single enrollment never are.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Generation returns the gradebook's current cache generation. ok is false when
// caching is off or the generation cannot be read; nothing should be cached then.
func (s *CacheService) Generation(ctx context.Context, gradebookID string) (int64, bool) {
	if !s.Enabled() {
		return 0, false
	}
	gen, err := s.repo.Generation(ctx, gradebookID)
	if err != nil {
		s.logger.Warn("cache generation read failed", zap.String("gradebook_id", gradebookID), zap.Error(err))
		return 0, false
	}
	return gen, true
}

// InvalidateGradebook drops every cached entry of a gradebook. Failures are
// logged; callers have already committed and the entries expire on their own.
func (s *CacheService) InvalidateGradebook(ctx context.Context, gradebookID string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.InvalidateGradebook(ctx, gradebookID); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("gradebook_id", gradebookID), zap.Error(err))
	}
}
