package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheServiceConfig tunes the view cache.
type CacheServiceConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
	// FailureThreshold consecutive backend errors open the bypass for Cooldown.
	FailureThreshold int
	Cooldown         time.Duration
}

// ViewCachePatterns lists the derived views flushed when the cache backend
// comes back, since invalidations issued during the outage were lost.
func ViewCachePatterns() []string {
	return []string{"dash:*", "progress:*"}
}

// CacheService is a read-through helper for derived views. A failing backend
// never fails the caller: reads become misses and writes are skipped.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	logger  *zap.Logger
	cfg     CacheServiceConfig
	now     func() time.Time

	mu          sync.Mutex
	failures    int
	bypassUntil time.Time
	dirty       bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, logger *zap.Logger, cfg CacheServiceConfig) *CacheService {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, logger: logger, cfg: cfg, now: time.Now}
}

// Enabled indicates whether caching is configured.
func (s *CacheService) Enabled() bool {
	return s != nil && s.cfg.Enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.usable(ctx) {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	switch {
	case err == nil:
		s.metrics.RecordCacheOperation(true, duration)
		s.succeeded()
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		s.metrics.RecordCacheOperation(false, duration)
		s.succeeded()
		return false, nil
	default:
		s.metrics.RecordCacheOperation(false, duration)
		s.failed("get", key, err)
		return false, nil
	}
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.usable(ctx) {
		return nil
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.failed("set", key, err)
		return nil
	}
	s.succeeded()
	return nil
}

// Invalidate removes cached values for the provided pattern. A failed
// invalidation marks the cache dirty so the view patterns are flushed once
// the backend answers again.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if s.bypassed() {
		s.markDirty()
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.markDirty()
		s.failed("invalidate", pattern, err)
		return err
	}
	s.succeeded()
	return nil
}

// usable reports whether the backend may be called, flushing stale views
// first when the previous outage lost invalidations.
func (s *CacheService) usable(ctx context.Context) bool {
	if !s.Enabled() || s.bypassed() {
		return false
	}
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return true
	}
	for _, pattern := range ViewCachePatterns() {
		if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
			s.failed("flush", pattern, err)
			return false
		}
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	s.logger.Info("cache views flushed after backend recovery")
	return true
}

func (s *CacheService) bypassed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.bypassUntil)
}

func (s *CacheService) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *CacheService) succeeded() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

func (s *CacheService) failed(op, key string, err error) {
	s.mu.Lock()
	s.failures++
	tripped := s.failures >= s.cfg.FailureThreshold
	if tripped {
		s.failures = 0
		s.bypassUntil = s.now().Add(s.cfg.Cooldown)
		s.dirty = true
	}
	s.mu.Unlock()

	s.logger.Warn("cache operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	if tripped {
		s.logger.Warn("cache bypassed", zap.Duration("cooldown", s.cfg.Cooldown))
	}
}
