package service

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/pkg/events"
)

// txRunner is satisfied by *database.TxRunner.
type txRunner interface {
	Serializable(ctx context.Context, label string, fn func(tx *sqlx.Tx) error) error
	ReadCommitted(ctx context.Context, label string, fn func(tx *sqlx.Tx) error) error
}

// viewCache is satisfied by *CacheService.
type viewCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

func makeViewCacheKey(prefix string, parts ...string) string {
	var builder strings.Builder
	builder.WriteString(prefix)
	for _, part := range parts {
		if part == "" {
			continue
		}
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}

func dashboardCachePattern(tenantID string) string {
	return makeViewCacheKey("dash", tenantID) + ":*"
}

func progressCacheKey(tenantID, enrollmentID string) string {
	return makeViewCacheKey("progress", tenantID, enrollmentID)
}

// afterCommit drops cached views of the tenant and publishes events. Failures
// are logged only; the committed write stands.
type afterCommit struct {
	cache     viewCache
	publisher events.Publisher
	logger    *zap.Logger
}

func (a afterCommit) run(ctx context.Context, tenantID, enrollmentID string, evts ...events.Event) {
	if a.cache != nil {
		patterns := []string{dashboardCachePattern(tenantID)}
		if enrollmentID != "" {
			patterns = append(patterns, progressCacheKey(tenantID, enrollmentID))
		}
		for _, pattern := range patterns {
			if err := a.cache.Invalidate(ctx, pattern); err != nil {
				a.logger.Warn("cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
			}
		}
	}
	if a.publisher != nil && len(evts) > 0 {
		if err := a.publisher.Publish(ctx, evts...); err != nil {
			a.logger.Warn("event publish failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
}
