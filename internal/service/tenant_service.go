package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

type tenantStore interface {
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]models.Tenant, error)
}

// TenantService resolves request hosts and headers to tenants.
type TenantService struct {
	repo   tenantStore
	cache  viewCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewTenantService constructs the tenant resolver.
func NewTenantService(repo tenantStore, cache viewCache, ttl time.Duration, logger *zap.Logger) *TenantService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns the active tenant identified by slug.
func (s *TenantService) Resolve(ctx context.Context, slug string) (*models.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, appErrors.ErrTenantNotFound
	}
	key := makeViewCacheKey("tenant", slug)
	if s.cache != nil {
		var cached models.Tenant
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	tenant, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTenantNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve tenant")
	}
	if !tenant.Active {
		return nil, appErrors.ErrTenantNotFound
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, tenant, s.ttl); err != nil {
			s.logger.Warn("tenant cache write failed", zap.String("slug", slug), zap.Error(err))
		}
	}
	return tenant, nil
}

// ListActive lists tenants that are currently operating.
func (s *TenantService) ListActive(ctx context.Context) ([]models.Tenant, error) {
	tenants, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tenants")
	}
	return tenants, nil
}
