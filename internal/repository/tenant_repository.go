package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/drive-school-api/internal/models"
)

// TenantRepository reads driving-school tenants.
type TenantRepository struct {
	db *sqlx.DB
}

// NewTenantRepository creates a new instance of TenantRepository.
func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, slug, name, active, created_at`

// FindBySlug returns the tenant addressed by a subdomain or X-Tenant header.
func (r *TenantRepository) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1 LIMIT 1`
	var tenant models.Tenant
	if err := r.db.GetContext(ctx, &tenant, query, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find tenant by slug: %w", err)
	}
	return &tenant, nil
}

// ListActive returns every active tenant ordered by slug.
func (r *TenantRepository) ListActive(ctx context.Context) ([]models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE active = TRUE ORDER BY slug`
	var tenants []models.Tenant
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return tenants, nil
}
