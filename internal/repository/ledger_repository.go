package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// LedgerRepository runs the aggregate queries behind dashboards.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// TenantCounts returns headline counts for the tenant in one statement.
func (r *LedgerRepository) TenantCounts(ctx context.Context, tenantID string) (*models.TenantCounts, error) {
	const query = `SELECT
(SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND role = 'STUDENT' AND active = TRUE) AS students,
(SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND role = 'TRAINER' AND active = TRUE) AS trainers,
(SELECT COUNT(*) FROM vehicles WHERE tenant_id = $1 AND active = TRUE) AS active_vehicles,
(SELECT COUNT(*) FROM enrollments WHERE tenant_id = $1 AND status = 'ACTIVE') AS active_enrollments`
	var counts models.TenantCounts
	if err := r.db.GetContext(ctx, &counts, query, tenantID); err != nil {
		return nil, fmt.Errorf("tenant counts: %w", err)
	}
	return &counts, nil
}

// CountTrainerPresent counts PRESENT sessions of a trainer between from and to inclusive.
func (r *LedgerRepository) CountTrainerPresent(ctx context.Context, tenantID, trainerID string, from, to calendar.Date) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE tenant_id = $1 AND trainer_id = $2 AND status = 'PRESENT' AND date BETWEEN $3 AND $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, trainerID, from, to); err != nil {
		return 0, fmt.Errorf("count trainer present sessions: %w", err)
	}
	return count, nil
}
