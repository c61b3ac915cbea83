package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/drive-school-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments. Methods taking an
// sqlx.ExtContext run on it when non-nil so callers can compose them inside a
// transaction.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const enrollmentColumns = `id, tenant_id, student_id, trainer_id, vehicle_id, plan_days, completed_days, start_date, start_time, end_time, skip_sundays, total_price, status, created_by, created_at, updated_at`

const enrollmentDetailSelect = `SELECT e.id, e.tenant_id, e.student_id, e.trainer_id, e.vehicle_id, e.plan_days, e.completed_days, e.start_date, e.start_time, e.end_time, e.skip_sundays, e.total_price, e.status, e.created_by, e.created_at, e.updated_at,
COALESCE(st.full_name, '') AS student_name, COALESCE(tr.full_name, '') AS trainer_name, COALESCE(v.name, '') AS vehicle_name, COALESCE(v.plate_number, '') AS plate_number`

const enrollmentDetailFrom = `FROM enrollments e
LEFT JOIN users st ON st.id = e.student_id AND st.tenant_id = e.tenant_id
LEFT JOIN users tr ON tr.id = e.trainer_id AND tr.tenant_id = e.tenant_id
LEFT JOIN vehicles v ON v.id = e.vehicle_id AND v.tenant_id = e.tenant_id`

// Create inserts the enrollment row.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now

	const query = `INSERT INTO enrollments (id, tenant_id, student_id, trainer_id, vehicle_id, plan_days, completed_days, start_date, start_time, end_time, skip_sundays, total_price, status, created_by, created_at, updated_at) VALUES (:id, :tenant_id, :student_id, :trainer_id, :vehicle_id, :plan_days, :completed_days, :start_date, :start_time, :end_time, :skip_sundays, :total_price, :status, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindByID returns the enrollment scoped to the tenant.
func (r *EnrollmentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE tenant_id = $1 AND id = $2`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// LockByID loads the enrollment and holds its row lock until the transaction ends.
func (r *EnrollmentRepository) LockByID(ctx context.Context, tx sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, tx, &enrollment, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindDetail returns the enrollment with participant names.
func (r *EnrollmentRepository) FindDetail(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + "\n" + enrollmentDetailFrom + "\nWHERE e.tenant_id = $1 AND e.id = $2"
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment detail: %w", err)
	}
	return &detail, nil
}

// IncrementCompleted adds one completed day and completes the enrollment when
// the plan is fulfilled. It returns the updated row.
func (r *EnrollmentRepository) IncrementCompleted(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	query := `UPDATE enrollments SET completed_days = completed_days + 1,
status = CASE WHEN completed_days + 1 >= plan_days THEN 'COMPLETED' ELSE status END,
updated_at = $3
WHERE tenant_id = $1 AND id = $2
RETURNING ` + enrollmentColumns
	return r.updateReturning(ctx, exec, "increment completed days", query, tenantID, id, time.Now().UTC())
}

// DecrementCompleted removes one completed day, never going below zero, and
// reopens a completed enrollment.
func (r *EnrollmentRepository) DecrementCompleted(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	query := `UPDATE enrollments SET completed_days = GREATEST(completed_days - 1, 0),
status = CASE WHEN status = 'COMPLETED' THEN 'ACTIVE' ELSE status END,
updated_at = $3
WHERE tenant_id = $1 AND id = $2
RETURNING ` + enrollmentColumns
	return r.updateReturning(ctx, exec, "decrement completed days", query, tenantID, id, time.Now().UTC())
}

func (r *EnrollmentRepository) updateReturning(ctx context.Context, exec sqlx.ExtContext, op, query string, args ...interface{}) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &enrollment, nil
}

// TransitionStatus moves the enrollment from one status to another. It reports
// false when the row was not in the expected status.
func (r *EnrollmentRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, tenantID, id string, from, to models.EnrollmentStatus) (bool, error) {
	const query = `UPDATE enrollments SET status = $4, updated_at = $5 WHERE tenant_id = $1 AND id = $2 AND status = $3`
	res, err := r.exec(exec).ExecContext(ctx, query, tenantID, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition enrollment status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition enrollment rows: %w", err)
	}
	return rows == 1, nil
}

var enrollmentOrdering = ordering{
	columns: map[string]string{
		"created_at":   "e.created_at",
		"start_date":   "e.start_date",
		"student_name": "st.full_name",
	},
	defaultKey:   "created_at",
	defaultOrder: "DESC",
}

// List returns the tenant's enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	w := tenantScoped("e.tenant_id", tenantID)
	w.eq("e.student_id", filter.StudentID)
	w.eq("e.trainer_id", filter.TrainerID)
	w.eq("e.vehicle_id", filter.VehicleID)
	w.eq("e.status", string(filter.Status))

	query := fmt.Sprintf("%s\n%s %s %s %s", enrollmentDetailSelect, enrollmentDetailFrom, w,
		enrollmentOrdering.clause(filter.SortBy, filter.SortOrder), pageClause(filter.Page, filter.PageSize))
	var items []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &items, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments e "+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return items, total, nil
}
