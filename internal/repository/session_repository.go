package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// SessionRepository persists dated lesson sessions. Every statement is scoped
// by tenant_id.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const sessionColumns = `id, tenant_id, enrollment_id, student_id, trainer_id, vehicle_id, date, start_time, end_time, status, notes, spawned_from, created_at, updated_at`

const sessionInsert = `INSERT INTO sessions (id, tenant_id, enrollment_id, student_id, trainer_id, vehicle_id, date, start_time, end_time, status, notes, spawned_from, created_at, updated_at) VALUES (:id, :tenant_id, :enrollment_id, :student_id, :trainer_id, :vehicle_id, :date, :start_time, :end_time, :status, :notes, :spawned_from, :created_at, :updated_at)`

const sessionDetailSelect = `SELECT s.id, s.tenant_id, s.enrollment_id, s.student_id, s.trainer_id, s.vehicle_id, s.date, s.start_time, s.end_time, s.status, s.notes, s.spawned_from, s.created_at, s.updated_at,
COALESCE(st.full_name, '') AS student_name, COALESCE(tr.full_name, '') AS trainer_name, COALESCE(v.name, '') AS vehicle_name, COALESCE(v.plate_number, '') AS plate_number
FROM sessions s
LEFT JOIN users st ON st.id = s.student_id AND st.tenant_id = s.tenant_id
LEFT JOIN users tr ON tr.id = s.trainer_id AND tr.tenant_id = s.tenant_id
LEFT JOIN vehicles v ON v.id = s.vehicle_id AND v.tenant_id = s.tenant_id`

func prepareSession(s *models.Session, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = models.SessionStatusPending
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

// CreateBatch inserts all sessions in a single statement.
func (r *SessionRepository) CreateBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range sessions {
		prepareSession(&sessions[i], now)
	}
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), sessionInsert, sessions); err != nil {
		return fmt.Errorf("create sessions: %w", err)
	}
	return nil
}

// Create inserts one session.
func (r *SessionRepository) Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	prepareSession(session, time.Now().UTC())
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), sessionInsert, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns the session scoped to the tenant.
func (r *SessionRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1 AND id = $2`
	return r.getOne(ctx, exec, "find session", query, tenantID, id)
}

// FindSpawnedBy returns the makeup session created when sessionID was marked absent.
func (r *SessionRepository) FindSpawnedBy(ctx context.Context, exec sqlx.ExtContext, tenantID, sessionID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1 AND spawned_from = $2`
	return r.getOne(ctx, exec, "find makeup session", query, tenantID, sessionID)
}

// FindLatestPending returns the last-dated PENDING session of an enrollment other than excludeID.
func (r *SessionRepository) FindLatestPending(ctx context.Context, exec sqlx.ExtContext, tenantID, enrollmentID, excludeID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = $1 AND enrollment_id = $2 AND id <> $3 AND status = 'PENDING' ORDER BY date DESC, start_time DESC LIMIT 1`
	return r.getOne(ctx, exec, "find latest pending session", query, tenantID, enrollmentID, excludeID)
}

func (r *SessionRepository) getOne(ctx context.Context, exec sqlx.ExtContext, op, query string, args ...interface{}) (*models.Session, error) {
	var session models.Session
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &session, nil
}

// LatestDate returns the date of the enrollment's last session.
func (r *SessionRepository) LatestDate(ctx context.Context, exec sqlx.ExtContext, tenantID, enrollmentID string) (calendar.Date, error) {
	const query = `SELECT MAX(date) FROM sessions WHERE tenant_id = $1 AND enrollment_id = $2`
	var latest sql.NullTime
	if err := sqlx.GetContext(ctx, r.exec(exec), &latest, query, tenantID, enrollmentID); err != nil {
		return calendar.Date{}, fmt.Errorf("latest session date: %w", err)
	}
	if !latest.Valid {
		return calendar.Date{}, sql.ErrNoRows
	}
	return calendar.DateOf(latest.Time), nil
}

// FindOverlapping returns the tenant's live sessions on any of dates that use
// at least one of the given resources. Window overlap is left to the caller.
func (r *SessionRepository) FindOverlapping(ctx context.Context, exec sqlx.ExtContext, tenantID string, dates []calendar.Date, trainerID, vehicleID, studentID string) ([]models.Session, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	raw := make([]string, len(dates))
	for i, d := range dates {
		raw[i] = d.String()
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions
WHERE tenant_id = $1 AND date = ANY($2::date[]) AND status <> 'CANCELLED'
AND (trainer_id = $3 OR vehicle_id = $4 OR student_id = $5)
ORDER BY date ASC, start_time ASC`
	var sessions []models.Session
	if err := sqlx.SelectContext(ctx, r.exec(exec), &sessions, query, tenantID, pq.Array(raw), trainerID, vehicleID, studentID); err != nil {
		return nil, fmt.Errorf("find overlapping sessions: %w", err)
	}
	return sessions, nil
}

// TransitionStatus is a compare-and-swap on the session status. It reports
// false when the session was not in the expected status.
func (r *SessionRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, tenantID, id string, from, to models.SessionStatus, notes *string) (bool, error) {
	const query = `UPDATE sessions SET status = $4, notes = $5, updated_at = $6 WHERE tenant_id = $1 AND id = $2 AND status = $3`
	res, err := r.exec(exec).ExecContext(ctx, query, tenantID, id, from, to, notes, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition session status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition session rows: %w", err)
	}
	return rows == 1, nil
}

// DeletePending removes a session only while it is still PENDING.
func (r *SessionRepository) DeletePending(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (bool, error) {
	const query = `DELETE FROM sessions WHERE tenant_id = $1 AND id = $2 AND status = 'PENDING'`
	res, err := r.exec(exec).ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows: %w", err)
	}
	return rows == 1, nil
}

// CancelPending cancels every PENDING session of an enrollment.
func (r *SessionRepository) CancelPending(ctx context.Context, exec sqlx.ExtContext, tenantID, enrollmentID string) (int64, error) {
	const query = `UPDATE sessions SET status = 'CANCELLED', updated_at = $3 WHERE tenant_id = $1 AND enrollment_id = $2 AND status = 'PENDING'`
	res, err := r.exec(exec).ExecContext(ctx, query, tenantID, enrollmentID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cancel pending sessions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending rows: %w", err)
	}
	return rows, nil
}

// List returns the tenant's sessions with participant names ordered by date and start time.
func (r *SessionRepository) List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.SessionDetail, error) {
	w := tenantScoped("s.tenant_id", tenantID)
	if filter.DateFrom != nil {
		w.add("s.date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		w.add("s.date <= ?", *filter.DateTo)
	}
	w.eq("s.trainer_id", filter.TrainerID)
	w.eq("s.student_id", filter.StudentID)
	w.eq("s.vehicle_id", filter.VehicleID)
	w.eq("s.enrollment_id", filter.EnrollmentID)
	w.eq("s.status", string(filter.Status))

	query := fmt.Sprintf("%s\n%s ORDER BY s.date ASC, s.start_time ASC", sessionDetailSelect, w)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var sessions []models.SessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, w.args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// PendingForMember counts the PENDING sessions on or after from in which the
// user is either the trainer or the student.
func (r *SessionRepository) PendingForMember(ctx context.Context, tenantID, userID string, from calendar.Date) (models.MemberBookings, error) {
	const query = `SELECT COUNT(*) AS pending, MIN(date) AS next_date FROM sessions WHERE tenant_id = $1 AND (trainer_id = $2 OR student_id = $2) AND status = 'PENDING' AND date >= $3`
	var out models.MemberBookings
	if err := r.db.GetContext(ctx, &out, query, tenantID, userID, from); err != nil {
		return models.MemberBookings{}, fmt.Errorf("pending sessions for member: %w", err)
	}
	return out, nil
}

var doubleBookingColumns = []struct {
	kind   models.ResourceKind
	column string
}{
	{models.ResourceTrainer, "trainer_id"},
	{models.ResourceVehicle, "vehicle_id"},
	{models.ResourceStudent, "student_id"},
}

// FindDoubleBookings returns pairs of live sessions on or after since that
// overlap on the same trainer, vehicle or student.
func (r *SessionRepository) FindDoubleBookings(ctx context.Context, tenantID string, since calendar.Date) ([]models.DoubleBooking, error) {
	parts := make([]string, 0, len(doubleBookingColumns))
	for _, res := range doubleBookingColumns {
		parts = append(parts, fmt.Sprintf(`SELECT '%[1]s' AS resource, a.%[2]s AS resource_id, a.date, a.id AS first_id, a.start_time AS first_start, a.end_time AS first_end, b.id AS second_id, b.start_time AS second_start, b.end_time AS second_end
FROM sessions a JOIN sessions b ON b.tenant_id = a.tenant_id AND b.%[2]s = a.%[2]s AND b.date = a.date AND a.id < b.id AND a.start_time < b.end_time AND b.start_time < a.end_time
WHERE a.tenant_id = $1 AND a.date >= $2 AND a.status <> 'CANCELLED' AND b.status <> 'CANCELLED'`, res.kind, res.column))
	}
	query := strings.Join(parts, "\nUNION ALL\n") + "\nORDER BY date ASC, resource ASC"

	var items []models.DoubleBooking
	if err := r.db.SelectContext(ctx, &items, query, tenantID, since); err != nil {
		return nil, fmt.Errorf("find double bookings: %w", err)
	}
	return items, nil
}
