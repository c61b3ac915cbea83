package service

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drive-school-api/internal/repository"
	"github.com/noah-isme/drive-school-api/pkg/database"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

func newSQLEnrollmentService(t *testing.T) (*EnrollmentService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	sessions := repository.NewSessionRepository(sqlxDB)
	svc := NewEnrollmentService(EnrollmentServiceParams{
		Enrollments: repository.NewEnrollmentRepository(sqlxDB),
		Sessions:    sessions,
		Users:       testMembers(),
		Vehicles:    testVehicles(),
		Detector:    NewConflictDetector(sessions),
		Tx:          database.NewTxRunner(sqlxDB, database.TxRunnerConfig{MaxRetries: 0}),
	})
	return svc, mock, func() { _ = db.Close() }
}

func TestEnrollmentCreateRollsBackWhenSessionInsertFails(t *testing.T) {
	svc, mock, cleanup := newSQLEnrollmentService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), adminActor,
		enrollmentRequest("trainer-1", "student-1", "car-1", "2024-01-05", "09:00", "09:30", 3))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentCreateConflictInsertsNothing(t *testing.T) {
	svc, mock, cleanup := newSQLEnrollmentService(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "enrollment_id", "student_id", "trainer_id", "vehicle_id", "date", "start_time", "end_time", "status", "notes", "spawned_from", "created_at", "updated_at"}).
			AddRow("s-old", testTenant, "e-old", "student-9", "trainer-1", "car-9", "2024-01-06", "09:00:00", "09:30:00", "PENDING", nil, nil, now, now))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), adminActor,
		enrollmentRequest("trainer-1", "student-1", "car-1", "2024-01-05", "09:15", "09:45", 3))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Contains(t, err.Error(), "trainer trainer-1 is already booked on 2024-01-06 at 09:00-09:30")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentCreateCommitsEverything(t *testing.T) {
	svc, mock, cleanup := newSQLEnrollmentService(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	enrollment, err := svc.Create(context.Background(), adminActor,
		enrollmentRequest("trainer-1", "student-1", "car-1", "2024-01-05", "09:00", "09:30", 3))
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
