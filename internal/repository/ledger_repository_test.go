package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

func TestTenantCounts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE tenant_id = $1 AND role = 'STUDENT'")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"students", "trainers", "active_vehicles", "active_enrollments"}).AddRow(12, 3, 4, 7))

	counts, err := repo.TenantCounts(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TenantCounts{Students: 12, Trainers: 3, ActiveVehicles: 4, ActiveEnrollments: 7}, *counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountTrainerPresent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	from := calendar.MustParseDate("2024-01-01")
	to := calendar.MustParseDate("2024-01-31")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $1 AND trainer_id = $2 AND status = 'PRESENT' AND date BETWEEN $3 AND $4")).
		WithArgs("t1", "tr1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))

	count, err := repo.CountTrainerPresent(context.Background(), "t1", "tr1", from, to)
	require.NoError(t, err)
	assert.Equal(t, 9, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentsListByEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "enrollment_id", "amount", "method", "status", "paid_on", "notes", "recorded_by", "created_at"}).
		AddRow("p1", "t1", "e1", "250000.50", "CASH", "PAID", "2024-01-05", nil, "admin", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE tenant_id = $1 AND enrollment_id = $2")).
		WithArgs("t1", "e1").
		WillReturnRows(rows)

	payments, err := repo.ListByEnrollment(context.Background(), "t1", "e1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, decimal.RequireFromString("250000.5").Equal(payments[0].Amount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVehicleListFiltersActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVehicleRepository(db)

	active := true
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "name", "plate_number", "active", "created_at", "updated_at"}).
		AddRow("v1", "t1", "Swift", "B 1", true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM vehicles WHERE tenant_id = $1 AND active = $2 ORDER BY name ASC")).
		WithArgs("t1", true).
		WillReturnRows(rows)

	vehicles, err := repo.List(context.Background(), "t1", models.VehicleFilter{Active: &active})
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
