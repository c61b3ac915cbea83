package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/drive-school-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "tenant_id", "email", "password_hash", "full_name", "role", "active", "last_login", "created_at", "updated_at"}

func TestFindByEmailScopesTenant(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "t1", "user@example.com", "hash", "User", string(models.RoleCompanyAdmin), true, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE tenant_id = $1 AND email = $2 LIMIT 1")).
		WithArgs("t1", "user@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "t1", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, "t1", user.TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDReturnsNoRowsUnwrapped(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE tenant_id = $1 AND id = $2")).
		WithArgs("t2", "u1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "t2", "u1")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{ID: "1", TenantID: "t1", UserID: "u1", TokenHash: models.HashRefreshToken("token"), ExpiresAt: time.Now(), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeUserRefreshTokensScopesTenant(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3 WHERE tenant_id = $1 AND user_id = $2 AND revoked = FALSE")).
		WithArgs("t1", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.RevokeUserRefreshTokens(context.Background(), "t1", "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeRefreshTokenReportsWinner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	stmt := regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3 WHERE tenant_id = $1 AND id = $2 AND revoked = FALSE")
	mock.ExpectExec(stmt).WithArgs("t1", "rt1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).WithArgs("t1", "rt1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.RevokeRefreshToken(context.Background(), "t1", "rt1", time.Now())
	require.NoError(t, err)
	assert.True(t, won)
	won, err = repo.RevokeRefreshToken(context.Background(), "t1", "rt1", time.Now())
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantFindBySlug(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTenantRepository(db)

	rows := sqlmock.NewRows([]string{"id", "slug", "name", "active", "created_at"}).
		AddRow("t1", "acme", "Acme Driving", true, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants WHERE slug = $1")).WithArgs("acme").WillReturnRows(rows)

	tenant, err := repo.FindBySlug(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", tenant.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersAppliesTenantAndFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	role := models.RoleTrainer
	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "t1", "budi@example.com", "hash", "Budi", string(models.RoleTrainer), true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE tenant_id = $1 AND role = $2 AND (LOWER(email) LIKE $3 OR LOWER(full_name) LIKE $3) ORDER BY full_name ASC, id ASC LIMIT 10 OFFSET 10")).
		WithArgs("t1", role, "%bud%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND role = $2")).
		WithArgs("t1", role, "%bud%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	users, total, err := repo.List(context.Background(), "t1", models.UserFilter{Role: &role, Search: "Bud", Page: 2, PageSize: 10, SortBy: "password_hash"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateScopesTenant(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET active = FALSE, updated_at = $3 WHERE tenant_id = $1 AND id = $2")).
		WithArgs("t1", "u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "t1", "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
