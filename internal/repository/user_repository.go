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

	"github.com/noah-isme/drive-school-api/internal/models"
)

// UserRepository provides database access for tenant users and their auth records.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, tenant_id, email, password_hash, full_name, role, active, last_login, created_at, updated_at`

// FindByEmail returns a user of the tenant by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND email = $2 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, tenantID, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user of the tenant by identifier.
func (r *UserRepository) FindByID(ctx context.Context, tenantID, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND id = $2 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

var userOrdering = ordering{
	columns: map[string]string{
		"email":      "email",
		"created_at": "created_at",
		"full_name":  "full_name",
		"role":       "role",
	},
	defaultKey:   "full_name",
	defaultOrder: "ASC",
	tiebreak:     "id ASC",
}

// List returns a page of the tenant's users with the total match count.
func (r *UserRepository) List(ctx context.Context, tenantID string, filter models.UserFilter) ([]models.User, int, error) {
	w := tenantScoped("tenant_id", tenantID)
	if filter.Role != nil {
		w.add("role = ?", *filter.Role)
	}
	if filter.Active != nil {
		w.add("active = ?", *filter.Active)
	}
	w.contains(filter.Search, "email", "full_name")

	query := strings.Join([]string{
		"SELECT " + userColumns + " FROM users", w.String(),
		userOrdering.clause(filter.SortBy, filter.SortOrder),
		pageClause(filter.Page, filter.PageSize),
	}, " ")
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users "+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// Create inserts a new tenant user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, tenant_id, email, password_hash, full_name, role, active, created_at, updated_at) VALUES (:id, :tenant_id, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update writes the mutable member fields.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET full_name = :full_name, role = :role, active = :active, updated_at = :updated_at WHERE tenant_id = :tenant_id AND id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// Deactivate soft deletes a user by marking it inactive.
func (r *UserRepository) Deactivate(ctx context.Context, tenantID, id string) error {
	const query = `UPDATE users SET active = FALSE, updated_at = $3 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, tenantID, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $3, updated_at = $3 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, tenantID, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.FamilyID == "" {
		token.FamilyID = token.ID
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, tenant_id, user_id, family_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :tenant_id, :user_id, :family_id, :token_hash, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token of the tenant by its hash.
func (r *UserRepository) FindRefreshToken(ctx context.Context, tenantID, tokenHash string) (*models.RefreshToken, error) {
	const query = `SELECT id, tenant_id, user_id, family_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE tenant_id = $1 AND token_hash = $2 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tenantID, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a live token as revoked and reports whether this
// call revoked it. Two concurrent rotations of one token see one winner.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, tenantID, id string, revokedAt time.Time) (bool, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3 WHERE tenant_id = $1 AND id = $2 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, tenantID, id, revokedAt)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return affected == 1, nil
}

// RevokeRefreshFamily revokes every live token rotated from one login.
func (r *UserRepository) RevokeRefreshFamily(ctx context.Context, tenantID, familyID string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3 WHERE tenant_id = $1 AND family_id = $2 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, tenantID, familyID, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh family: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all live refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, tenantID, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3 WHERE tenant_id = $1 AND user_id = $2 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, tenantID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, tenant_id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :tenant_id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
