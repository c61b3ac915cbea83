package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

type mockAuthRepo struct {
	users             map[string]*models.User
	refreshTokens     map[string]*models.RefreshToken
	createRefreshErr  error
	updatePasswordErr error
	auditLogs         []*models.AuditLog
	lastLoginUpdated  bool
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	repo := &mockAuthRepo{users: map[string]*models.User{}, refreshTokens: map[string]*models.RefreshToken{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, tenantID, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok && u.TenantID == tenantID {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, tenantID, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, tenantID, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, tenantID, userID string) error {
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	m.refreshTokens[token.TokenHash] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, tenantID, tokenHash string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[tokenHash]
	if !ok || rt.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, tenantID, id string, revokedAt time.Time) (bool, error) {
	for _, token := range m.refreshTokens {
		if token.ID == id && token.TenantID == tenantID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = &revokedAt
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAuthRepo) RevokeRefreshFamily(ctx context.Context, tenantID, familyID string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.FamilyID == familyID && token.TenantID == tenantID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) seedRefresh(id, userID, secret string) *models.RefreshToken {
	rt := &models.RefreshToken{ID: id, TenantID: "t1", UserID: userID, FamilyID: id, TokenHash: models.HashRefreshToken(secret), ExpiresAt: time.Now().Add(time.Hour)}
	m.refreshTokens[rt.TokenHash] = rt
	return rt
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func testAuthConfig() AuthConfig {
	return AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, RefreshTokenExpiry: 24 * time.Hour}
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "123", TenantID: "t1", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleCompanyAdmin})
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{TenantID: "t1", Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), res.RefreshExpiresAt, time.Minute)
	assert.Equal(t, "t1", res.User.TenantID)
	require.Len(t, repo.refreshTokens, 1)
	for hash := range repo.refreshTokens {
		assert.NotEqual(t, res.RefreshToken, hash)
	}
	assert.True(t, repo.lastLoginUpdated)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, "t1", *repo.auditLogs[0].TenantID)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{TenantID: "t1", UserID: "123", Role: models.RoleCompanyAdmin}, claims.Actor())
}

func TestAuthServiceLoginIsTenantBound(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "123", TenantID: "t1", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true})
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{TenantID: "t2", Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "123", TenantID: "t1", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: false})
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{TenantID: "t1", Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshToken(t *testing.T) {
	user := &models.User{ID: "u1", TenantID: "t1", Email: "user@example.com", PasswordHash: "hash", Active: true, Role: models.RoleTrainer}
	repo := newMockAuthRepo(user)
	seeded := repo.seedRefresh("rt1", user.ID, "token")
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{TenantID: "t1", RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, seeded.Revoked)

	rotated := repo.refreshTokens[models.HashRefreshToken(res.RefreshToken)]
	require.NotNil(t, rotated)
	assert.Equal(t, "rt1", rotated.FamilyID)
	assert.False(t, rotated.Revoked)
}

func TestAuthServiceRefreshReuseRevokesFamily(t *testing.T) {
	user := &models.User{ID: "u1", TenantID: "t1", Active: true, Role: models.RoleStudent}
	repo := newMockAuthRepo(user)
	repo.seedRefresh("rt1", user.ID, "token")
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())
	ctx := context.Background()

	res, err := svc.RefreshToken(ctx, models.RefreshTokenRequest{TenantID: "t1", RefreshToken: "token"})
	require.NoError(t, err)

	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{TenantID: "t1", RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
	assert.True(t, repo.refreshTokens[models.HashRefreshToken(res.RefreshToken)].Revoked)
	assert.Equal(t, models.AuditActionRefreshReuse, repo.auditLogs[len(repo.auditLogs)-1].Action)

	_, err = svc.RefreshToken(ctx, models.RefreshTokenRequest{TenantID: "t1", RefreshToken: res.RefreshToken})
	require.Error(t, err)
}

func TestAuthServiceRefreshExpired(t *testing.T) {
	repo := newMockAuthRepo(&models.User{ID: "u1", TenantID: "t1", Active: true})
	repo.seedRefresh("rt1", "u1", "token").ExpiresAt = time.Now().Add(-time.Minute)
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{TenantID: "t1", RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, "refresh token expired", appErrors.FromError(err).Message)
}

func TestAuthServiceLogoutRejectsForeignToken(t *testing.T) {
	repo := newMockAuthRepo()
	seeded := repo.seedRefresh("rt1", "someone-else", "token")
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	err := svc.Logout(context.Background(), models.Actor{TenantID: "t1", UserID: "u1", Role: models.RoleTrainer}, "token", "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, seeded.Revoked)
}

func TestAuthServiceLogoutIsIdempotent(t *testing.T) {
	repo := newMockAuthRepo()
	seeded := repo.seedRefresh("rt1", "u1", "token")
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())
	actor := models.Actor{TenantID: "t1", UserID: "u1", Role: models.RoleStudent}

	require.NoError(t, svc.Logout(context.Background(), actor, "token", "", ""))
	require.NoError(t, svc.Logout(context.Background(), actor, "token", "", ""))
	assert.True(t, seeded.Revoked)
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := hashed(t, "old")
	repo := newMockAuthRepo(&models.User{ID: "u1", TenantID: "t1", PasswordHash: oldHash, Active: true})
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	err := svc.ChangePassword(context.Background(), models.Actor{TenantID: "t1", UserID: "u1"}, models.ChangePasswordRequest{OldPassword: "old", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.users["u1"].PasswordHash)
}

func TestValidateTokenRequiresTenant(t *testing.T) {
	svc := NewAuthService(newMockAuthRepo(), validator.New(), zap.NewNop(), testAuthConfig())
	token, _, err := svc.generateAccessToken(&models.User{ID: "u1", Email: "user@example.com", Role: models.RoleTrainer})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenChecksIssuer(t *testing.T) {
	cfg := testAuthConfig()
	cfg.Issuer = "drive-school"
	issuer := NewAuthService(newMockAuthRepo(), validator.New(), zap.NewNop(), cfg)
	token, _, err := issuer.generateAccessToken(&models.User{ID: "u1", TenantID: "t1", Role: models.RoleTrainer})
	require.NoError(t, err)

	_, err = issuer.ValidateToken(token)
	require.NoError(t, err)

	cfg.Issuer = "someone-else"
	other := NewAuthService(newMockAuthRepo(), validator.New(), zap.NewNop(), cfg)
	_, err = other.ValidateToken(token)
	require.Error(t, err)
}
