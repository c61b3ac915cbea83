package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

type memoryUsers struct {
	users      map[string]*models.User
	revoked    []string
	auditLogs  []*models.AuditLog
	lastFilter models.UserFilter
	seq        int
}

func newMemoryUsers(users ...models.User) *memoryUsers {
	m := &memoryUsers{users: map[string]*models.User{}}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memoryUsers) List(_ context.Context, tenantID string, filter models.UserFilter) ([]models.User, int, error) {
	m.lastFilter = filter
	var out []models.User
	for _, u := range m.users {
		if u.TenantID != tenantID {
			continue
		}
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *memoryUsers) FindByID(_ context.Context, tenantID, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, tenantID, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUsers) Create(_ context.Context, user *models.User) error {
	m.seq++
	user.ID = "member-" + string(rune('0'+m.seq))
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *memoryUsers) Update(_ context.Context, user *models.User) error {
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *memoryUsers) Deactivate(_ context.Context, tenantID, id string) error {
	if u, ok := m.users[id]; ok && u.TenantID == tenantID {
		u.Active = false
	}
	return nil
}

func (m *memoryUsers) RevokeUserRefreshTokens(_ context.Context, _ string, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *memoryUsers) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func memberFixtures() *memoryUsers {
	return newMemoryUsers(
		models.User{ID: "admin-1", TenantID: testTenant, Email: "admin@acme.test", FullName: "Admin", Role: models.RoleCompanyAdmin, Active: true},
		models.User{ID: "trainer-1", TenantID: testTenant, Email: "budi@acme.test", FullName: "Budi", Role: models.RoleTrainer, Active: true},
		models.User{ID: "student-1", TenantID: testTenant, Email: "sari@acme.test", FullName: "Sari", Role: models.RoleStudent, Active: true},
		models.User{ID: "root", TenantID: testTenant, Email: "root@acme.test", FullName: "Root", Role: models.RoleSuperAdmin, Active: true},
		models.User{ID: "elsewhere", TenantID: "tenant-2", Email: "x@other.test", FullName: "X", Role: models.RoleTrainer, Active: true},
	)
}

func TestUserServiceCreateHashesPasswordAndAudits(t *testing.T) {
	repo := memberFixtures()
	cache := newRecordingCache()
	svc := NewUserService(repo, nil, cache, nil, zap.NewNop(), nil)

	user, err := svc.Create(context.Background(), adminActor, dto.CreateUserRequest{
		Email:    "  New.Trainer@Acme.test ",
		FullName: " New Trainer  ",
		Role:     "TRAINER",
		Password: "secret-pass",
	}, models.RequestMeta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	assert.Equal(t, "new.trainer@acme.test", user.Email)
	assert.Equal(t, "New Trainer", user.FullName)
	assert.Equal(t, testTenant, user.TenantID)
	assert.True(t, user.Active)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret-pass")))

	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
	assert.Equal(t, "10.0.0.1", repo.auditLogs[0].IPAddress)
	assert.Contains(t, cache.invalidated, dashboardCachePattern(testTenant))
}

func TestUserServiceCreateRejectsDuplicateEmailAndBadRole(t *testing.T) {
	svc := NewUserService(memberFixtures(), nil, nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), adminActor, dto.CreateUserRequest{
		Email: "budi@acme.test", FullName: "Budi Again", Role: "TRAINER", Password: "secret-pass",
	}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	_, err = svc.Create(context.Background(), adminActor, dto.CreateUserRequest{
		Email: "boss@acme.test", FullName: "Boss", Role: "SUPER_ADMIN", Password: "secret-pass",
	}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), trainerActor, dto.CreateUserRequest{
		Email: "s2@acme.test", FullName: "S2", Role: "STUDENT", Password: "secret-pass",
	}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestUserServiceNormalizesBeforeValidating(t *testing.T) {
	repo := memberFixtures()
	svc := NewUserService(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, adminActor, dto.CreateUserRequest{
		Email: " BUDI@Acme.test", FullName: "Budi Again", Role: "TRAINER", Password: "secret-pass",
	}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	_, err = svc.Create(ctx, adminActor, dto.CreateUserRequest{
		Email: "blank@acme.test", FullName: "   ", Role: "TRAINER", Password: "secret-pass",
	}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	blank := "  "
	_, err = svc.Update(ctx, adminActor, "trainer-1", dto.UpdateUserRequest{FullName: &blank}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	padded := "  Budi S.  "
	user, err := svc.Update(ctx, adminActor, "trainer-1", dto.UpdateUserRequest{FullName: &padded}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Budi S.", user.FullName)
}

func TestUserServiceSameEmailAllowedInAnotherTenant(t *testing.T) {
	svc := NewUserService(memberFixtures(), nil, nil, nil, nil, nil)
	other := models.Actor{TenantID: "tenant-2", UserID: "admin-2", Role: models.RoleCompanyAdmin}

	_, err := svc.Create(context.Background(), other, dto.CreateUserRequest{
		Email: "budi@acme.test", FullName: "Budi", Role: "TRAINER", Password: "secret-pass",
	}, models.RequestMeta{})
	assert.NoError(t, err)
}

func TestUserServiceListScopesTenantAndRole(t *testing.T) {
	repo := memberFixtures()
	svc := NewUserService(repo, nil, nil, nil, nil, nil)

	users, pagination, err := svc.List(context.Background(), adminActor, dto.ListUsersQuery{Role: "TRAINER", Search: "  bu "})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "trainer-1", users[0].ID)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, "bu", repo.lastFilter.Search)

	_, _, err = svc.List(context.Background(), studentActor, dto.ListUsersQuery{})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestUserServiceGetHidesOtherTenantsAndOtherMembers(t *testing.T) {
	svc := NewUserService(memberFixtures(), nil, nil, nil, nil, nil)

	_, err := svc.Get(context.Background(), adminActor, "elsewhere")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	self, err := svc.Get(context.Background(), trainerActor, "trainer-1")
	require.NoError(t, err)
	assert.Equal(t, "Budi", self.FullName)

	_, err = svc.Get(context.Background(), trainerActor, "student-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestUserServiceUpdateAndDeactivate(t *testing.T) {
	repo := memberFixtures()
	svc := NewUserService(repo, nil, nil, nil, nil, nil)

	name := "Budi Santoso"
	inactive := false
	user, err := svc.Update(context.Background(), adminActor, "trainer-1", dto.UpdateUserRequest{FullName: &name, Active: &inactive}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Budi Santoso", user.FullName)
	assert.False(t, user.Active)
	assert.Equal(t, []string{"trainer-1"}, repo.revoked)
	require.Len(t, repo.auditLogs, 1)
	assert.JSONEq(t, `{"full_name":"Budi","role":"TRAINER","active":true}`, string(repo.auditLogs[0].OldValues))

	require.NoError(t, svc.Delete(context.Background(), adminActor, "student-1", models.RequestMeta{}))
	assert.False(t, repo.users["student-1"].Active)
	assert.Equal(t, models.AuditActionUserDelete, repo.auditLogs[1].Action)
}

func TestUserServiceGuardsSelfAndSuperAdmin(t *testing.T) {
	svc := NewUserService(memberFixtures(), nil, nil, nil, nil, nil)
	ctx := context.Background()

	inactive := false
	_, err := svc.Update(ctx, adminActor, "admin-1", dto.UpdateUserRequest{Active: &inactive}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	assert.True(t, appErrors.Is(svc.Delete(ctx, adminActor, "admin-1", models.RequestMeta{}), appErrors.ErrValidation))
	assert.True(t, appErrors.Is(svc.Delete(ctx, adminActor, "root", models.RequestMeta{}), appErrors.ErrForbidden))
	assert.True(t, appErrors.Is(svc.Delete(ctx, adminActor, "missing", models.RequestMeta{}), appErrors.ErrNotFound))
}

type bookedMembers map[string]models.MemberBookings

func (b bookedMembers) PendingForMember(_ context.Context, _ string, userID string, _ calendar.Date) (models.MemberBookings, error) {
	return b[userID], nil
}

func TestUserServiceRefusesToRetireBookedMembers(t *testing.T) {
	repo := memberFixtures()
	next := calendar.MustParseDate("2024-03-04")
	svc := NewUserService(repo, bookedMembers{"trainer-1": {Pending: 3, NextDate: &next}}, nil, nil, nil, nil)
	ctx := context.Background()

	err := svc.Delete(ctx, adminActor, "trainer-1", models.RequestMeta{})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "MEMBER_HAS_BOOKINGS", appErr.Code)
	assert.Equal(t, models.MemberBookings{Pending: 3, NextDate: &next}, appErr.Details)
	assert.True(t, repo.users["trainer-1"].Active)

	inactive := false
	_, err = svc.Update(ctx, adminActor, "trainer-1", dto.UpdateUserRequest{Active: &inactive}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrMemberHasBookings))

	role := "COMPANY_ADMIN"
	_, err = svc.Update(ctx, adminActor, "trainer-1", dto.UpdateUserRequest{Role: &role}, models.RequestMeta{})
	assert.True(t, appErrors.Is(err, appErrors.ErrMemberHasBookings))

	name := "Budi S."
	_, err = svc.Update(ctx, adminActor, "trainer-1", dto.UpdateUserRequest{FullName: &name}, models.RequestMeta{})
	assert.NoError(t, err)

	assert.NoError(t, svc.Delete(ctx, adminActor, "student-1", models.RequestMeta{}))
	assert.Equal(t, []string{"student-1"}, repo.revoked)
}
