package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	"github.com/noah-isme/drive-school-api/pkg/database"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, tenantID string, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, tenantID, id string) (*models.User, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, tenantID, id string) error
	RevokeUserRefreshTokens(ctx context.Context, tenantID, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type memberSessions interface {
	PendingForMember(ctx context.Context, tenantID, userID string, from calendar.Date) (models.MemberBookings, error)
}

// UserService manages the trainers, students and admins of a tenant.
type UserService struct {
	repo      userRepository
	sessions  memberSessions
	cache     viewCache
	validator *validator.Validate
	logger    *zap.Logger
	location  *time.Location
	now       func() time.Time
}

// NewUserService creates an instance of UserService. sessions may be nil, in
// which case members are retired without checking their bookings.
func NewUserService(repo userRepository, sessions memberSessions, cache viewCache, validate *validator.Validate, logger *zap.Logger, location *time.Location) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if location == nil {
		location = time.UTC
	}
	return &UserService{
		repo:      repo,
		sessions:  sessions,
		cache:     cache,
		validator: validate,
		logger:    logger,
		location:  location,
		now:       time.Now,
	}
}

// List returns a page of members and pagination metadata.
func (s *UserService) List(ctx context.Context, actor models.Actor, query dto.ListUsersQuery) ([]models.User, *models.Pagination, error) {
	if !actor.IsAdmin() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can list members")
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user filter")
	}

	filter := models.UserFilter{
		Active:    query.Active,
		Search:    strings.TrimSpace(query.Search),
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	if query.Role != "" {
		role := models.UserRole(query.Role)
		filter.Role = &role
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	users, total, err := s.repo.List(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	if users == nil {
		users = []models.User{}
	}
	return users, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a member by ID. Non-admins may only read themselves.
func (s *UserService) Get(ctx context.Context, actor models.Actor, id string) (*models.User, error) {
	if !actor.IsAdmin() && actor.UserID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return s.load(ctx, actor.TenantID, id)
}

// Create adds a member to the actor's tenant.
func (s *UserService) Create(ctx context.Context, actor models.Actor, req dto.CreateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can add members")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	if _, err := s.repo.FindByEmail(ctx, actor.TenantID, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		TenantID:     actor.TenantID,
		Email:        req.Email,
		FullName:     req.FullName,
		Role:         models.UserRole(req.Role),
		Active:       req.Active == nil || *req.Active,
		PasswordHash: string(passwordHash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	s.audit(ctx, actor, models.AuditActionUserCreate, user.ID, nil, newPayload, meta)
	afterCommit{cache: s.cache, logger: s.logger}.run(ctx, actor.TenantID, "")
	s.logger.Info("member created", zap.String("tenant_id", actor.TenantID), zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Update modifies member attributes.
func (s *UserService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can update members")
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		req.FullName = &name
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.load(ctx, actor.TenantID, id)
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "super admin accounts cannot be modified here")
	}
	if id == actor.UserID && ((req.Active != nil && !*req.Active) || (req.Role != nil && models.UserRole(*req.Role) != user.Role)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "admins cannot deactivate or demote themselves")
	}

	deactivating := req.Active != nil && !*req.Active && user.Active
	changingRole := req.Role != nil && models.UserRole(*req.Role) != user.Role
	if deactivating || changingRole {
		if err := s.ensureUnbooked(ctx, user); err != nil {
			return nil, err
		}
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active})

	if req.FullName != nil {
		if *req.FullName == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "fullName cannot be empty")
		}
		user.FullName = *req.FullName
	}
	if req.Role != nil {
		user.Role = models.UserRole(*req.Role)
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	if !user.Active {
		if err := s.repo.RevokeUserRefreshTokens(ctx, actor.TenantID, user.ID); err != nil {
			s.logger.Warn("failed to revoke refresh tokens of deactivated member", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active})
	s.audit(ctx, actor, models.AuditActionUserUpdate, user.ID, oldPayload, newPayload, meta)
	afterCommit{cache: s.cache, logger: s.logger}.run(ctx, actor.TenantID, "")
	return user, nil
}

// Delete deactivates a member and revokes their refresh tokens. Their sessions
// and enrollments are kept for the ledger.
func (s *UserService) Delete(ctx context.Context, actor models.Actor, id string, meta models.RequestMeta) error {
	if !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can remove members")
	}
	if id == actor.UserID {
		return appErrors.Clone(appErrors.ErrValidation, "admins cannot remove themselves")
	}

	user, err := s.load(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if user.Role == models.RoleSuperAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "super admin accounts cannot be modified here")
	}
	if err := s.ensureUnbooked(ctx, user); err != nil {
		return err
	}

	if err := s.repo.Deactivate(ctx, actor.TenantID, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, actor.TenantID, id); err != nil {
		s.logger.Warn("failed to revoke refresh tokens of removed member", zap.String("user_id", id), zap.Error(err))
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"active": user.Active})
	newPayload, _ := json.Marshal(map[string]interface{}{"active": false})
	s.audit(ctx, actor, models.AuditActionUserDelete, id, oldPayload, newPayload, meta)
	afterCommit{cache: s.cache, logger: s.logger}.run(ctx, actor.TenantID, "")
	return nil
}

// ensureUnbooked refuses to retire a trainer or student who still has PENDING
// lessons from today on. Those have to be cancelled or rebooked first.
func (s *UserService) ensureUnbooked(ctx context.Context, user *models.User) error {
	if s.sessions == nil || (user.Role != models.RoleTrainer && user.Role != models.RoleStudent) {
		return nil
	}
	today := calendar.DateOf(s.now().In(s.location))
	bookings, err := s.sessions.PendingForMember(ctx, user.TenantID, user.ID, today)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check member sessions")
	}
	if bookings.Pending == 0 {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrMemberHasBookings, bookings)
}

func (s *UserService) load(ctx context.Context, tenantID, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *UserService) audit(ctx context.Context, actor models.Actor, action, resourceID string, oldValues, newValues []byte, meta models.RequestMeta) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		TenantID:   &actor.TenantID,
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
