package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/events"
)

type enrollmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error)
	FindDetail(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error)
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, tenantID, id string, from, to models.EnrollmentStatus) (bool, error)
	List(ctx context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type enrollmentSessionWriter interface {
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.Session) error
	CancelPending(ctx context.Context, exec sqlx.ExtContext, tenantID, enrollmentID string) (int64, error)
}

type memberLookup interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.User, error)
}

type vehicleLookup interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.Vehicle, error)
}

// EnrollmentServiceParams groups constructor dependencies.
type EnrollmentServiceParams struct {
	Enrollments enrollmentStore
	Sessions    enrollmentSessionWriter
	Users       memberLookup
	Vehicles    vehicleLookup
	Detector    *ConflictDetector
	Tx          txRunner
	Cache       viewCache
	Publisher   events.Publisher
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// EnrollmentService books lesson plans and manages their lifecycle.
type EnrollmentService struct {
	enrollments enrollmentStore
	sessions    enrollmentSessionWriter
	users       memberLookup
	vehicles    vehicleLookup
	detector    *ConflictDetector
	tx          txRunner
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	after       afterCommit
}

// NewEnrollmentService constructs the service.
func NewEnrollmentService(params EnrollmentServiceParams) *EnrollmentService {
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	registerClockValidation(validate)
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := params.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &EnrollmentService{
		enrollments: params.Enrollments,
		sessions:    params.Sessions,
		users:       params.Users,
		vehicles:    params.Vehicles,
		detector:    params.Detector,
		tx:          params.Tx,
		metrics:     params.Metrics,
		validator:   validate,
		logger:      logger,
		after:       afterCommit{cache: params.Cache, publisher: publisher, logger: logger},
	}
}

func registerClockValidation(validate *validator.Validate) {
	_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseClock(fl.Field().String())
		return err == nil
	})
}

type enrollmentPlan struct {
	window      calendar.Window
	start       calendar.Date
	skipSundays bool
	dates       []calendar.Date
}

// Create validates the request, lays out the calendar and inserts the
// enrollment with all of its sessions in one serializable transaction.
func (s *EnrollmentService) Create(ctx context.Context, actor models.Actor, req dto.CreateEnrollmentRequest) (*models.Enrollment, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only company admins can create enrollments")
	}
	plan, err := s.plan(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkMembers(ctx, actor.TenantID, req); err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		TenantID:    actor.TenantID,
		StudentID:   req.StudentID,
		TrainerID:   req.TrainerID,
		VehicleID:   req.VehicleID,
		PlanDays:    req.PlanDays,
		StartDate:   plan.start,
		StartTime:   plan.window.Start,
		EndTime:     plan.window.End,
		SkipSundays: plan.skipSundays,
		TotalPrice:  *req.TotalPrice,
		Status:      models.EnrollmentStatusActive,
		CreatedBy:   actor.UserID,
	}

	err = s.tx.Serializable(ctx, "create_enrollment", func(tx *sqlx.Tx) error {
		conflict, err := s.detector.FindConflict(ctx, tx, Booking{
			TenantID:  actor.TenantID,
			Dates:     plan.dates,
			Window:    plan.window,
			TrainerID: req.TrainerID,
			VehicleID: req.VehicleID,
			StudentID: req.StudentID,
		})
		if err != nil {
			return err
		}
		if conflict != nil {
			s.metrics.ObserveConflict(conflict.Resource)
			return conflictError(*conflict)
		}

		row := *enrollment
		row.ID = ""
		if err := s.enrollments.Create(ctx, tx, &row); err != nil {
			return err
		}
		sessions := make([]models.Session, len(plan.dates))
		for i, date := range plan.dates {
			sessions[i] = models.Session{
				TenantID:     row.TenantID,
				EnrollmentID: row.ID,
				StudentID:    row.StudentID,
				TrainerID:    row.TrainerID,
				VehicleID:    row.VehicleID,
				Date:         date,
				StartTime:    row.StartTime,
				EndTime:      row.EndTime,
				Status:       models.SessionStatusPending,
			}
		}
		if err := s.sessions.CreateBatch(ctx, tx, sessions); err != nil {
			return err
		}
		*enrollment = row
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to create enrollment")
	}

	s.logger.Info("enrollment created",
		zap.String("tenant_id", actor.TenantID),
		zap.String("enrollment_id", enrollment.ID),
		zap.Int("plan_days", enrollment.PlanDays))
	s.after.run(ctx, actor.TenantID, enrollment.ID, events.New(events.EnrollmentCreated, actor.TenantID, actor.UserID, map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"trainer_id":    enrollment.TrainerID,
		"student_id":    enrollment.StudentID,
		"vehicle_id":    enrollment.VehicleID,
		"first_date":    plan.dates[0].String(),
		"last_date":     plan.dates[len(plan.dates)-1].String(),
	}))
	return enrollment, nil
}

func (s *EnrollmentService) plan(req dto.CreateEnrollmentRequest) (*enrollmentPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	start, err := calendar.ParseDate(req.StartDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "startDate must be YYYY-MM-DD")
	}
	startTime, _ := calendar.ParseClock(req.StartTime)
	endTime, _ := calendar.ParseClock(req.EndTime)
	window, err := calendar.NewWindow(startTime, endTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "startTime must be before endTime")
	}
	if req.TotalPrice == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "totalPrice is required")
	}
	if req.TotalPrice.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "totalPrice must not be negative")
	}
	skipSundays := true
	if req.SkipSundays != nil {
		skipSundays = *req.SkipSundays
	}
	dates, err := calendar.GenerateDates(start, req.PlanDays, skipSundays)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return &enrollmentPlan{window: window, start: start, skipSundays: skipSundays, dates: dates}, nil
}

func (s *EnrollmentService) checkMembers(ctx context.Context, tenantID string, req dto.CreateEnrollmentRequest) error {
	if err := s.checkMember(ctx, tenantID, req.TrainerID, models.RoleTrainer, "trainerId"); err != nil {
		return err
	}
	if err := s.checkMember(ctx, tenantID, req.StudentID, models.RoleStudent, "studentId"); err != nil {
		return err
	}
	vehicle, err := s.vehicles.FindByID(ctx, tenantID, req.VehicleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "vehicleId does not reference a vehicle of this company")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vehicle")
	}
	if !vehicle.Active {
		return appErrors.Clone(appErrors.ErrValidation, "vehicleId references an inactive vehicle")
	}
	return nil
}

func (s *EnrollmentService) checkMember(ctx context.Context, tenantID, userID string, role models.UserRole, field string) error {
	user, err := s.users.FindByID(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s does not reference a user of this company", field))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Role != role || !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must reference an active %s", field, role))
	}
	return nil
}

// Get returns one enrollment visible to the actor.
func (s *EnrollmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.enrollments.FindDetail(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !detail.VisibleTo(actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return detail, nil
}

// List returns enrollments of the tenant. Trainers and students only see their own.
func (s *EnrollmentService) List(ctx context.Context, actor models.Actor, query dto.ListEnrollmentsQuery) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment filter")
	}
	filter := models.EnrollmentFilter{
		Status:    models.EnrollmentStatus(query.Status),
		TrainerID: query.TrainerID,
		StudentID: query.StudentID,
		VehicleID: query.VehicleID,
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	switch actor.Role {
	case models.RoleTrainer:
		filter.TrainerID = actor.UserID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	items, total, err := s.enrollments.List(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Cancel moves an ACTIVE enrollment to CANCELLED and releases its PENDING sessions.
func (s *EnrollmentService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only company admins can cancel enrollments")
	}
	var (
		cancelled *models.Enrollment
		released  int64
	)
	err := s.tx.ReadCommitted(ctx, "cancel_enrollment", func(tx *sqlx.Tx) error {
		current, err := s.enrollments.FindByID(ctx, tx, actor.TenantID, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return err
		}
		ok, err := s.enrollments.TransitionStatus(ctx, tx, actor.TenantID, id, models.EnrollmentStatusActive, models.EnrollmentStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("enrollment is %s, only ACTIVE enrollments can be cancelled", current.Status))
		}
		released, err = s.sessions.CancelPending(ctx, tx, actor.TenantID, id)
		if err != nil {
			return err
		}
		current.Status = models.EnrollmentStatusCancelled
		current.UpdatedAt = time.Now().UTC()
		cancelled = current
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to cancel enrollment")
	}

	s.logger.Info("enrollment cancelled",
		zap.String("tenant_id", actor.TenantID),
		zap.String("enrollment_id", id),
		zap.Int64("released_sessions", released))
	s.after.run(ctx, actor.TenantID, id, events.New(events.EnrollmentCancelled, actor.TenantID, actor.UserID, map[string]interface{}{
		"enrollment_id":     id,
		"released_sessions": released,
	}))
	return cancelled, nil
}
