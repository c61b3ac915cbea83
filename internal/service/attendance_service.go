package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/events"
)

const defaultMakeupSearchDays = 60

type attendanceSessionStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Session, error)
	FindSpawnedBy(ctx context.Context, exec sqlx.ExtContext, tenantID, sessionID string) (*models.Session, error)
	FindLatestPending(ctx context.Context, exec sqlx.ExtContext, tenantID, enrollmentID, excludeID string) (*models.Session, error)
	LatestDate(ctx context.Context, exec sqlx.ExtContext, tenantID, enrollmentID string) (calendar.Date, error)
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, tenantID, id string, from, to models.SessionStatus, notes *string) (bool, error)
	DeletePending(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (bool, error)
}

type attendanceEnrollmentStore interface {
	LockByID(ctx context.Context, tx sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error)
	IncrementCompleted(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error)
	DecrementCompleted(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error)
}

// AttendanceServiceParams groups constructor dependencies.
type AttendanceServiceParams struct {
	Sessions         attendanceSessionStore
	Enrollments      attendanceEnrollmentStore
	Detector         *ConflictDetector
	Tx               txRunner
	Cache            viewCache
	Publisher        events.Publisher
	Metrics          *MetricsService
	Validator        *validator.Validate
	Logger           *zap.Logger
	MakeupSearchDays int
}

// AttendanceService applies mark and reset to sessions together with their
// side effects on the enrollment counter and makeup sessions.
type AttendanceService struct {
	sessions         attendanceSessionStore
	enrollments      attendanceEnrollmentStore
	detector         *ConflictDetector
	tx               txRunner
	metrics          *MetricsService
	validator        *validator.Validate
	logger           *zap.Logger
	after            afterCommit
	makeupSearchDays int
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(params AttendanceServiceParams) *AttendanceService {
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := params.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	searchDays := params.MakeupSearchDays
	if searchDays <= 0 {
		searchDays = defaultMakeupSearchDays
	}
	return &AttendanceService{
		sessions:         params.Sessions,
		enrollments:      params.Enrollments,
		detector:         params.Detector,
		tx:               params.Tx,
		metrics:          params.Metrics,
		validator:        validate,
		logger:           logger,
		after:            afterCommit{cache: params.Cache, publisher: publisher, logger: logger},
		makeupSearchDays: searchDays,
	}
}

// Mark moves a PENDING session to PRESENT or ABSENT.
func (s *AttendanceService) Mark(ctx context.Context, actor models.Actor, sessionID string, req dto.MarkAttendanceRequest) (*models.AttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "status must be PRESENT or ABSENT")
	}
	target := models.SessionStatus(req.Status)

	session, err := s.authorize(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(session.Status, target) {
		return nil, invalidTransition(session.Status, target)
	}

	result := &models.AttendanceResult{}
	err = s.tx.Serializable(ctx, "mark_attendance", func(tx *sqlx.Tx) error {
		*result = models.AttendanceResult{}
		enrollment, err := s.lockEnrollment(ctx, tx, actor.TenantID, session.EnrollmentID)
		if err != nil {
			return err
		}

		ok, err := s.sessions.TransitionStatus(ctx, tx, actor.TenantID, sessionID, models.SessionStatusPending, target, req.Notes)
		if err != nil {
			return err
		}
		if !ok {
			return s.transitionRejected(ctx, tx, actor.TenantID, sessionID, target)
		}

		switch target {
		case models.SessionStatusPresent:
			enrollment, err = s.enrollments.IncrementCompleted(ctx, tx, actor.TenantID, enrollment.ID)
			if err != nil {
				return err
			}
		case models.SessionStatusAbsent:
			makeup, err := s.scheduleMakeup(ctx, tx, enrollment, sessionID)
			if err != nil {
				return err
			}
			result.MakeupSession = makeup
		}

		updated, err := s.sessions.FindByID(ctx, tx, actor.TenantID, sessionID)
		if err != nil {
			return err
		}
		result.Session = updated
		result.CompletedDays = enrollment.CompletedDays
		result.PlanDays = enrollment.PlanDays
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to mark attendance")
	}

	s.metrics.ObserveTransition(models.SessionStatusPending, target)
	s.logger.Info("attendance marked",
		zap.String("tenant_id", actor.TenantID),
		zap.String("session_id", sessionID),
		zap.String("status", string(target)))

	evts := []events.Event{events.New(events.AttendanceMarked, actor.TenantID, actor.UserID, map[string]interface{}{
		"session_id":     sessionID,
		"enrollment_id":  session.EnrollmentID,
		"status":         string(target),
		"completed_days": result.CompletedDays,
	})}
	if result.MakeupSession != nil {
		evts = append(evts, events.New(events.MakeupScheduled, actor.TenantID, actor.UserID, map[string]interface{}{
			"session_id":    result.MakeupSession.ID,
			"spawned_from":  sessionID,
			"enrollment_id": session.EnrollmentID,
			"date":          result.MakeupSession.Date.String(),
		}))
	}
	s.after.run(ctx, actor.TenantID, session.EnrollmentID, evts...)
	return result, nil
}

// Reset returns a PRESENT or ABSENT session to PENDING and undoes the side
// effect of the earlier mark.
func (s *AttendanceService) Reset(ctx context.Context, actor models.Actor, sessionID string) (*models.AttendanceResult, error) {
	session, err := s.authorize(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	var previous models.SessionStatus
	result := &models.AttendanceResult{}
	err = s.tx.ReadCommitted(ctx, "reset_attendance", func(tx *sqlx.Tx) error {
		*result = models.AttendanceResult{}
		enrollment, err := s.lockEnrollment(ctx, tx, actor.TenantID, session.EnrollmentID)
		if err != nil {
			return err
		}
		current, err := s.sessions.FindByID(ctx, tx, actor.TenantID, sessionID)
		if err != nil {
			return err
		}
		previous = current.Status
		if !models.CanTransition(current.Status, models.SessionStatusPending) {
			return invalidTransition(current.Status, models.SessionStatusPending)
		}

		switch current.Status {
		case models.SessionStatusPresent:
			if err := s.casToPending(ctx, tx, actor.TenantID, sessionID, current.Status); err != nil {
				return err
			}
			enrollment, err = s.enrollments.DecrementCompleted(ctx, tx, actor.TenantID, enrollment.ID)
			if err != nil {
				return err
			}
		case models.SessionStatusAbsent:
			makeup, err := s.findMakeup(ctx, tx, current)
			if err != nil {
				return err
			}
			if makeup != nil && makeup.Status != models.SessionStatusPending {
				return appErrors.Clone(appErrors.ErrInvalidTransition,
					fmt.Sprintf("makeup session %s is %s; reset it first", makeup.ID, makeup.Status))
			}
			if err := s.casToPending(ctx, tx, actor.TenantID, sessionID, current.Status); err != nil {
				return err
			}
			if makeup != nil {
				removed, err := s.sessions.DeletePending(ctx, tx, actor.TenantID, makeup.ID)
				if err != nil {
					return err
				}
				if removed {
					id := makeup.ID
					result.RemovedSession = &id
				}
			}
		}

		updated, err := s.sessions.FindByID(ctx, tx, actor.TenantID, sessionID)
		if err != nil {
			return err
		}
		result.Session = updated
		result.CompletedDays = enrollment.CompletedDays
		result.PlanDays = enrollment.PlanDays
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to reset attendance")
	}

	s.metrics.ObserveTransition(previous, models.SessionStatusPending)
	s.logger.Info("attendance reset",
		zap.String("tenant_id", actor.TenantID),
		zap.String("session_id", sessionID),
		zap.String("previous_status", string(previous)))

	evts := []events.Event{events.New(events.AttendanceReset, actor.TenantID, actor.UserID, map[string]interface{}{
		"session_id":      sessionID,
		"enrollment_id":   session.EnrollmentID,
		"previous_status": string(previous),
		"completed_days":  result.CompletedDays,
	})}
	if result.RemovedSession != nil {
		evts = append(evts, events.New(events.MakeupRemoved, actor.TenantID, actor.UserID, map[string]interface{}{
			"session_id":    *result.RemovedSession,
			"spawned_from":  sessionID,
			"enrollment_id": session.EnrollmentID,
		}))
	}
	s.after.run(ctx, actor.TenantID, session.EnrollmentID, evts...)
	return result, nil
}

// authorize loads the session outside the transaction. Other tenants see
// NotFound; a trainer acting on a colleague's session sees Forbidden.
func (s *AttendanceService) authorize(ctx context.Context, actor models.Actor, sessionID string) (*models.Session, error) {
	if actor.Role == models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot record attendance")
	}
	session, err := s.sessions.FindByID(ctx, nil, actor.TenantID, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if actor.Role == models.RoleTrainer && session.TrainerID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another trainer")
	}
	return session, nil
}

func (s *AttendanceService) lockEnrollment(ctx context.Context, tx sqlx.ExtContext, tenantID, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.LockByID(ctx, tx, tenantID, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is CANCELLED")
	}
	return enrollment, nil
}

func (s *AttendanceService) casToPending(ctx context.Context, tx sqlx.ExtContext, tenantID, sessionID string, from models.SessionStatus) error {
	ok, err := s.sessions.TransitionStatus(ctx, tx, tenantID, sessionID, from, models.SessionStatusPending, nil)
	if err != nil {
		return err
	}
	if !ok {
		return s.transitionRejected(ctx, tx, tenantID, sessionID, models.SessionStatusPending)
	}
	return nil
}

func (s *AttendanceService) transitionRejected(ctx context.Context, tx sqlx.ExtContext, tenantID, sessionID string, target models.SessionStatus) error {
	current, err := s.sessions.FindByID(ctx, tx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return err
	}
	return invalidTransition(current.Status, target)
}

func invalidTransition(from, to models.SessionStatus) error {
	if from == to {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("session is already %s", from))
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("session is %s and cannot move to %s", from, to))
}

// scheduleMakeup appends a PENDING session after the enrollment's last one,
// walking forward while the date is taken by another booking.
func (s *AttendanceService) scheduleMakeup(ctx context.Context, tx sqlx.ExtContext, enrollment *models.Enrollment, absentID string) (*models.Session, error) {
	latest, err := s.sessions.LatestDate(ctx, tx, enrollment.TenantID, enrollment.ID)
	if err != nil {
		return nil, err
	}

	candidate := calendar.MakeupDate(latest, enrollment.SkipSundays)
	var last *models.SessionConflict
	for attempt := 0; attempt < s.makeupSearchDays; attempt++ {
		conflict, err := s.detector.FindConflict(ctx, tx, Booking{
			TenantID:  enrollment.TenantID,
			Dates:     []calendar.Date{candidate},
			Window:    enrollment.Window(),
			TrainerID: enrollment.TrainerID,
			VehicleID: enrollment.VehicleID,
			StudentID: enrollment.StudentID,
		})
		if err != nil {
			return nil, err
		}
		if conflict == nil {
			spawnedFrom := absentID
			makeup := &models.Session{
				TenantID:     enrollment.TenantID,
				EnrollmentID: enrollment.ID,
				StudentID:    enrollment.StudentID,
				TrainerID:    enrollment.TrainerID,
				VehicleID:    enrollment.VehicleID,
				Date:         candidate,
				StartTime:    enrollment.StartTime,
				EndTime:      enrollment.EndTime,
				Status:       models.SessionStatusPending,
				SpawnedFrom:  &spawnedFrom,
			}
			if err := s.sessions.Create(ctx, tx, makeup); err != nil {
				return nil, err
			}
			return makeup, nil
		}
		last = conflict
		candidate = calendar.MakeupDate(candidate, enrollment.SkipSundays)
	}
	s.metrics.ObserveConflict(last.Resource)
	return nil, conflictError(*last)
}

// findMakeup returns the session spawned by absent. Sessions created before
// the back-reference existed fall back to the enrollment's latest PENDING one.
func (s *AttendanceService) findMakeup(ctx context.Context, tx sqlx.ExtContext, absent *models.Session) (*models.Session, error) {
	makeup, err := s.sessions.FindSpawnedBy(ctx, tx, absent.TenantID, absent.ID)
	if err == nil {
		return makeup, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	makeup, err = s.sessions.FindLatestPending(ctx, tx, absent.TenantID, absent.EnrollmentID, absent.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return makeup, nil
}
