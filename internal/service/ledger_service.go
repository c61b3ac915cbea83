package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

const defaultUpcomingLimit = 10

type enrollmentDetailReader interface {
	FindDetail(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error)
}

type sessionLister interface {
	List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.SessionDetail, error)
}

type paymentLister interface {
	ListByEnrollment(ctx context.Context, tenantID, enrollmentID string) ([]models.Payment, error)
}

type ledgerCounter interface {
	TenantCounts(ctx context.Context, tenantID string) (*models.TenantCounts, error)
	CountTrainerPresent(ctx context.Context, tenantID, trainerID string, from, to calendar.Date) (int, error)
}

// LedgerServiceConfig tunes ledger caching.
type LedgerServiceConfig struct {
	CacheTTL      time.Duration
	UpcomingLimit int
	Location      *time.Location
}

// LedgerServiceParams groups constructor dependencies.
type LedgerServiceParams struct {
	Enrollments enrollmentDetailReader
	Sessions    sessionLister
	Payments    paymentLister
	Counts      ledgerCounter
	Cache       viewCache
	Logger      *zap.Logger
	Config      LedgerServiceConfig
}

// LedgerService builds read models over enrollments, sessions and payments.
type LedgerService struct {
	enrollments enrollmentDetailReader
	sessions    sessionLister
	payments    paymentLister
	counts      ledgerCounter
	cache       viewCache
	logger      *zap.Logger
	now         func() time.Time
	cfg         LedgerServiceConfig
}

// NewLedgerService constructs a LedgerService with sane defaults.
func NewLedgerService(params LedgerServiceParams) *LedgerService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.UpcomingLimit <= 0 {
		cfg.UpcomingLimit = defaultUpcomingLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		enrollments: params.Enrollments,
		sessions:    params.Sessions,
		payments:    params.Payments,
		counts:      params.Counts,
		cache:       params.Cache,
		logger:      logger,
		now:         time.Now,
		cfg:         cfg,
	}
}

func (s *LedgerService) today() calendar.Date {
	return calendar.DateOf(s.now().In(s.cfg.Location))
}

// Progress returns the attendance and payment ledger of one enrollment and
// indicates cache utilisation.
func (s *LedgerService) Progress(ctx context.Context, actor models.Actor, enrollmentID string) (*models.Progress, bool, error) {
	key := progressCacheKey(actor.TenantID, enrollmentID)
	var cached models.Progress
	hit, err := s.tryCache(ctx, key, &cached)
	if err != nil {
		return nil, false, err
	}
	if hit {
		if !cached.Enrollment.VisibleTo(actor) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return &cached, true, nil
	}

	detail, err := s.enrollments.FindDetail(ctx, actor.TenantID, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !detail.VisibleTo(actor) {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}

	sessions, err := s.sessions.List(ctx, actor.TenantID, models.SessionFilter{EnrollmentID: enrollmentID})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	payments, err := s.payments.ListByEnrollment(ctx, actor.TenantID, enrollmentID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payments")
	}

	progress := buildProgress(*detail, sessions, payments)
	progress.GeneratedAt = s.now().UTC()
	s.persistCache(ctx, key, progress)
	return progress, false, nil
}

func buildProgress(detail models.EnrollmentDetail, sessions []models.SessionDetail, payments []models.Payment) *models.Progress {
	progress := &models.Progress{
		Enrollment: detail,
		Sessions:   sessions,
		Payments:   payments,
		TotalPaid:  decimal.Zero,
	}
	for _, session := range sessions {
		switch session.Status {
		case models.SessionStatusPresent:
			progress.PresentCount++
		case models.SessionStatusAbsent:
			progress.AbsentCount++
		case models.SessionStatusPending:
			progress.PendingCount++
		}
	}
	for _, payment := range payments {
		if payment.Status == models.PaymentStatusPending {
			continue
		}
		progress.TotalPaid = progress.TotalPaid.Add(payment.Amount)
	}
	if remaining := detail.PlanDays - detail.CompletedDays; remaining > 0 {
		progress.RemainingDays = remaining
	}
	progress.Balance = detail.TotalPrice.Sub(progress.TotalPaid)
	return progress
}

// Company returns the admin dashboard for the current day.
func (s *LedgerService) Company(ctx context.Context, actor models.Actor) (*models.CompanyDashboard, bool, error) {
	if !actor.IsAdmin() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "company dashboard is restricted to admins")
	}
	today := s.today()
	key := makeViewCacheKey("dash", actor.TenantID, "company", today.String())
	var cached models.CompanyDashboard
	if hit, err := s.tryCache(ctx, key, &cached); err != nil {
		return nil, false, err
	} else if hit {
		return &cached, true, nil
	}

	counts, err := s.counts.TenantCounts(ctx, actor.TenantID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count tenant records")
	}
	yesterday := today.AddDays(-1)
	tomorrow := today.AddDays(1)

	todaySessions, err := s.sessions.List(ctx, actor.TenantID, models.SessionFilter{DateFrom: &today, DateTo: &today})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load today's sessions")
	}
	overdue, err := s.sessions.List(ctx, actor.TenantID, models.SessionFilter{DateTo: &yesterday, Status: models.SessionStatusPending})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load overdue sessions")
	}
	upcoming, err := s.sessions.List(ctx, actor.TenantID, models.SessionFilter{DateFrom: &tomorrow, Status: models.SessionStatusPending, Limit: s.cfg.UpcomingLimit})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load upcoming sessions")
	}

	dashboard := &models.CompanyDashboard{
		Date:             today,
		Counts:           *counts,
		TodaySessions:    todaySessions,
		OverdueSessions:  overdue,
		UpcomingSessions: upcoming,
		GeneratedAt:      s.now().UTC(),
	}
	s.persistCache(ctx, key, dashboard)
	return dashboard, false, nil
}

// Trainer returns the landing view of a trainer. Admins may pass any trainer id;
// trainers always get their own.
func (s *LedgerService) Trainer(ctx context.Context, actor models.Actor, trainerID string) (*models.TrainerDashboard, bool, error) {
	switch {
	case actor.Role == models.RoleTrainer:
		trainerID = actor.UserID
	case actor.IsAdmin():
		if trainerID == "" {
			return nil, false, appErrors.Clone(appErrors.ErrValidation, "trainerId is required")
		}
	default:
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "trainer dashboard is restricted to trainers and admins")
	}

	today := s.today()
	key := makeViewCacheKey("dash", actor.TenantID, "trainer", trainerID, today.String())
	var cached models.TrainerDashboard
	if hit, err := s.tryCache(ctx, key, &cached); err != nil {
		return nil, false, err
	} else if hit {
		return &cached, true, nil
	}

	sessions, err := s.sessions.List(ctx, actor.TenantID, models.SessionFilter{DateFrom: &today, DateTo: &today, TrainerID: trainerID})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load today's sessions")
	}
	monthStart := calendar.Date{Year: today.Year, Month: today.Month, Day: 1}
	present, err := s.counts.CountTrainerPresent(ctx, actor.TenantID, trainerID, monthStart, today)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attended sessions")
	}

	dashboard := &models.TrainerDashboard{
		TrainerID:        trainerID,
		Date:             today,
		TodaySessions:    sessions,
		PresentThisMonth: present,
		GeneratedAt:      s.now().UTC(),
	}
	s.persistCache(ctx, key, dashboard)
	return dashboard, false, nil
}

func (s *LedgerService) tryCache(ctx context.Context, key string, dest interface{}) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read cache")
	}
	return hit, nil
}

func (s *LedgerService) persistCache(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("ledger cache write failed", zap.String("key", key), zap.Error(err))
	}
}
