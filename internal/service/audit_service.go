package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/jobs"
)

// JobTypeDoubleBookingScan identifies per-tenant audit jobs.
const JobTypeDoubleBookingScan = "double_booking_scan"

type doubleBookingFinder interface {
	FindDoubleBookings(ctx context.Context, tenantID string, since calendar.Date) ([]models.DoubleBooking, error)
}

type activeTenantLister interface {
	ListActive(ctx context.Context) ([]models.Tenant, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// AuditService looks for live sessions that share a resource in overlapping
// windows. Such pairs can only exist if a write bypassed the store guards.
type AuditService struct {
	sessions doubleBookingFinder
	tenants  activeTenantLister
	metrics  *MetricsService
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time
}

// NewAuditService constructs the audit service.
func NewAuditService(sessions doubleBookingFinder, tenants activeTenantLister, metrics *MetricsService, logger *zap.Logger, location *time.Location) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &AuditService{sessions: sessions, tenants: tenants, metrics: metrics, logger: logger, location: location, now: time.Now}
}

func (s *AuditService) today() calendar.Date {
	return calendar.DateOf(s.now().In(s.location))
}

// DoubleBookings reports overlapping pairs dated on or after since. An empty
// since means today.
func (s *AuditService) DoubleBookings(ctx context.Context, actor models.Actor, since string) (*models.DoubleBookingReport, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "double-booking audit is restricted to admins")
	}
	from := s.today()
	if since != "" {
		parsed, err := calendar.ParseDate(since)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "since must be YYYY-MM-DD")
		}
		from = parsed
	}
	return s.scan(ctx, actor.TenantID, from)
}

func (s *AuditService) scan(ctx context.Context, tenantID string, since calendar.Date) (*models.DoubleBookingReport, error) {
	items, err := s.sessions.FindDoubleBookings(ctx, tenantID, since)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan for double bookings")
	}
	if items == nil {
		items = []models.DoubleBooking{}
	}
	s.metrics.SetDoubleBookings(tenantID, len(items))
	return &models.DoubleBookingReport{TenantID: tenantID, Items: items, GeneratedAt: s.now().UTC()}, nil
}

// Sweep enqueues one scan per active tenant. Tenants whose previous scan is
// still pending are skipped.
func (s *AuditService) Sweep(ctx context.Context, queue jobEnqueuer) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error("audit sweep could not list tenants", zap.Error(err))
		return
	}
	since := s.today()
	for _, tenant := range tenants {
		err := queue.Enqueue(jobs.Job{
			ID:      fmt.Sprintf("%s:%s:%s", JobTypeDoubleBookingScan, tenant.ID, since),
			Key:     tenant.ID,
			Type:    JobTypeDoubleBookingScan,
			Payload: since,
		})
		if err != nil && !errors.Is(err, jobs.ErrDuplicate) {
			s.logger.Warn("audit sweep enqueue failed", zap.String("tenant_id", tenant.ID), zap.Error(err))
		}
	}
}

// HandleJob runs one queued tenant scan.
func (s *AuditService) HandleJob(ctx context.Context, job jobs.Job) error {
	since, ok := job.Payload.(calendar.Date)
	if !ok {
		since = s.today()
	}
	report, err := s.scan(ctx, job.Key, since)
	if err != nil {
		return err
	}
	if len(report.Items) > 0 {
		s.logger.Warn("double bookings detected",
			zap.String("tenant_id", job.Key),
			zap.Int("pairs", len(report.Items)),
			zap.String("first_date", report.Items[0].Date.String()))
	}
	return nil
}
