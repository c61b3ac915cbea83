package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

type paymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	ListByEnrollment(ctx context.Context, tenantID, enrollmentID string) ([]models.Payment, error)
}

// PaymentService records money received against enrollments.
type PaymentService struct {
	payments    paymentStore
	enrollments enrollmentDetailReader
	cache       viewCache
	validator   *validator.Validate
	logger      *zap.Logger
	location    *time.Location
	now         func() time.Time
}

// NewPaymentService constructs the payment service.
func NewPaymentService(payments paymentStore, enrollments enrollmentDetailReader, cache viewCache, validate *validator.Validate, logger *zap.Logger, location *time.Location) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &PaymentService{
		payments:    payments,
		enrollments: enrollments,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		location:    location,
		now:         time.Now,
	}
}

// Record appends a payment to an enrollment.
func (s *PaymentService) Record(ctx context.Context, actor models.Actor, enrollmentID string, req dto.RecordPaymentRequest) (*models.Payment, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only company admins can record payments")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}
	paidOn := calendar.DateOf(s.now().In(s.location))
	if req.PaidOn != "" {
		parsed, err := calendar.ParseDate(req.PaidOn)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "paidOn must be YYYY-MM-DD")
		}
		paidOn = parsed
	}
	status := models.PaymentStatusPaid
	if req.Status != "" {
		status = models.PaymentStatus(req.Status)
	}

	enrollment, err := s.enrollments.FindDetail(ctx, actor.TenantID, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "payments cannot be recorded against a cancelled enrollment")
	}

	payment := &models.Payment{
		TenantID:     actor.TenantID,
		EnrollmentID: enrollmentID,
		Amount:       req.Amount,
		Method:       models.PaymentMethod(req.Method),
		Status:       status,
		PaidOn:       paidOn,
		Notes:        req.Notes,
		RecordedBy:   actor.UserID,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	afterCommit{cache: s.cache, logger: s.logger}.run(ctx, actor.TenantID, enrollmentID)
	return payment, nil
}

// List returns the payments of an enrollment visible to the actor.
func (s *PaymentService) List(ctx context.Context, actor models.Actor, enrollmentID string) ([]models.Payment, error) {
	detail, err := s.enrollments.FindDetail(ctx, actor.TenantID, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !detail.VisibleTo(actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	payments, err := s.payments.ListByEnrollment(ctx, actor.TenantID, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}
