package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/middleware"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

type enrollmentService interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateEnrollmentRequest) (*models.Enrollment, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, actor models.Actor, query dto.ListEnrollmentsQuery) ([]models.EnrollmentDetail, *models.Pagination, error)
	Cancel(ctx context.Context, actor models.Actor, id string) (*models.Enrollment, error)
}

type progressReader interface {
	Progress(ctx context.Context, actor models.Actor, enrollmentID string) (*models.Progress, bool, error)
}

type paymentService interface {
	Record(ctx context.Context, actor models.Actor, enrollmentID string, req dto.RecordPaymentRequest) (*models.Payment, error)
	List(ctx context.Context, actor models.Actor, enrollmentID string) ([]models.Payment, error)
}

// EnrollmentHandler exposes lesson plans, their progress and their payments.
type EnrollmentHandler struct {
	enrollments enrollmentService
	ledger      progressReader
	payments    paymentService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(enrollments enrollmentService, ledger progressReader, payments paymentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, ledger: ledger, payments: payments}
}

// Create godoc
// @Summary Create enrollment
// @Description Books a lesson plan and all of its sessions atomically. Fails with 409 when the trainer, vehicle or student is already booked.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateEnrollmentRequest
	if !bindJSON(c, &req, "invalid enrollment payload") {
		return
	}
	enrollment, err := h.enrollments.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditTarget(c, enrollment.ID)
	response.Created(c, enrollment)
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param status query string false "ACTIVE, COMPLETED or CANCELLED"
// @Param trainer_id query string false "Trainer ID"
// @Param student_id query string false "Student ID"
// @Param vehicle_id query string false "Vehicle ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ListEnrollmentsQuery
	if !bindQuery(c, &query) {
		return
	}
	items, pagination, err := h.enrollments.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	detail, err := h.enrollments.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Cancel godoc
// @Summary Cancel enrollment
// @Description Cancels an ACTIVE enrollment and its pending sessions, releasing their slots.
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/cancel [post]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Cancel(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Progress godoc
// @Summary Enrollment progress
// @Description Attendance counts, remaining days, total paid and balance.
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/progress [get]
func (h *EnrollmentHandler) Progress(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	progress, cacheHit, err := h.ledger.Progress(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondView(c, progress, cacheHit)
}

// RecordPayment godoc
// @Summary Record payment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.RecordPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/payments [post]
func (h *EnrollmentHandler) RecordPayment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RecordPaymentRequest
	if !bindJSON(c, &req, "invalid payment payload") {
		return
	}
	payment, err := h.payments.Record(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditTarget(c, payment.ID)
	response.Created(c, payment)
}

// ListPayments godoc
// @Summary List payments
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/payments [get]
func (h *EnrollmentHandler) ListPayments(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	payments, err := h.payments.List(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}
