package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

type doubleBookingAuditor interface {
	DoubleBookings(ctx context.Context, actor models.Actor, since string) (*models.DoubleBookingReport, error)
}

// AuditHandler exposes schedule integrity checks.
type AuditHandler struct {
	service doubleBookingAuditor
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service doubleBookingAuditor) *AuditHandler {
	return &AuditHandler{service: service}
}

// DoubleBookings godoc
// @Summary Double-booking audit
// @Description Pairs of overlapping non-cancelled sessions sharing a trainer, vehicle or student.
// @Tags Audit
// @Produce json
// @Param since query string false "YYYY-MM-DD, defaults to today"
// @Success 200 {object} response.Envelope
// @Router /audit/double-bookings [get]
func (h *AuditHandler) DoubleBookings(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	report, err := h.service.DoubleBookings(c.Request.Context(), actor, c.Query("since"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
