package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/middleware"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/internal/service"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

type sessionService interface {
	List(ctx context.Context, actor models.Actor, query dto.ListSessionsQuery) ([]models.SessionDetail, error)
	Daily(ctx context.Context, actor models.Actor, query dto.ListSessionsQuery) ([]models.SessionDetail, calendar.Date, error)
	Export(ctx context.Context, actor models.Actor, query dto.ListSessionsQuery) (*service.SessionExport, error)
}

// SessionHandler serves schedule listings and exports.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// List godoc
// @Summary List sessions
// @Description Sessions ordered by date then start time. Trainers and students only see their own.
// @Tags Sessions
// @Produce json
// @Param date_from query string false "YYYY-MM-DD"
// @Param date_to query string false "YYYY-MM-DD"
// @Param trainer_id query string false "Trainer ID"
// @Param student_id query string false "Student ID"
// @Param vehicle_id query string false "Vehicle ID"
// @Param enrollment_id query string false "Enrollment ID"
// @Param status query string false "PENDING, PRESENT, ABSENT or CANCELLED"
// @Param limit query int false "At most this many rows, 500 when omitted, 2000 max"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ListSessionsQuery
	if !bindQuery(c, &query) {
		return
	}
	items, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Daily godoc
// @Summary Daily schedule
// @Tags Sessions
// @Produce json
// @Param date query string false "YYYY-MM-DD, defaults to today"
// @Success 200 {object} response.Envelope
// @Router /sessions/daily [get]
func (h *SessionHandler) Daily(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ListSessionsQuery
	if !bindQuery(c, &query) {
		return
	}
	items, day, err := h.service.Daily(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "date", day.String())
	response.JSON(c, http.StatusOK, items, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export sessions
// @Tags Sessions
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param limit query int false "At most this many rows, 500 when omitted, 2000 max"
// @Success 200 {file} file
// @Router /sessions/export [get]
func (h *SessionHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ListSessionsQuery
	if !bindQuery(c, &query) {
		return
	}
	result, err := h.service.Export(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
