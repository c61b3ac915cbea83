package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

type dashboardService interface {
	Company(ctx context.Context, actor models.Actor) (*models.CompanyDashboard, bool, error)
	Trainer(ctx context.Context, actor models.Actor, trainerID string) (*models.TrainerDashboard, bool, error)
}

// DashboardHandler wires the ledger views to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Company godoc
// @Summary Company dashboard
// @Description Member and fleet counts, today's sessions, overdue and upcoming pending sessions.
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Company(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	summary, cacheHit, err := h.service.Company(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondView(c, summary, cacheHit)
}

// Trainer godoc
// @Summary Trainer dashboard
// @Description Today's sessions and this month's attended count. Admins pass trainerId.
// @Tags Dashboard
// @Produce json
// @Param trainerId query string false "Trainer ID (admins only)"
// @Success 200 {object} response.Envelope
// @Router /dashboard/trainer [get]
func (h *DashboardHandler) Trainer(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	summary, cacheHit, err := h.service.Trainer(c.Request.Context(), actor, strings.TrimSpace(c.Query("trainerId")))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondView(c, summary, cacheHit)
}
