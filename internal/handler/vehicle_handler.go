package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/middleware"
	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

type vehicleService interface {
	List(ctx context.Context, actor models.Actor, filter models.VehicleFilter) ([]models.Vehicle, error)
	Create(ctx context.Context, actor models.Actor, req dto.CreateVehicleRequest) (*models.Vehicle, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateVehicleRequest) (*models.Vehicle, error)
}

// VehicleHandler manages the tenant's fleet.
type VehicleHandler struct {
	service vehicleService
}

// NewVehicleHandler constructs the handler.
func NewVehicleHandler(service vehicleService) *VehicleHandler {
	return &VehicleHandler{service: service}
}

// List godoc
// @Summary List vehicles
// @Tags Vehicles
// @Produce json
// @Param active query bool false "Filter by availability"
// @Param search query string false "Name or plate"
// @Success 200 {object} response.Envelope
// @Router /vehicles [get]
func (h *VehicleHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	filter := models.VehicleFilter{Search: c.Query("search")}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "active must be true or false"))
			return
		}
		filter.Active = &active
	}
	vehicles, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vehicles, nil)
}

// Create godoc
// @Summary Register vehicle
// @Tags Vehicles
// @Accept json
// @Produce json
// @Param payload body dto.CreateVehicleRequest true "Vehicle payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /vehicles [post]
func (h *VehicleHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateVehicleRequest
	if !bindJSON(c, &req, "invalid vehicle payload") {
		return
	}
	vehicle, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditTarget(c, vehicle.ID)
	response.Created(c, vehicle)
}

// Update godoc
// @Summary Update vehicle
// @Tags Vehicles
// @Accept json
// @Produce json
// @Param id path string true "Vehicle ID"
// @Param payload body dto.UpdateVehicleRequest true "Vehicle payload"
// @Success 200 {object} response.Envelope
// @Router /vehicles/{id} [patch]
func (h *VehicleHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateVehicleRequest
	if !bindJSON(c, &req, "invalid vehicle payload") {
		return
	}
	vehicle, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vehicle, nil)
}
