package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

type userService interface {
	List(ctx context.Context, actor models.Actor, query dto.ListUsersQuery) ([]models.User, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.User, error)
	Create(ctx context.Context, actor models.Actor, req dto.CreateUserRequest, meta models.RequestMeta) (*models.User, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateUserRequest, meta models.RequestMeta) (*models.User, error)
	Delete(ctx context.Context, actor models.Actor, id string, meta models.RequestMeta) error
}

// UserHandler manages tenant members.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(service userService) *UserHandler {
	return &UserHandler{service: service}
}

// List godoc
// @Summary List members
// @Tags Users
// @Produce json
// @Param role query string false "COMPANY_ADMIN, TRAINER or STUDENT"
// @Param active query bool false "Active flag"
// @Param search query string false "Email or name"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ListUsersQuery
	if !bindQuery(c, &query) {
		return
	}
	users, pagination, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get member
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Add member
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.CreateUserRequest true "Member payload"
// @Success 201 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateUserRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	user, err := h.service.Create(c.Request.Context(), actor, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// Update godoc
// @Summary Update member
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.UpdateUserRequest true "Member payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "MEMBER_HAS_BOOKINGS when deactivating or re-roling a member with pending sessions"
// @Router /users/{id} [patch]
func (h *UserHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateUserRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	user, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Delete godoc
// @Summary Deactivate member
// @Description Refused with MEMBER_HAS_BOOKINGS while the trainer or student has PENDING sessions from today on.
// @Tags Users
// @Param id path string true "User ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
