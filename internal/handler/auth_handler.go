package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/middleware"
	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

type authService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error)
	Logout(ctx context.Context, actor models.Actor, refreshToken, ip, userAgent string) error
	ChangePassword(ctx context.Context, actor models.Actor, req models.ChangePasswordRequest) error
}

// RefreshCookie configures the optional HttpOnly refresh-token cookie. When
// enabled, refresh and logout accept the token from the cookie if the body
// does not carry one.
type RefreshCookie struct {
	Enabled bool
	Name    string
	Path    string
	Domain  string
	Secure  bool
}

// AuthHandler serves the /auth routes.
type AuthHandler struct {
	service authService
	cookie  RefreshCookie
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, cookie RefreshCookie) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{service: svc, cookie: cookie}
}

// Login godoc
// @Summary Sign in
// @Description Exchanges a member's credentials for an access and refresh token pair. The tenant comes from X-Tenant or the host.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param X-Tenant header string false "Tenant slug"
// @Param payload body models.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope{data=models.LoginResponse}
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	tenant, err := middleware.TenantFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.LoginRequest
	if !bindJSON(c, &req, "invalid login payload") {
		return
	}
	req.TenantID, req.IP, req.UserAgent = tenant.ID, c.ClientIP(), c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.setCookie(c, res.RefreshToken, res.RefreshExpiresAt)
	response.JSON(c, http.StatusOK, res, nil)
}

// Refresh godoc
// @Summary Rotate tokens
// @Description Trades a refresh token for a new pair. The presented token is revoked; presenting it again revokes every token of the session.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param X-Tenant header string false "Tenant slug"
// @Param payload body models.RefreshTokenRequest false "Refresh token, optional when the cookie is enabled"
// @Success 200 {object} response.Envelope{data=models.TokenPair}
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	tenant, err := middleware.TenantFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	secret, ok := h.refreshSecret(c)
	if !ok {
		return
	}

	pair, err := h.service.RefreshToken(c.Request.Context(), models.RefreshTokenRequest{
		TenantID:     tenant.ID,
		RefreshToken: secret,
		IP:           c.ClientIP(),
		UserAgent:    c.GetHeader("User-Agent"),
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrUnauthorized) {
			h.clearCookie(c)
		}
		response.Error(c, err)
		return
	}
	h.setCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)
	response.JSON(c, http.StatusOK, pair, nil)
}

// Logout godoc
// @Summary Sign out
// @Description Revokes the caller's refresh token. Repeating the call succeeds.
// @Tags Authentication
// @Accept json
// @Security BearerAuth
// @Param payload body models.RefreshTokenRequest false "Refresh token, optional when the cookie is enabled"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	secret, ok := h.refreshSecret(c)
	if !ok {
		return
	}

	if err := h.service.Logout(c.Request.Context(), actor, secret, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}
	h.clearCookie(c)
	response.NoContent(c)
}

// ChangePassword godoc
// @Summary Change password
// @Description Replaces the caller's password and revokes all of their refresh tokens.
// @Tags Authentication
// @Accept json
// @Security BearerAuth
// @Param payload body models.ChangePasswordRequest true "Old and new password"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req models.ChangePasswordRequest
	if !bindJSON(c, &req, "invalid change password payload") {
		return
	}
	if err := h.service.ChangePassword(c.Request.Context(), actor, req); err != nil {
		response.Error(c, err)
		return
	}
	h.clearCookie(c)
	response.NoContent(c)
}

// Me godoc
// @Summary Current user
// @Description Returns the identity carried by the access token.
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=models.UserInfo}
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, claims.Info(), nil)
}

// refreshSecret reads the refresh token from the JSON body, falling back to
// the cookie. It writes a 400 and reports false when neither has one.
func (h *AuthHandler) refreshSecret(c *gin.Context) (string, bool) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &body, "invalid refresh payload") {
			return "", false
		}
	}
	if body.RefreshToken != "" {
		return body.RefreshToken, true
	}
	if h.cookie.Enabled {
		if v, err := c.Cookie(h.cookie.Name); err == nil && v != "" {
			return v, true
		}
	}
	response.Error(c, appErrors.Clone(appErrors.ErrValidation, "refresh_token is required"))
	return "", false
}

func (h *AuthHandler) setCookie(c *gin.Context, secret string, expires time.Time) {
	if !h.cookie.Enabled {
		return
	}
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, secret, maxAge, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearCookie(c *gin.Context) {
	if !h.cookie.Enabled {
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, "", -1, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}
