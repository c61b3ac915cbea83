package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/logger"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenValidator is satisfied by *service.AuthService.
type TokenValidator interface {
	ValidateToken(tokenString string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token issued for the tenant
// resolved earlier in the chain. A token from another tenant is answered as if
// the tenant did not exist.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if tenantID := c.GetString(logger.TenantKey); tenantID != "" && tenantID != claims.TenantID {
			response.Error(c, appErrors.Clone(appErrors.ErrTenantNotFound, "tenant not found"))
			c.Abort()
			return
		}
		c.Set(logger.TenantKey, claims.TenantID)
		c.Set(ContextUserKey, claims)
		c.Set(logger.UserKey, claims.UserID)
		c.Next()
	}
}

// ActorFromContext returns the authenticated actor stored by JWT.
func ActorFromContext(c *gin.Context) (models.Actor, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return models.Actor{}, false
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims == nil {
		return models.Actor{}, false
	}
	return claims.Actor(), true
}
