package middleware

import (
	"context"
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/drive-school-api/internal/models"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/logger"
	"github.com/noah-isme/drive-school-api/pkg/response"
)

// TenantHeader carries the tenant slug when the host does not.
const TenantHeader = "X-Tenant"

// ContextTenantKey is the gin context key storing the resolved *models.Tenant.
const ContextTenantKey = "currentTenant"

// TenantResolver is satisfied by *service.TenantService.
type TenantResolver interface {
	Resolve(ctx context.Context, slug string) (*models.Tenant, error)
}

// Tenant resolves the school a request addresses from the X-Tenant header or,
// failing that, the first label of the Host.
func Tenant(resolver TenantResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := TenantSlug(c.GetHeader(TenantHeader), c.Request.Host)
		tenant, err := resolver.Resolve(c.Request.Context(), slug)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(logger.TenantKey, tenant.ID)
		c.Set(ContextTenantKey, tenant)
		c.Next()
	}
}

// TenantSlug picks the slug from the header, then the host's first label.
func TenantSlug(header, host string) string {
	if slug := strings.TrimSpace(header); slug != "" {
		return strings.ToLower(slug)
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	label, _, _ := strings.Cut(host, ".")
	return strings.ToLower(label)
}

// TenantFromContext returns the tenant stored by Tenant.
func TenantFromContext(c *gin.Context) (*models.Tenant, error) {
	value, exists := c.Get(ContextTenantKey)
	if !exists {
		return nil, appErrors.ErrTenantNotFound
	}
	tenant, ok := value.(*models.Tenant)
	if !ok || tenant == nil {
		return nil, appErrors.ErrTenantNotFound
	}
	return tenant, nil
}
