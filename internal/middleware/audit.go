package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/middleware/requestid"
)

const (
	auditTargetKey = "audit_target"
	auditTimeout   = 3 * time.Second
)

// AuditRecorder is satisfied by *repository.UserRepository.
type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SetAuditTarget names the row a write produced, for routes whose path has no
// :id yet (creates) or whose :id is a parent (payments of an enrollment).
func SetAuditTarget(c *gin.Context, id string) {
	c.Set(auditTargetKey, id)
}

type auditDetails struct {
	Route     string `json:"route"`
	Method    string `json:"method"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	RequestID string `json:"request_id,omitempty"`
	Parent    string `json:"parent_id,omitempty"`
}

// Audit appends an audit_logs row after every successful write on the route.
// The insert outlives a client that hangs up after the write committed.
func Audit(recorder AuditRecorder, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		actor, ok := ActorFromContext(c)
		if !ok {
			return
		}

		details := auditDetails{
			Route:     c.FullPath(),
			Method:    c.Request.Method,
			Status:    c.Writer.Status(),
			LatencyMs: time.Since(start).Milliseconds(),
			RequestID: requestid.Value(c),
		}
		target := c.Param("id")
		if id := c.GetString(auditTargetKey); id != "" {
			details.Parent = target
			target = id
		}
		entry := &models.AuditLog{
			TenantID:  &actor.TenantID,
			UserID:    &actor.UserID,
			Action:    action,
			Resource:  resource,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		if target != "" {
			entry.ResourceID = &target
		}
		entry.NewValues, _ = json.Marshal(details)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), auditTimeout)
		defer cancel()
		if err := recorder.CreateAuditLog(ctx, entry); err != nil {
			logger.Warn("audit log not recorded",
				zap.String("action", action),
				zap.String("request_id", details.RequestID),
				zap.Error(err))
		}
	}
}
