package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/middleware"
	"github.com/noah-isme/drive-school-api/internal/models"
)

// Routes bundles everything mounted under the API prefix.
type Routes struct {
	Tenants     middleware.TenantResolver
	Tokens      middleware.TokenValidator
	AuditLog    middleware.AuditRecorder
	Logger      *zap.Logger
	Auth        *AuthHandler
	Enrollments *EnrollmentHandler
	Attendance  *AttendanceHandler
	Sessions    *SessionHandler
	Vehicles    *VehicleHandler
	Users       *UserHandler
	Dashboard   *DashboardHandler
	Audit       *AuditHandler
}

// Register mounts the tenant-scoped API on group. Every route resolves the
// tenant first; all but login and refresh also require a token of that tenant.
func Register(group *gin.RouterGroup, routes Routes) {
	group.Use(middleware.WithResponseMeta(), middleware.Tenant(routes.Tenants))

	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(routes.AuditLog, routes.Logger, action, resource)
	}

	auth := group.Group("/auth")
	auth.POST("/login", routes.Auth.Login)
	auth.POST("/refresh", routes.Auth.Refresh)

	secured := group.Group("")
	secured.Use(middleware.JWT(routes.Tokens))

	secured.POST("/auth/logout", routes.Auth.Logout)
	secured.POST("/auth/change-password", routes.Auth.ChangePassword)
	secured.GET("/auth/me", routes.Auth.Me)

	enrollments := secured.Group("/enrollments")
	enrollments.POST("", middleware.AdminOnly(), audit(models.AuditActionEnrollmentCreate, "enrollments"), routes.Enrollments.Create)
	enrollments.GET("", routes.Enrollments.List)
	enrollments.GET("/:id", routes.Enrollments.Get)
	enrollments.POST("/:id/cancel", middleware.AdminOnly(), audit(models.AuditActionEnrollmentCancel, "enrollments"), routes.Enrollments.Cancel)
	enrollments.GET("/:id/progress", routes.Enrollments.Progress)
	enrollments.GET("/:id/payments", routes.Enrollments.ListPayments)
	enrollments.POST("/:id/payments", middleware.AdminOnly(), audit(models.AuditActionPaymentRecord, "payments"), routes.Enrollments.RecordPayment)

	sessions := secured.Group("/sessions")
	sessions.GET("", routes.Sessions.List)
	sessions.GET("/daily", routes.Sessions.Daily)
	sessions.GET("/export", routes.Sessions.Export)
	sessions.POST("/:id/attendance", middleware.Staff(), audit(models.AuditActionAttendanceMark, "sessions"), routes.Attendance.Mark)
	sessions.POST("/:id/attendance/reset", middleware.Staff(), audit(models.AuditActionAttendanceReset, "sessions"), routes.Attendance.Reset)

	vehicles := secured.Group("/vehicles")
	vehicles.GET("", middleware.Staff(), routes.Vehicles.List)
	vehicles.POST("", middleware.AdminOnly(), audit(models.AuditActionVehicleWrite, "vehicles"), routes.Vehicles.Create)
	vehicles.PATCH("/:id", middleware.AdminOnly(), audit(models.AuditActionVehicleWrite, "vehicles"), routes.Vehicles.Update)

	users := secured.Group("/users")
	users.GET("", middleware.AdminOnly(), routes.Users.List)
	users.POST("", middleware.AdminOnly(), routes.Users.Create)
	users.GET("/:id", middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleCompanyAdmin), middleware.RoleSelf), routes.Users.Get)
	users.PATCH("/:id", middleware.AdminOnly(), routes.Users.Update)
	users.DELETE("/:id", middleware.AdminOnly(), routes.Users.Delete)

	dashboard := secured.Group("/dashboard")
	dashboard.GET("", middleware.AdminOnly(), routes.Dashboard.Company)
	dashboard.GET("/trainer", middleware.Staff(), routes.Dashboard.Trainer)

	secured.GET("/audit/double-bookings", middleware.AdminOnly(), routes.Audit.DoubleBookings)
}
