package models

import (
	"time"

	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin   UserRole = "SUPER_ADMIN"
	RoleCompanyAdmin UserRole = "COMPANY_ADMIN"
	RoleTrainer      UserRole = "TRAINER"
	RoleStudent      UserRole = "STUDENT"
)

// IsAdmin reports whether the role manages the whole tenant.
func (r UserRole) IsAdmin() bool {
	return r == RoleSuperAdmin || r == RoleCompanyAdmin
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	TenantID     string     `db:"tenant_id" json:"tenant_id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter narrows member listings within a tenant.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// MemberBookings counts the PENDING sessions a trainer or student still has
// from a given day on. It is returned as error details when retiring them.
type MemberBookings struct {
	Pending  int            `db:"pending" json:"pending_sessions"`
	NextDate *calendar.Date `db:"next_date" json:"next_date,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
