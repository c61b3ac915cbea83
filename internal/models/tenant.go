package models

import "time"

// Tenant is a driving school; every other record belongs to exactly one.
type Tenant struct {
	ID        string    `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Actor is the authenticated caller acting within one tenant.
type Actor struct {
	TenantID string
	UserID   string
	Role     UserRole
}

// IsAdmin reports whether the actor may act on any record of the tenant.
func (a Actor) IsAdmin() bool {
	return a.Role.IsAdmin()
}
