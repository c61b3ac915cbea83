package models

import "time"

// Vehicle is a training car owned by a tenant.
type Vehicle struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	Name        string    `db:"name" json:"name"`
	PlateNumber string    `db:"plate_number" json:"plate_number"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// VehicleFilter narrows vehicle listings.
type VehicleFilter struct {
	Active *bool
	Search string
}
