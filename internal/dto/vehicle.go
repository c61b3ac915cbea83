package dto

// CreateVehicleRequest registers a vehicle.
type CreateVehicleRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	PlateNumber string `json:"plateNumber" validate:"required,max=32"`
}

// UpdateVehicleRequest toggles availability or renames a vehicle.
type UpdateVehicleRequest struct {
	Name   *string `json:"name" validate:"omitempty,max=120"`
	Active *bool   `json:"active"`
}
