package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/drive-school-api/internal/models"
)

// VehicleRepository manages persistence for training vehicles.
type VehicleRepository struct {
	db *sqlx.DB
}

// NewVehicleRepository constructs a new VehicleRepository.
func NewVehicleRepository(db *sqlx.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

const vehicleColumns = `id, tenant_id, name, plate_number, active, created_at, updated_at`

// FindByID returns a vehicle of the tenant.
func (r *VehicleRepository) FindByID(ctx context.Context, tenantID, id string) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE tenant_id = $1 AND id = $2 LIMIT 1`
	var vehicle models.Vehicle
	if err := r.db.GetContext(ctx, &vehicle, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find vehicle: %w", err)
	}
	return &vehicle, nil
}

// List returns the tenant's vehicles ordered by name.
func (r *VehicleRepository) List(ctx context.Context, tenantID string, filter models.VehicleFilter) ([]models.Vehicle, error) {
	w := tenantScoped("tenant_id", tenantID)
	if filter.Active != nil {
		w.add("active = ?", *filter.Active)
	}
	w.contains(filter.Search, "name", "plate_number")

	query := "SELECT " + vehicleColumns + " FROM vehicles " + w.String() + " ORDER BY name ASC"
	var vehicles []models.Vehicle
	if err := r.db.SelectContext(ctx, &vehicles, query, w.args...); err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return vehicles, nil
}

// Create inserts a vehicle.
func (r *VehicleRepository) Create(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now
	const query = `INSERT INTO vehicles (id, tenant_id, name, plate_number, active, created_at, updated_at) VALUES (:id, :tenant_id, :name, :plate_number, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, vehicle); err != nil {
		return fmt.Errorf("create vehicle: %w", err)
	}
	return nil
}

// Update persists name and availability changes.
func (r *VehicleRepository) Update(ctx context.Context, vehicle *models.Vehicle) error {
	vehicle.UpdatedAt = time.Now().UTC()
	const query = `UPDATE vehicles SET name = :name, active = :active, updated_at = :updated_at WHERE tenant_id = :tenant_id AND id = :id`
	res, err := r.db.NamedExecContext(ctx, query, vehicle)
	if err != nil {
		return fmt.Errorf("update vehicle: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
