package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/database"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

type vehicleStore interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.Vehicle, error)
	List(ctx context.Context, tenantID string, filter models.VehicleFilter) ([]models.Vehicle, error)
	Create(ctx context.Context, vehicle *models.Vehicle) error
	Update(ctx context.Context, vehicle *models.Vehicle) error
}

// VehicleService manages the tenant's fleet.
type VehicleService struct {
	repo      vehicleStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewVehicleService constructs the vehicle service.
func NewVehicleService(repo vehicleStore, validate *validator.Validate, logger *zap.Logger) *VehicleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VehicleService{repo: repo, validator: validate, logger: logger}
}

// List returns vehicles of the tenant.
func (s *VehicleService) List(ctx context.Context, actor models.Actor, filter models.VehicleFilter) ([]models.Vehicle, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	vehicles, err := s.repo.List(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list vehicles")
	}
	return vehicles, nil
}

// Create registers a vehicle.
func (s *VehicleService) Create(ctx context.Context, actor models.Actor, req dto.CreateVehicleRequest) (*models.Vehicle, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only company admins can manage vehicles")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid vehicle payload")
	}
	vehicle := &models.Vehicle{
		TenantID:    actor.TenantID,
		Name:        strings.TrimSpace(req.Name),
		PlateNumber: strings.ToUpper(strings.TrimSpace(req.PlateNumber)),
		Active:      true,
	}
	if err := s.repo.Create(ctx, vehicle); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "plate number already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create vehicle")
	}
	return vehicle, nil
}

// Update renames or toggles a vehicle. Deactivated vehicles keep their
// existing sessions but cannot be used for new enrollments.
func (s *VehicleService) Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateVehicleRequest) (*models.Vehicle, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only company admins can manage vehicles")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid vehicle payload")
	}
	vehicle, err := s.repo.FindByID(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vehicle not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vehicle")
	}
	if req.Name != nil {
		vehicle.Name = strings.TrimSpace(*req.Name)
	}
	if req.Active != nil {
		vehicle.Active = *req.Active
	}
	if err := s.repo.Update(ctx, vehicle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "vehicle not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update vehicle")
	}
	s.logger.Info("vehicle updated", zap.String("tenant_id", actor.TenantID), zap.String("vehicle_id", id), zap.Bool("active", vehicle.Active))
	return vehicle, nil
}
