package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	"github.com/noah-isme/drive-school-api/pkg/database"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
)

type overlapFinder interface {
	FindOverlapping(ctx context.Context, exec sqlx.ExtContext, tenantID string, dates []calendar.Date, trainerID, vehicleID, studentID string) ([]models.Session, error)
}

// Booking describes the sessions a writer is about to insert.
type Booking struct {
	TenantID  string
	Dates     []calendar.Date
	Window    calendar.Window
	TrainerID string
	VehicleID string
	StudentID string
}

// ConflictDetector finds existing sessions that a booking would collide with.
// It only reads; callers run it inside the transaction that performs the insert.
type ConflictDetector struct {
	sessions overlapFinder
}

// NewConflictDetector constructs a detector over the session store.
func NewConflictDetector(sessions overlapFinder) *ConflictDetector {
	return &ConflictDetector{sessions: sessions}
}

// FindConflict returns the first collision, scanning dates ascending and, per
// existing session, checking trainer then vehicle then student. It returns nil
// when the booking is free.
func (d *ConflictDetector) FindConflict(ctx context.Context, exec sqlx.ExtContext, booking Booking) (*models.SessionConflict, error) {
	if len(booking.Dates) == 0 {
		return nil, nil
	}
	existing, err := d.sessions.FindOverlapping(ctx, exec, booking.TenantID, booking.Dates, booking.TrainerID, booking.VehicleID, booking.StudentID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}

	byDate := make(map[calendar.Date][]models.Session, len(existing))
	for _, s := range existing {
		if s.Status == models.SessionStatusCancelled {
			continue
		}
		byDate[s.Date] = append(byDate[s.Date], s)
	}

	dates := append([]calendar.Date(nil), booking.Dates...)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, date := range dates {
		candidates := byDate[date]
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].StartTime.Before(candidates[j].StartTime) })
		for _, s := range candidates {
			if !s.Window().Overlaps(booking.Window) {
				continue
			}
			if kind, id, ok := sharedResource(s, booking); ok {
				return &models.SessionConflict{
					Resource:          kind,
					ResourceID:        id,
					Date:              date,
					ExistingSessionID: s.ID,
					ExistingWindow:    s.Window(),
					RequestedWindow:   booking.Window,
				}, nil
			}
		}
	}
	return nil, nil
}

func sharedResource(s models.Session, b Booking) (models.ResourceKind, string, bool) {
	switch {
	case b.TrainerID != "" && s.TrainerID == b.TrainerID:
		return models.ResourceTrainer, b.TrainerID, true
	case b.VehicleID != "" && s.VehicleID == b.VehicleID:
		return models.ResourceVehicle, b.VehicleID, true
	case b.StudentID != "" && s.StudentID == b.StudentID:
		return models.ResourceStudent, b.StudentID, true
	default:
		return "", "", false
	}
}

func conflictError(c models.SessionConflict) error {
	domainErr := models.NewSessionConflictError(c)
	return appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, domainErr.Message)
}

// storeError maps a failure escaping a write transaction onto the error
// taxonomy. Domain errors pass through; exclusion violations become conflicts.
func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if database.IsExclusionViolation(err) {
		resource := exclusionResource(database.ConstraintName(err))
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status,
			fmt.Sprintf("%s is already booked in an overlapping window", resource))
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func exclusionResource(constraint string) string {
	for _, kind := range []string{"trainer", "vehicle", "student"} {
		if strings.Contains(constraint, kind) {
			return kind
		}
	}
	return "resource"
}
