package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/drive-school-api/internal/dto"
	"github.com/noah-isme/drive-school-api/internal/models"
	"github.com/noah-isme/drive-school-api/pkg/calendar"
	appErrors "github.com/noah-isme/drive-school-api/pkg/errors"
	"github.com/noah-isme/drive-school-api/pkg/export"
)

// defaultSessionLimit caps listings and exports that do not ask for a limit.
const defaultSessionLimit = 500

// SessionExport is a rendered session listing.
type SessionExport struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SessionService answers schedule queries.
type SessionService struct {
	sessions  sessionLister
	validator *validator.Validate
	exporters map[string]export.Exporter
	location  *time.Location
	now       func() time.Time
}

// NewSessionService constructs the session service.
func NewSessionService(sessions sessionLister, validate *validator.Validate, location *time.Location) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if location == nil {
		location = time.UTC
	}
	return &SessionService{
		sessions:  sessions,
		validator: validate,
		exporters: map[string]export.Exporter{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
		location: location,
		now:      time.Now,
	}
}

// List returns the tenant's sessions ordered by date and start time. Trainers
// and students are restricted to their own sessions.
func (s *SessionService) List(ctx context.Context, actor models.Actor, query dto.ListSessionsQuery) ([]models.SessionDetail, error) {
	filter, err := s.filter(actor, query)
	if err != nil {
		return nil, err
	}
	items, err := s.sessions.List(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	if items == nil {
		items = []models.SessionDetail{}
	}
	return items, nil
}

// Daily is List restricted to one date, today when query.Date is empty.
func (s *SessionService) Daily(ctx context.Context, actor models.Actor, query dto.ListSessionsQuery) ([]models.SessionDetail, calendar.Date, error) {
	day := calendar.DateOf(s.now().In(s.location))
	if query.Date != "" {
		parsed, err := calendar.ParseDate(query.Date)
		if err != nil {
			return nil, calendar.Date{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be YYYY-MM-DD")
		}
		day = parsed
	}
	query.DateFrom = day.String()
	query.DateTo = day.String()
	items, err := s.List(ctx, actor, query)
	if err != nil {
		return nil, calendar.Date{}, err
	}
	return items, day, nil
}

// Export renders the listing as CSV or PDF.
func (s *SessionService) Export(ctx context.Context, actor models.Actor, query dto.ListSessionsQuery) (*SessionExport, error) {
	format := query.Format
	if format == "" {
		format = "csv"
	}
	exporter, ok := s.exporters[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	items, err := s.List(ctx, actor, query)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:   "Lesson sessions",
		Headers: []string{"Date", "Start", "End", "Status", "Student", "Trainer", "Vehicle", "Plate", "Notes"},
		Rows:    make([][]string, 0, len(items)),
	}
	for _, item := range items {
		notes := ""
		if item.Notes != nil {
			notes = *item.Notes
		}
		dataset.Rows = append(dataset.Rows, []string{
			item.Date.String(),
			item.StartTime.String(),
			item.EndTime.String(),
			string(item.Status),
			item.StudentName,
			item.TrainerName,
			item.VehicleName,
			item.PlateNumber,
			notes,
		})
	}
	content, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &SessionExport{
		Filename:    fmt.Sprintf("sessions-%s.%s", s.now().In(s.location).Format("20060102-150405"), exporter.Extension()),
		ContentType: exporter.ContentType(),
		Content:     content,
	}, nil
}

func (s *SessionService) filter(actor models.Actor, query dto.ListSessionsQuery) (models.SessionFilter, error) {
	if err := s.validator.Struct(query); err != nil {
		return models.SessionFilter{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session filter")
	}
	filter := models.SessionFilter{
		TrainerID:    query.TrainerID,
		StudentID:    query.StudentID,
		VehicleID:    query.VehicleID,
		EnrollmentID: query.EnrollmentID,
		Status:       models.SessionStatus(query.Status),
		Limit:        query.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultSessionLimit
	}
	for _, bound := range []struct {
		raw  string
		dest **calendar.Date
	}{{query.DateFrom, &filter.DateFrom}, {query.DateTo, &filter.DateTo}} {
		if bound.raw == "" {
			continue
		}
		parsed, err := calendar.ParseDate(bound.raw)
		if err != nil {
			return models.SessionFilter{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "dates must be YYYY-MM-DD")
		}
		*bound.dest = &parsed
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return models.SessionFilter{}, appErrors.Clone(appErrors.ErrValidation, "date_to must not be before date_from")
	}
	switch actor.Role {
	case models.RoleTrainer:
		filter.TrainerID = actor.UserID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	}
	return filter, nil
}
