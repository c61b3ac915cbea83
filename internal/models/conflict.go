package models

import (
	"fmt"

	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// ResourceKind names the booked dimension that collided.
type ResourceKind string

const (
	ResourceTrainer ResourceKind = "TRAINER"
	ResourceVehicle ResourceKind = "VEHICLE"
	ResourceStudent ResourceKind = "STUDENT"
)

// SessionConflict describes an existing session that blocks a booking.
type SessionConflict struct {
	Resource          ResourceKind    `json:"resource"`
	ResourceID        string          `json:"resource_id"`
	Date              calendar.Date   `json:"date"`
	ExistingSessionID string          `json:"existing_session_id"`
	ExistingWindow    calendar.Window `json:"existing_window"`
	RequestedWindow   calendar.Window `json:"requested_window"`
}

// SessionConflictError is returned when a booking collides with an existing session.
type SessionConflictError struct {
	Message  string          `json:"message"`
	Conflict SessionConflict `json:"conflict"`
}

// NewSessionConflictError formats the user-facing message for c.
func NewSessionConflictError(c SessionConflict) *SessionConflictError {
	return &SessionConflictError{
		Message: fmt.Sprintf("%s %s is already booked on %s at %s",
			resourceLabel(c.Resource), c.ResourceID, c.Date, c.ExistingWindow),
		Conflict: c,
	}
}

// Error implements the error interface for conflict errors.
func (e *SessionConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// ErrorDetails exposes the colliding booking in the error envelope.
func (e *SessionConflictError) ErrorDetails() interface{} {
	if e == nil {
		return nil
	}
	return e.Conflict
}

func resourceLabel(kind ResourceKind) string {
	switch kind {
	case ResourceTrainer:
		return "trainer"
	case ResourceVehicle:
		return "vehicle"
	case ResourceStudent:
		return "student"
	default:
		return "resource"
	}
}

// DoubleBooking pairs two live sessions that overlap on one resource.
type DoubleBooking struct {
	Resource    ResourceKind   `db:"resource" json:"resource"`
	ResourceID  string         `db:"resource_id" json:"resource_id"`
	Date        calendar.Date  `db:"date" json:"date"`
	FirstID     string         `db:"first_id" json:"first_session_id"`
	FirstStart  calendar.Clock `db:"first_start" json:"first_start_time"`
	FirstEnd    calendar.Clock `db:"first_end" json:"first_end_time"`
	SecondID    string         `db:"second_id" json:"second_session_id"`
	SecondStart calendar.Clock `db:"second_start" json:"second_start_time"`
	SecondEnd   calendar.Clock `db:"second_end" json:"second_end_time"`
}
