package models

import (
	"time"

	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// SessionStatus is the attendance state of a single lesson.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "PENDING"
	SessionStatusPresent   SessionStatus = "PRESENT"
	SessionStatusAbsent    SessionStatus = "ABSENT"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// sessionTransitions lists every permitted attendance change. CANCELLED is
// terminal and only reached through enrollment cancellation.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending: {SessionStatusPresent, SessionStatusAbsent},
	SessionStatusPresent: {SessionStatusPending},
	SessionStatusAbsent:  {SessionStatusPending},
}

// CanTransition reports whether from -> to is a permitted attendance transition.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one dated lesson of an enrollment. Resource ids and window are
// copied from the enrollment when the session is created.
type Session struct {
	ID           string         `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenant_id"`
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	StudentID    string         `db:"student_id" json:"student_id"`
	TrainerID    string         `db:"trainer_id" json:"trainer_id"`
	VehicleID    string         `db:"vehicle_id" json:"vehicle_id"`
	Date         calendar.Date  `db:"date" json:"date"`
	StartTime    calendar.Clock `db:"start_time" json:"start_time"`
	EndTime      calendar.Clock `db:"end_time" json:"end_time"`
	Status       SessionStatus  `db:"status" json:"status"`
	Notes        *string        `db:"notes" json:"notes,omitempty"`
	SpawnedFrom  *string        `db:"spawned_from" json:"spawned_from,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Window returns the lesson window.
func (s Session) Window() calendar.Window {
	return calendar.Window{Start: s.StartTime, End: s.EndTime}
}

// SessionDetail enriches a session with participant names for listings.
type SessionDetail struct {
	Session
	StudentName string `db:"student_name" json:"student_name"`
	TrainerName string `db:"trainer_name" json:"trainer_name"`
	VehicleName string `db:"vehicle_name" json:"vehicle_name"`
	PlateNumber string `db:"plate_number" json:"plate_number"`
}

// SessionFilter narrows listSessions. Empty fields are ignored.
type SessionFilter struct {
	DateFrom     *calendar.Date
	DateTo       *calendar.Date
	TrainerID    string
	StudentID    string
	VehicleID    string
	EnrollmentID string
	Status       SessionStatus
	Limit        int
}

// AttendanceResult is returned by mark and reset.
type AttendanceResult struct {
	Session        *Session `json:"session"`
	MakeupSession  *Session `json:"makeup_session,omitempty"`
	RemovedSession *string  `json:"removed_session_id,omitempty"`
	CompletedDays  int      `json:"completed_days"`
	PlanDays       int      `json:"plan_days"`
}
