package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment is a lesson plan: planDays daily sessions for one student with one
// trainer and one vehicle inside a fixed daily window.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	TenantID      string           `db:"tenant_id" json:"tenant_id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	TrainerID     string           `db:"trainer_id" json:"trainer_id"`
	VehicleID     string           `db:"vehicle_id" json:"vehicle_id"`
	PlanDays      int              `db:"plan_days" json:"plan_days"`
	CompletedDays int              `db:"completed_days" json:"completed_days"`
	StartDate     calendar.Date    `db:"start_date" json:"start_date"`
	StartTime     calendar.Clock   `db:"start_time" json:"start_time"`
	EndTime       calendar.Clock   `db:"end_time" json:"end_time"`
	SkipSundays   bool             `db:"skip_sundays" json:"skip_sundays"`
	TotalPrice    decimal.Decimal  `db:"total_price" json:"total_price"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	CreatedBy     string           `db:"created_by" json:"created_by"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Window returns the daily lesson window.
func (e Enrollment) Window() calendar.Window {
	return calendar.Window{Start: e.StartTime, End: e.EndTime}
}

// VisibleTo reports whether the actor may read the enrollment.
func (e Enrollment) VisibleTo(actor Actor) bool {
	if e.TenantID != actor.TenantID {
		return false
	}
	switch actor.Role {
	case RoleSuperAdmin, RoleCompanyAdmin:
		return true
	case RoleTrainer:
		return e.TrainerID == actor.UserID
	case RoleStudent:
		return e.StudentID == actor.UserID
	default:
		return false
	}
}

// EnrollmentDetail enriches Enrollment with participant names.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	TrainerName string `db:"trainer_name" json:"trainer_name"`
	VehicleName string `db:"vehicle_name" json:"vehicle_name"`
	PlateNumber string `db:"plate_number" json:"plate_number"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	Status    EnrollmentStatus
	TrainerID string
	StudentID string
	VehicleID string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
