package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// Progress is the ledger view of one enrollment.
type Progress struct {
	Enrollment    EnrollmentDetail `json:"enrollment"`
	Sessions      []SessionDetail  `json:"sessions"`
	Payments      []Payment        `json:"payments"`
	PresentCount  int              `json:"present_count"`
	AbsentCount   int              `json:"absent_count"`
	PendingCount  int              `json:"pending_count"`
	RemainingDays int              `json:"remaining_days"`
	TotalPaid     decimal.Decimal  `json:"total_paid"`
	Balance       decimal.Decimal  `json:"balance"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// TenantCounts aggregates headline numbers for a company dashboard.
type TenantCounts struct {
	Students          int `db:"students" json:"students"`
	Trainers          int `db:"trainers" json:"trainers"`
	ActiveVehicles    int `db:"active_vehicles" json:"active_vehicles"`
	ActiveEnrollments int `db:"active_enrollments" json:"active_enrollments"`
}

// CompanyDashboard is the admin landing view.
type CompanyDashboard struct {
	Date             calendar.Date   `json:"date"`
	Counts           TenantCounts    `json:"counts"`
	TodaySessions    []SessionDetail `json:"today_sessions"`
	OverdueSessions  []SessionDetail `json:"overdue_sessions"`
	UpcomingSessions []SessionDetail `json:"upcoming_sessions"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// TrainerDashboard is the trainer landing view.
type TrainerDashboard struct {
	TrainerID        string          `json:"trainer_id"`
	Date             calendar.Date   `json:"date"`
	TodaySessions    []SessionDetail `json:"today_sessions"`
	PresentThisMonth int             `json:"present_this_month"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// DoubleBookingReport is produced by the double-booking audit.
type DoubleBookingReport struct {
	TenantID    string          `json:"tenant_id"`
	Items       []DoubleBooking `json:"items"`
	GeneratedAt time.Time       `json:"generated_at"`
}
