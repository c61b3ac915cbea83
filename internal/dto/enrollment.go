package dto

import "github.com/shopspring/decimal"

// CreateEnrollmentRequest books a lesson plan. Dates are YYYY-MM-DD and times HH:MM.
type CreateEnrollmentRequest struct {
	StudentID   string           `json:"studentId" validate:"required"`
	TrainerID   string           `json:"trainerId" validate:"required"`
	VehicleID   string           `json:"vehicleId" validate:"required"`
	PlanDays    int              `json:"planDays" validate:"required,min=1,max=365"`
	StartDate   string           `json:"startDate" validate:"required,datetime=2006-01-02"`
	StartTime   string           `json:"startTime" validate:"required,clock"`
	EndTime     string           `json:"endTime" validate:"required,clock"`
	SkipSundays *bool            `json:"skipSundays"`
	TotalPrice  *decimal.Decimal `json:"totalPrice" validate:"required"`
}

// ListEnrollmentsQuery is bound from the query string.
type ListEnrollmentsQuery struct {
	Status    string `form:"status" validate:"omitempty,oneof=ACTIVE COMPLETED CANCELLED"`
	TrainerID   string           `form:"trainer_id"`
	StudentID   string           `form:"student_id"`
	VehicleID   string           `form:"vehicle_id"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}
