package dto

// MarkAttendanceRequest marks a pending session as attended or missed.
type MarkAttendanceRequest struct {
	Status string  `json:"status" validate:"required,oneof=PRESENT ABSENT"`
	Notes  *string `json:"notes" validate:"omitempty,max=500"`
}

// ListSessionsQuery is bound from the query string of the session listings.
type ListSessionsQuery struct {
	DateFrom     string `form:"date_from" validate:"omitempty,datetime=2006-01-02"`
	DateTo       string `form:"date_to" validate:"omitempty,datetime=2006-01-02"`
	Date         string `form:"date" validate:"omitempty,datetime=2006-01-02"`
	TrainerID    string `form:"trainer_id"`
	StudentID    string `form:"student_id"`
	VehicleID    string `form:"vehicle_id"`
	EnrollmentID string `form:"enrollment_id"`
	Status       string `form:"status" validate:"omitempty,oneof=PENDING PRESENT ABSENT CANCELLED"`
	Format       string `form:"format" validate:"omitempty,oneof=csv pdf"`
	Limit        int    `form:"limit" validate:"omitempty,min=1,max=2000"`
}
