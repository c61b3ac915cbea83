package calendar

import (
	"errors"
	"time"
)

// MaxPlanDays bounds a single plan.
const MaxPlanDays = 365

var (
	// ErrInvalidPlanDays is returned for non-positive or oversized plans.
	ErrInvalidPlanDays = errors.New("plan days must be between 1 and 365")
	// ErrInvalidStartDate is returned for a zero or impossible start date.
	ErrInvalidStartDate = errors.New("start date is not a valid calendar date")
)

// GenerateDates lays out planDays lesson dates from start. Sundays are skipped
// and not counted when skipSundays is set.
func GenerateDates(start Date, planDays int, skipSundays bool) ([]Date, error) {
	if planDays <= 0 || planDays > MaxPlanDays {
		return nil, ErrInvalidPlanDays
	}
	if start.IsZero() || !start.Valid() {
		return nil, ErrInvalidStartDate
	}

	dates := make([]Date, 0, planDays)
	for day := start; len(dates) < planDays; day = day.AddDays(1) {
		if skipSundays && day.Weekday() == time.Sunday {
			continue
		}
		dates = append(dates, day)
	}
	return dates, nil
}

// MakeupDate returns the date appended after latest to replace a missed lesson.
func MakeupDate(latest Date, skipSundays bool) Date {
	next := latest.AddDays(1)
	if skipSundays && next.Weekday() == time.Sunday {
		next = next.AddDays(1)
	}
	return next
}
