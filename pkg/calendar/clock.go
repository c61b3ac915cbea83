package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	minutes int
}

// NewClock builds a Clock from hour and minute.
func NewClock(hour, minute int) (Clock, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid clock %02d:%02d", hour, minute)
	}
	return Clock{minutes: hour*60 + minute}, nil
}

// ParseClock parses an HH:MM string.
func ParseClock(s string) (Clock, error) {
	return parseClock(s, "15:04")
}

// parseStoredClock also accepts the HH:MM:SS text postgres returns for TIME
// columns. Stored times always carry zero seconds.
func parseStoredClock(s string) (Clock, error) {
	return parseClock(s, "15:04", "15:04:05")
}

func parseClock(s string, layouts ...string) (Clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock{minutes: t.Hour()*60 + t.Minute()}, nil
		}
	}
	return Clock{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
}

// MustParseClock is ParseClock for constants and tests.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.minutes
}

// Before reports whether c is earlier than other.
func (c Clock) Before(other Clock) bool {
	return c.minutes < other.minutes
}

// String formats c as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.minutes/60, c.minutes%60)
}

// MarshalJSON encodes c as "HH:MM".
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "HH:MM".
func (c *Clock) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseClock(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Scan implements sql.Scanner for TIME columns.
func (c *Clock) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*c = Clock{minutes: v.Hour()*60 + v.Minute()}
		return nil
	case []byte:
		parsed, err := parseStoredClock(string(v))
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	case string:
		parsed, err := parseStoredClock(v)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	default:
		return fmt.Errorf("calendar: cannot scan %T into Clock", src)
	}
}

// Value implements driver.Valuer.
func (c Clock) Value() (driver.Value, error) {
	return c.String(), nil
}

// Window is a half-open daily interval [Start, End).
type Window struct {
	Start Clock `json:"start_time"`
	End   Clock `json:"end_time"`
}

// NewWindow validates that start precedes end.
func NewWindow(start, end Clock) (Window, error) {
	if !start.Before(end) {
		return Window{}, fmt.Errorf("start time %s must be before end time %s", start, end)
	}
	return Window{Start: start, End: end}, nil
}

// Overlaps reports whether w and other share any instant.
func (w Window) Overlaps(other Window) bool {
	return w.Start.minutes < other.End.minutes && other.Start.minutes < w.End.minutes
}

// String formats the window as HH:MM-HH:MM.
func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}
