// Package businesshours provides deadline arithmetic over working hours.
// Approval timeouts are expressed in business hours so a request filed on
// Friday afternoon does not quietly expire over the weekend.
package businesshours

import "time"

// Default working window.
const (
	DefaultStartHour = 8
	DefaultEndHour   = 18
)

// Calendar describes a working-hours schedule. Hours are whole-hour local
// clock values; Days lists the working weekdays.
type Calendar struct {
	StartHour int
	EndHour   int
	Days      map[time.Weekday]bool
	Location  *time.Location
}

// NewCalendar returns the default schedule: 08:00 to 18:00, Monday
// through Friday, in the given location. A nil location means UTC.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}

	return &Calendar{
		StartHour: DefaultStartHour,
		EndHour:   DefaultEndHour,
		Days: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		Location: loc,
	}
}

// Add returns the instant that is the given number of business hours after
// from. Time outside the working window does not count toward the total, so
// a deadline started late Friday lands the following week.
func (c *Calendar) Add(from time.Time, hours int) time.Time {
	remaining := time.Duration(hours) * time.Hour
	cursor := from.In(c.Location)

	for remaining > 0 {
		cursor = c.nextWorkingInstant(cursor)

		dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), c.EndHour, 0, 0, 0, c.Location)

		available := dayEnd.Sub(cursor)
		if available >= remaining {
			return cursor.Add(remaining)
		}

		remaining -= available
		cursor = dayEnd
	}

	return cursor
}

// InWindow reports whether t falls inside the working window.
func (c *Calendar) InWindow(t time.Time) bool {
	local := t.In(c.Location)

	if !c.Days[local.Weekday()] {
		return false
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), c.StartHour, 0, 0, 0, c.Location)
	dayEnd := time.Date(local.Year(), local.Month(), local.Day(), c.EndHour, 0, 0, 0, c.Location)

	return !local.Before(dayStart) && local.Before(dayEnd)
}

// nextWorkingInstant returns t if it is inside the window, otherwise the
// start of the next working day.
func (c *Calendar) nextWorkingInstant(t time.Time) time.Time {
	cursor := t

	for {
		dayStart := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), c.StartHour, 0, 0, 0, c.Location)
		dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), c.EndHour, 0, 0, 0, c.Location)

		if c.Days[cursor.Weekday()] {
			if cursor.Before(dayStart) {
				return dayStart
			}
			if cursor.Before(dayEnd) {
				return cursor
			}
		}

		cursor = time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, c.Location).AddDate(0, 0, 1)
	}
}
