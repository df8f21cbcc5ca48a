// Package period implements the half-month accounting window arithmetic.
// Every period is either the first half of a month (day 1-15) or the
// second half (day 16 to the last calendar day). A period is identified
// by its start date; all closure tables join on that date.
package period

import (
	"fmt"
	"time"
)

// Type identifies which half of the month a period covers.
type Type string

const (
	FirstHalf  Type = "FIRST_HALF"
	SecondHalf Type = "SECOND_HALF"
)

// Period is a derived value, never a stored entity. Date is the first
// day of the half-month window (always the 1st or the 16th), normalized
// to midnight UTC.
type Period struct {
	Date time.Time
	Type Type
}

// Start returns the first day of the window.
func (p Period) Start() time.Time { return p.Date }

// End returns the last day of the window, inclusive.
func (p Period) End() time.Time {
	if p.Type == FirstHalf {
		return p.Date.AddDate(0, 0, 14)
	}
	// Day 16 through the last calendar day (28/29/30/31).
	firstOfNext := time.Date(p.Date.Year(), p.Date.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}

// Contains reports whether d (truncated to its calendar day) falls
// inside the window.
func (p Period) Contains(d time.Time) bool {
	day := Day(d)
	return !day.Before(p.Start()) && !day.After(p.End())
}

func (p Period) String() string {
	return fmt.Sprintf("%s/%s", p.Date.Format("2006-01-02"), p.Type)
}

// Day truncates a timestamp to its calendar day in UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsClosureDay reports whether today is a valid trigger day for closing
// the window that just ended. Only the 1st and the 16th qualify.
func IsClosureDay(today time.Time) bool {
	d := today.UTC().Day()
	return d == 1 || d == 16
}

// PeriodToClose returns the window that just ended relative to today.
// On the 1st it is the second half of the previous month; on the 16th it
// is the first half of the current month. Any other day is an error:
// callers are expected to check IsClosureDay first.
func PeriodToClose(today time.Time) (Period, error) {
	day := Day(today)
	switch day.Day() {
	case 1:
		prev := day.AddDate(0, -1, 0) // first of previous month
		return Period{
			Date: time.Date(prev.Year(), prev.Month(), 16, 0, 0, 0, 0, time.UTC),
			Type: SecondHalf,
		}, nil
	case 16:
		return Period{
			Date: time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC),
			Type: FirstHalf,
		}, nil
	default:
		return Period{}, fmt.Errorf("day %d is not a closure day (must be 1 or 16)", day.Day())
	}
}

// NewPeriodAfterClosure returns the window that becomes open immediately
// after closing PeriodToClose(today).
func NewPeriodAfterClosure(today time.Time) (Period, error) {
	closed, err := PeriodToClose(today)
	if err != nil {
		return Period{}, err
	}
	return closed.Next(), nil
}

// Next returns the contiguous following window.
func (p Period) Next() Period {
	if p.Type == FirstHalf {
		return Period{
			Date: time.Date(p.Date.Year(), p.Date.Month(), 16, 0, 0, 0, 0, time.UTC),
			Type: SecondHalf,
		}
	}
	next := time.Date(p.Date.Year(), p.Date.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return Period{Date: next, Type: FirstHalf}
}

// ForDate returns the window containing an arbitrary date.
func ForDate(d time.Time) Period {
	day := Day(d)
	if day.Day() <= 15 {
		return Period{
			Date: time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC),
			Type: FirstHalf,
		}
	}
	return Period{
		Date: time.Date(day.Year(), day.Month(), 16, 0, 0, 0, 0, time.UTC),
		Type: SecondHalf,
	}
}

// FromStart builds the period whose window starts at the given date.
// The date must be a 1st or a 16th; anything else is an error. Used by
// the HTTP layer to validate period hints.
func FromStart(start time.Time) (Period, error) {
	day := Day(start)
	switch day.Day() {
	case 1:
		return Period{Date: day, Type: FirstHalf}, nil
	case 16:
		return Period{Date: day, Type: SecondHalf}, nil
	default:
		return Period{}, fmt.Errorf("%s is not a period start date (must be the 1st or the 16th)", day.Format("2006-01-02"))
	}
}

// ParseStart parses a YYYY-MM-DD string into the period starting there.
func ParseStart(s string) (Period, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Period{}, fmt.Errorf("parse period date %q: %w", s, err)
	}
	return FromStart(t)
}
