package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DateLayout is the wire format of period bounds and approval dates.
const DateLayout = "2006-01-02"

// Period is an inclusive range of calendar dates, both at UTC midnight.
type Period struct {
	Start time.Time
	End   time.Time
}

// ParsePeriod validates "YYYY-MM-DD" bounds. End before start is rejected.
func ParsePeriod(start, end string) (Period, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	e, err := ParseDate(end)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	if e.Before(s) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: s, End: e}, nil
}

// ParseDate parses a "YYYY-MM-DD" date at UTC midnight.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
}

// RangeStart is the first instant of the period (start 00:00:00 UTC).
func (p Period) RangeStart() time.Time {
	return p.Start
}

// RangeEnd is the last instant of the period (end 23:59:59.999 UTC).
func (p Period) RangeEnd() time.Time {
	return p.End.Add(24*time.Hour - time.Millisecond)
}

func (p Period) StartString() string { return p.Start.Format(DateLayout) }
func (p Period) EndString() string   { return p.End.Format(DateLayout) }

// StartDate and EndDate are the column values of the period bounds.
func (p Period) StartDate() datatypes.Date { return datatypes.Date(p.Start) }
func (p Period) EndDate() datatypes.Date   { return datatypes.Date(p.End) }

// Key renders the period as "start..end".
func (p Period) Key() string {
	return p.StartString() + ".." + p.EndString()
}

// WeekOf returns the Monday-start ISO week containing t.
func WeekOf(t time.Time) Period {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return Period{Start: start, End: start.AddDate(0, 0, 6)}
}

// FormatDate renders a date column as "YYYY-MM-DD".
func FormatDate(d datatypes.Date) string {
	return time.Time(d).UTC().Format(DateLayout)
}
