// SPDX-License-Identifier: MIT

// Package dates holds the date arithmetic shared by the report pipeline:
// granularity truncation and stepping, and the two wire formats used in
// report files and SQL templates.
package dates

import (
	"fmt"
	"time"
)

const (
	// DateFormat is the first-column format of report files and the
	// format of the `starts` config field.
	DateFormat = "2006-01-02"
	// TimestampFormat is the format substituted into SQL templates for
	// {from_timestamp} and {to_timestamp}.
	TimestampFormat = "20060102150405"
)

// Granularity is the time unit a report is computed in.
type Granularity string

const (
	Hours  Granularity = "hours"
	Days   Granularity = "days"
	Weeks  Granularity = "weeks"
	Months Granularity = "months"
)

// Valid reports whether g is a granularity a report may be configured with.
// Hours is supported by the arithmetic below but not accepted in configs.
func (g Granularity) Valid() bool {
	return g == Days || g == Weeks || g == Months
}

// Truncate returns the start of the period containing t. Weeks start on
// Sunday so that weekly results are already available on Monday. All results
// are UTC.
func Truncate(t time.Time, g Granularity) (time.Time, error) {
	t = t.UTC()
	switch g {
	case Hours:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC), nil
	case Days:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case Weeks:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -int(day.Weekday())), nil
	case Months:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("period %q is not valid", g)
}

// Add moves t by n granularity units. n may be negative.
func Add(t time.Time, g Granularity, n int) (time.Time, error) {
	switch g {
	case Hours:
		return t.Add(time.Duration(n) * time.Hour), nil
	case Days:
		return t.AddDate(0, 0, n), nil
	case Weeks:
		return t.AddDate(0, 0, 7*n), nil
	case Months:
		// time.AddDate normalizes day overflow into the next month
		// (May 31 minus one month would come out as May 1). Clamp to
		// the last day of the target month instead, so stepping by
		// months never moves further than the month asked for.
		y, m, d := t.Date()
		first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
		if last := first.AddDate(0, 1, -1).Day(); d > last {
			d = last
		}
		return time.Date(first.Year(), first.Month(), d,
			t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()), nil
	}
	return time.Time{}, fmt.Errorf("period %q is not valid", g)
}

// Parse reads a YYYY-MM-DD date as UTC midnight.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// Day normalizes any instant to the UTC midnight of its calendar day.
// Result rows are keyed by this so that DATE and DATETIME columns collapse
// onto the same key.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
