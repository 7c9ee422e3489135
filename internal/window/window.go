// Package window splits a date range into the bounded sub-ranges the OASIS
// API accepts in a single request.
package window

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format accepted on the command line.
const DateLayout = "2006-01-02"

// PlanningError reports an invalid range or window size. A run that fails
// planning never starts.
type PlanningError struct {
	Start  time.Time
	End    time.Time
	Reason string
}

func (e *PlanningError) Error() string {
	if e.Start.IsZero() && e.End.IsZero() {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan %s..%s: %s",
		e.Start.Format(DateLayout), e.End.Format(DateLayout), e.Reason)
}

// DateRange is an immutable [start, end] pair of UTC calendar days.
type DateRange struct {
	start time.Time
	end   time.Time
}

// NewDateRange truncates both bounds to UTC midnight and checks start <= end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s, e := day(start), day(end)
	if s.After(e) {
		return DateRange{}, &PlanningError{Start: s, End: e, Reason: "start date is after end date"}
	}
	return DateRange{start: s, end: e}, nil
}

// ParseRange parses two YYYY-MM-DD dates into a DateRange.
func ParseRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	return NewDateRange(s, e)
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, &PlanningError{Reason: fmt.Sprintf("date %q is not YYYY-MM-DD", v)}
	}
	return t, nil
}

func (r DateRange) Start() time.Time { return r.start }
func (r DateRange) End() time.Time   { return r.end }

// Days returns the number of whole days between start and end.
func (r DateRange) Days() int {
	return daysBetween(r.start, r.end)
}

func (r DateRange) String() string {
	return r.start.Format(DateLayout) + ".." + r.end.Format(DateLayout)
}

// Window is one request-sized slice of a DateRange.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the window span in days.
func (w Window) Days() int {
	return daysBetween(w.Start, w.End)
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + ".." + w.End.Format(DateLayout)
}

// Plan walks a cursor from the range start, emitting windows of at most
// maxWindowDays until the cursor reaches the range end. Consecutive windows
// share a boundary: one window's End is the next window's Start.
//
// A range with start == end yields no windows; callers treat that as nothing
// to do.
func Plan(r DateRange, maxWindowDays int) ([]Window, error) {
	if maxWindowDays <= 0 {
		return nil, &PlanningError{Start: r.start, End: r.end,
			Reason: fmt.Sprintf("window size must be positive, got %d", maxWindowDays)}
	}

	windows := make([]Window, 0, r.Days()/maxWindowDays+1)
	cursor := r.start
	for cursor.Before(r.end) {
		next := cursor.AddDate(0, 0, maxWindowDays)
		if next.After(r.end) {
			next = r.end
		}
		windows = append(windows, Window{Start: cursor, End: next})
		cursor = next
	}
	return windows, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
