package snapshot

import (
	"fmt"
	"time"
)

const (
	// DayLayout is the calendar-day form used by the index
	DayLayout = "20060102"

	daysPerYear = 365
)

// Window is an inclusive range of calendar days
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow derives the search window from a reference instant:
// start is yearsAgo*365 days before now's calendar day, end is daysInterval days after start.
func NewWindow(now time.Time, yearsAgo, daysInterval int) (Window, error) {
	if yearsAgo < 0 {
		return Window{}, fmt.Errorf("years_ago must be >= 0, got %d", yearsAgo)
	}
	if daysInterval < 0 {
		return Window{}, fmt.Errorf("days_interval must be >= 0, got %d", daysInterval)
	}

	start := CalendarDay(now).AddDate(0, 0, -daysPerYear*yearsAgo)
	return Window{
		Start: start,
		End:   start.AddDate(0, 0, daysInterval),
	}, nil
}

// CalendarDay truncates t to midnight UTC of its local calendar date
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days returns every calendar day in the window, both ends included
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Len is the number of days covered by the window
func (w Window) Len() int {
	if w.End.Before(w.Start) {
		return 0
	}
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

func (w Window) String() string {
	return w.Start.Format(DayLayout) + "-" + w.End.Format(DayLayout)
}
