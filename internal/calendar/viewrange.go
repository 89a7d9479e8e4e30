package calendar

import (
	"fmt"
	"strings"
	"time"
)

type View string

const (
	ViewMonth  View = "month"
	ViewWeek   View = "week"
	ViewDay    View = "day"
	ViewAgenda View = "agenda"
)

func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case ViewMonth, ViewWeek, ViewDay, ViewAgenda:
		return v, nil
	case "":
		return ViewMonth, nil
	default:
		return "", invalid("view", fmt.Sprintf("unknown view %q", s))
	}
}

// ParseWeekStart maps "monday"/"sunday" to a weekday; anything else is
// Monday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// Range is a half-open [From, To) time window.
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// RangeFor computes the window a view needs for the reference date, in the
// reference date's location. It is a pure function of its arguments.
//
//   - month:  the full weeks of the grid containing the month
//   - week:   the week containing ref
//   - day:    the day containing ref
//   - agenda: the calendar month containing ref
func RangeFor(view View, ref time.Time, weekStart time.Weekday) Range {
	day := startOfDay(ref)

	switch view {
	case ViewWeek:
		from := startOfWeek(day, weekStart)
		return Range{From: from, To: from.AddDate(0, 0, 7)}

	case ViewDay:
		return Range{From: day, To: day.AddDate(0, 0, 1)}

	case ViewAgenda:
		first := startOfMonth(day)
		return Range{From: first, To: first.AddDate(0, 1, 0)}

	default:
		first := startOfMonth(day)
		last := first.AddDate(0, 1, -1)
		gridStart := startOfWeek(first, weekStart)
		gridEnd := startOfWeek(last, weekStart).AddDate(0, 0, 7)
		return Range{From: gridStart, To: gridEnd}
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfWeek(day time.Time, weekStart time.Weekday) time.Time {
	back := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDate(0, 0, -back)
}
