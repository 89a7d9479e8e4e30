package recurrence

import (
	"time"
)

const (
	// AnchorTolerance: a generated instant this close to the anchor is the
	// anchor itself, not another occurrence.
	AnchorTolerance = 60 * time.Second

	// maxSteps bounds candidate generation for very old anchors or rules
	// whose window is effectively unbounded.
	maxSteps = 100000
)

// Occurrence is one instant of a series. End is zero when the anchor is
// open-ended.
type Occurrence struct {
	Start time.Time
	End   time.Time
	// Index is the 1-based position in the series; the anchor is 1.
	Index int
}

func (o Occurrence) IsAnchor() bool {
	return o.Index == 1
}

// Expand returns the occurrences of the series anchored at anchorStart
// whose start lies in [from, to), in ascending order. The anchor is
// included when its own start is in the window, independent of the rule.
//
// COUNT counts from the anchor as occurrence #1, including occurrences
// before the window. UNTIL is an inclusive date evaluated at the end of
// that day in the anchor's location. Every occurrence keeps the anchor's
// duration.
func Expand(anchorStart, anchorEnd time.Time, rule Rule, from, to time.Time) []Occurrence {
	return expand(anchorStart, anchorEnd, rule, from, to, 0)
}

// Preview lists up to n occurrences starting at or after `after` (the
// anchor's start if zero). It is Expand with an open-ended window.
func Preview(anchorStart, anchorEnd time.Time, rule Rule, after time.Time, n int) []Occurrence {
	if n <= 0 {
		return nil
	}
	if after.IsZero() || after.Before(anchorStart) {
		after = anchorStart
	}
	return expand(anchorStart, anchorEnd, rule, after, after.AddDate(100, 0, 0), n)
}

func expand(anchorStart, anchorEnd time.Time, rule Rule, from, to time.Time, limit int) []Occurrence {
	if !to.After(from) {
		return nil
	}

	var duration time.Duration
	hasEnd := !anchorEnd.IsZero()
	if hasEnd {
		duration = anchorEnd.Sub(anchorStart)
	}
	occurrence := func(start time.Time, index int) Occurrence {
		o := Occurrence{Start: start, Index: index}
		if hasEnd {
			o.End = start.Add(duration)
		}
		return o
	}

	out := make([]Occurrence, 0)
	if inWindow(anchorStart, from, to) {
		out = append(out, occurrence(anchorStart, 1))
	}
	if !rule.Enabled || (limit > 0 && len(out) >= limit) {
		return out
	}
	if rule.End == EndCount && rule.Count <= 1 {
		return out
	}

	var untilEnd time.Time
	if rule.End == EndUntil {
		untilEnd = rule.Until.In(anchorStart.Location()).AddDate(0, 0, 1)
	}

	next := newGenerator(anchorStart, rule)
	emitted := 1
	for step := 0; step < maxSteps; step++ {
		t := next()
		if !t.After(anchorStart) || absDuration(t.Sub(anchorStart)) < AnchorTolerance {
			continue
		}
		if !t.Before(to) {
			break
		}
		if !untilEnd.IsZero() && !t.Before(untilEnd) {
			break
		}
		if rule.End == EndCount && emitted >= rule.Count {
			break
		}
		emitted++
		if t.Before(from) {
			continue
		}
		out = append(out, occurrence(t, emitted))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// newGenerator returns a function yielding candidate starts in ascending
// order. Candidates at or before the anchor are filtered by the caller.
func newGenerator(anchor time.Time, rule Rule) func() time.Time {
	interval := rule.interval()
	loc := anchor.Location()
	y, m, d := anchor.Date()
	hh, mm, ss := anchor.Clock()
	ns := anchor.Nanosecond()

	switch rule.Freq {
	case Weekly:
		days := rule.Weekdays
		if days.Empty() {
			days = WeekdaySet(anchor.Weekday())
		}
		anchorWeek := weekIndex(anchor)
		offset := 0
		return func() time.Time {
			// Advance day by day; accept only weekdays in the set that fall
			// in a week that is a multiple of interval from the anchor's.
			for {
				offset++
				t := time.Date(y, m, d+offset, hh, mm, ss, ns, loc)
				if !days.Has(t.Weekday()) {
					continue
				}
				if (weekIndex(t)-anchorWeek)%interval != 0 {
					continue
				}
				return t
			}
		}

	case Monthly:
		day := rule.MonthDay
		if day == 0 {
			day = d
		}
		n := 0
		return func() time.Time {
			first := time.Date(y, m+time.Month(n*interval), 1, 0, 0, 0, 0, loc)
			n++
			return time.Date(first.Year(), first.Month(), clampDay(first.Year(), first.Month(), day), hh, mm, ss, ns, loc)
		}

	case Yearly:
		n := 0
		return func() time.Time {
			n++
			year := y + n*interval
			return time.Date(year, m, clampDay(year, m, d), hh, mm, ss, ns, loc)
		}

	default:
		n := 0
		return func() time.Time {
			n++
			return anchor.AddDate(0, 0, n*interval)
		}
	}
}

// clampDay pins day to the last day of the month when the month is
// shorter: day 31 in April yields 30, Feb 29 in a common year yields 28.
func clampDay(year int, month time.Month, day int) int {
	last := daysIn(year, month)
	if day > last {
		return last
	}
	return day
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// weekIndex numbers Monday-based weeks on the civil calendar, independent
// of DST.
func weekIndex(t time.Time) int {
	y, m, d := t.Date()
	days := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
	// 1970-01-01 was a Thursday; shift so weeks start on Monday.
	return floorDiv(days+3, 7)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
