package recurrence

import (
	"strconv"
	"strings"
	"time"

	"calmerge/internal/model"
)

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// Weekdays is a bitset over time.Weekday (bit 0 = Sunday).
type Weekdays uint8

func WeekdaySet(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

func (w Weekdays) Empty() bool {
	return w == 0
}

// byDayOrder is the serialization order of BYDAY tokens.
var byDayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var byDayCodes = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

func (w Weekdays) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for _, d := range byDayOrder {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

type EndKind int

const (
	EndNever EndKind = iota
	EndUntil
	EndCount
)

// Rule is an immutable recurrence rule. A disabled rule means "does not
// repeat" and short-circuits expansion.
type Rule struct {
	Enabled  bool
	Freq     Frequency
	Interval int

	// Weekdays applies to WEEKLY only; empty means the anchor's weekday.
	Weekdays Weekdays
	// MonthDay applies to MONTHLY only; zero means the anchor's day.
	MonthDay int

	End   EndKind
	Until model.Date
	Count int
}

// Parse reads a rule string such as "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;COUNT=5".
//
// Parse never fails: unknown keys and malformed values are ignored and the
// recognized tokens are applied. A string without a recognized FREQ yields
// a disabled rule.
func Parse(s string) Rule {
	r := Rule{Interval: 1}

	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}

	for _, part := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			switch f := Frequency(strings.ToUpper(value)); f {
			case Daily, Weekly, Monthly, Yearly:
				r.Freq = f
				r.Enabled = true
			}
		case "INTERVAL":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				r.Interval = n
			}
		case "BYDAY":
			r.Weekdays = parseByDay(value)
		case "BYMONTHDAY":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 31 {
				r.MonthDay = n
			}
		case "UNTIL":
			if d, ok := parseUntil(value); ok {
				r.End = EndUntil
				r.Until = d
				r.Count = 0
			}
		case "COUNT":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				r.End = EndCount
				r.Count = n
				r.Until = model.Date{}
			}
		}
	}

	if r.Freq != Weekly {
		r.Weekdays = 0
	}
	if r.Freq != Monthly {
		r.MonthDay = 0
	}
	return r
}

func parseByDay(value string) Weekdays {
	var w Weekdays
	for _, tok := range strings.Split(value, ",") {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		for day, code := range byDayCodes {
			if tok == code {
				w |= 1 << uint(day)
			}
		}
	}
	return w
}

// parseUntil accepts the date part of YYYYMMDD, YYYYMMDDTHHMMSS[Z] or
// YYYY-MM-DD. Any time component is dropped.
func parseUntil(value string) (model.Date, bool) {
	if d, err := model.ParseDate(value); err == nil {
		return d, true
	}
	if len(value) < 8 {
		return model.Date{}, false
	}
	t, err := time.Parse("20060102", value[:8])
	if err != nil {
		return model.Date{}, false
	}
	return model.DateOf(t), true
}

// String serializes the rule in canonical order. Parse(r.String()).String()
// always equals r.String(). A disabled rule serializes to "".
func (r Rule) String() string {
	if !r.Enabled {
		return ""
	}

	parts := []string{"FREQ=" + string(r.Freq)}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Freq == Weekly && !r.Weekdays.Empty() {
		codes := make([]string, 0, 7)
		for _, d := range r.Weekdays.Days() {
			codes = append(codes, byDayCodes[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if r.Freq == Monthly && r.MonthDay > 0 {
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.MonthDay))
	}
	switch r.End {
	case EndUntil:
		parts = append(parts, "UNTIL="+r.Until.In(time.UTC).Format("20060102"))
	case EndCount:
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	return strings.Join(parts, ";")
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}
