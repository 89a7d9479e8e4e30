package recurrence

import (
	"strconv"
	"strings"
)

var frequencyUnits = map[Frequency]string{
	Daily:   "day",
	Weekly:  "week",
	Monthly: "month",
	Yearly:  "year",
}

var shortDayNames = map[string]string{
	"MO": "Mon", "TU": "Tue", "WE": "Wed", "TH": "Thu", "FR": "Fri", "SA": "Sat", "SU": "Sun",
}

// Describe renders the rule for humans, e.g. "Every 2 weeks on Mon, Wed, 5 times".
func (r Rule) Describe() string {
	if !r.Enabled {
		return "Does not repeat"
	}

	var b strings.Builder
	unit := frequencyUnits[r.Freq]
	if r.interval() == 1 {
		b.WriteString("Every " + unit)
	} else {
		b.WriteString("Every " + strconv.Itoa(r.interval()) + " " + unit + "s")
	}

	if r.Freq == Weekly && !r.Weekdays.Empty() {
		names := make([]string, 0, 7)
		for _, d := range r.Weekdays.Days() {
			names = append(names, shortDayNames[byDayCodes[d]])
		}
		b.WriteString(" on " + strings.Join(names, ", "))
	}
	if r.Freq == Monthly && r.MonthDay > 0 {
		b.WriteString(" on day " + strconv.Itoa(r.MonthDay))
	}

	switch r.End {
	case EndUntil:
		b.WriteString(", until " + r.Until.String())
	case EndCount:
		if r.Count == 1 {
			b.WriteString(", once")
		} else {
			b.WriteString(", " + strconv.Itoa(r.Count) + " times")
		}
	}
	return b.String()
}
