package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calmerge/internal/log"
	"calmerge/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// instantKeyLayout renders the original start of an instance inside a
// subscription source id.
const instantKeyLayout = "20060102T150405Z"

// ExpandConfig controls feed expansion.
type ExpandConfig struct {
	// Location is the zone rows are converted to. Nil means time.Local.
	Location *time.Location

	// From / To bound instance starts, half-open.
	From time.Time
	To   time.Time

	// MaxOccurrencesPerEvent caps one UID's instances. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the expanded rows and the UIDs that hit the cap.
type ExpandResult struct {
	Rows            []model.RawEventRow
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed feed events into one non-recurring
// subscription row per instance whose start lies in [From, To). It applies
// RRULE, EXDATE and RECURRENCE-ID overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if !cfg.To.After(cfg.From) {
		return result, errors.New("expand: To must be after From")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	rows := make([]model.RawEventRow, 0)
	for uid, baseEvents := range baseByUID {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseEvents {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			rows = append(rows, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	// Overrides whose base event is missing from the feed stand alone.
	for uid, ov := range overridesByUID {
		if _, ok := baseByUID[uid]; ok {
			continue
		}
		for _, o := range ov {
			if inRange(o.Start, cfg) {
				rows = append(rows, makeRow(o, *o.Recurrence, o.Start, o.End, cfg.Location))
			}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].StartAt.Equal(rows[j].StartAt) {
			return rows[i].StartAt.Before(rows[j].StartAt)
		}
		return rows[i].SourceID < rows[j].SourceID
	})
	result.Rows = rows
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.RawEventRow, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.RawEventRow {
	original := ev.Start
	if o, ok := findOverrideForStart(overrides, original); ok {
		ev = o
	}
	if !inRange(ev.Start, cfg) {
		return nil
	}
	return []model.RawEventRow{makeRow(ev, original, ev.Start, ev.End, cfg.Location)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.RawEventRow, bool) {
	out := make([]model.RawEventRow, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	from := cfg.From.In(ev.Start.Location())
	to := cfg.To.In(ev.Start.Location())
	occTimes := set.Between(from, to, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	duration := ev.End.Sub(ev.Start)
	for _, occStart := range occTimes {
		if !occStart.Before(to) {
			continue
		}
		var occEnd time.Time
		if ev.AllDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.AddDate(0, 0, 1)
		} else {
			occEnd = occStart.Add(duration)
		}

		inst := ev
		start, end := occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			inst = o
			start, end = o.Start, o.End
		}
		out = append(out, makeRow(inst, occStart, start, end, cfg.Location))
	}

	return out, hitCap
}

// findOverrideForStart finds the override whose RECURRENCE-ID is the
// given instance start.
func findOverrideForStart(overrides []ParsedEvent, instanceStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(instanceStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func inRange(t time.Time, cfg ExpandConfig) bool {
	return !t.Before(cfg.From) && t.Before(cfg.To)
}

// makeRow converts one instance into a subscription row. The source id is
// "feed/uid/original-start" so an overridden instance keeps its identity.
func makeRow(ev ParsedEvent, original, start, end time.Time, loc *time.Location) model.RawEventRow {
	row := model.RawEventRow{
		SourceType:  model.SourceSubscription,
		SourceID:    ev.Feed.ID + "/" + ev.UID + "/" + original.UTC().Format(instantKeyLayout),
		Title:       ev.Summary,
		Description: ev.Description,
		StartAt:     start.In(loc),
		AllDay:      ev.AllDay,
		Status:      statusFromICS(ev.Status),
		Details: model.SubscriptionDetails{
			FeedID:   ev.Feed.ID,
			UID:      ev.UID,
			Location: ev.Location,
		},
	}
	if end.After(start) {
		e := end.In(loc)
		row.EndAt = &e
	}
	return row
}

func statusFromICS(s string) model.Status {
	switch s {
	case "CANCELLED":
		return model.StatusCancelled
	case "TENTATIVE":
		return model.StatusTentative
	default:
		return model.StatusConfirmed
	}
}
