package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"calmerge/internal/model"
)

const productID = "-//calmerge//calendar export//EN"

// ExportICS renders occurrences as a VCALENDAR with one VEVENT each.
// Occurrences are already expanded, so no RRULE is emitted.
func ExportICS(name string, events []model.CalendarEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.Key().String() + "@calmerge")
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if loc := eventLocation(ev.Details); loc != "" {
			ve.SetLocation(loc)
		}
		ve.SetStatus(icsStatus(ev.Status))
		ve.SetProperty(ical.ComponentProperty("X-CALMERGE-SOURCE"), string(ev.SourceType))

		if ev.AllDay {
			ve.SetAllDayStartAt(ev.StartAt)
			end := ev.StartAt.AddDate(0, 0, 1)
			if ev.EndAt != nil && ev.EndAt.After(ev.StartAt) {
				end = *ev.EndAt
			}
			ve.SetAllDayEndAt(end)
			continue
		}
		ve.SetStartAt(ev.StartAt.UTC())
		if ev.EndAt != nil {
			ve.SetEndAt(ev.EndAt.UTC())
		}
	}

	return cal.Serialize()
}

func eventLocation(d model.Details) string {
	switch v := d.(type) {
	case model.ManualDetails:
		return v.Location
	case model.SubscriptionDetails:
		return v.Location
	case model.ReservationDetails:
		return v.Resource
	case model.HousekeepingDetails:
		return v.RoomNumber
	case model.TripDetails:
		return v.Destination
	}
	return ""
}

func icsStatus(s model.Status) ical.ObjectStatus {
	switch s {
	case model.StatusTentative, model.StatusPending:
		return ical.ObjectStatusTentative
	case model.StatusCancelled:
		return ical.ObjectStatusCancelled
	case model.StatusCompleted:
		return ical.ObjectStatusCompleted
	default:
		return ical.ObjectStatusConfirmed
	}
}
