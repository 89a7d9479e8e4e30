package calendar

import (
	"calmerge/internal/model"
)

// ApplyExceptions overlays per-date exceptions on the occurrences of one
// recurring anchor. Matching is by calendar date of the expanded start, not
// by instant. A cancelled match drops the occurrence; a modified match
// replaces the fields the exception sets. Exceptions whose date is not
// among the occurrences are ignored.
func ApplyExceptions(occurrences []model.CalendarEvent, exceptions []model.CalendarException) []model.CalendarEvent {
	if len(exceptions) == 0 {
		return occurrences
	}

	byDate := make(map[model.Date]model.CalendarException, len(exceptions))
	for _, exc := range exceptions {
		byDate[exc.OriginalDate] = exc
	}

	out := make([]model.CalendarEvent, 0, len(occurrences))
	for _, occ := range occurrences {
		exc, ok := byDate[model.DateOf(occ.StartAt)]
		if !ok {
			out = append(out, occ)
			continue
		}

		switch exc.Type {
		case model.ExceptionCancelled:
			continue
		case model.ExceptionModified:
			out = append(out, applyModification(occ, exc))
		default:
			out = append(out, occ)
		}
	}
	return out
}

func applyModification(occ model.CalendarEvent, exc model.CalendarException) model.CalendarEvent {
	out := occ.Clone()
	if exc.NewStartAt != nil {
		out.StartAt = *exc.NewStartAt
	}
	if exc.NewEndAt != nil {
		end := *exc.NewEndAt
		out.EndAt = &end
	}
	if exc.NewTitle != nil {
		out.Title = *exc.NewTitle
	}
	if exc.NewDescription != nil {
		out.Description = *exc.NewDescription
	}
	return out
}
