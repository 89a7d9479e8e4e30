package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "calmerge/internal/log"
	"calmerge/internal/model"
	"calmerge/internal/recurrence"
)

// Aggregator merges every SourceReader into one ordered occurrence list.
// It holds no mutable state; each Query is independent.
type Aggregator struct {
	readers        []SourceReader
	exceptions     ExceptionStore
	loc            *time.Location
	maxOccurrences int
}

type AggregatorOption func(*Aggregator)

// WithMaxOccurrences caps the occurrences one anchor may contribute to a
// single query. Zero disables the cap.
func WithMaxOccurrences(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n >= 0 {
			a.maxOccurrences = n
		}
	}
}

// NewAggregator builds an Aggregator. Occurrences are expanded in loc so
// that recurrence steps and exception dates follow local wall-clock days.
// If loc is nil, time.Local is used.
func NewAggregator(readers []SourceReader, exceptions ExceptionStore, loc *time.Location, opts ...AggregatorOption) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	a := &Aggregator{
		readers:    readers,
		exceptions: exceptions,
		loc:        loc,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Location() *time.Location {
	return a.loc
}

type rowKey struct {
	orgID      string
	sourceType model.SourceType
	sourceID   string
}

// Query returns the occurrences of all allowed sources whose start lies in
// the window, sorted by start. Any failing reader fails the whole query.
func (a *Aggregator) Query(ctx context.Context, orgID string, w Range, f model.Filters) ([]model.CalendarEvent, error) {
	if !w.To.After(w.From) {
		return nil, invalid("window", "end must be after start")
	}

	readers := make([]SourceReader, 0, len(a.readers))
	for _, r := range a.readers {
		if f.AllowsSource(r.SourceType()) {
			readers = append(readers, r)
		}
	}

	results := make([][]model.RawEventRow, len(readers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range readers {
		g.Go(func() error {
			rows, err := fetchRows(gctx, r, orgID, w, f)
			if err != nil {
				return &SourceUnavailableError{Source: r.SourceType(), Err: err}
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		appLog.Error("aggregate: source fetch failed", err, "org_id", orgID, "from", w.From.Format(time.RFC3339), "to", w.To.Format(time.RFC3339))
		return nil, err
	}

	rows, err := mergeRows(orgID, readers, results, f)
	if err != nil {
		return nil, err
	}

	events := make([]model.CalendarEvent, 0, len(rows))
	for _, row := range rows {
		occ, err := a.expandRow(ctx, row, w)
		if err != nil {
			return nil, err
		}
		events = append(events, occ...)
	}

	SortEvents(events)
	appLog.Debug("aggregate: query done", "org_id", orgID, "sources", len(readers), "rows", len(rows), "occurrences", len(events))
	return events, nil
}

// fetchRows issues both read shapes against one reader and unions them.
func fetchRows(ctx context.Context, r SourceReader, orgID string, w Range, f model.Filters) ([]model.RawEventRow, error) {
	inWindow, err := r.FetchInWindow(ctx, orgID, w.From, w.To, f)
	if err != nil {
		return nil, fmt.Errorf("fetch in window: %w", err)
	}
	anchors, err := r.FetchRecurringAnchorsBefore(ctx, orgID, w.To, f)
	if err != nil {
		return nil, fmt.Errorf("fetch recurring anchors: %w", err)
	}
	return append(inWindow, anchors...), nil
}

// mergeRows deduplicates rows by (org, source type, source id) so an anchor
// returned by both read shapes is expanded once.
func mergeRows(orgID string, readers []SourceReader, results [][]model.RawEventRow, f model.Filters) ([]model.RawEventRow, error) {
	seen := make(map[rowKey]struct{})
	merged := make([]model.RawEventRow, 0)

	for i, rows := range results {
		st := readers[i].SourceType()
		for _, row := range rows {
			if row.SourceType == "" {
				row.SourceType = st
			}
			if row.OrgID == "" {
				row.OrgID = orgID
			}
			if row.OrgID != orgID {
				return nil, fmt.Errorf("%w: source %s returned %s/%s for org %q", ErrOrgMismatch, st, row.OrgID, row.SourceID, orgID)
			}
			if !f.Match(row) {
				continue
			}

			key := rowKey{orgID: row.OrgID, sourceType: row.SourceType, sourceID: row.SourceID}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, row)
		}
	}
	return merged, nil
}

func (a *Aggregator) expandRow(ctx context.Context, row model.RawEventRow, w Range) ([]model.CalendarEvent, error) {
	row.StartAt = row.StartAt.In(a.loc)
	if row.EndAt != nil {
		end := row.EndAt.In(a.loc)
		row.EndAt = &end
	}
	anchor := row.Event()

	var exceptions []model.CalendarException
	if row.SourceType == model.SourceManual && a.exceptions != nil && recurrence.Parse(row.RecurrenceRule).Enabled {
		list, err := a.exceptions.ListForAnchor(ctx, row.SourceID)
		if err != nil {
			return nil, &SourceUnavailableError{Source: model.SourceManual, Err: fmt.Errorf("list exceptions for %s: %w", row.SourceID, err)}
		}
		exceptions = list
	}
	return seriesEvents(anchor, exceptions, w, a.maxOccurrences), nil
}

// seriesEvents renders one record into the window: a plain event when its
// start lies in w, otherwise the occurrences of its rule with exceptions
// overlaid. limit caps the expanded occurrences; zero means no cap.
func seriesEvents(anchor model.CalendarEvent, exceptions []model.CalendarException, w Range, limit int) []model.CalendarEvent {
	rule := recurrence.Parse(anchor.RecurrenceRule)
	if !rule.Enabled {
		if w.Contains(anchor.StartAt) {
			return []model.CalendarEvent{anchor}
		}
		return nil
	}

	var anchorEnd time.Time
	if anchor.EndAt != nil {
		anchorEnd = *anchor.EndAt
	}

	expanded := recurrence.Expand(anchor.StartAt, anchorEnd, rule, w.From, w.To)
	if limit > 0 && len(expanded) > limit {
		appLog.Warn("aggregate: occurrences truncated", "source", anchor.SourceType, "id", anchor.SourceID, "expanded", len(expanded), "max", limit)
		expanded = expanded[:limit]
	}
	occurrences := occurrenceEvents(anchor, expanded)
	if len(exceptions) == 0 {
		return occurrences
	}

	adjusted := make([]model.CalendarEvent, 0, len(occurrences))
	for _, occ := range ApplyExceptions(occurrences, exceptions) {
		if w.Contains(occ.StartAt) {
			adjusted = append(adjusted, occ)
		}
	}
	return append(adjusted, relocatedInto(anchor, anchorEnd, rule, exceptions, w)...)
}

// occurrenceEvents turns expanded instants into events. The anchor keeps
// its rule; generated occurrences carry provenance metadata instead.
func occurrenceEvents(anchor model.CalendarEvent, occ []recurrence.Occurrence) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(occ))
	for _, o := range occ {
		if o.IsAnchor() {
			out = append(out, anchor)
			continue
		}
		out = append(out, generated(anchor, o))
	}
	return out
}

func generated(anchor model.CalendarEvent, o recurrence.Occurrence) model.CalendarEvent {
	ev := anchor.Clone()
	ev.RecurrenceRule = ""
	ev.StartAt = o.Start
	ev.EndAt = nil
	if !o.End.IsZero() {
		end := o.End
		ev.EndAt = &end
	}
	ev.Metadata = model.Metadata{
		model.MetaIsRecurrenceInstance: true,
		model.MetaOriginalEventID:      anchor.SourceID,
		model.MetaOccurrenceDate:       model.DateOf(o.Start).String(),
	}
	return ev
}

// relocatedInto finds modified exceptions whose original occurrence lies
// outside the window but whose new start lies inside it, and emits them
// when the series really has an occurrence on the original date.
func relocatedInto(anchor model.CalendarEvent, anchorEnd time.Time, rule recurrence.Rule, exceptions []model.CalendarException, w Range) []model.CalendarEvent {
	loc := anchor.StartAt.Location()
	var out []model.CalendarEvent
	for _, exc := range exceptions {
		if exc.Type != model.ExceptionModified || exc.NewStartAt == nil {
			continue
		}
		if !w.Contains(exc.NewStartAt.In(loc)) {
			continue
		}
		day := exc.OriginalDate.In(loc)
		occ := recurrence.Expand(anchor.StartAt, anchorEnd, rule, day, day.AddDate(0, 0, 1))
		if len(occ) == 0 {
			continue
		}
		if w.Contains(occ[0].Start) {
			// ApplyExceptions already overlaid this occurrence.
			continue
		}

		var ev model.CalendarEvent
		if occ[0].IsAnchor() {
			ev = anchor
		} else {
			ev = generated(anchor, occ[0])
		}
		out = append(out, applyModification(ev, exc))
	}
	return out
}

// SortEvents orders events by start, then by identity for stable output.
func SortEvents(events []model.CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].StartAt.Equal(events[j].StartAt) {
			return events[i].StartAt.Before(events[j].StartAt)
		}
		if events[i].SourceType != events[j].SourceType {
			return events[i].SourceType < events[j].SourceType
		}
		if events[i].SourceID != events[j].SourceID {
			return events[i].SourceID < events[j].SourceID
		}
		return events[i].Key().Occurrence < events[j].Key().Occurrence
	})
}
