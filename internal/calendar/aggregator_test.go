package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"calmerge/internal/model"
)

func jan2024() Range {
	return Range{From: at(2024, 1, 1, 0, 0), To: at(2024, 2, 1, 0, 0)}
}

func weeklyStandup() model.RawEventRow {
	return model.RawEventRow{
		OrgID:          "org1",
		SourceType:     model.SourceManual,
		SourceID:       "standup",
		Title:          "Standup",
		StartAt:        at(2024, 1, 1, 10, 0),
		EndAt:          ptr(at(2024, 1, 1, 11, 0)),
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=3",
	}
}

func TestQuery_WeeklyAnchorWithCancelledException(t *testing.T) {
	t.Parallel()

	exc := newFakeExceptions()
	exc.byOwner["standup"] = []model.CalendarException{{
		ID:           "x1",
		OwnerID:      "standup",
		OriginalDate: model.Date{Year: 2024, Month: time.January, Day: 8},
		Type:         model.ExceptionCancelled,
	}}
	reader := &fakeReader{st: model.SourceManual, rows: []model.RawEventRow{weeklyStandup()}}
	agg := NewAggregator([]SourceReader{reader}, exc, time.UTC)

	got, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(got))
	}
	if !got[0].StartAt.Equal(at(2024, 1, 1, 10, 0)) || !got[1].StartAt.Equal(at(2024, 1, 15, 10, 0)) {
		t.Fatalf("unexpected starts: %v, %v", got[0].StartAt, got[1].StartAt)
	}

	anchor, instance := got[0], got[1]
	if anchor.IsRecurrenceInstance() || anchor.RecurrenceRule == "" {
		t.Fatalf("anchor should keep its rule and carry no instance metadata: %+v", anchor)
	}
	if !instance.IsRecurrenceInstance() || instance.RecurrenceRule != "" {
		t.Fatalf("generated occurrence should be tagged and rule-less: %+v", instance)
	}
	if instance.Metadata[model.MetaOriginalEventID] != "standup" || instance.Metadata[model.MetaOccurrenceDate] != "2024-01-15" {
		t.Fatalf("unexpected metadata: %v", instance.Metadata)
	}
	if instance.Duration() != time.Hour {
		t.Fatalf("duration not preserved: %v", instance.Duration())
	}
}

func TestQuery_ModifiedExceptionOverridesFields(t *testing.T) {
	t.Parallel()

	exc := newFakeExceptions()
	exc.byOwner["standup"] = []model.CalendarException{{
		OwnerID:      "standup",
		OriginalDate: model.Date{Year: 2024, Month: time.January, Day: 8},
		Type:         model.ExceptionModified,
		NewStartAt:   ptr(at(2024, 1, 8, 14, 0)),
		NewEndAt:     ptr(at(2024, 1, 8, 15, 30)),
		NewTitle:     ptr("Standup (moved)"),
	}}
	reader := &fakeReader{st: model.SourceManual, rows: []model.RawEventRow{weeklyStandup()}}
	agg := NewAggregator([]SourceReader{reader}, exc, time.UTC)

	got, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(got))
	}
	moved := got[1]
	if moved.Title != "Standup (moved)" || !moved.StartAt.Equal(at(2024, 1, 8, 14, 0)) {
		t.Fatalf("modification not applied: %+v", moved)
	}
	if moved.Duration() != 90*time.Minute {
		t.Fatalf("unexpected duration %v", moved.Duration())
	}
}

func TestQuery_RelocatedExceptionEntersWindow(t *testing.T) {
	t.Parallel()

	// The Jan 29 occurrence is moved to Feb 2; querying February must show
	// it even though its original date is in January.
	exc := newFakeExceptions()
	row := weeklyStandup()
	row.RecurrenceRule = "FREQ=WEEKLY;BYDAY=MO"
	exc.byOwner["standup"] = []model.CalendarException{{
		OwnerID:      "standup",
		OriginalDate: model.Date{Year: 2024, Month: time.January, Day: 29},
		Type:         model.ExceptionModified,
		NewStartAt:   ptr(at(2024, 2, 2, 9, 0)),
		NewEndAt:     ptr(at(2024, 2, 2, 10, 0)),
	}}
	reader := &fakeReader{st: model.SourceManual, rows: []model.RawEventRow{row}}
	agg := NewAggregator([]SourceReader{reader}, exc, time.UTC)

	got, err := agg.Query(context.Background(), "org1", Range{From: at(2024, 2, 1, 0, 0), To: at(2024, 2, 8, 0, 0)}, model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected relocated + Feb 5 occurrence, got %d", len(got))
	}
	if !got[0].StartAt.Equal(at(2024, 2, 2, 9, 0)) || got[0].Metadata[model.MetaOccurrenceDate] != "2024-01-29" {
		t.Fatalf("unexpected relocated occurrence: %+v", got[0])
	}
	if !got[1].StartAt.Equal(at(2024, 2, 5, 10, 0)) {
		t.Fatalf("unexpected second occurrence: %v", got[1].StartAt)
	}
}

func TestQuery_DeduplicatesAnchorReturnedByBothShapes(t *testing.T) {
	t.Parallel()

	// The anchor starts inside the window, so both read shapes return it.
	reader := &fakeReader{st: model.SourceManual, rows: []model.RawEventRow{weeklyStandup()}}
	agg := NewAggregator([]SourceReader{reader}, nil, time.UTC)

	got, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 occurrences without duplicates, got %d", len(got))
	}
	seen := make(map[model.EventKey]bool)
	for _, ev := range got {
		if seen[ev.Key()] {
			t.Fatalf("duplicate occurrence %s", ev.Key())
		}
		seen[ev.Key()] = true
	}
}

func TestQuery_NonRecurringAppearsOnce(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{st: model.SourceTask, rows: []model.RawEventRow{
		{SourceID: "t1", Title: "Review", StartAt: at(2024, 1, 10, 9, 0)},
		{SourceID: "t2", Title: "Before", StartAt: at(2023, 12, 31, 9, 0)},
		{SourceID: "t3", Title: "Boundary", StartAt: at(2024, 2, 1, 0, 0)},
	}}
	agg := NewAggregator([]SourceReader{reader}, nil, time.UTC)

	got, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "t1" {
		t.Fatalf("expected only t1, got %+v", got)
	}
	if got[0].SourceType != model.SourceTask || got[0].OrgID != "org1" || got[0].Status != model.StatusConfirmed {
		t.Fatalf("row defaults not applied: %+v", got[0])
	}
}

func TestQuery_SortsAcrossSources(t *testing.T) {
	t.Parallel()

	shifts := &fakeReader{st: model.SourceShift, rows: []model.RawEventRow{
		{SourceID: "s1", Title: "Late", StartAt: at(2024, 1, 3, 16, 0)},
		{SourceID: "s2", Title: "Early", StartAt: at(2024, 1, 3, 7, 0)},
	}}
	tasks := &fakeReader{st: model.SourceTask, rows: []model.RawEventRow{
		{SourceID: "t1", Title: "Same time", StartAt: at(2024, 1, 3, 7, 0)},
		{SourceID: "t2", Title: "First", StartAt: at(2024, 1, 2, 12, 0)},
	}}
	agg := NewAggregator([]SourceReader{shifts, tasks}, nil, time.UTC)

	got, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"t2", "s2", "t1", "s1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].SourceID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].SourceID, id)
		}
	}
}

func TestQuery_SourceFailureFailsWholeQuery(t *testing.T) {
	t.Parallel()

	ok := &fakeReader{st: model.SourceTask, rows: []model.RawEventRow{{SourceID: "t1", StartAt: at(2024, 1, 2, 9, 0)}}}
	broken := &fakeReader{st: model.SourceShift, err: errBackend}
	agg := NewAggregator([]SourceReader{ok, broken}, nil, time.UTC)

	got, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{})
	if err == nil {
		t.Fatalf("expected error, got %d events", len(got))
	}
	if !errors.Is(err, ErrSourceUnavailable) || !errors.Is(err, errBackend) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
	var sue *SourceUnavailableError
	if !errors.As(err, &sue) || sue.Source != model.SourceShift {
		t.Fatalf("expected shift to be named, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("source failures should be retryable")
	}
	if got != nil {
		t.Fatalf("partial results returned: %+v", got)
	}
}

func TestQuery_ExceptionStoreFailure(t *testing.T) {
	t.Parallel()

	exc := newFakeExceptions()
	exc.err = errBackend
	reader := &fakeReader{st: model.SourceManual, rows: []model.RawEventRow{weeklyStandup()}}
	agg := NewAggregator([]SourceReader{reader}, exc, time.UTC)

	if _, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{}); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestQuery_RejectsRowsOfAnotherOrg(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{st: model.SourceTask, rows: []model.RawEventRow{
		{OrgID: "leak", SourceID: "t1", StartAt: at(2024, 1, 2, 9, 0)},
	}}
	agg := NewAggregator([]SourceReader{reader}, nil, time.UTC)

	if _, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{}); !errors.Is(err, ErrOrgMismatch) {
		t.Fatalf("expected ErrOrgMismatch, got %v", err)
	}
}

func TestQuery_Filters(t *testing.T) {
	t.Parallel()

	tasks := &fakeReader{st: model.SourceTask, rows: []model.RawEventRow{
		{SourceID: "t1", StartAt: at(2024, 1, 2, 9, 0), BranchID: "b1", AssignedTo: "u1"},
		{SourceID: "t2", StartAt: at(2024, 1, 3, 9, 0), BranchID: "b2", AssignedTo: "u1"},
		{SourceID: "t3", StartAt: at(2024, 1, 4, 9, 0), BranchID: "b1", AssignedTo: "u2", Status: model.StatusCancelled},
	}}
	shifts := &fakeReader{st: model.SourceShift, rows: []model.RawEventRow{
		{SourceID: "s1", StartAt: at(2024, 1, 2, 9, 0), BranchID: "b1"},
	}}

	tests := []struct {
		name   string
		filter model.Filters
		want   []string
	}{
		{name: "none", want: []string{"s1", "t1", "t2", "t3"}},
		{name: "branch", filter: model.Filters{BranchID: "b1"}, want: []string{"s1", "t1", "t3"}},
		{name: "assignee", filter: model.Filters{AssigneeID: "u1"}, want: []string{"t1", "t2"}},
		{name: "status", filter: model.Filters{Statuses: []model.Status{model.StatusCancelled}}, want: []string{"t3"}},
		{name: "source", filter: model.Filters{SourceTypes: []model.SourceType{model.SourceShift}}, want: []string{"s1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			agg := NewAggregator([]SourceReader{tasks, shifts}, nil, time.UTC)
			got, err := agg.Query(context.Background(), "org1", jan2024(), tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %d events", tt.want, len(got))
			}
			for i, id := range tt.want {
				if got[i].SourceID != id {
					t.Fatalf("position %d: got %s, want %s", i, got[i].SourceID, id)
				}
			}
		})
	}
}

func TestQuery_SkipsExcludedReaders(t *testing.T) {
	t.Parallel()

	tasks := &fakeReader{st: model.SourceTask}
	shifts := &fakeReader{st: model.SourceShift}
	agg := NewAggregator([]SourceReader{tasks, shifts}, nil, time.UTC)

	if _, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{SourceTypes: []model.SourceType{model.SourceShift}}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if tasks.calls != 0 || shifts.calls != 1 {
		t.Fatalf("expected only shifts to be read, got tasks=%d shifts=%d", tasks.calls, shifts.calls)
	}
}

func TestQuery_InvalidWindow(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil, nil, time.UTC)
	_, err := agg.Query(context.Background(), "org1", Range{From: at(2024, 1, 2, 0, 0), To: at(2024, 1, 1, 0, 0)}, model.Filters{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestQuery_MaxOccurrencesPerAnchor(t *testing.T) {
	t.Parallel()

	row := weeklyStandup()
	row.RecurrenceRule = "FREQ=DAILY"
	reader := &fakeReader{st: model.SourceManual, rows: []model.RawEventRow{row}}
	agg := NewAggregator([]SourceReader{reader}, nil, time.UTC, WithMaxOccurrences(5))

	got, err := agg.Query(context.Background(), "org1", jan2024(), model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 5 || !got[4].StartAt.Equal(at(2024, 1, 5, 10, 0)) {
		t.Fatalf("expected the first 5 daily occurrences, got %d", len(got))
	}
}

func TestQuery_ModifiedOccurrenceInUnalignedWindowAppearsOnce(t *testing.T) {
	t.Parallel()

	row := weeklyStandup()
	row.StartAt = at(2024, 1, 1, 13, 0)
	row.EndAt = ptr(at(2024, 1, 1, 14, 0))
	row.RecurrenceRule = "FREQ=DAILY"
	exc := newFakeExceptions()
	exc.byOwner["standup"] = []model.CalendarException{{
		OwnerID:      "standup",
		OriginalDate: model.Date{Year: 2024, Month: time.January, Day: 10},
		Type:         model.ExceptionModified,
		NewStartAt:   ptr(at(2024, 1, 10, 15, 0)),
		NewEndAt:     ptr(at(2024, 1, 10, 16, 0)),
	}}
	reader := &fakeReader{st: model.SourceManual, rows: []model.RawEventRow{row}}
	agg := NewAggregator([]SourceReader{reader}, exc, time.UTC)

	got, err := agg.Query(context.Background(), "org1", Range{From: at(2024, 1, 10, 12, 0), To: at(2024, 1, 11, 12, 0)}, model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the modified occurrence once, got %d: %+v", len(got), got)
	}
	if !got[0].StartAt.Equal(at(2024, 1, 10, 15, 0)) || got[0].Metadata[model.MetaOccurrenceDate] != "2024-01-10" {
		t.Fatalf("unexpected occurrence %+v", got[0])
	}
}
