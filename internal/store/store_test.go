package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"calmerge/internal/calendar"
	"calmerge/internal/model"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestManualWriterRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	ev, err := s.Insert(ctx, model.EventDraft{
		OrgID:          "org1",
		Title:          "Yoga",
		StartAt:        at(2024, 1, 3, 9, 0),
		EndAt:          ptr(at(2024, 1, 3, 10, 0)),
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=WE",
		Color:          "#ff0000",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ev.SourceID == "" || ev.Status != model.StatusConfirmed {
		t.Fatalf("unexpected inserted event %+v", ev)
	}

	got, err := s.Get(ctx, ev.SourceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(ev) {
		t.Fatalf("Get = %+v, want %+v", got, ev)
	}
	if d, ok := got.Details.(model.ManualDetails); !ok || d.Color != "#ff0000" {
		t.Fatalf("details not stored: %#v", got.Details)
	}

	title := "Hot yoga"
	newStart := at(2024, 1, 3, 18, 0)
	if err := s.UpdatePatch(ctx, ev.SourceID, model.EventPatch{Title: &title, StartAt: &newStart}); err != nil {
		t.Fatalf("UpdatePatch: %v", err)
	}
	got, _ = s.Get(ctx, ev.SourceID)
	if got.Title != title || !got.StartAt.Equal(newStart) || !got.EndAt.Equal(at(2024, 1, 3, 10, 0)) {
		t.Fatalf("patch not applied correctly: %+v", got)
	}

	if err := s.UpdatePatch(ctx, "missing", model.EventPatch{Title: &title}); !errors.Is(err, calendar.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesExceptions(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	ev, err := s.Insert(ctx, model.EventDraft{OrgID: "org1", Title: "Class", StartAt: at(2024, 1, 1, 10, 0), RecurrenceRule: "FREQ=DAILY"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	jan2 := model.Date{Year: 2024, Month: time.January, Day: 2}
	if _, err := s.CreateException(ctx, model.CalendarException{OwnerID: ev.SourceID, OriginalDate: jan2, Type: model.ExceptionCancelled}); err != nil {
		t.Fatalf("CreateException: %v", err)
	}

	if err := s.Delete(ctx, ev.SourceID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, ev.SourceID); !errors.Is(err, calendar.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	list, err := s.ListForAnchor(ctx, ev.SourceID)
	if err != nil || len(list) != 0 {
		t.Fatalf("exceptions survived delete: %v %v", list, err)
	}
	if err := s.Delete(ctx, ev.SourceID); !errors.Is(err, calendar.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestExceptionStore(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	jan8 := model.Date{Year: 2024, Month: time.January, Day: 8}
	jan1 := model.Date{Year: 2024, Month: time.January, Day: 1}

	created, err := s.CreateException(ctx, model.CalendarException{
		OwnerID:      "a1",
		OriginalDate: jan8,
		Type:         model.ExceptionModified,
		NewStartAt:   ptr(at(2024, 1, 8, 14, 0)),
		NewTitle:     ptr("Moved"),
	})
	if err != nil {
		t.Fatalf("CreateException: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("id not assigned")
	}
	if _, err := s.CreateException(ctx, model.CalendarException{OwnerID: "a1", OriginalDate: jan8, Type: model.ExceptionCancelled}); err == nil {
		t.Fatalf("expected unique violation for duplicate date")
	}
	if _, err := s.CreateException(ctx, model.CalendarException{OwnerID: "a1", OriginalDate: jan1, Type: model.ExceptionCancelled}); err != nil {
		t.Fatalf("CreateException: %v", err)
	}

	list, err := s.ListForAnchor(ctx, "a1")
	if err != nil {
		t.Fatalf("ListForAnchor: %v", err)
	}
	if len(list) != 2 || list[0].OriginalDate != jan1 || list[1].OriginalDate != jan8 {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[1].NewEndAt != nil || list[1].NewDescription != nil || *list[1].NewTitle != "Moved" || !list[1].NewStartAt.Equal(at(2024, 1, 8, 14, 0)) {
		t.Fatalf("nullable fields not preserved: %+v", list[1])
	}

	if err := s.UpdateException(ctx, model.CalendarException{OwnerID: "a1", OriginalDate: jan8, Type: model.ExceptionCancelled}); err != nil {
		t.Fatalf("UpdateException: %v", err)
	}
	list, _ = s.ListForAnchor(ctx, "a1")
	if list[1].Type != model.ExceptionCancelled || list[1].NewTitle != nil {
		t.Fatalf("update not applied: %+v", list[1])
	}

	if err := s.DeleteException(ctx, "a1", jan8); err != nil {
		t.Fatalf("DeleteException: %v", err)
	}
	if err := s.DeleteException(ctx, "a1", jan8); !errors.Is(err, calendar.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManualReaderShapes(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()
	insert := func(d model.EventDraft) model.CalendarEvent {
		t.Helper()
		ev, err := s.Insert(ctx, d)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		return ev
	}

	old := insert(model.EventDraft{OrgID: "org1", Title: "Old series", StartAt: at(2023, 6, 5, 10, 0), RecurrenceRule: "FREQ=WEEKLY"})
	inside := insert(model.EventDraft{OrgID: "org1", Title: "Inside", StartAt: at(2024, 1, 10, 10, 0), BranchID: "b1"})
	insert(model.EventDraft{OrgID: "org1", Title: "After", StartAt: at(2024, 2, 10, 10, 0), RecurrenceRule: "FREQ=DAILY"})
	insert(model.EventDraft{OrgID: "org2", Title: "Other org", StartAt: at(2024, 1, 10, 10, 0)})

	r, err := s.Reader(model.SourceManual)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	from, to := at(2024, 1, 1, 0, 0), at(2024, 2, 1, 0, 0)

	inWindow, err := r.FetchInWindow(ctx, "org1", from, to, model.Filters{})
	if err != nil {
		t.Fatalf("FetchInWindow: %v", err)
	}
	if len(inWindow) != 1 || inWindow[0].SourceID != inside.SourceID {
		t.Fatalf("unexpected in-window rows %+v", inWindow)
	}

	anchors, err := r.FetchRecurringAnchorsBefore(ctx, "org1", to, model.Filters{})
	if err != nil {
		t.Fatalf("FetchRecurringAnchorsBefore: %v", err)
	}
	if len(anchors) != 1 || anchors[0].SourceID != old.SourceID {
		t.Fatalf("unexpected anchors %+v", anchors)
	}

	filtered, err := r.FetchInWindow(ctx, "org1", from, to, model.Filters{BranchID: "b2"})
	if err != nil || len(filtered) != 0 {
		t.Fatalf("branch filter not pushed down: %v %v", filtered, err)
	}
}

func TestUpsertSourceRows(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	rows := []model.RawEventRow{
		{OrgID: "org1", SourceType: model.SourceShift, SourceID: "s1", Title: "Morning", StartAt: at(2024, 1, 2, 7, 0), EndAt: ptr(at(2024, 1, 2, 15, 0)), Details: model.ShiftDetails{Role: "cook"}},
		{OrgID: "org1", SourceType: model.SourceGymClass, SourceID: "g1", Title: "Spin", StartAt: at(2023, 9, 4, 18, 0), RecurrenceRule: "FREQ=WEEKLY", Status: model.StatusTentative},
	}
	n, err := s.UpsertSourceRows(ctx, rows)
	if err != nil || n != 2 {
		t.Fatalf("UpsertSourceRows = %d, %v", n, err)
	}

	rows[0].Title = "Morning (changed)"
	if _, err := s.UpsertSourceRows(ctx, rows[:1]); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	shifts, _ := s.Reader(model.SourceShift)
	got, err := shifts.FetchInWindow(ctx, "org1", at(2024, 1, 1, 0, 0), at(2024, 2, 1, 0, 0), model.Filters{})
	if err != nil {
		t.Fatalf("FetchInWindow: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Morning (changed)" {
		t.Fatalf("upsert did not replace row: %+v", got)
	}
	if d, ok := got[0].Details.(model.ShiftDetails); !ok || d.Role != "cook" {
		t.Fatalf("details not decoded: %#v", got[0].Details)
	}

	gym, _ := s.Reader(model.SourceGymClass)
	anchors, err := gym.FetchRecurringAnchorsBefore(ctx, "org1", at(2024, 2, 1, 0, 0), model.Filters{Statuses: []model.Status{model.StatusTentative}})
	if err != nil || len(anchors) != 1 {
		t.Fatalf("expected gym anchor, got %v %v", anchors, err)
	}

	bad := []model.RawEventRow{{OrgID: "org1", SourceType: model.SourceManual, SourceID: "x", StartAt: at(2024, 1, 1, 0, 0)}}
	if _, err := s.UpsertSourceRows(ctx, bad); err == nil {
		t.Fatalf("manual rows must not be importable")
	}
	mismatched := []model.RawEventRow{{OrgID: "org1", SourceType: model.SourceTrip, SourceID: "x", StartAt: at(2024, 1, 1, 0, 0), Details: model.TaskDetails{}}}
	if _, err := s.UpsertSourceRows(ctx, mismatched); err == nil {
		t.Fatalf("expected error for mismatched details")
	}
}

func TestStoreWithAggregator(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	ev, err := s.Insert(ctx, model.EventDraft{
		OrgID:          "org1",
		Title:          "Standup",
		StartAt:        at(2024, 1, 1, 10, 0),
		EndAt:          ptr(at(2024, 1, 1, 11, 0)),
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=3",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	jan8 := model.Date{Year: 2024, Month: time.January, Day: 8}
	if _, err := s.CreateException(ctx, model.CalendarException{OwnerID: ev.SourceID, OriginalDate: jan8, Type: model.ExceptionCancelled}); err != nil {
		t.Fatalf("CreateException: %v", err)
	}
	if _, err := s.UpsertSourceRows(ctx, []model.RawEventRow{
		{OrgID: "org1", SourceType: model.SourceTask, SourceID: "t1", Title: "Report", StartAt: at(2024, 1, 9, 12, 0)},
	}); err != nil {
		t.Fatalf("UpsertSourceRows: %v", err)
	}

	agg := calendar.NewAggregator(s.Readers(), s, time.UTC)
	got, err := agg.Query(ctx, "org1", calendar.Range{From: at(2024, 1, 1, 0, 0), To: at(2024, 2, 1, 0, 0)}, model.Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []time.Time{at(2024, 1, 1, 10, 0), at(2024, 1, 9, 12, 0), at(2024, 1, 15, 10, 0)}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].StartAt.Equal(want[i]) {
			t.Fatalf("event %d starts %v, want %v", i, got[i].StartAt, want[i])
		}
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "calmerge.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Insert(context.Background(), model.EventDraft{OrgID: "org1", Title: "x", StartAt: at(2024, 1, 1, 0, 0)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(s.Readers()) != 1+len(model.DerivedSourceTypes()) {
		t.Fatalf("unexpected reader count %d", len(s.Readers()))
	}
	if _, err := s.Reader(model.SourceSubscription); err == nil {
		t.Fatalf("subscription rows are not stored")
	}
}
