package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"calmerge/internal/model"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}

// fakeReader serves fixed rows and applies the two read shapes the way a
// real store would.
type fakeReader struct {
	st   model.SourceType
	rows []model.RawEventRow
	err  error

	mu    sync.Mutex
	calls int
}

func (r *fakeReader) SourceType() model.SourceType {
	return r.st
}

func (r *fakeReader) FetchInWindow(_ context.Context, orgID string, from, to time.Time, f model.Filters) ([]model.RawEventRow, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []model.RawEventRow
	for _, row := range r.rows {
		if row.OrgID != "" && row.OrgID != orgID && row.OrgID != "leak" {
			continue
		}
		if !row.StartAt.Before(from) && row.StartAt.Before(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeReader) FetchRecurringAnchorsBefore(_ context.Context, orgID string, to time.Time, f model.Filters) ([]model.RawEventRow, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []model.RawEventRow
	for _, row := range r.rows {
		if row.OrgID != "" && row.OrgID != orgID && row.OrgID != "leak" {
			continue
		}
		if row.RecurrenceRule != "" && !row.StartAt.After(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeExceptions struct {
	mu      sync.Mutex
	byOwner map[string][]model.CalendarException
	err     error
}

func newFakeExceptions() *fakeExceptions {
	return &fakeExceptions{byOwner: make(map[string][]model.CalendarException)}
}

func (s *fakeExceptions) ListForAnchor(_ context.Context, anchorID string) ([]model.CalendarException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.CalendarException(nil), s.byOwner[anchorID]...), nil
}

func (s *fakeExceptions) CreateException(_ context.Context, exc model.CalendarException) (model.CalendarException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.CalendarException{}, s.err
	}
	for _, e := range s.byOwner[exc.OwnerID] {
		if e.OriginalDate == exc.OriginalDate {
			return model.CalendarException{}, fmt.Errorf("exception for %s exists", exc.OriginalDate)
		}
	}
	exc.ID = fmt.Sprintf("exc-%d", len(s.byOwner[exc.OwnerID])+1)
	s.byOwner[exc.OwnerID] = append(s.byOwner[exc.OwnerID], exc)
	return exc, nil
}

func (s *fakeExceptions) UpdateException(_ context.Context, exc model.CalendarException) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byOwner[exc.OwnerID]
	for i := range list {
		if list[i].OriginalDate == exc.OriginalDate {
			exc.ID = list[i].ID
			list[i] = exc
			return nil
		}
	}
	return ErrNotFound
}

func (s *fakeExceptions) DeleteException(_ context.Context, anchorID string, date model.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byOwner[anchorID]
	for i := range list {
		if list[i].OriginalDate == date {
			s.byOwner[anchorID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// fakeWriter stores manual events in memory. failNext makes the next write
// fail once.
type fakeWriter struct {
	mu       sync.Mutex
	events   map[string]model.CalendarEvent
	nextID   int
	failNext error
	writes   int
}

func newFakeWriter(events ...model.CalendarEvent) *fakeWriter {
	w := &fakeWriter{events: make(map[string]model.CalendarEvent)}
	for _, ev := range events {
		w.events[ev.SourceID] = ev.Clone()
	}
	return w
}

func (w *fakeWriter) takeFailure() error {
	err := w.failNext
	w.failNext = nil
	return err
}

func (w *fakeWriter) Insert(_ context.Context, d model.EventDraft) (model.CalendarEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if err := w.takeFailure(); err != nil {
		return model.CalendarEvent{}, err
	}
	w.nextID++
	ev := model.CalendarEvent{
		OrgID:          d.OrgID,
		SourceType:     model.SourceManual,
		SourceID:       fmt.Sprintf("m%d", w.nextID),
		Title:          d.Title,
		Description:    d.Description,
		StartAt:        d.StartAt,
		EndAt:          d.EndAt,
		AllDay:         d.AllDay,
		RecurrenceRule: d.RecurrenceRule,
		Status:         d.Status,
	}
	w.events[ev.SourceID] = ev.Clone()
	return ev, nil
}

func (w *fakeWriter) UpdatePatch(_ context.Context, id string, p model.EventPatch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if err := w.takeFailure(); err != nil {
		return err
	}
	ev, ok := w.events[id]
	if !ok {
		return ErrNotFound
	}
	w.events[id] = p.Apply(ev)
	return nil
}

func (w *fakeWriter) Delete(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if err := w.takeFailure(); err != nil {
		return err
	}
	if _, ok := w.events[id]; !ok {
		return ErrNotFound
	}
	delete(w.events, id)
	return nil
}

func (w *fakeWriter) Get(_ context.Context, id string) (model.CalendarEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ev, ok := w.events[id]
	if !ok {
		return model.CalendarEvent{}, ErrNotFound
	}
	return ev.Clone(), nil
}

var errBackend = errors.New("backend down")
