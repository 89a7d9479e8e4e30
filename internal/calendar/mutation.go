package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "calmerge/internal/log"
	"calmerge/internal/model"
	"calmerge/internal/recurrence"
)

// DefaultMinGranularity is the shortest duration a resize may produce.
const DefaultMinGranularity = 15 * time.Minute

type MutationState int

const (
	Idle MutationState = iota
	OptimisticallyApplied
	Committed
	RolledBack
)

func (s MutationState) String() string {
	switch s {
	case Idle:
		return "idle"
	case OptimisticallyApplied:
		return "optimistically_applied"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type MutationKind string

const (
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
	MutationMove   MutationKind = "move"
	MutationResize MutationKind = "resize"
)

// Mutation tracks one optimistic change through
// Idle -> OptimisticallyApplied -> Committed | RolledBack.
// Before and After are the anchor on either side of the change; After is
// nil for a delete. prev and next are every projection entry of the record
// (anchor and generated occurrences) before and after, so a change to a
// series moves all of its occurrences together.
type Mutation struct {
	Kind   MutationKind
	Key    model.EventKey
	Before *model.CalendarEvent
	After  *model.CalendarEvent
	State  MutationState
	Err    error

	prev []model.CalendarEvent
	next []model.CalendarEvent
}

func (m *Mutation) apply(p *Projection) {
	if m.State != Idle {
		return
	}
	p.replaceSeries(m.Key.SourceType, m.Key.SourceID, m.next)
	m.State = OptimisticallyApplied
}

func (m *Mutation) commit() {
	if m.State != OptimisticallyApplied {
		return
	}
	m.State = Committed
}

// rollback restores the previous entries unless a later mutation already
// replaced the optimistic state, in which case that mutation owns them.
func (m *Mutation) rollback(p *Projection, err error) {
	if m.State != OptimisticallyApplied {
		return
	}
	if !p.swapSeries(m.Key.SourceType, m.Key.SourceID, m.next, m.prev) {
		appLog.Warn("mutation rollback skipped: entry changed by a newer mutation", "kind", m.Kind, "key", m.Key.String())
	}
	m.State = RolledBack
	m.Err = err
}

// Coordinator applies mutations to manual events: validate, apply to the
// caller's projection, write through, then commit or roll back. It keeps
// no state of its own and takes no locks; the writer is the final arbiter
// and concurrent writes to one event are last-writer-wins.
type Coordinator struct {
	writer      Writer
	exceptions  ExceptionStore
	loc         *time.Location
	granularity time.Duration
}

type CoordinatorOption func(*Coordinator)

func WithLocation(loc *time.Location) CoordinatorOption {
	return func(c *Coordinator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithMinGranularity(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.granularity = d
		}
	}
}

func NewCoordinator(writer Writer, exceptions ExceptionStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		writer:      writer,
		exceptions:  exceptions,
		loc:         time.Local,
		granularity: DefaultMinGranularity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create validates and inserts a manual event, then adds it, or the
// occurrences of its rule, to p.
func (c *Coordinator) Create(ctx context.Context, p *Projection, draft model.EventDraft) (model.CalendarEvent, error) {
	if err := validateDraft(&draft); err != nil {
		return model.CalendarEvent{}, err
	}

	ev, err := c.writer.Insert(ctx, draft)
	if err != nil {
		return model.CalendarEvent{}, &WriteConflictError{Op: "create", Err: err}
	}
	ev.StartAt = ev.StartAt.In(c.loc)
	if ev.EndAt != nil {
		end := ev.EndAt.In(c.loc)
		ev.EndAt = &end
	}
	if p != nil {
		p.replaceSeries(ev.SourceType, ev.SourceID, seriesEvents(ev, nil, p.Window(), 0))
	}
	appLog.Info("event created", "id", ev.SourceID, "start", ev.StartAt.Format(time.RFC3339))
	return ev, nil
}

// Update applies a partial update optimistically.
func (c *Coordinator) Update(ctx context.Context, p *Projection, ref string, patch model.EventPatch) (*Mutation, error) {
	p = orEmpty(p)
	key, before, err := c.resolve(ctx, p, ref)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, invalid("patch", "no fields to update")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, invalid("title", "must not be empty")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", *patch.Status))
	}
	if patch.RecurrenceRule != nil {
		canonical := recurrence.Parse(*patch.RecurrenceRule).String()
		patch.RecurrenceRule = &canonical
	}
	after := patch.Apply(before)
	if after.EndAt != nil && !after.EndAt.After(after.StartAt) {
		return nil, invalid("end_at", "must be after start_at")
	}

	return c.run(ctx, p, MutationUpdate, key, before, &after, func(ctx context.Context) error {
		return c.writer.UpdatePatch(ctx, key.SourceID, patch)
	})
}

// Delete removes a manual event optimistically.
func (c *Coordinator) Delete(ctx context.Context, p *Projection, ref string) (*Mutation, error) {
	p = orEmpty(p)
	key, before, err := c.resolve(ctx, p, ref)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, p, MutationDelete, key, before, nil, func(ctx context.Context) error {
		return c.writer.Delete(ctx, key.SourceID)
	})
}

// Move places the event on newDate at newHour, keeping its minute offset
// and duration. All-day events keep midnight and ignore the hour.
func (c *Coordinator) Move(ctx context.Context, p *Projection, ref string, newDate model.Date, newHour int) (*Mutation, error) {
	if newDate.IsZero() {
		return nil, invalid("date", "required")
	}
	if newHour < 0 || newHour > 23 {
		return nil, invalid("hour", "must be between 0 and 23")
	}
	p = orEmpty(p)
	key, before, err := c.resolve(ctx, p, ref)
	if err != nil {
		return nil, err
	}

	orig := before.StartAt.In(c.loc)
	hour, minute := newHour, orig.Minute()
	if before.AllDay {
		hour, minute = 0, 0
	}
	start := time.Date(newDate.Year, newDate.Month, newDate.Day, hour, minute, orig.Second(), orig.Nanosecond(), c.loc)

	after := before.Clone()
	after.StartAt = start
	patch := model.EventPatch{StartAt: &start}
	if before.EndAt != nil {
		end := start.Add(before.Duration())
		after.EndAt = &end
		patch.EndAt = &end
	}

	return c.run(ctx, p, MutationMove, key, before, &after, func(ctx context.Context) error {
		return c.writer.UpdatePatch(ctx, key.SourceID, patch)
	})
}

// Resize sets new start and end instants. It is rejected before any state
// changes if end is not after start or the duration is below the minimum
// granularity.
func (c *Coordinator) Resize(ctx context.Context, p *Projection, ref string, newStart, newEnd time.Time) (*Mutation, error) {
	if !newEnd.After(newStart) {
		return nil, invalid("end", "must be after start")
	}
	if newEnd.Sub(newStart) < c.granularity {
		return nil, invalid("end", fmt.Sprintf("duration must be at least %s", c.granularity))
	}
	p = orEmpty(p)
	key, before, err := c.resolve(ctx, p, ref)
	if err != nil {
		return nil, err
	}

	start := newStart.In(c.loc)
	end := newEnd.In(c.loc)
	after := before.Clone()
	after.StartAt = start
	after.EndAt = &end

	patch := model.EventPatch{StartAt: &start, EndAt: &end}
	return c.run(ctx, p, MutationResize, key, before, &after, func(ctx context.Context) error {
		return c.writer.UpdatePatch(ctx, key.SourceID, patch)
	})
}

func (c *Coordinator) run(ctx context.Context, p *Projection, kind MutationKind, key model.EventKey, before model.CalendarEvent, after *model.CalendarEvent, write func(context.Context) error) (*Mutation, error) {
	next, err := c.render(ctx, p.Window(), after)
	if err != nil {
		return nil, err
	}
	m := &Mutation{
		Kind:   kind,
		Key:    key,
		Before: &before,
		After:  after,
		prev:   p.Series(key.SourceType, key.SourceID),
		next:   next,
	}
	m.apply(p)

	if err := write(ctx); err != nil {
		conflict := &WriteConflictError{Op: string(kind), ID: key.SourceID, Err: err}
		m.rollback(p, conflict)
		appLog.Error("mutation rolled back", err, "kind", kind, "key", key.String())
		return m, conflict
	}

	m.commit()
	appLog.Debug("mutation committed", "kind", kind, "key", key.String())
	return m, nil
}

// resolve checks ownership and returns the anchor the change is computed
// from. A plain event is taken from the projection when it holds one. A
// recurring anchor is always read from the writer: its projection entry
// carries any modified exception for the anchor's own date.
func (c *Coordinator) resolve(ctx context.Context, p *Projection, ref string) (key model.EventKey, ev model.CalendarEvent, err error) {
	key, err = model.ParseEventKey(ref)
	if err != nil {
		return key, ev, invalid("id", err.Error())
	}
	if !key.SourceType.Writable() {
		return key, ev, &OwnershipViolationError{SourceType: key.SourceType, ID: key.SourceID}
	}
	if key.Occurrence != "" {
		return key, ev, invalid("id", "generated occurrences cannot be mutated; change the series or add an exception")
	}

	if ev, ok := p.Get(key); ok && !recurrence.Parse(ev.RecurrenceRule).Enabled {
		return key, ev, nil
	}

	ev, err = c.loadAnchor(ctx, key.SourceID)
	return key, ev, err
}

func (c *Coordinator) loadAnchor(ctx context.Context, id string) (model.CalendarEvent, error) {
	ev, err := c.writer.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ev, fmt.Errorf("event %s: %w", model.ManualKey(id), ErrNotFound)
		}
		return ev, &SourceUnavailableError{Source: model.SourceManual, Err: err}
	}
	ev.StartAt = ev.StartAt.In(c.loc)
	if ev.EndAt != nil {
		end := ev.EndAt.In(c.loc)
		ev.EndAt = &end
	}
	return ev, nil
}

// render returns the projection entries anchor produces in w, with its
// stored exceptions applied. A nil anchor renders nothing.
func (c *Coordinator) render(ctx context.Context, w Range, anchor *model.CalendarEvent) ([]model.CalendarEvent, error) {
	if anchor == nil || !w.To.After(w.From) {
		return nil, nil
	}
	var exceptions []model.CalendarException
	if c.exceptions != nil && recurrence.Parse(anchor.RecurrenceRule).Enabled {
		list, err := c.exceptions.ListForAnchor(ctx, anchor.SourceID)
		if err != nil {
			return nil, &SourceUnavailableError{Source: model.SourceManual, Err: fmt.Errorf("list exceptions for %s: %w", anchor.SourceID, err)}
		}
		exceptions = list
	}
	return seriesEvents(*anchor, exceptions, w, 0), nil
}

func orEmpty(p *Projection) *Projection {
	if p == nil {
		return NewProjection(Range{}, nil)
	}
	return p
}

func validateDraft(d *model.EventDraft) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return invalid("title", "must not be empty")
	}
	if d.StartAt.IsZero() {
		return invalid("start_at", "required")
	}
	if d.EndAt != nil && !d.EndAt.After(d.StartAt) {
		return invalid("end_at", "must be after start_at")
	}
	if d.Status == "" {
		d.Status = model.StatusConfirmed
	}
	if !d.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown status %q", d.Status))
	}
	// Store the canonical form; unparseable rules degrade to "no recurrence".
	d.RecurrenceRule = recurrence.Parse(d.RecurrenceRule).String()
	return nil
}

// AddException stores a per-date override for a recurring manual anchor.
func (c *Coordinator) AddException(ctx context.Context, exc model.CalendarException) (model.CalendarException, error) {
	if err := c.validateException(ctx, exc); err != nil {
		return model.CalendarException{}, err
	}
	created, err := c.exceptions.CreateException(ctx, exc)
	if err != nil {
		return model.CalendarException{}, &WriteConflictError{Op: "add exception", ID: exc.OwnerID, Err: err}
	}
	appLog.Info("exception added", "anchor", exc.OwnerID, "date", exc.OriginalDate.String(), "type", exc.Type)
	return created, nil
}

func (c *Coordinator) UpdateException(ctx context.Context, exc model.CalendarException) error {
	if err := c.validateException(ctx, exc); err != nil {
		return err
	}
	if err := c.exceptions.UpdateException(ctx, exc); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &WriteConflictError{Op: "update exception", ID: exc.OwnerID, Err: err}
	}
	return nil
}

func (c *Coordinator) RemoveException(ctx context.Context, anchorID string, date model.Date) error {
	if strings.TrimSpace(anchorID) == "" {
		return invalid("owner_id", "required")
	}
	if date.IsZero() {
		return invalid("original_date", "required")
	}
	if err := c.validateAnchor(ctx, anchorID); err != nil {
		return err
	}
	if err := c.exceptions.DeleteException(ctx, anchorID, date); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &WriteConflictError{Op: "remove exception", ID: anchorID, Err: err}
	}
	return nil
}

func (c *Coordinator) validateException(ctx context.Context, exc model.CalendarException) error {
	if strings.TrimSpace(exc.OwnerID) == "" {
		return invalid("owner_id", "required")
	}
	if exc.OriginalDate.IsZero() {
		return invalid("original_date", "required")
	}
	if !exc.Type.Valid() {
		return invalid("type", fmt.Sprintf("unknown exception type %q", exc.Type))
	}
	if exc.Type == model.ExceptionModified {
		if exc.NewStartAt == nil && exc.NewEndAt == nil && exc.NewTitle == nil && exc.NewDescription == nil {
			return invalid("type", "modified exception needs at least one override")
		}
		if exc.NewStartAt != nil && exc.NewEndAt != nil && !exc.NewEndAt.After(*exc.NewStartAt) {
			return invalid("new_end_at", "must be after new_start_at")
		}
	}

	return c.validateAnchor(ctx, exc.OwnerID)
}

// validateAnchor checks that id names a stored manual event with an
// active recurrence rule.
func (c *Coordinator) validateAnchor(ctx context.Context, id string) error {
	anchor, err := c.writer.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("anchor %s: %w", id, ErrNotFound)
		}
		return &SourceUnavailableError{Source: model.SourceManual, Err: err}
	}
	if !recurrence.Parse(anchor.RecurrenceRule).Enabled {
		return invalid("owner_id", "anchor has no active recurrence rule")
	}
	return nil
}
