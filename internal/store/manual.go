package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"calmerge/internal/calendar"
	"calmerge/internal/model"
)

const manualColumns = `id, org_id, title, description, start_at, end_at, all_day,
	recurrence_rule, status, branch_id, assigned_to, color, location`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManual(sc rowScanner) (model.CalendarEvent, error) {
	var (
		ev      model.CalendarEvent
		start   string
		end     sql.NullString
		allDay  int
		status  string
		details model.ManualDetails
	)
	err := sc.Scan(&ev.SourceID, &ev.OrgID, &ev.Title, &ev.Description, &start, &end, &allDay,
		&ev.RecurrenceRule, &status, &ev.BranchID, &ev.AssignedTo, &details.Color, &details.Location)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if ev.StartAt, err = parseTime(start); err != nil {
		return model.CalendarEvent{}, err
	}
	if ev.EndAt, err = parseNullTime(end); err != nil {
		return model.CalendarEvent{}, err
	}
	ev.SourceType = model.SourceManual
	ev.AllDay = allDay != 0
	ev.Status = model.Status(status)
	ev.Details = details
	return ev, nil
}

func manualRow(ev model.CalendarEvent) model.RawEventRow {
	return model.RawEventRow{
		OrgID:          ev.OrgID,
		SourceType:     model.SourceManual,
		SourceID:       ev.SourceID,
		Title:          ev.Title,
		Description:    ev.Description,
		StartAt:        ev.StartAt,
		EndAt:          ev.EndAt,
		AllDay:         ev.AllDay,
		RecurrenceRule: ev.RecurrenceRule,
		Status:         ev.Status,
		BranchID:       ev.BranchID,
		AssignedTo:     ev.AssignedTo,
		Details:        ev.Details,
	}
}

// Insert stores a validated draft under a fresh id.
func (s *Store) Insert(ctx context.Context, d model.EventDraft) (model.CalendarEvent, error) {
	now := formatTime(time.Now())
	status := d.Status
	if status == "" {
		status = model.StatusConfirmed
	}
	ev := model.CalendarEvent{
		OrgID:          d.OrgID,
		SourceType:     model.SourceManual,
		SourceID:       uuid.NewString(),
		Title:          d.Title,
		Description:    d.Description,
		StartAt:        d.StartAt,
		EndAt:          d.EndAt,
		AllDay:         d.AllDay,
		RecurrenceRule: d.RecurrenceRule,
		Status:         status,
		BranchID:       d.BranchID,
		AssignedTo:     d.AssignedTo,
		Details:        model.ManualDetails{Color: d.Color, Location: d.Location},
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO manual_events (`+manualColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SourceID, ev.OrgID, ev.Title, ev.Description, formatTime(ev.StartAt), nullTime(ev.EndAt),
		boolInt(ev.AllDay), ev.RecurrenceRule, string(ev.Status), ev.BranchID, ev.AssignedTo,
		d.Color, d.Location, now, now)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("insert manual event: %w", err)
	}
	return ev, nil
}

// UpdatePatch writes the non-nil fields of p.
func (s *Store) UpdatePatch(ctx context.Context, id string, p model.EventPatch) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Title != nil {
		set("title", *p.Title)
	}
	if p.Description != nil {
		set("description", *p.Description)
	}
	if p.StartAt != nil {
		set("start_at", formatTime(*p.StartAt))
	}
	if p.EndAt != nil {
		set("end_at", nullTime(p.EndAt))
	}
	if p.AllDay != nil {
		set("all_day", boolInt(*p.AllDay))
	}
	if p.RecurrenceRule != nil {
		set("recurrence_rule", *p.RecurrenceRule)
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.BranchID != nil {
		set("branch_id", *p.BranchID)
	}
	if p.AssignedTo != nil {
		set("assigned_to", *p.AssignedTo)
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", formatTime(time.Now()))
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE manual_events SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update manual event: %w", err)
	}
	return expectOne(res, "manual event "+id)
}

// Delete removes the event together with its exceptions.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM manual_events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete manual event: %w", err)
	}
	if err := expectOne(res, "manual event "+id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM calendar_exceptions WHERE owner_id = ?", id); err != nil {
		return fmt.Errorf("delete exceptions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+manualColumns+" FROM manual_events WHERE id = ?", id)
	ev, err := scanManual(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CalendarEvent{}, fmt.Errorf("manual event %s: %w", id, calendar.ErrNotFound)
	}
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("get manual event: %w", err)
	}
	return ev, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, calendar.ErrNotFound)
	}
	return nil
}

type manualReader struct {
	db *sql.DB
}

func (r *manualReader) SourceType() model.SourceType {
	return model.SourceManual
}

func (r *manualReader) FetchInWindow(ctx context.Context, orgID string, from, to time.Time, f model.Filters) ([]model.RawEventRow, error) {
	where, args := filterClause(f)
	return r.query(ctx,
		"SELECT "+manualColumns+" FROM manual_events WHERE org_id = ? AND start_at >= ? AND start_at < ?"+where+" ORDER BY start_at",
		append([]any{orgID, formatTime(from), formatTime(to)}, args...)...)
}

func (r *manualReader) FetchRecurringAnchorsBefore(ctx context.Context, orgID string, to time.Time, f model.Filters) ([]model.RawEventRow, error) {
	where, args := filterClause(f)
	return r.query(ctx,
		"SELECT "+manualColumns+" FROM manual_events WHERE org_id = ? AND recurrence_rule != '' AND start_at <= ?"+where+" ORDER BY start_at",
		append([]any{orgID, formatTime(to)}, args...)...)
}

func (r *manualReader) query(ctx context.Context, q string, args ...any) ([]model.RawEventRow, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query manual events: %w", err)
	}
	defer rows.Close()

	var out []model.RawEventRow
	for rows.Next() {
		ev, err := scanManual(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual event: %w", err)
		}
		out = append(out, manualRow(ev))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manual events: %w", err)
	}
	return out, nil
}
