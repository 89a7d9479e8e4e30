package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"calmerge/internal/model"
)

const sourceRowColumns = `org_id, source_type, source_id, title, description, start_at, end_at, all_day,
	recurrence_rule, status, branch_id, assigned_to, details`

// UpsertSourceRows loads projections of the derived modules. Rows are
// keyed by (org, source type, source id); an existing row is replaced.
func (s *Store) UpsertSourceRows(ctx context.Context, rows []model.RawEventRow) (int, error) {
	for i, row := range rows {
		if err := validateSourceRow(row); err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO source_rows (`+sourceRowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, source_type, source_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			all_day = excluded.all_day,
			recurrence_rule = excluded.recurrence_rule,
			status = excluded.status,
			branch_id = excluded.branch_id,
			assigned_to = excluded.assigned_to,
			details = excluded.details`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		details, err := encodeDetails(row.Details)
		if err != nil {
			return 0, err
		}
		status := row.Status
		if status == "" {
			status = model.StatusConfirmed
		}
		_, err = stmt.ExecContext(ctx,
			row.OrgID, string(row.SourceType), row.SourceID, row.Title, row.Description,
			formatTime(row.StartAt), nullTime(row.EndAt), boolInt(row.AllDay), row.RecurrenceRule,
			string(status), row.BranchID, row.AssignedTo, details)
		if err != nil {
			return 0, fmt.Errorf("upsert %s/%s: %w", row.SourceType, row.SourceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(rows), nil
}

func validateSourceRow(row model.RawEventRow) error {
	switch {
	case row.OrgID == "":
		return fmt.Errorf("org_id required")
	case row.SourceID == "":
		return fmt.Errorf("source_id required")
	case row.StartAt.IsZero():
		return fmt.Errorf("start_at required")
	case row.EndAt != nil && !row.EndAt.After(row.StartAt):
		return fmt.Errorf("end_at must be after start_at")
	case row.Status != "" && !row.Status.Valid():
		return fmt.Errorf("unknown status %q", row.Status)
	}
	for _, st := range model.DerivedSourceTypes() {
		if row.SourceType == st {
			if row.Details != nil && row.Details.SourceType() != st {
				return fmt.Errorf("%s details attached to %s row", row.Details.SourceType(), st)
			}
			return nil
		}
	}
	return fmt.Errorf("source type %q cannot be imported", row.SourceType)
}

func encodeDetails(d model.Details) (string, error) {
	if d == nil {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode %s details: %w", d.SourceType(), err)
	}
	return string(b), nil
}

// rowReader serves one derived source type from source_rows.
type rowReader struct {
	db *sql.DB
	st model.SourceType
}

func (r *rowReader) SourceType() model.SourceType {
	return r.st
}

func (r *rowReader) FetchInWindow(ctx context.Context, orgID string, from, to time.Time, f model.Filters) ([]model.RawEventRow, error) {
	where, args := filterClause(f)
	return r.query(ctx,
		"SELECT "+sourceRowColumns+" FROM source_rows WHERE org_id = ? AND source_type = ? AND start_at >= ? AND start_at < ?"+where+" ORDER BY start_at",
		append([]any{orgID, string(r.st), formatTime(from), formatTime(to)}, args...)...)
}

func (r *rowReader) FetchRecurringAnchorsBefore(ctx context.Context, orgID string, to time.Time, f model.Filters) ([]model.RawEventRow, error) {
	where, args := filterClause(f)
	return r.query(ctx,
		"SELECT "+sourceRowColumns+" FROM source_rows WHERE org_id = ? AND source_type = ? AND recurrence_rule != '' AND start_at <= ?"+where+" ORDER BY start_at",
		append([]any{orgID, string(r.st), formatTime(to)}, args...)...)
}

func (r *rowReader) query(ctx context.Context, q string, args ...any) ([]model.RawEventRow, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s rows: %w", r.st, err)
	}
	defer rows.Close()

	var out []model.RawEventRow
	for rows.Next() {
		var (
			row     model.RawEventRow
			st      string
			start   string
			end     sql.NullString
			allDay  int
			status  string
			details string
		)
		err := rows.Scan(&row.OrgID, &st, &row.SourceID, &row.Title, &row.Description, &start, &end, &allDay,
			&row.RecurrenceRule, &status, &row.BranchID, &row.AssignedTo, &details)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", r.st, err)
		}
		if row.StartAt, err = parseTime(start); err != nil {
			return nil, err
		}
		if row.EndAt, err = parseNullTime(end); err != nil {
			return nil, err
		}
		row.SourceType = model.SourceType(st)
		row.AllDay = allDay != 0
		row.Status = model.Status(status)
		if row.Details, err = model.DecodeDetails(row.SourceType, []byte(details)); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", r.st, err)
	}
	return out, nil
}
