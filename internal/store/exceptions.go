package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"calmerge/internal/model"
)

const exceptionColumns = `id, owner_id, original_date, type, new_start_at, new_end_at, new_title, new_description`

func (s *Store) ListForAnchor(ctx context.Context, anchorID string) ([]model.CalendarException, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+exceptionColumns+" FROM calendar_exceptions WHERE owner_id = ? ORDER BY original_date", anchorID)
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	var out []model.CalendarException
	for rows.Next() {
		var (
			exc                      model.CalendarException
			date, typ                string
			newStart, newEnd         sql.NullString
			newTitle, newDescription sql.NullString
		)
		if err := rows.Scan(&exc.ID, &exc.OwnerID, &date, &typ, &newStart, &newEnd, &newTitle, &newDescription); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		if exc.OriginalDate, err = model.ParseDate(date); err != nil {
			return nil, err
		}
		if exc.NewStartAt, err = parseNullTime(newStart); err != nil {
			return nil, err
		}
		if exc.NewEndAt, err = parseNullTime(newEnd); err != nil {
			return nil, err
		}
		exc.Type = model.ExceptionType(typ)
		exc.NewTitle = parseNullString(newTitle)
		exc.NewDescription = parseNullString(newDescription)
		out = append(out, exc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exceptions: %w", err)
	}
	return out, nil
}

// CreateException inserts exc; a second exception for the same anchor and
// date violates the unique constraint.
func (s *Store) CreateException(ctx context.Context, exc model.CalendarException) (model.CalendarException, error) {
	if exc.ID == "" {
		exc.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO calendar_exceptions ("+exceptionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		exc.ID, exc.OwnerID, exc.OriginalDate.String(), string(exc.Type),
		nullTime(exc.NewStartAt), nullTime(exc.NewEndAt), nullString(exc.NewTitle), nullString(exc.NewDescription))
	if err != nil {
		return model.CalendarException{}, fmt.Errorf("insert exception: %w", err)
	}
	return exc, nil
}

// UpdateException replaces the exception stored for exc's anchor and date.
func (s *Store) UpdateException(ctx context.Context, exc model.CalendarException) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calendar_exceptions
		SET type = ?, new_start_at = ?, new_end_at = ?, new_title = ?, new_description = ?
		WHERE owner_id = ? AND original_date = ?`,
		string(exc.Type), nullTime(exc.NewStartAt), nullTime(exc.NewEndAt), nullString(exc.NewTitle), nullString(exc.NewDescription),
		exc.OwnerID, exc.OriginalDate.String())
	if err != nil {
		return fmt.Errorf("update exception: %w", err)
	}
	return expectOne(res, "exception "+exc.OwnerID+"@"+exc.OriginalDate.String())
}

func (s *Store) DeleteException(ctx context.Context, anchorID string, date model.Date) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM calendar_exceptions WHERE owner_id = ? AND original_date = ?", anchorID, date.String())
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	return expectOne(res, "exception "+anchorID+"@"+date.String())
}
