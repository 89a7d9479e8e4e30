package calendar

import (
	"context"
	"time"

	"calmerge/internal/model"
)

// SourceReader is the read contract each event-source module exposes.
// Implementations must only return rows of orgID.
type SourceReader interface {
	SourceType() model.SourceType
	// FetchInWindow returns rows whose anchor start lies in [from, to).
	FetchInWindow(ctx context.Context, orgID string, from, to time.Time, f model.Filters) ([]model.RawEventRow, error)
	// FetchRecurringAnchorsBefore returns rows with a recurrence rule whose
	// anchor start is at or before to, however far in the past.
	FetchRecurringAnchorsBefore(ctx context.Context, orgID string, to time.Time, f model.Filters) ([]model.RawEventRow, error)
}

// ExceptionStore persists per-occurrence overrides of manual anchors.
type ExceptionStore interface {
	ListForAnchor(ctx context.Context, anchorID string) ([]model.CalendarException, error)
	CreateException(ctx context.Context, exc model.CalendarException) (model.CalendarException, error)
	UpdateException(ctx context.Context, exc model.CalendarException) error
	DeleteException(ctx context.Context, anchorID string, date model.Date) error
}

// Writer is the write contract of the manual source, the only writable one.
type Writer interface {
	Insert(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error)
	UpdatePatch(ctx context.Context, id string, patch model.EventPatch) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (model.CalendarEvent, error)
}
