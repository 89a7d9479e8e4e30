package model

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusTentative, StatusCancelled, StatusPending, StatusCompleted:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Metadata keys stamped onto generated occurrences. They are never present
// on an anchor or on a non-recurring event.
const (
	MetaIsRecurrenceInstance = "isRecurrenceInstance"
	MetaOriginalEventID      = "originalEventId"
	MetaOccurrenceDate       = "occurrenceDate"
)

type Metadata map[string]any

// CalendarEvent is one occurrence as presented by the calendar. It is a
// projection of a record owned by the module named in SourceType.
type CalendarEvent struct {
	OrgID       string     `json:"org_id,omitempty"`
	SourceType  SourceType `json:"source_type"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`

	StartAt time.Time  `json:"start_at"`
	EndAt   *time.Time `json:"end_at,omitempty"`
	AllDay  bool       `json:"all_day"`

	// RecurrenceRule is only ever set on the anchor.
	RecurrenceRule string `json:"recurrence_rule,omitempty"`

	Status     Status   `json:"status"`
	BranchID   string   `json:"branch_id,omitempty"`
	AssignedTo string   `json:"assigned_to,omitempty"`
	Details    Details  `json:"details,omitempty"`
	Metadata   Metadata `json:"metadata,omitempty"`
}

// EventKey identifies one entry of a rendered calendar: the anchor (or a
// plain event) has an empty Occurrence, generated occurrences carry their
// date.
type EventKey struct {
	SourceType SourceType
	SourceID   string
	Occurrence string
}

func (k EventKey) String() string {
	s := string(k.SourceType) + ":" + k.SourceID
	if k.Occurrence != "" {
		s += "@" + k.Occurrence
	}
	return s
}

// ManualKey is the key of a directly owned anchor.
func ManualKey(id string) EventKey {
	return EventKey{SourceType: SourceManual, SourceID: id}
}

func (e CalendarEvent) Key() EventKey {
	k := EventKey{SourceType: e.SourceType, SourceID: e.SourceID}
	if e.IsRecurrenceInstance() {
		if d, ok := e.Metadata[MetaOccurrenceDate].(string); ok {
			k.Occurrence = d
		}
	}
	return k
}

func (e CalendarEvent) IsRecurrenceInstance() bool {
	v, _ := e.Metadata[MetaIsRecurrenceInstance].(bool)
	return v
}

// Duration is zero for open-ended events.
func (e CalendarEvent) Duration() time.Duration {
	if e.EndAt == nil {
		return 0
	}
	return e.EndAt.Sub(e.StartAt)
}

// Clone returns a deep copy so snapshots are not aliased by later edits.
func (e CalendarEvent) Clone() CalendarEvent {
	out := e
	if e.EndAt != nil {
		end := *e.EndAt
		out.EndAt = &end
	}
	if e.Metadata != nil {
		out.Metadata = make(Metadata, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Equal compares the fields a mutation can change.
func (e CalendarEvent) Equal(o CalendarEvent) bool {
	if e.Key() != o.Key() || e.Title != o.Title || e.Description != o.Description {
		return false
	}
	if !e.StartAt.Equal(o.StartAt) || e.AllDay != o.AllDay || e.Status != o.Status {
		return false
	}
	if e.RecurrenceRule != o.RecurrenceRule || e.BranchID != o.BranchID || e.AssignedTo != o.AssignedTo {
		return false
	}
	if (e.EndAt == nil) != (o.EndAt == nil) {
		return false
	}
	return e.EndAt == nil || e.EndAt.Equal(*o.EndAt)
}

// RawEventRow is what a SourceReader returns: one persisted record of a
// source module, before recurrence expansion.
type RawEventRow struct {
	OrgID          string     `json:"org_id" yaml:"org_id"`
	SourceType     SourceType `json:"source_type" yaml:"source_type"`
	SourceID       string     `json:"source_id" yaml:"source_id"`
	Title          string     `json:"title" yaml:"title"`
	Description    string     `json:"description,omitempty" yaml:"description,omitempty"`
	StartAt        time.Time  `json:"start_at" yaml:"start_at"`
	EndAt          *time.Time `json:"end_at,omitempty" yaml:"end_at,omitempty"`
	AllDay         bool       `json:"all_day" yaml:"all_day"`
	RecurrenceRule string     `json:"recurrence_rule,omitempty" yaml:"recurrence_rule,omitempty"`
	Status         Status     `json:"status,omitempty" yaml:"status,omitempty"`
	BranchID       string     `json:"branch_id,omitempty" yaml:"branch_id,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty" yaml:"assigned_to,omitempty"`
	Details        Details    `json:"details,omitempty" yaml:"-"`
}

// Event converts the row into its anchor (or only) occurrence.
func (r RawEventRow) Event() CalendarEvent {
	status := r.Status
	if status == "" {
		status = StatusConfirmed
	}
	ev := CalendarEvent{
		OrgID:          r.OrgID,
		SourceType:     r.SourceType,
		SourceID:       r.SourceID,
		Title:          r.Title,
		Description:    r.Description,
		StartAt:        r.StartAt,
		AllDay:         r.AllDay,
		RecurrenceRule: r.RecurrenceRule,
		Status:         status,
		BranchID:       r.BranchID,
		AssignedTo:     r.AssignedTo,
		Details:        r.Details,
	}
	if r.EndAt != nil {
		end := *r.EndAt
		ev.EndAt = &end
	}
	return ev
}

// Filters narrow an aggregation query. Zero values mean "no restriction".
type Filters struct {
	BranchID    string
	AssigneeID  string
	Statuses    []Status
	SourceTypes []SourceType
}

func (f Filters) AllowsSource(st SourceType) bool {
	if len(f.SourceTypes) == 0 {
		return true
	}
	for _, s := range f.SourceTypes {
		if s == st {
			return true
		}
	}
	return false
}

// Match applies branch/assignee/status/source filters to a row. Readers push
// the same predicates down into their queries; Match keeps the result
// uniform for readers that cannot.
func (f Filters) Match(r RawEventRow) bool {
	if !f.AllowsSource(r.SourceType) {
		return false
	}
	if f.BranchID != "" && r.BranchID != f.BranchID {
		return false
	}
	if f.AssigneeID != "" && r.AssignedTo != f.AssigneeID {
		return false
	}
	if len(f.Statuses) > 0 {
		status := r.Status
		if status == "" {
			status = StatusConfirmed
		}
		for _, s := range f.Statuses {
			if s == status {
				return true
			}
		}
		return false
	}
	return true
}

// ParseEventKey reads "type:id" or "type:id@YYYY-MM-DD". A bare id is a
// manual event.
func ParseEventKey(s string) (EventKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EventKey{}, fmt.Errorf("empty event id")
	}

	key := EventKey{SourceType: SourceManual, SourceID: s}
	if prefix, rest, ok := strings.Cut(s, ":"); ok && SourceType(prefix).Valid() {
		key.SourceType = SourceType(prefix)
		key.SourceID = rest
	}
	if i := strings.LastIndex(key.SourceID, "@"); i >= 0 {
		if d, err := ParseDate(key.SourceID[i+1:]); err == nil {
			key.Occurrence = d.String()
			key.SourceID = key.SourceID[:i]
		}
	}
	if key.SourceID == "" {
		return EventKey{}, fmt.Errorf("event id %q has no source id", s)
	}
	return key, nil
}
