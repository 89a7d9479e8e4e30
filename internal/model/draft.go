package model

import "time"

// EventDraft is the input for creating a manual event.
type EventDraft struct {
	OrgID          string     `json:"org_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	AllDay         bool       `json:"all_day"`
	RecurrenceRule string     `json:"recurrence_rule,omitempty"`
	Status         Status     `json:"status,omitempty"`
	BranchID       string     `json:"branch_id,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	Color          string     `json:"color,omitempty"`
	Location       string     `json:"location,omitempty"`
}

// EventPatch is a partial update of a manual event. Nil fields are left
// untouched.
type EventPatch struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	AllDay         *bool      `json:"all_day,omitempty"`
	RecurrenceRule *string    `json:"recurrence_rule,omitempty"`
	Status         *Status    `json:"status,omitempty"`
	BranchID       *string    `json:"branch_id,omitempty"`
	AssignedTo     *string    `json:"assigned_to,omitempty"`
}

func (p EventPatch) IsEmpty() bool {
	return p == EventPatch{}
}

// Apply returns a copy of ev with the patch applied.
func (p EventPatch) Apply(ev CalendarEvent) CalendarEvent {
	out := ev.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.StartAt != nil {
		out.StartAt = *p.StartAt
	}
	if p.EndAt != nil {
		end := *p.EndAt
		out.EndAt = &end
	}
	if p.AllDay != nil {
		out.AllDay = *p.AllDay
	}
	if p.RecurrenceRule != nil {
		out.RecurrenceRule = *p.RecurrenceRule
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.BranchID != nil {
		out.BranchID = *p.BranchID
	}
	if p.AssignedTo != nil {
		out.AssignedTo = *p.AssignedTo
	}
	return out
}
