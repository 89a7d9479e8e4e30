package model

import "time"

type ExceptionType string

const (
	ExceptionCancelled ExceptionType = "cancelled"
	ExceptionModified  ExceptionType = "modified"
)

func (t ExceptionType) Valid() bool {
	return t == ExceptionCancelled || t == ExceptionModified
}

// CalendarException overrides one occurrence date of a recurring manual
// anchor. Nil override fields keep the expanded value.
type CalendarException struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	OriginalDate   Date          `json:"original_date"`
	Type           ExceptionType `json:"type"`
	NewStartAt     *time.Time    `json:"new_start_at,omitempty"`
	NewEndAt       *time.Time    `json:"new_end_at,omitempty"`
	NewTitle       *string       `json:"new_title,omitempty"`
	NewDescription *string       `json:"new_description,omitempty"`
}
