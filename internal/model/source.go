package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SourceType tags the module that owns an event. Only SourceManual is
// writable through the calendar engine; every other type is a read-only
// projection of another subsystem's records.
type SourceType string

const (
	SourceManual       SourceType = "manual"
	SourceTask         SourceType = "task"
	SourceShift        SourceType = "shift"
	SourceLeave        SourceType = "leave"
	SourceReservation  SourceType = "reservation"
	SourceHousekeeping SourceType = "housekeeping"
	SourceMaintenance  SourceType = "maintenance"
	SourceGymClass     SourceType = "gym_class"
	SourceTrip         SourceType = "trip"
	SourceSubscription SourceType = "subscription"
)

// AllSourceTypes lists every known source in display order.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceManual,
		SourceTask,
		SourceShift,
		SourceLeave,
		SourceReservation,
		SourceHousekeeping,
		SourceMaintenance,
		SourceGymClass,
		SourceTrip,
		SourceSubscription,
	}
}

// DerivedSourceTypes are the business modules whose rows are imported into
// the store as read-only projections.
func DerivedSourceTypes() []SourceType {
	return []SourceType{
		SourceTask,
		SourceShift,
		SourceLeave,
		SourceReservation,
		SourceHousekeeping,
		SourceMaintenance,
		SourceGymClass,
		SourceTrip,
	}
}

func (s SourceType) Valid() bool {
	for _, known := range AllSourceTypes() {
		if s == known {
			return true
		}
	}
	return false
}

// Writable reports whether events of this type may be created, moved,
// resized or deleted by the calendar.
func (s SourceType) Writable() bool {
	return s == SourceManual
}

func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown source type %q", s)
	}
	return st, nil
}

// Details is the source-specific part of an event. Each source type has
// exactly one implementation, so which fields exist for which source is
// fixed by the type rather than by convention.
type Details interface {
	SourceType() SourceType
}

type ManualDetails struct {
	Color    string `json:"color,omitempty" yaml:"color,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

type TaskDetails struct {
	ProjectID string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Priority  string `json:"priority,omitempty" yaml:"priority,omitempty"`
}

type ShiftDetails struct {
	Role     string `json:"role,omitempty" yaml:"role,omitempty"`
	Position string `json:"position,omitempty" yaml:"position,omitempty"`
}

type LeaveDetails struct {
	LeaveType  string `json:"leave_type,omitempty" yaml:"leave_type,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`
}

type ReservationDetails struct {
	Resource  string `json:"resource,omitempty" yaml:"resource,omitempty"`
	GuestName string `json:"guest_name,omitempty" yaml:"guest_name,omitempty"`
	PartySize int    `json:"party_size,omitempty" yaml:"party_size,omitempty"`
}

type HousekeepingDetails struct {
	RoomNumber string `json:"room_number,omitempty" yaml:"room_number,omitempty"`
	JobType    string `json:"job_type,omitempty" yaml:"job_type,omitempty"`
}

type MaintenanceDetails struct {
	TicketNumber string `json:"ticket_number,omitempty" yaml:"ticket_number,omitempty"`
	AssetID      string `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	Priority     string `json:"priority,omitempty" yaml:"priority,omitempty"`
}

type GymClassDetails struct {
	Instructor string `json:"instructor,omitempty" yaml:"instructor,omitempty"`
	Capacity   int    `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Enrolled   int    `json:"enrolled,omitempty" yaml:"enrolled,omitempty"`
}

type TripDetails struct {
	Origin      string `json:"origin,omitempty" yaml:"origin,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Vehicle     string `json:"vehicle,omitempty" yaml:"vehicle,omitempty"`
}

// SubscriptionDetails carries provenance for events read from an external
// ICS feed.
type SubscriptionDetails struct {
	FeedID   string `json:"feed_id" yaml:"feed_id"`
	UID      string `json:"uid" yaml:"uid"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

func (ManualDetails) SourceType() SourceType       { return SourceManual }
func (TaskDetails) SourceType() SourceType         { return SourceTask }
func (ShiftDetails) SourceType() SourceType        { return SourceShift }
func (LeaveDetails) SourceType() SourceType        { return SourceLeave }
func (ReservationDetails) SourceType() SourceType  { return SourceReservation }
func (HousekeepingDetails) SourceType() SourceType { return SourceHousekeeping }
func (MaintenanceDetails) SourceType() SourceType  { return SourceMaintenance }
func (GymClassDetails) SourceType() SourceType     { return SourceGymClass }
func (TripDetails) SourceType() SourceType         { return SourceTrip }
func (SubscriptionDetails) SourceType() SourceType { return SourceSubscription }

// NewDetails returns the zero Details value for a source type.
func NewDetails(st SourceType) (Details, error) {
	switch st {
	case SourceManual:
		return ManualDetails{}, nil
	case SourceTask:
		return TaskDetails{}, nil
	case SourceShift:
		return ShiftDetails{}, nil
	case SourceLeave:
		return LeaveDetails{}, nil
	case SourceReservation:
		return ReservationDetails{}, nil
	case SourceHousekeeping:
		return HousekeepingDetails{}, nil
	case SourceMaintenance:
		return MaintenanceDetails{}, nil
	case SourceGymClass:
		return GymClassDetails{}, nil
	case SourceTrip:
		return TripDetails{}, nil
	case SourceSubscription:
		return SubscriptionDetails{}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", st)
	}
}

// DecodeDetails decodes a JSON details payload into the variant that
// belongs to st. An empty payload yields the zero variant.
func DecodeDetails(st SourceType, raw []byte) (Details, error) {
	switch st {
	case SourceManual:
		return decodeInto[ManualDetails](raw)
	case SourceTask:
		return decodeInto[TaskDetails](raw)
	case SourceShift:
		return decodeInto[ShiftDetails](raw)
	case SourceLeave:
		return decodeInto[LeaveDetails](raw)
	case SourceReservation:
		return decodeInto[ReservationDetails](raw)
	case SourceHousekeeping:
		return decodeInto[HousekeepingDetails](raw)
	case SourceMaintenance:
		return decodeInto[MaintenanceDetails](raw)
	case SourceGymClass:
		return decodeInto[GymClassDetails](raw)
	case SourceTrip:
		return decodeInto[TripDetails](raw)
	case SourceSubscription:
		return decodeInto[SubscriptionDetails](raw)
	default:
		return nil, fmt.Errorf("unknown source type %q", st)
	}
}

func decodeInto[T Details](raw []byte) (Details, error) {
	var v T
	if len(strings.TrimSpace(string(raw))) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s details: %w", v.SourceType(), err)
	}
	return v, nil
}
