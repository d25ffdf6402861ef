package model

import "time"

// Difficulty classifies how hard a ride is.
type Difficulty string

const (
	DifficultyEasy         Difficulty = "easy"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// RecurringType describes how a recurring ride repeats.
type RecurringType string

const (
	RecurringWeekly  RecurringType = "weekly"
	RecurringMonthly RecurringType = "monthly"
	RecurringCustom  RecurringType = "custom"
)

// Ride is a scheduled group cycling event.
//
// OPTIONAL FIELDS AS POINTERS:
// Description, coordinates, distance, duration, recurringType and
// maxParticipants can all be absent. A nil pointer serialises as JSON null
// and is stored as SQL NULL, so "absent" survives the round trip instead of
// collapsing into a zero value (0 miles is not the same as "unknown").
//
// Date holds the calendar day of the event as midnight UTC. StartTime is the
// local "HH:MM" the riders meet.
//
// The validate tags are the per-field rules (go-playground/validator);
// rules spanning several fields live in service.validateRide.
//
// ParticipantCount is a cached copy of the number of RideParticipant rows.
// Only the storage layer writes it, inside the same transaction as the
// participation change.
type Ride struct {
	ID               string         `json:"id"               db:"id"`
	Title            string         `json:"title"            db:"title"             validate:"required,max=200"`
	Description      *string        `json:"description"      db:"description"       validate:"omitnil,max=5000"`
	Date             time.Time      `json:"date"             db:"date"`
	StartTime        string         `json:"startTime"        db:"start_time"        validate:"required,clock"`
	StartLocation    string         `json:"startLocation"    db:"start_location"    validate:"required,max=300"`
	StartLatitude    *float64       `json:"startLatitude"    db:"start_latitude"    validate:"omitnil,min=-90,max=90"`
	StartLongitude   *float64       `json:"startLongitude"   db:"start_longitude"   validate:"omitnil,min=-180,max=180"`
	Distance         *float64       `json:"distance"         db:"distance"          validate:"omitnil,gt=0,lte=2000"`
	Duration         *float64       `json:"duration"         db:"duration"          validate:"omitnil,gt=0,lte=99"`
	Difficulty       Difficulty     `json:"difficulty"       db:"difficulty"        validate:"required,oneof=easy intermediate advanced"`
	IsRecurring      bool           `json:"isRecurring"      db:"is_recurring"`
	RecurringType    *RecurringType `json:"recurringType"    db:"recurring_type"    validate:"omitnil,oneof=weekly monthly custom"`
	MaxParticipants  *int           `json:"maxParticipants"  db:"max_participants"  validate:"omitnil,min=1,max=10000"`
	RequiresApproval bool           `json:"requiresApproval" db:"requires_approval"`
	HasRouteMap      bool           `json:"hasRouteMap"      db:"has_route_map"`
	OrganizerID      string         `json:"organizerId"      db:"organizer_id"      validate:"required"`
	OrganizerName    string         `json:"organizerName"    db:"organizer_name"`
	ParticipantCount int            `json:"participantCount" db:"participant_count"`
	CreatedAt        time.Time      `json:"createdAt"        db:"created_at"`
}

// HasCoordinates reports whether both start coordinates are known.
func (r *Ride) HasCoordinates() bool {
	return r.StartLatitude != nil && r.StartLongitude != nil
}

// IsFull reports whether the ride has reached its participant cap.
func (r *Ride) IsFull() bool {
	return r.MaxParticipants != nil && r.ParticipantCount >= *r.MaxParticipants
}

// RideParticipant is one user's membership in one ride.
type RideParticipant struct {
	ID              string    `json:"id"              db:"id"`
	RideID          string    `json:"rideId"          db:"ride_id"`
	ParticipantID   string    `json:"participantId"   db:"participant_id"`
	ParticipantName string    `json:"participantName" db:"participant_name"`
	JoinedAt        time.Time `json:"joinedAt"        db:"joined_at"`
}

// RideFilter narrows ListRides. Zero-valued fields are ignored and the
// remaining ones are ANDed together.
//
// Search matches title OR description OR start location. Near and
// RadiusMiles only apply when both are set; rides without coordinates never
// match a radius search.
type RideFilter struct {
	Difficulty  Difficulty
	Date        *time.Time
	Location    string
	Search      string
	Near        *GeoPoint
	RadiusMiles float64
}

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
