// Package model defines the data structures used throughout the application.
package model

import "time"

// ExperienceLevel is how seasoned a rider says they are.
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
	ExperienceExpert       ExperienceLevel = "expert"
)

// PreferredDistance is the ride length a user usually goes for.
type PreferredDistance string

const (
	DistanceShort  PreferredDistance = "short"
	DistanceMedium PreferredDistance = "medium"
	DistanceLong   PreferredDistance = "long"
	DistanceUltra  PreferredDistance = "ultra"
)

// User represents a registered rider.
//
// WHY PasswordHash HAS json:"-"?
// The hash must never leave the server. The "-" tag makes encoding/json skip
// the field entirely, so handlers can write a *User straight to the response
// without a separate DTO.
//
// WHY Bio IS *string?
// Bio is optional and the API distinguishes "never set" (null) from "set to
// empty". The other free-text fields are required at registration, so a
// plain string is enough for them.
type User struct {
	ID                string            `json:"id"                db:"id"`
	Username          string            `json:"username"          db:"username"           validate:"required,min=3,max=32,username"`
	Email             string            `json:"email"             db:"email"              validate:"required,email,max=254"`
	PasswordHash      string            `json:"-"                 db:"password_hash"`
	FirstName         string            `json:"firstName"         db:"first_name"         validate:"required,max=50"`
	LastName          string            `json:"lastName"          db:"last_name"          validate:"required,max=50"`
	Bio               *string           `json:"bio"               db:"bio"                validate:"omitnil,max=500"`
	Location          string            `json:"location"          db:"location"           validate:"required,max=100"`
	ExperienceLevel   ExperienceLevel   `json:"experienceLevel"   db:"experience_level"   validate:"required,oneof=beginner intermediate advanced expert"`
	PreferredDistance PreferredDistance `json:"preferredDistance" db:"preferred_distance" validate:"required,oneof=short medium long ultra"`
	BikeType          string            `json:"bikeType"          db:"bike_type"          validate:"required,max=50"`
	JoinedAt          time.Time         `json:"joinedAt"          db:"joined_at"`
	IsActive          bool              `json:"isActive"          db:"is_active"`
}

// DisplayName is the name copied onto rides and participation rows.
func (u *User) DisplayName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Username
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Session binds a bearer token to a user until ExpiresAt.
// The token itself is never stored; its jti claim is the session ID.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
