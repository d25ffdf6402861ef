// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository INTERFACES, never *sqlite.DB, so tests can pass
// in-memory fakes and the service never imports the sqlite package.
//
// AUTHORIZATION LIVES HERE:
// Handlers know WHO is calling (from the auth middleware) and pass that user
// in. Whether that user may touch a ride is a business rule, so the
// organizer/participant checks are made in this layer and come back as
// apperror.Forbidden.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/geo"
	"github.com/sakif/cycleconnect/internal/metrics"
	"github.com/sakif/cycleconnect/internal/model"
	"github.com/sakif/cycleconnect/internal/repository"
)

// DefaultRadiusMiles applies when a caller gives lat/lng but no radius.
const DefaultRadiusMiles = 25.0

// RideService handles business logic for rides and participation.
type RideService struct {
	rides  repository.RideRepository
	logger *slog.Logger
}

func NewRideService(rides repository.RideRepository, logger *slog.Logger) *RideService {
	return &RideService{rides: rides, logger: logger}
}

// RideQuery is the raw, string-typed form of the list filters, exactly as
// they arrive in a query string. List parses and validates it.
type RideQuery struct {
	Difficulty string
	Date       string
	Location   string
	Search     string
	Lat        string
	Lng        string
	Radius     string
}

// CreateRideInput is the body of POST /api/rides.
// organizerId, participantCount, id and createdAt are not accepted: the
// server decides them.
type CreateRideInput struct {
	Title            string               `json:"title"`
	Description      *string              `json:"description"`
	Date             string               `json:"date"`
	StartTime        string               `json:"startTime"`
	StartLocation    string               `json:"startLocation"`
	StartLatitude    *float64             `json:"startLatitude"`
	StartLongitude   *float64             `json:"startLongitude"`
	Distance         *float64             `json:"distance"`
	Duration         *float64             `json:"duration"`
	Difficulty       model.Difficulty     `json:"difficulty"`
	IsRecurring      bool                 `json:"isRecurring"`
	RecurringType    *model.RecurringType `json:"recurringType"`
	MaxParticipants  *int                 `json:"maxParticipants"`
	RequiresApproval bool                 `json:"requiresApproval"`
	HasRouteMap      bool                 `json:"hasRouteMap"`
}

// Optional distinguishes "field absent" from "field explicitly null" in a
// JSON PATCH body. encoding/json only calls UnmarshalJSON for keys that are
// present, so Set stays false for absent keys; Value is nil for null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// RidePatch is the body of PATCH /api/rides/{id}.
//
// Required fields are plain pointers (nil = leave alone). Nullable fields
// use Optional so a client can clear them with an explicit null.
type RidePatch struct {
	Title            *string                       `json:"title"`
	Description      Optional[string]              `json:"description"`
	Date             *string                       `json:"date"`
	StartTime        *string                       `json:"startTime"`
	StartLocation    *string                       `json:"startLocation"`
	StartLatitude    Optional[float64]             `json:"startLatitude"`
	StartLongitude   Optional[float64]             `json:"startLongitude"`
	Distance         Optional[float64]             `json:"distance"`
	Duration         Optional[float64]             `json:"duration"`
	Difficulty       *model.Difficulty             `json:"difficulty"`
	IsRecurring      *bool                         `json:"isRecurring"`
	RecurringType    Optional[model.RecurringType] `json:"recurringType"`
	MaxParticipants  Optional[int]                 `json:"maxParticipants"`
	RequiresApproval *bool                         `json:"requiresApproval"`
	HasRouteMap      *bool                         `json:"hasRouteMap"`
}

// List returns the rides matching q, soonest first.
func (s *RideService) List(ctx context.Context, q RideQuery) ([]model.Ride, error) {
	filter, err := parseRideQuery(q)
	if err != nil {
		return nil, err
	}

	rides, err := s.rides.ListRides(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list rides", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing rides: %w", err)
	}

	if filter.Near != nil {
		rides = geo.WithinRadius(rides, *filter.Near, filter.RadiusMiles)
	}
	return rides, nil
}

// Get returns apperror.ErrNotFound if the ride doesn't exist.
func (s *RideService) Get(ctx context.Context, id string) (*model.Ride, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "ride ID is required")
	}
	return s.rides.GetRide(ctx, id)
}

// Create validates in and stores a new ride organized by actor.
// Whatever the client sent, the organizer is the session user.
func (s *RideService) Create(ctx context.Context, actor *model.User, in CreateRideInput) (*model.Ride, error) {
	ride := &model.Ride{
		Title:            strings.TrimSpace(in.Title),
		Description:      trimOptional(in.Description),
		StartTime:        strings.TrimSpace(in.StartTime),
		StartLocation:    strings.TrimSpace(in.StartLocation),
		StartLatitude:    in.StartLatitude,
		StartLongitude:   in.StartLongitude,
		Distance:         in.Distance,
		Duration:         in.Duration,
		Difficulty:       in.Difficulty,
		IsRecurring:      in.IsRecurring,
		RecurringType:    in.RecurringType,
		MaxParticipants:  in.MaxParticipants,
		RequiresApproval: in.RequiresApproval,
		HasRouteMap:      in.HasRouteMap,
		OrganizerID:      actor.ID,
		OrganizerName:    actor.DisplayName(),
	}

	var fields []apperror.FieldError
	date, err := parseRideDate(in.Date)
	if err != nil {
		fields = append(fields, fieldErrors(err)...)
	}
	ride.Date = date

	if err := validateRide(ride); err != nil {
		fields = append(fields, fieldErrors(err)...)
	}
	if len(fields) > 0 {
		return nil, apperror.Validation(dedupeFields(fields)...)
	}

	if err := s.rides.CreateRide(ctx, ride); err != nil {
		s.logger.Error("failed to create ride",
			slog.String("title", ride.Title),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating ride: %w", err)
	}

	metrics.ObserveRideEvent("created")
	s.logger.Info("ride created",
		slog.String("id", ride.ID),
		slog.String("organizerID", ride.OrganizerID),
		slog.String("title", ride.Title),
	)
	return ride, nil
}

// Update applies patch to the ride if actor is its organizer.
//
// STRATEGY: fetch, merge, validate the MERGED record, save.
// Validating the merged ride (not just the patch) is what stops an update
// from e.g. setting recurringType on a non-recurring ride.
func (s *RideService) Update(ctx context.Context, actor *model.User, id string, patch RidePatch) (*model.Ride, error) {
	ride, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ride.OrganizerID != actor.ID {
		return nil, apperror.Forbidden("only the organizer can edit this ride")
	}

	if err := applyRidePatch(ride, patch); err != nil {
		return nil, err
	}
	if err := validateRide(ride); err != nil {
		return nil, err
	}

	if err := s.rides.UpdateRide(ctx, ride); err != nil {
		s.logger.Error("failed to update ride",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating ride: %w", err)
	}

	metrics.ObserveRideEvent("updated")
	s.logger.Info("ride updated", slog.String("id", ride.ID))
	return ride, nil
}

// Delete removes the ride and its participants if actor is the organizer.
func (s *RideService) Delete(ctx context.Context, actor *model.User, id string) error {
	ride, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if ride.OrganizerID != actor.ID {
		return apperror.Forbidden("only the organizer can delete this ride")
	}

	if err := s.rides.DeleteRide(ctx, ride.ID); err != nil {
		return fmt.Errorf("deleting ride: %w", err)
	}

	metrics.ObserveRideEvent("deleted")
	s.logger.Info("ride deleted", slog.String("id", ride.ID))
	return nil
}

// Participants lists who has joined the ride, newest first.
func (s *RideService) Participants(ctx context.Context, rideID string) ([]model.RideParticipant, error) {
	if _, err := s.Get(ctx, rideID); err != nil {
		return nil, err
	}
	participants, err := s.rides.ListParticipants(ctx, rideID)
	if err != nil {
		s.logger.Error("failed to list participants",
			slog.String("rideID", rideID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	return participants, nil
}

// Join adds actor to the ride. Joining twice, or joining a full ride, is
// an apperror.ErrConflict.
func (s *RideService) Join(ctx context.Context, actor *model.User, rideID string) (*model.RideParticipant, error) {
	rideID = strings.TrimSpace(rideID)
	if rideID == "" {
		return nil, apperror.ValidationFailed("id", "ride ID is required")
	}

	p := &model.RideParticipant{
		RideID:          rideID,
		ParticipantID:   actor.ID,
		ParticipantName: actor.DisplayName(),
	}
	if err := s.rides.JoinRide(ctx, p); err != nil {
		return nil, err
	}

	metrics.ObserveRideEvent("joined")
	s.logger.Info("ride joined",
		slog.String("rideID", rideID),
		slog.String("participantID", actor.ID),
	)
	return p, nil
}

// Leave removes participantID from the ride.
//
// A rider may remove themselves; the organizer may remove anyone.
// No matching participation row is apperror.ErrNotFound.
func (s *RideService) Leave(ctx context.Context, actor *model.User, rideID, participantID string) error {
	ride, err := s.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if actor.ID != participantID && actor.ID != ride.OrganizerID {
		return apperror.Forbidden("you can only remove yourself from a ride")
	}

	left, err := s.rides.LeaveRide(ctx, ride.ID, participantID)
	if err != nil {
		return fmt.Errorf("leaving ride: %w", err)
	}
	if !left {
		return apperror.NotFound("participant", participantID)
	}

	metrics.ObserveRideEvent("left")
	s.logger.Info("ride left",
		slog.String("rideID", ride.ID),
		slog.String("participantID", participantID),
		slog.String("actorID", actor.ID),
	)
	return nil
}

func parseRideQuery(q RideQuery) (model.RideFilter, error) {
	filter := model.RideFilter{
		Difficulty: model.Difficulty(strings.TrimSpace(q.Difficulty)),
		Location:   strings.TrimSpace(q.Location),
		Search:     strings.TrimSpace(q.Search),
	}

	// An unknown difficulty is still an exact-match filter: it matches no
	// ride and the list comes back empty.
	var fields []apperror.FieldError

	if strings.TrimSpace(q.Date) != "" {
		d, err := parseRideDate(q.Date)
		if err != nil {
			fields = append(fields, fieldErrors(err)...)
		} else {
			filter.Date = &d
		}
	}

	lat, latErr := parseOptionalFloat(q.Lat)
	lng, lngErr := parseOptionalFloat(q.Lng)
	radius, radErr := parseOptionalFloat(q.Radius)
	switch {
	case latErr != nil || (lat != nil && (*lat < -90 || *lat > 90)):
		fields = append(fields, apperror.FieldError{Field: "lat", Message: "lat must be a number between -90 and 90"})
	case lngErr != nil || (lng != nil && (*lng < -180 || *lng > 180)):
		fields = append(fields, apperror.FieldError{Field: "lng", Message: "lng must be a number between -180 and 180"})
	case radErr != nil || (radius != nil && *radius <= 0):
		fields = append(fields, apperror.FieldError{Field: "radius", Message: "radius must be a positive number of miles"})
	case (lat == nil) != (lng == nil):
		fields = append(fields, apperror.FieldError{Field: "lat", Message: "lat and lng must be given together"})
	case lat != nil:
		filter.Near = &model.GeoPoint{Lat: *lat, Lng: *lng}
		filter.RadiusMiles = DefaultRadiusMiles
		if radius != nil {
			filter.RadiusMiles = *radius
		}
	}

	if len(fields) > 0 {
		return model.RideFilter{}, apperror.Validation(fields...)
	}
	return filter, nil
}

func applyRidePatch(r *model.Ride, p RidePatch) error {
	if p.Title != nil {
		r.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description.Set {
		r.Description = trimOptional(p.Description.Value)
	}
	if p.Date != nil {
		d, err := parseRideDate(*p.Date)
		if err != nil {
			return err
		}
		r.Date = d
	}
	if p.StartTime != nil {
		r.StartTime = strings.TrimSpace(*p.StartTime)
	}
	if p.StartLocation != nil {
		r.StartLocation = strings.TrimSpace(*p.StartLocation)
	}
	if p.StartLatitude.Set {
		r.StartLatitude = p.StartLatitude.Value
	}
	if p.StartLongitude.Set {
		r.StartLongitude = p.StartLongitude.Value
	}
	if p.Distance.Set {
		r.Distance = p.Distance.Value
	}
	if p.Duration.Set {
		r.Duration = p.Duration.Value
	}
	if p.Difficulty != nil {
		r.Difficulty = *p.Difficulty
	}
	if p.IsRecurring != nil {
		r.IsRecurring = *p.IsRecurring
		// Turning recurrence off drops the recurrence kind with it, unless
		// the same patch sets one (which validateRide then rejects).
		if !r.IsRecurring && !p.RecurringType.Set {
			r.RecurringType = nil
		}
	}
	if p.RecurringType.Set {
		r.RecurringType = p.RecurringType.Value
	}
	if p.MaxParticipants.Set {
		r.MaxParticipants = p.MaxParticipants.Value
	}
	if p.RequiresApproval != nil {
		r.RequiresApproval = *p.RequiresApproval
	}
	if p.HasRouteMap != nil {
		r.HasRouteMap = *p.HasRouteMap
	}
	return nil
}

func parseOptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// trimOptional trims an optional text field; blank becomes absent.
func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
