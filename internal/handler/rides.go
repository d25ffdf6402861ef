package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/cycleconnect/internal/model"
	"github.com/sakif/cycleconnect/internal/service"
)

// RideService is what RideHandler needs from the business layer.
// *service.RideService satisfies it; tests may substitute their own.
type RideService interface {
	List(ctx context.Context, q service.RideQuery) ([]model.Ride, error)
	Get(ctx context.Context, id string) (*model.Ride, error)
	Create(ctx context.Context, actor *model.User, in service.CreateRideInput) (*model.Ride, error)
	Update(ctx context.Context, actor *model.User, id string, patch service.RidePatch) (*model.Ride, error)
	Delete(ctx context.Context, actor *model.User, id string) error
	Participants(ctx context.Context, rideID string) ([]model.RideParticipant, error)
	Join(ctx context.Context, actor *model.User, rideID string) (*model.RideParticipant, error)
	Leave(ctx context.Context, actor *model.User, rideID, participantID string) error
}

// RideHandler serves /api/rides and its participation sub-resources.
//
// Handlers only translate HTTP ↔ service calls: parse the path, query and
// body, pick the acting user off the context, and map the result (or
// error) to a response. Every rule lives in service.RideService.
type RideHandler struct {
	rides  RideService
	logger *slog.Logger
}

func NewRideHandler(rides RideService, logger *slog.Logger) *RideHandler {
	return &RideHandler{rides: rides, logger: logger}
}

// HandleList returns rides, soonest first.
//
// HTTP: GET /api/rides?difficulty=&date=&location=&search=&lat=&lng=&radius=
func (h *RideHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rides, err := h.rides.List(r.Context(), service.RideQuery{
		Difficulty: q.Get("difficulty"),
		Date:       q.Get("date"),
		Location:   q.Get("location"),
		Search:     q.Get("search"),
		Lat:        q.Get("lat"),
		Lng:        q.Get("lng"),
		Radius:     q.Get("radius"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

// HandleGet returns one ride.
//
// HTTP: GET /api/rides/{id}
func (h *RideHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ride, err := h.rides.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// HandleCreate creates a ride organized by the caller.
//
// HTTP: POST /api/rides (authenticated)
// Any organizerId in the body is ignored.
func (h *RideHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var in service.CreateRideInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	ride, err := h.rides.Create(r.Context(), actor, in)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/rides/"+ride.ID)
	writeJSON(w, http.StatusCreated, ride)
}

// HandleUpdate applies a partial update.
//
// HTTP: PATCH /api/rides/{id} (organizer only)
// Absent fields are left alone; null clears an optional field.
func (h *RideHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var patch service.RidePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	ride, err := h.rides.Update(r.Context(), actor, r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// HandleDelete removes a ride and everyone's participation in it.
//
// HTTP: DELETE /api/rides/{id} (organizer only)
func (h *RideHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.rides.Delete(r.Context(), actor, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleParticipants lists who joined, newest first.
//
// HTTP: GET /api/rides/{id}/participants
func (h *RideHandler) HandleParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.rides.Participants(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

// HandleJoin adds the caller to the ride.
//
// HTTP: POST /api/rides/{id}/join (authenticated)
// 409 if already joined or the ride is full.
func (h *RideHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	actor, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.rides.Join(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleLeave removes a participant.
//
// HTTP: DELETE /api/rides/{id}/participants/{participantId}
// Allowed for the participant themselves and for the organizer.
func (h *RideHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	actor, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}

	err = h.rides.Leave(r.Context(), actor, r.PathValue("id"), r.PathValue("participantId"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
