package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/auth"
	"github.com/sakif/cycleconnect/internal/handler"
	"github.com/sakif/cycleconnect/internal/model"
	"github.com/sakif/cycleconnect/internal/service"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// MockRideService records what the handler passed in and returns canned
// results, so these tests cover only HTTP translation.
type MockRideService struct {
	CapturedActor *model.User
	CapturedID    string
	CapturedQuery service.RideQuery
	CapturedInput service.CreateRideInput
	CapturedPatch service.RidePatch
	CapturedPID   string

	ReturnRide  *model.Ride
	ReturnRides []model.Ride
	ReturnErr   error
}

func (m *MockRideService) List(_ context.Context, q service.RideQuery) ([]model.Ride, error) {
	m.CapturedQuery = q
	return m.ReturnRides, m.ReturnErr
}

func (m *MockRideService) Get(_ context.Context, id string) (*model.Ride, error) {
	m.CapturedID = id
	return m.ReturnRide, m.ReturnErr
}

func (m *MockRideService) Create(_ context.Context, actor *model.User, in service.CreateRideInput) (*model.Ride, error) {
	m.CapturedActor, m.CapturedInput = actor, in
	return m.ReturnRide, m.ReturnErr
}

func (m *MockRideService) Update(_ context.Context, actor *model.User, id string, p service.RidePatch) (*model.Ride, error) {
	m.CapturedActor, m.CapturedID, m.CapturedPatch = actor, id, p
	return m.ReturnRide, m.ReturnErr
}

func (m *MockRideService) Delete(_ context.Context, actor *model.User, id string) error {
	m.CapturedActor, m.CapturedID = actor, id
	return m.ReturnErr
}

func (m *MockRideService) Participants(_ context.Context, id string) ([]model.RideParticipant, error) {
	m.CapturedID = id
	return []model.RideParticipant{}, m.ReturnErr
}

func (m *MockRideService) Join(_ context.Context, actor *model.User, id string) (*model.RideParticipant, error) {
	m.CapturedActor, m.CapturedID = actor, id
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return &model.RideParticipant{ID: "p1", RideID: id, ParticipantID: actor.ID}, nil
}

func (m *MockRideService) Leave(_ context.Context, actor *model.User, rideID, pid string) error {
	m.CapturedActor, m.CapturedID, m.CapturedPID = actor, rideID, pid
	return m.ReturnErr
}

var rider = &model.User{ID: "u1", Username: "alice", FirstName: "Alice"}

// rideRouter mounts the ride handler on the same paths as the server,
// without auth middleware: the tests put the user on the context directly.
func rideRouter(h *handler.RideHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/rides", h.HandleList)
	r.Post("/api/rides", h.HandleCreate)
	r.Get("/api/rides/{id}", h.HandleGet)
	r.Patch("/api/rides/{id}", h.HandleUpdate)
	r.Delete("/api/rides/{id}", h.HandleDelete)
	r.Get("/api/rides/{id}/participants", h.HandleParticipants)
	r.Post("/api/rides/{id}/join", h.HandleJoin)
	r.Delete("/api/rides/{id}/participants/{participantId}", h.HandleLeave)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, user *model.User) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user, "sess-1"))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var e handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e))
	return e
}

func TestRideHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", apperror.Validation(
			apperror.FieldError{Field: "title", Message: "title is required"},
			apperror.FieldError{Field: "date", Message: "date is required"},
		), http.StatusBadRequest, "validation_error"},
		{"unauthenticated", apperror.Unauthenticated("no"), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", apperror.Forbidden("only the organizer can edit this ride"), http.StatusForbidden, "forbidden"},
		{"not found", apperror.NotFound("ride", "r1"), http.StatusNotFound, "not_found"},
		{"conflict", apperror.ConflictField("participantId", "already joined this ride"), http.StatusConflict, "conflict"},
		{"wrapped domain error", errors.Join(errors.New("ctx"), apperror.NotFound("ride", "r1")), http.StatusNotFound, "not_found"},
		{"unknown error", errors.New("sqlite: disk I/O error"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockRideService{ReturnErr: tt.err}
			rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodGet, "/api/rides/r1", "", nil)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			body := decodeError(t, rr)
			assert.Equal(t, tt.wantType, body.Error)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, body.Message, "sqlite", "internal details must not leak")
			}
			if tt.name == "validation" {
				require.Len(t, body.Fields, 2)
				assert.Equal(t, "title", body.Fields[0].Field)
			}
		})
	}
}

func TestRideHandler_List(t *testing.T) {
	mock := &MockRideService{ReturnRides: []model.Ride{{ID: "r1", Title: "Morning Ride"}}}
	rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodGet,
		"/api/rides?difficulty=easy&search=park&lat=40.7&lng=-73.9&radius=5", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, service.RideQuery{Difficulty: "easy", Search: "park", Lat: "40.7", Lng: "-73.9", Radius: "5"}, mock.CapturedQuery)

	var rides []model.Ride
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rides))
	require.Len(t, rides, 1)
	assert.Equal(t, "Morning Ride", rides[0].Title)
}

func TestRideHandler_Create(t *testing.T) {
	t.Run("requires a user", func(t *testing.T) {
		mock := &MockRideService{}
		rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodPost, "/api/rides", `{"title":"x"}`, nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
		assert.Nil(t, mock.CapturedActor, "service must not be called")
	})

	t.Run("passes the session user and body", func(t *testing.T) {
		mock := &MockRideService{ReturnRide: &model.Ride{ID: "r9", Title: "Morning Ride"}}
		rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodPost, "/api/rides",
			`{"title":"Morning Ride","date":"2024-06-01","organizerId":"someone-else"}`, rider)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "/api/rides/r9", rr.Header().Get("Location"))
		assert.Equal(t, rider, mock.CapturedActor)
		assert.Equal(t, "Morning Ride", mock.CapturedInput.Title)
		assert.Equal(t, "2024-06-01", mock.CapturedInput.Date)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		mock := &MockRideService{}
		rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodPost, "/api/rides", `{"title":`, rider)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "validation_error", decodeError(t, rr).Error)
	})

	t.Run("wrong field type", func(t *testing.T) {
		mock := &MockRideService{}
		rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodPost, "/api/rides", `{"title":42}`, rider)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "title", decodeError(t, rr).Field)
	})

	t.Run("empty body", func(t *testing.T) {
		mock := &MockRideService{}
		rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodPost, "/api/rides", "", rider)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRideHandler_UpdatePassesPatch(t *testing.T) {
	mock := &MockRideService{ReturnRide: &model.Ride{ID: "r1"}}
	rr := do(t, rideRouter(handler.NewRideHandler(mock, logger)), http.MethodPatch, "/api/rides/r1",
		`{"title":"Evening Ride","maxParticipants":null}`, rider)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "r1", mock.CapturedID)
	require.NotNil(t, mock.CapturedPatch.Title)
	assert.Equal(t, "Evening Ride", *mock.CapturedPatch.Title)
	assert.True(t, mock.CapturedPatch.MaxParticipants.Set)
	assert.Nil(t, mock.CapturedPatch.MaxParticipants.Value)
	assert.False(t, mock.CapturedPatch.Distance.Set)
}

func TestRideHandler_Participation(t *testing.T) {
	mock := &MockRideService{}
	router := rideRouter(handler.NewRideHandler(mock, logger))

	rr := do(t, router, http.MethodPost, "/api/rides/r1/join", "", rider)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "r1", mock.CapturedID)

	rr = do(t, router, http.MethodDelete, "/api/rides/r1/participants/u2", "", rider)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "r1", mock.CapturedID)
	assert.Equal(t, "u2", mock.CapturedPID)

	rr = do(t, router, http.MethodDelete, "/api/rides/r1", "", rider)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	mock.ReturnErr = apperror.ConflictField("rideId", "ride is full")
	rr = do(t, router, http.MethodPost, "/api/rides/r1/join", "", rider)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "rideId", decodeError(t, rr).Field)
}

// =========================================================================
// GEOCODE
// =========================================================================

type MockGeocoder struct {
	CapturedQuery    string
	CapturedLat, Lng float64
	Return           json.RawMessage
	ReturnErr        error
}

func (m *MockGeocoder) Search(_ context.Context, q string) (json.RawMessage, error) {
	m.CapturedQuery = q
	return m.Return, m.ReturnErr
}

func (m *MockGeocoder) Reverse(_ context.Context, lat, lng float64) (json.RawMessage, error) {
	m.CapturedLat, m.Lng = lat, lng
	return m.Return, m.ReturnErr
}

func TestGeocodeHandler(t *testing.T) {
	t.Run("relays upstream JSON", func(t *testing.T) {
		mock := &MockGeocoder{Return: json.RawMessage(`[{"display_name":"Central Park"}]`)}
		h := handler.NewGeocodeHandler(mock, logger)
		rr := do(t, http.HandlerFunc(h.HandleSearch), http.MethodGet, "/api/geocode?q=central+park", "", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[{"display_name":"Central Park"}]`, rr.Body.String())
		assert.Equal(t, "central park", mock.CapturedQuery)
	})

	t.Run("missing q", func(t *testing.T) {
		h := handler.NewGeocodeHandler(&MockGeocoder{}, logger)
		rr := do(t, http.HandlerFunc(h.HandleSearch), http.MethodGet, "/api/geocode?q=%20", "", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "q", decodeError(t, rr).Field)
	})

	t.Run("upstream failure", func(t *testing.T) {
		// The client logs the cause; the handler only answers.
		var logs bytes.Buffer
		quiet := slog.New(slog.NewTextHandler(&logs, nil))
		h := handler.NewGeocodeHandler(&MockGeocoder{ReturnErr: errors.New("dial tcp: refused")}, quiet)
		rr := do(t, http.HandlerFunc(h.HandleSearch), http.MethodGet, "/api/geocode?q=x", "", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "Geocoding failed", body.Message)
		assert.NotContains(t, body.Message, "dial tcp")
		assert.Empty(t, logs.String())
	})

	t.Run("reverse", func(t *testing.T) {
		mock := &MockGeocoder{Return: json.RawMessage(`{"display_name":"Pearl St"}`)}
		h := handler.NewGeocodeHandler(mock, logger)

		rr := do(t, http.HandlerFunc(h.HandleReverse), http.MethodGet, "/api/geocode/reverse?lat=40.01&lng=-105.27", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 40.01, mock.CapturedLat)
		assert.Equal(t, -105.27, mock.Lng)

		rr = do(t, http.HandlerFunc(h.HandleReverse), http.MethodGet, "/api/geocode/reverse?lat=95&lng=0", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "lat", decodeError(t, rr).Field)
	})
}

// =========================================================================
// HEALTH
// =========================================================================

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := handler.NewHealthHandler(pingFunc(func(context.Context) error { return nil }), logger)
	rr := do(t, http.HandlerFunc(ok.HandleHealth), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	down := handler.NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("closed") }), logger)
	rr = do(t, http.HandlerFunc(down.HandleHealth), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
