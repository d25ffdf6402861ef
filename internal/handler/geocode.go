package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/cycleconnect/internal/apperror"
)

// Geocoder is implemented by *geocode.Client.
type Geocoder interface {
	Search(ctx context.Context, q string) (json.RawMessage, error)
	Reverse(ctx context.Context, lat, lng float64) (json.RawMessage, error)
}

// GeocodeHandler proxies address lookups so the browser never talks to
// the geocoding provider directly.
type GeocodeHandler struct {
	geo    Geocoder
	logger *slog.Logger
}

func NewGeocodeHandler(geo Geocoder, logger *slog.Logger) *GeocodeHandler {
	return &GeocodeHandler{geo: geo, logger: logger}
}

// HandleSearch relays the provider's JSON array of matches.
//
// HTTP: GET /api/geocode?q=central+park
func (h *GeocodeHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, apperror.ValidationFailed("q", "Query parameter 'q' is required"))
		return
	}

	body, err := h.geo.Search(r.Context(), q)
	if err != nil {
		h.geocodeFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleReverse relays the provider's description of a coordinate.
//
// HTTP: GET /api/geocode/reverse?lat=40.01&lng=-105.27
func (h *GeocodeHandler) HandleReverse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		writeError(w, apperror.ValidationFailed("lat", "lat must be a number between -90 and 90"))
		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil || lng < -180 || lng > 180 {
		writeError(w, apperror.ValidationFailed("lng", "lng must be a number between -180 and 180"))
		return
	}

	body, err := h.geo.Reverse(r.Context(), lat, lng)
	if err != nil {
		h.geocodeFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// geocodeFailed hides provider details from the client. geocode.Client has
// already logged the cause with the lookup kind.
func (h *GeocodeHandler) geocodeFailed(w http.ResponseWriter, _ error) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Geocoding failed",
	})
}
