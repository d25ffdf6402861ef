// Package geo has the small amount of spherical geometry the ride search needs.
package geo

import (
	"math"

	"github.com/sakif/cycleconnect/internal/model"
)

// EarthRadiusMiles is the mean Earth radius. Ride distances are in miles
// throughout the API, so radius searches are too.
const EarthRadiusMiles = 3959.0

// HaversineMiles returns the great-circle distance between two points.
func HaversineMiles(a, b model.GeoPoint) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

// WithinRadius keeps the rides whose start point is at most radiusMiles from
// center, preserving their order. Rides without coordinates are dropped.
func WithinRadius(rides []model.Ride, center model.GeoPoint, radiusMiles float64) []model.Ride {
	out := make([]model.Ride, 0, len(rides))
	for _, r := range rides {
		if !r.HasCoordinates() {
			continue
		}
		p := model.GeoPoint{Lat: *r.StartLatitude, Lng: *r.StartLongitude}
		if HaversineMiles(center, p) <= radiusMiles {
			out = append(out, r)
		}
	}
	return out
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
