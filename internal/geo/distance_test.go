package geo

import (
	"math"
	"testing"

	"github.com/sakif/cycleconnect/internal/model"
)

func TestHaversineMiles(t *testing.T) {
	tests := []struct {
		name string
		a, b model.GeoPoint
		want float64
		tol  float64
	}{
		{"same point", model.GeoPoint{Lat: 45.5, Lng: -122.6}, model.GeoPoint{Lat: 45.5, Lng: -122.6}, 0, 1e-9},
		// Portland → Seattle is ~145 miles as the crow flies.
		{"Portland to Seattle", model.GeoPoint{Lat: 45.5152, Lng: -122.6784}, model.GeoPoint{Lat: 47.6062, Lng: -122.3321}, 145, 2},
		// One degree of latitude is ~69 miles everywhere.
		{"one degree of latitude", model.GeoPoint{Lat: 0, Lng: 0}, model.GeoPoint{Lat: 1, Lng: 0}, 69.1, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMiles(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("HaversineMiles() = %f, want %f ± %f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestWithinRadius(t *testing.T) {
	lat := func(v float64) *float64 { return &v }

	rides := []model.Ride{
		{ID: "near", StartLatitude: lat(45.52), StartLongitude: lat(-122.68)},
		{ID: "no-coords"},
		{ID: "far", StartLatitude: lat(47.60), StartLongitude: lat(-122.33)},
		{ID: "also-near", StartLatitude: lat(45.50), StartLongitude: lat(-122.65)},
	}
	center := model.GeoPoint{Lat: 45.5152, Lng: -122.6784}

	got := WithinRadius(rides, center, 10)

	want := []string{"near", "also-near"}
	if len(got) != len(want) {
		t.Fatalf("WithinRadius() returned %d rides, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
}
