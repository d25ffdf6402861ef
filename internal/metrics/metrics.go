// Package metrics holds the Prometheus collectors for the API and the
// helpers that update them. Collectors are registered on the default
// registry by promauto, which is what promhttp.Handler serves at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cycleconnect_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cycleconnect_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	rideEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cycleconnect_ride_events_total",
		Help: "Ride lifecycle events by type (created, updated, deleted, joined, left)",
	}, []string{"event"})

	authEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cycleconnect_auth_events_total",
		Help: "Authentication events by type and result",
	}, []string{"event", "result"})

	geocodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cycleconnect_geocode_requests_total",
		Help: "Geocoding lookups by kind and source (cache, upstream, error)",
	}, []string{"kind", "source"})
)

// ObserveHTTPRequest records an HTTP request metric.
// route is the chi route pattern ("/api/rides/{id}"), never the raw path,
// so ride IDs don't explode the label cardinality.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveRideEvent counts one ride lifecycle event.
func ObserveRideEvent(event string) {
	rideEvents.WithLabelValues(event).Inc()
}

// ObserveAuthEvent counts a login, registration or logout with its result.
func ObserveAuthEvent(event, result string) {
	authEvents.WithLabelValues(event, result).Inc()
}

// ObserveGeocode counts a geocoding lookup served from source.
func ObserveGeocode(kind, source string) {
	geocodeRequests.WithLabelValues(kind, source).Inc()
}
