// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// It decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New creates:
//	  sqlite.DB ─┬→ RideService → RideHandler
//	             ├→ UserService → UserHandler
//	             └→ AuthService → AuthHandler, auth.RequireAuth
//	  geocode.Cache (Redis or memory) → geocode.Client → GeocodeHandler
//
// This is the "composition root" pattern: all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sakif/cycleconnect/internal/auth"
	"github.com/sakif/cycleconnect/internal/config"
	"github.com/sakif/cycleconnect/internal/geocode"
	"github.com/sakif/cycleconnect/internal/handler"
	"github.com/sakif/cycleconnect/internal/metrics"
	"github.com/sakif/cycleconnect/internal/middleware"
	sqliteRepo "github.com/sakif/cycleconnect/internal/repository/sqlite"
	"github.com/sakif/cycleconnect/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, when configured, the Redis
// client. Close releases both; Start calls it on the way out.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB

	authService *service.AuthService
	passwords   *auth.PasswordService
	closers     []io.Closer
}

// Option customises a Server before its dependencies are built.
type Option func(*Server)

// WithPasswordService replaces the default argon2id cost settings.
// Tests use it with auth.NewPasswordServiceForTest.
func WithPasswordService(p *auth.PasswordService) Option {
	return func(s *Server) { s.passwords = p }
}

// New creates a Server from cfg, opening the database and building every
// service and handler.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` so it isn't confused with
// the sqlite driver package.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		passwords: auth.NewPasswordService(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db
	s.closers = append(s.closers, db)

	if err := s.setupRoutes(ctx); err != nil {
		s.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler returns the root handler, wrapped for tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "cycleconnect",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                                   → DB ping
//	GET    /metrics                                   → Prometheus
//	GET    /api/rides                                 → list (filters in query)
//	GET    /api/rides/{id}                            → one ride
//	GET    /api/rides/{id}/participants               → who joined
//	POST   /api/rides                          [auth] → create
//	PATCH  /api/rides/{id}                     [auth] → update (organizer)
//	DELETE /api/rides/{id}                     [auth] → delete (organizer)
//	POST   /api/rides/{id}/join                [auth] → join
//	DELETE /api/rides/{id}/participants/{pid}  [auth] → leave / remove
//	POST   /api/auth/register               [limited] → sign up
//	POST   /api/auth/login                  [limited] → sign in
//	POST   /api/auth/logout                    [auth] → sign out
//	GET    /api/auth/user                  [optional] → current user
//	GET    /api/users, /api/users/{id}                → profiles
//	PATCH  /api/users/{id}                     [auth] → edit own profile
//	GET    /api/geocode?q=, /api/geocode/reverse      → geocoding proxy
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns unique ID to each request (logged by Logger)
//  2. RealIP: client IP from proxy headers, only behind TRUSTED_PROXIES
//     (the rate limiter keys on it)
//  3. Logger: logs each request with timing info
//  4. Recoverer: catches panics and returns 500 instead of crashing
//  5. HTTPMetricsMiddleware: per-route request counters and latency
func (s *Server) setupRoutes(ctx context.Context) error {
	// === Services ===
	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return err
	}

	s.authService = service.NewAuthService(s.db, s.db, tokens, s.passwords, s.config.SessionTTL, s.logger)
	rideService := service.NewRideService(s.db, s.logger)
	userService := service.NewUserService(s.db, s.logger)

	geocoder, err := s.newGeocoder(ctx)
	if err != nil {
		return err
	}

	// === Handlers ===
	rides := handler.NewRideHandler(rideService, s.logger)
	users := handler.NewUserHandler(userService, s.logger)
	authH := handler.NewAuthHandler(s.authService, s.logger)
	geo := handler.NewGeocodeHandler(geocoder, s.logger)
	health := handler.NewHealthHandler(s.db, s.logger)

	requireAuth := auth.RequireAuth(s.authService)
	optionalAuth := auth.OptionalAuth(s.authService)
	limiter := auth.NewRateLimiter(s.config.AuthRateLimit)

	// === Global Middleware ===
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RealIP(s.config.TrustedProxies))
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.HTTPMetricsMiddleware)

	r.NotFound(handler.HandleNotFound)
	r.MethodNotAllowed(handler.HandleMethodNotAllowed)

	r.Get("/healthz", health.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/rides", func(r chi.Router) {
			r.Get("/", rides.HandleList)
			r.Get("/{id}", rides.HandleGet)
			r.Get("/{id}/participants", rides.HandleParticipants)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/", rides.HandleCreate)
				r.Patch("/{id}", rides.HandleUpdate)
				r.Delete("/{id}", rides.HandleDelete)
				r.Post("/{id}/join", rides.HandleJoin)
				r.Delete("/{id}/participants/{participantId}", rides.HandleLeave)
			})
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(limiter.Middleware).Post("/register", authH.HandleRegister)
			r.With(limiter.Middleware).Post("/login", authH.HandleLogin)
			r.With(requireAuth).Post("/logout", authH.HandleLogout)
			r.With(optionalAuth).Get("/user", authH.HandleCurrentUser)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", users.HandleList)
			r.Get("/{id}", users.HandleGet)
			r.With(requireAuth).Patch("/{id}", users.HandleUpdate)
		})

		r.Get("/geocode", geo.HandleSearch)
		r.Get("/geocode/reverse", geo.HandleReverse)
	})

	return nil
}

// newGeocoder builds the geocoding client with a Redis cache when
// REDIS_URL is set, and an in-process cache otherwise.
func (s *Server) newGeocoder(ctx context.Context) (*geocode.Client, error) {
	var cache geocode.Cache
	if s.config.RedisURL != "" {
		rc, err := geocode.NewRedisCache(ctx, s.config.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rc)
		cache = rc
		s.logger.Info("geocode cache: redis")
	} else {
		cache = geocode.NewMemoryCache(0)
		s.logger.Info("geocode cache: in-memory")
	}

	gcfg := geocode.Config{
		BaseURL:   s.config.GeocoderBaseURL,
		UserAgent: s.config.GeocoderUserAgent,
		Timeout:   s.config.GeocoderTimeout,
		CacheTTL:  s.config.GeocoderCacheTTL,
	}
	if s.config.GeocoderOAuthEnabled() {
		gcfg.OAuth = &clientcredentials.Config{
			ClientID:     s.config.GeocoderOAuthClientID,
			ClientSecret: s.config.GeocoderOAuthClientSecret,
			TokenURL:     s.config.GeocoderOAuthTokenURL,
		}
	}
	return geocode.New(gcfg, cache, s.logger), nil
}

// Close releases the database and cache connections.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (SHUTDOWN_TIMEOUT)
//  3. Close the database (flushes WAL, releases file lock) and Redis
func (s *Server) Start() error {
	defer s.Close()

	// Expired sessions are also dropped lazily on use; this clears the
	// backlog left by users who never came back.
	if _, err := s.authService.PurgeExpiredSessions(context.Background()); err != nil {
		s.logger.Warn("failed to purge expired sessions", slog.String("error", err.Error()))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("environment", s.config.Environment),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
