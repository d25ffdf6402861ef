package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/cycleconnect/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A plain string key could be
// read or shadowed by any package that knows the string. Only THIS package
// can create a key of type contextKey.
type contextKey string

const (
	userKey    contextKey = "user"
	sessionKey contextKey = "sessionID"
)

// Authenticator resolves a bearer token to the user behind a live session.
// service.AuthService implements it; the middleware only needs this method.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, *model.Session, error)
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads "Authorization: Bearer <token>", resolves it through authn and
// stores the user in the request context. Missing, invalid, expired or
// revoked tokens all get the same 401 and stop the chain.
//
// MIDDLEWARE PATTERN IN GO:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... before ...
//	        next.ServeHTTP(w, r)
//	        // ... after ...
//	    })
//	}
func RequireAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := authenticate(r, authn)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="cycleconnect"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the user if a valid token is present but never
// blocks the request. Handlers check UserFromContext to tell the difference.
func OptionalAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx, ok := authenticate(r, authn); ok {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext returns the authenticated user, or (nil, false) for an
// anonymous request.
//
//	user, ok := auth.UserFromContext(r.Context())
//	if !ok {
//	    // anonymous user
//	}
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// SessionIDFromContext returns the session the request authenticated with.
// Logout uses it to know which row to delete.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey).(string)
	return id, ok && id != ""
}

// WithUser returns a copy of ctx carrying user and sessionID.
// Handler tests use it to fake an authenticated request.
func WithUser(ctx context.Context, user *model.User, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, sessionKey, sessionID)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively per RFC 6750.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func authenticate(r *http.Request, authn Authenticator) (context.Context, bool) {
	token, ok := BearerToken(r)
	if !ok {
		return nil, false
	}
	user, session, err := authn.Authenticate(r.Context(), token)
	if err != nil || user == nil || session == nil {
		return nil, false
	}
	return WithUser(r.Context(), user, session.ID), true
}
