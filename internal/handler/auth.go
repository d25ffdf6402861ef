package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/cycleconnect/internal/auth"
	"github.com/sakif/cycleconnect/internal/service"
)

// AuthService is what AuthHandler needs from the business layer.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandler manages registration, login and the current session.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister    → create an account, respond with a session token
//   - HandleLogin       → exchange email + password for a session token
//   - HandleLogout      → revoke the caller's session
//   - HandleCurrentUser → return the logged-in user's profile
//
// The token goes back in the JSON body; clients send it as
// "Authorization: Bearer <token>". There are no cookies.
type AuthHandler struct {
	auth   AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(authService AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an account and logs it in.
//
// HTTP: POST /api/auth/register
// RESPONSE: 201 {"user": {...}, "token": "...", "expiresAt": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleLogin starts a session.
//
// HTTP: POST /api/auth/login
// REQUEST BODY: {"email": "...", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleLogout deletes the caller's session; the token stops working at once.
//
// HTTP: POST /api/auth/logout (authenticated)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.SessionIDFromContext(r.Context())
	if err := h.auth.Logout(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCurrentUser returns the logged-in user, or 401.
//
// HTTP: GET /api/auth/user (optional auth)
func (h *AuthHandler) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
