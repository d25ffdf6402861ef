// Package service: authentication business logic.
//
// AuthService sits between the HTTP handlers and the repository/auth
// utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT)             SessionRepository (DB)
//	                   ↘ PasswordService (argon2id)
//
// KEY RESPONSIBILITIES:
//   - Registration: uniqueness checks, hashing, first session
//   - Login by email + password
//   - Resolving a bearer token to a live session and its user
//   - Logout (deleting the session row)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/auth"
	"github.com/sakif/cycleconnect/internal/metrics"
	"github.com/sakif/cycleconnect/internal/model"
	"github.com/sakif/cycleconnect/internal/repository"
)

// DefaultSessionTTL is used when NewAuthService gets a non-positive TTL.
const DefaultSessionTTL = 24 * time.Hour

// One message for every login failure, so the response doesn't tell an
// attacker which emails are registered.
const invalidCredentials = "invalid email or password"

// PasswordHasher is what AuthService needs from auth.PasswordService.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
	VerifyDummy(plaintext string)
}

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository    → read/write user records
//   - sessions   repository.SessionRepository → server-side session rows
//   - tokens     *auth.TokenService           → sign/verify bearer JWTs
//   - passwords  PasswordHasher               → argon2id hashing
//   - logger     *slog.Logger                 → structured logging
type AuthService struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	tokens     *auth.TokenService
	passwords  PasswordHasher
	sessionTTL time.Duration
	logger     *slog.Logger

	now func() time.Time
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *auth.TokenService,
	passwords PasswordHasher,
	sessionTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &AuthService{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		passwords:  passwords,
		sessionTTL: sessionTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterInput is the body of POST /api/auth/register.
type RegisterInput struct {
	Username          string                  `json:"username"`
	Email             string                  `json:"email"`
	Password          string                  `json:"password" validate:"required,min=6,max=256"`
	FirstName         string                  `json:"firstName"`
	LastName          string                  `json:"lastName"`
	Bio               *string                 `json:"bio"`
	Location          string                  `json:"location"`
	ExperienceLevel   model.ExperienceLevel   `json:"experienceLevel"`
	PreferredDistance model.PreferredDistance `json:"preferredDistance"`
	BikeType          string                  `json:"bikeType"`
}

// AuthResult is returned by Register and Login.
// It bundles the user record and the issued bearer token so the handler
// can respond in one step.
type AuthResult struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Register creates an account and logs it in.
//
// Username and email are checked up front to give a precise field error;
// the UNIQUE indexes still back this up if two registrations race.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	user := &model.User{
		Username:          strings.TrimSpace(in.Username),
		Email:             strings.ToLower(strings.TrimSpace(in.Email)),
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		Bio:               trimOptional(in.Bio),
		Location:          strings.TrimSpace(in.Location),
		ExperienceLevel:   in.ExperienceLevel,
		PreferredDistance: in.PreferredDistance,
		BikeType:          strings.TrimSpace(in.BikeType),
		IsActive:          true,
	}

	var fields []apperror.FieldError
	if err := validateStruct(user); err != nil {
		fields = append(fields, fieldErrors(err)...)
	}
	// Only the password carries tags on RegisterInput; the rest were
	// checked on the User above.
	if err := validateStruct(in); err != nil {
		fields = append(fields, fieldErrors(err)...)
	}
	if len(fields) > 0 {
		metrics.ObserveAuthEvent("register", "invalid")
		return nil, apperror.Validation(fields...)
	}

	if err := s.ensureAvailable(ctx, user.Username, user.Email); err != nil {
		metrics.ObserveAuthEvent("register", "conflict")
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}
	user.PasswordHash = hash

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			metrics.ObserveAuthEvent("register", "conflict")
			return nil, err
		}
		s.logger.Error("failed to create user",
			slog.String("username", user.Username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	metrics.ObserveAuthEvent("register", "success")

	return s.issueSession(ctx, user)
}

// Login checks email + password and starts a new session.
// Unknown email, wrong password and deactivated accounts are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		metrics.ObserveAuthEvent("login", "failure")
		return nil, apperror.Unauthenticated(invalidCredentials)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Spend the same hashing time as a wrong password, so response
			// time doesn't tell which emails are registered.
			s.passwords.VerifyDummy(password)
			metrics.ObserveAuthEvent("login", "failure")
			return nil, apperror.Unauthenticated(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Error("failed to verify password hash",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		metrics.ObserveAuthEvent("login", "failure")
		return nil, apperror.Unauthenticated(invalidCredentials)
	}
	if !user.IsActive {
		metrics.ObserveAuthEvent("login", "failure")
		return nil, apperror.Unauthenticated(invalidCredentials)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	metrics.ObserveAuthEvent("login", "success")

	return s.issueSession(ctx, user)
}

// Authenticate resolves a bearer token to its user and session.
// It implements auth.Authenticator for the middleware.
//
// The signature check only filters garbage. The token is live only while
// its session row exists and is unexpired; expired rows are deleted here.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, *model.Session, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, nil, apperror.Unauthenticated("invalid or expired token")
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, apperror.Unauthenticated("session not found")
		}
		return nil, nil, fmt.Errorf("service/auth: fetching session: %w", err)
	}
	if session.UserID != claims.UserID {
		return nil, nil, apperror.Unauthenticated("session does not match token")
	}
	if session.Expired(s.now()) {
		if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
			s.logger.Warn("failed to delete expired session",
				slog.String("sessionID", session.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil, apperror.Unauthenticated("session expired")
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, apperror.Unauthenticated("user no longer exists")
		}
		return nil, nil, fmt.Errorf("service/auth: fetching user %s: %w", session.UserID, err)
	}
	if !user.IsActive {
		return nil, nil, apperror.Unauthenticated("account is deactivated")
	}

	return user, session, nil
}

// Logout deletes the session. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperror.Unauthenticated("no session")
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("service/auth: deleting session: %w", err)
	}
	metrics.ObserveAuthEvent("logout", "success")
	s.logger.Info("user logged out", slog.String("sessionID", sessionID))
	return nil
}

// PurgeExpiredSessions removes every expired session row.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("service/auth: purging sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired sessions purged", slog.Int64("count", n))
	}
	return n, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, username, email string) error {
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return apperror.ConflictField("username", "username taken")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/auth: checking username: %w", err)
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return apperror.ConflictField("email", "email already registered")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/auth: checking email: %w", err)
	}
	return nil
}

func (s *AuthService) issueSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	now := s.now().UTC()
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("service/auth: creating session: %w", err)
	}

	token, err := s.tokens.Generate(user.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token, ExpiresAt: session.ExpiresAt}, nil
}
