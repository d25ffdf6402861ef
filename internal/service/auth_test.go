package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/auth"
	"github.com/sakif/cycleconnect/internal/model"
)

// =========================================================================
// TEST HELPERS
// =========================================================================

func newTestAuthService(t *testing.T) (*AuthService, *mockUserRepo, *mockSessionRepo) {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-key-0123456789")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	svc := NewAuthService(users, sessions, tokens, auth.NewPasswordServiceForTest(), time.Hour, newTestLogger())
	return svc, users, sessions
}

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Username:          "alice",
		Email:             "alice@example.com",
		Password:          "pedal-power",
		FirstName:         "Alice",
		LastName:          "Jones",
		Location:          "Boulder, CO",
		ExperienceLevel:   model.ExperienceIntermediate,
		PreferredDistance: model.DistanceMedium,
		BikeType:          "gravel",
	}
}

// =========================================================================
// REGISTER TESTS
// =========================================================================

func TestRegister_Success(t *testing.T) {
	svc, users, sessions := newTestAuthService(t)
	ctx := context.Background()

	in := validRegisterInput()
	in.Email = "  Alice@Example.COM "
	res, err := svc.Register(ctx, in)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if res.User.ID == "" || res.Token == "" {
		t.Fatal("expected a user ID and a token")
	}
	if res.User.Email != "alice@example.com" {
		t.Errorf("Email = %q, want normalised", res.User.Email)
	}
	if !res.User.IsActive {
		t.Error("new user should be active")
	}
	if len(sessions.sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions.sessions))
	}

	stored, _ := users.GetUserByID(ctx, res.User.ID)
	if stored.PasswordHash == "" || stored.PasswordHash == in.Password {
		t.Error("password was not hashed")
	}

	// The fresh token is immediately usable.
	user, _, err := svc.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.ID != res.User.ID {
		t.Errorf("authenticated as %q, want %q", user.ID, res.User.ID)
	}
}

func TestRegister_Uniqueness(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RegisterInput)
		field  string
	}{
		{"same username", func(in *RegisterInput) { in.Email = "other@example.com" }, "username"},
		{"username differs only in case", func(in *RegisterInput) {
			in.Username = "ALICE"
			in.Email = "other@example.com"
		}, "username"},
		{"same email", func(in *RegisterInput) { in.Username = "alice2" }, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, users, _ := newTestAuthService(t)
			ctx := context.Background()
			if _, err := svc.Register(ctx, validRegisterInput()); err != nil {
				t.Fatalf("first Register() error = %v", err)
			}

			in := validRegisterInput()
			tt.modify(&in)
			_, err := svc.Register(ctx, in)

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrConflict) {
				t.Fatalf("error = %v, want ErrConflict", err)
			}
			if appErr.Field != tt.field {
				t.Errorf("conflict field = %q, want %q", appErr.Field, tt.field)
			}
			if len(users.users) != 1 {
				t.Errorf("users = %d, want 1", len(users.users))
			}
		})
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RegisterInput)
		field  string
	}{
		{"short password", func(in *RegisterInput) { in.Password = "12345" }, "password"},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "email"},
		{"short username", func(in *RegisterInput) { in.Username = "al" }, "username"},
		{"username with spaces", func(in *RegisterInput) { in.Username = "al ice" }, "username"},
		{"unknown experience", func(in *RegisterInput) { in.ExperienceLevel = "pro" }, "experienceLevel"},
		{"unknown distance", func(in *RegisterInput) { in.PreferredDistance = "marathon" }, "preferredDistance"},
		{"missing bike type", func(in *RegisterInput) { in.BikeType = "" }, "bikeType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, users, _ := newTestAuthService(t)
			in := validRegisterInput()
			tt.modify(&in)

			_, err := svc.Register(context.Background(), in)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if !hasField(err, tt.field) {
				t.Errorf("error %v does not name %q", err, tt.field)
			}
			if len(users.users) != 0 {
				t.Error("invalid user was stored")
			}
		})
	}
}

// =========================================================================
// LOGIN TESTS
// =========================================================================

func TestLogin(t *testing.T) {
	svc, users, _ := newTestAuthService(t)
	ctx := context.Background()
	reg, err := svc.Register(ctx, validRegisterInput())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	inactive := validRegisterInput()
	inactive.Username, inactive.Email = "ghost", "ghost@example.com"
	ghost, _ := svc.Register(ctx, inactive)
	users.users[ghost.User.ID].IsActive = false

	tests := []struct {
		name     string
		email    string
		password string
		wantOK   bool
	}{
		{"correct credentials", "alice@example.com", "pedal-power", true},
		{"email is case-insensitive", "ALICE@example.com", "pedal-power", true},
		{"wrong password", "alice@example.com", "pedal-powe", false},
		{"unknown email", "nobody@example.com", "pedal-power", false},
		{"empty password", "alice@example.com", "", false},
		{"deactivated account", "ghost@example.com", "pedal-power", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Login(ctx, tt.email, tt.password)
			if !tt.wantOK {
				if !errors.Is(err, apperror.ErrUnauthenticated) {
					t.Fatalf("error = %v, want ErrUnauthenticated", err)
				}
				if err.Error() != invalidCredentials {
					t.Errorf("message = %q, want the generic %q", err.Error(), invalidCredentials)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if res.User.ID != reg.User.ID {
				t.Errorf("logged in as %q, want %q", res.User.ID, reg.User.ID)
			}
			if res.Token == reg.Token {
				t.Error("login should issue a new session token")
			}
		})
	}
}

// countingHasher counts how often each password path runs.
type countingHasher struct {
	PasswordHasher
	verifies, dummies int
}

func (c *countingHasher) Verify(hash, plaintext string) error {
	c.verifies++
	return c.PasswordHasher.Verify(hash, plaintext)
}

func (c *countingHasher) VerifyDummy(plaintext string) {
	c.dummies++
	c.PasswordHasher.VerifyDummy(plaintext)
}

func TestLogin_UnknownEmailStillHashes(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, validRegisterInput()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	hasher := &countingHasher{PasswordHasher: auth.NewPasswordServiceForTest()}
	svc.passwords = hasher

	if _, err := svc.Login(ctx, "nobody@example.com", "pedal-power"); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("unknown email error = %v, want ErrUnauthenticated", err)
	}
	if hasher.dummies != 1 {
		t.Errorf("unknown email ran %d dummy verifies, want 1", hasher.dummies)
	}

	if _, err := svc.Login(ctx, "alice@example.com", "wrong-pass"); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("wrong password error = %v, want ErrUnauthenticated", err)
	}
	if hasher.verifies != 1 || hasher.dummies != 1 {
		t.Errorf("wrong password: verifies = %d, dummies = %d; want 1, 1", hasher.verifies, hasher.dummies)
	}
}

func TestLogin_LegacyBcryptHash(t *testing.T) {
	svc, users, _ := newTestAuthService(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("old-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	u := &model.User{Username: "legacy", Email: "legacy@example.com", PasswordHash: string(hash), IsActive: true}
	users.CreateUser(ctx, u)

	if _, err := svc.Login(ctx, "legacy@example.com", "old-secret"); err != nil {
		t.Errorf("Login() with bcrypt hash error = %v", err)
	}
}

// =========================================================================
// AUTHENTICATE / LOGOUT TESTS
// =========================================================================

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	svc, _, _ := newTestAuthService(t)

	other, _ := auth.NewTokenService("a-different-secret-key-xyz")
	forged, _ := other.Generate("user-1", "sess-1", time.Now().Add(time.Hour))

	for name, token := range map[string]string{
		"garbage":             "not-a-jwt",
		"wrong signature":     forged,
		"no matching session": mustToken(t, svc, "user-1", "no-such-session"),
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.Authenticate(context.Background(), token)
			if !errors.Is(err, apperror.ErrUnauthenticated) {
				t.Errorf("error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func mustToken(t *testing.T, svc *AuthService, userID, sessionID string) string {
	t.Helper()
	tok, err := svc.tokens.Generate(userID, sessionID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestLogout_RevokesToken(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()

	res, _ := svc.Register(ctx, validRegisterInput())
	_, session, err := svc.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if err := svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, res.Token); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Errorf("token still valid after logout: err = %v", err)
	}
	if err := svc.Logout(ctx, session.ID); err != nil {
		t.Errorf("second Logout() error = %v, want nil", err)
	}
}

func TestAuthenticate_ExpiredSessionIsDeleted(t *testing.T) {
	svc, _, sessions := newTestAuthService(t)
	ctx := context.Background()

	res, _ := svc.Register(ctx, validRegisterInput())
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, _, err := svc.Authenticate(ctx, res.Token); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("error = %v, want ErrUnauthenticated", err)
	}
	if len(sessions.sessions) != 0 {
		t.Error("expired session row was not deleted")
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	svc, _, sessions := newTestAuthService(t)
	ctx := context.Background()

	svc.Register(ctx, validRegisterInput())
	sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err := svc.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}
