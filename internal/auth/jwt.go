// Package auth provides password hashing, bearer session tokens, request
// authentication middleware and rate limiting for the API.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. POST /api/auth/login (or register) with email + password
//  2. Server verifies the password, inserts a row in the sessions table and
//     returns a signed JWT whose jti is that session's ID
//  3. The client sends it back as "Authorization: Bearer <token>"
//  4. Middleware verifies the signature, then looks the session up; the
//     session row, not the signature, decides whether the token is live
//  5. POST /api/auth/logout deletes the row, which revokes the token at once
//
// WHY A JWT *AND* A SESSION ROW?
// A bare JWT can't be revoked before it expires. A bare random session ID
// works but every forged or garbage token costs a DB lookup. Signing the
// session ID gives both: garbage is rejected with one HMAC, and logout still
// takes effect immediately.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","jti":"<sessionID>","iss":"cycleconnect","exp":…}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "cycleconnect"

// ErrInvalidToken covers every reason a bearer token is rejected.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens.
// The same secret must be used for both operations.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// Claims is what a valid token says about its bearer.
type Claims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// Generate signs a token for the given session.
// The token expires together with the session row.
func (s *TokenService) Generate(userID, sessionID string, expiresAt time.Time) (string, error) {
	c := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired and has an exp at all
//   - Issuer matches "cycleconnect"
//   - Algorithm is HS256 (prevents the "alg: none" confusion attack)
//
// A valid token is necessary but NOT sufficient: callers must still check
// that the session named by Claims.SessionID exists.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&rc,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if rc.Subject == "" || rc.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or session id", ErrInvalidToken)
	}

	return &Claims{
		UserID:    rc.Subject,
		SessionID: rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}
