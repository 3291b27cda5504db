// Package auth is the identity side of the marketplace: token issuing,
// password hashing, the email/password identity provider, OAuth federation
// with Google and Apple, password-reset mail, and the device-token
// middleware used by the HTTP layer.
//
// TOKENS:
// Every credential this package hands out is an HS256 JWT signed by a
// TokenService. Services are separated by issuer, so an ID token can never be
// replayed as a device token or a password-reset token:
//
//	tink-id      ID token of a signed-in account (sub = uid, gen = token generation)
//	tink-device  device token selecting a session scope (sub = device id)
//	tink-reset   password-reset token mailed to the user (sub = uid)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuers used across the application.
const (
	IssuerID     = "tink-id"
	IssuerDevice = "tink-device"
	IssuerReset  = "tink-reset"
)

// ErrTokenExpired is returned by Validate and Parse for expired tokens.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation for one issuer.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters; tokens default to ttl unless issued with GenerateWithDuration.
func NewTokenService(secret, issuer string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if issuer == "" {
		return nil, errors.New("auth: token issuer must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token lifetime must be positive")
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// claims is the JWT payload. Generation is only meaningful for ID tokens.
type claims struct {
	jwt.RegisteredClaims
	Generation int `json:"gen,omitempty"`
}

// Claims is the validated content of a token.
type Claims struct {
	Subject    string
	Generation int
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Generate issues a token for subject with the service's default lifetime.
func (s *TokenService) Generate(subject string) (string, error) {
	return s.issue(subject, 0, s.ttl)
}

// GenerateWithDuration issues a token with a custom lifetime.
// Used in tests and for short-lived links.
func (s *TokenService) GenerateWithDuration(subject string, d time.Duration) (string, error) {
	return s.issue(subject, 0, d)
}

// Issue generates a token that carries a token generation.
func (s *TokenService) Issue(subject string, generation int) (string, error) {
	return s.issue(subject, generation, s.ttl)
}

func (s *TokenService) issue(subject string, generation int, d time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: token subject must not be empty")
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    s.issuer,
		},
		Generation: generation,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns its subject.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	c, err := s.Parse(tokenStr)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

// Parse verifies signature, algorithm, issuer and expiry, then returns the
// claims. Tokens from another issuer are rejected even when signed with the
// same secret.
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}

	out := &Claims{Subject: c.Subject, Generation: c.Generation}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
