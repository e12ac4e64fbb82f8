// Package auth issues and validates the bearer tokens that identify
// actors on mutating requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Config contains token authenticator configuration.
type Config struct {
	SecretKey     string
	TokenDuration time.Duration
}

// Authenticator signs and validates HMAC tokens carrying the actor ID
// in the subject claim.
type Authenticator struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewAuthenticator creates a token authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key is required")
	}

	duration := cfg.TokenDuration
	if duration <= 0 {
		duration = 24 * time.Hour
	}

	return &Authenticator{
		secretKey:     []byte(cfg.SecretKey),
		tokenDuration: duration,
	}, nil
}

// IssueToken creates a signed token for the given actor.
func (a *Authenticator) IssueToken(actorID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenDuration)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks the token signature and expiry and returns the
// actor ID it carries.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
