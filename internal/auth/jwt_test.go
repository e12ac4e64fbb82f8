package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "test-secret"})
	require.NoError(t, err)

	token, err := a.IssueToken("user-42")
	require.NoError(t, err)

	actorID, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", actorID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, err := NewAuthenticator(Config{SecretKey: "secret-a"})
	require.NoError(t, err)
	verifier, err := NewAuthenticator(Config{SecretKey: "secret-b"})
	require.NoError(t, err)

	token, err := issuer.IssueToken("user-42")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "test-secret", TokenDuration: -time.Minute})
	require.NoError(t, err)

	token, err := a.IssueToken("user-42")
	require.NoError(t, err)

	_, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "test-secret"})
	require.NoError(t, err)

	_, err = a.ValidateToken(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(Config{})
	assert.Error(t, err)
}
