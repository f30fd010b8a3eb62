package token_test

import (
	"testing"
	"time"

	"storefront-api/internal/token"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	svc := token.NewService("test-secret")
	userID := uuid.New()

	tok, err := svc.Issue(userID)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	got, err := svc.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, userID, got)
}

func TestIssue_MissingUserID(t *testing.T) {
	svc := token.NewService("test-secret")

	_, err := svc.Issue(uuid.Nil)
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	svc := token.NewService("test-secret")

	claims := jwtv5.MapClaims{
		"sub": uuid.New().String(),
		"iat": time.Now().Add(-8 * 24 * time.Hour).Unix(),
		"exp": time.Now().Add(-24 * time.Hour).Unix(),
	}
	expired, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(expired)
	require.ErrorIs(t, err, token.ErrTokenExpired)
	require.NotErrorIs(t, err, token.ErrTokenInvalid)
}

func TestVerify_WrongSecret(t *testing.T) {
	tok, err := token.NewService("secret-a").Issue(uuid.New())
	require.NoError(t, err)

	_, err = token.NewService("secret-b").Verify(tok)
	require.ErrorIs(t, err, token.ErrTokenInvalid)
}

func TestVerify_Garbage(t *testing.T) {
	svc := token.NewService("test-secret")

	_, err := svc.Verify("not-a-token")
	require.ErrorIs(t, err, token.ErrTokenInvalid)
}

func TestVerify_NonUUIDSubject(t *testing.T) {
	claims := jwtv5.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = token.NewService("test-secret").Verify(tok)
	require.ErrorIs(t, err, token.ErrTokenInvalid)
}
