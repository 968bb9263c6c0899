package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengeoguess/core/internal/apierr"
)

func signToken(t *testing.T, secret string, c claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTResolver_ResolvesValidToken(t *testing.T) {
	r := NewJWTResolver("super-secret")
	token := signToken(t, "super-secret", claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "player-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:   "Ada",
		Avatar: "https://example.com/ada.png",
		Guest:  false,
	})

	identity, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.EqualValues(t, "player-42", identity.ID)
	assert.Equal(t, "Ada", identity.DisplayName)
	assert.Equal(t, "https://example.com/ada.png", identity.AvatarURL)
	assert.False(t, identity.IsGuest)
}

func TestJWTResolver_GuestClaim(t *testing.T) {
	r := NewJWTResolver("super-secret")
	token := signToken(t, "super-secret", claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "guest-7"},
		Name:             "Guest",
		Guest:            true,
	})

	identity, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, identity.IsGuest)
}

func TestJWTResolver_RejectsMissingToken(t *testing.T) {
	r := NewJWTResolver("super-secret")
	_, err := r.Resolve(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeUnauthorized))
}

func TestJWTResolver_RejectsWrongSecret(t *testing.T) {
	token := signToken(t, "other-secret", claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "player-1"},
	})

	r := NewJWTResolver("super-secret")
	_, err := r.Resolve(context.Background(), token)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeUnauthorized))
}

func TestJWTResolver_RejectsMissingSubject(t *testing.T) {
	token := signToken(t, "super-secret", claims{})

	r := NewJWTResolver("super-secret")
	_, err := r.Resolve(context.Background(), token)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeUnauthorized))
}

func TestJWTResolver_RejectsExpiredToken(t *testing.T) {
	token := signToken(t, "super-secret", claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "player-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	r := NewJWTResolver("super-secret")
	_, err := r.Resolve(context.Background(), token)
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeUnauthorized))
}
