package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opengeoguess/core/internal/apierr"
	"github.com/opengeoguess/core/internal/match"
)

// claims is the reference token shape: sub/name/avatar/guest (§6). A
// production deployment's own OAuth/session layer would mint tokens in
// whatever shape it likes and supply its own PlayerResolver instead.
type claims struct {
	jwt.RegisteredClaims
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Guest  bool   `json:"guest"`
}

// JWTResolver is the default PlayerResolver: an HMAC-signed bearer JWT
// decoded into a PlayerIdentity. Grounded on github.com/golang-jwt/jwt/v5
// as used for bearer-token identity in the pack's realtime multiplayer
// manifests.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver builds a resolver that verifies tokens with secret
// using any HMAC signing method (HS256/HS384/HS512).
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(ctx context.Context, bearerToken string) (PlayerIdentity, error) {
	if bearerToken == "" {
		return PlayerIdentity{}, apierr.New(apierr.CodeUnauthorized, "missing bearer token")
	}

	var c claims
	token, err := jwt.ParseWithClaims(bearerToken, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return PlayerIdentity{}, apierr.Wrap(apierr.CodeUnauthorized, "invalid bearer token", err)
	}
	if c.Subject == "" {
		return PlayerIdentity{}, apierr.New(apierr.CodeUnauthorized, "token missing subject claim")
	}

	return PlayerIdentity{
		ID:          match.PlayerID(c.Subject),
		DisplayName: c.Name,
		AvatarURL:   c.Avatar,
		IsGuest:     c.Guest,
	}, nil
}
