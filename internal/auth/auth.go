// Package auth defines the player-identity boundary the Gateway resolves
// before forwarding any command to a Match Supervisor (§6 "Player identity
// at the core boundary"). The core never authenticates; it trusts
// whatever PlayerResolver the Gateway is wired with. OAuth, session
// issuance, and token refresh are out of scope (§1) — this
// package supplies one concrete, swappable implementation of the
// boundary, the way the teacher's login package is one concrete
// implementation of session validation.
package auth

import (
	"context"

	"github.com/opengeoguess/core/internal/match"
)

// PlayerIdentity is what the Gateway hands to match.PlayerInfo on Join.
type PlayerIdentity struct {
	ID          match.PlayerID
	DisplayName string
	AvatarURL   string
	IsGuest     bool
}

// PlayerResolver resolves an inbound bearer token to a PlayerIdentity.
// Implementations must treat an invalid, expired, or malformed token as
// apierr.CodeUnauthorized.
type PlayerResolver interface {
	Resolve(ctx context.Context, bearerToken string) (PlayerIdentity, error)
}
