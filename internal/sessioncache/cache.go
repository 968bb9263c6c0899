// Package sessioncache implements the Live Session Cache (§4.5): the only
// shared mutable state across service instances — who owns which match,
// and a per-match broadcast channel used for cross-instance fan-out. Two
// backends satisfy the same Cache interface: an in-memory one for
// single-instance deployments and tests, and a Redis-backed one for a
// fleet (§9 "dynamic dispatch for storage backends").
package sessioncache

import (
	"context"
	"time"
)

// InstanceID identifies one running service process.
type InstanceID string

// Message is one event delivered to a Subscribe channel. Lagged is set
// instead of Payload when the subscriber's buffer overran and events were
// dropped (§4.5 invariants) — mirrors the Supervisor broadcaster's own
// Lagged marker (internal/supervisor/broadcaster.go) one layer up, across
// instances instead of within one.
type Message struct {
	Lagged  bool
	Payload []byte
}

// Cache is the fleet-wide coordination boundary (§4.5 operations).
type Cache interface {
	// Claim attempts to take ownership of matchID for instance. It reports
	// the actual owner (which equals instance on success) and whether the
	// caller newly acquired it.
	Claim(ctx context.Context, matchID string, instance InstanceID, lease time.Duration) (owner InstanceID, claimed bool, err error)

	// RenewClaim extends an already-held claim's lease. Reports false if
	// the caller no longer holds it (e.g. it expired or was stolen).
	RenewClaim(ctx context.Context, matchID string, instance InstanceID, lease time.Duration) (renewed bool, err error)

	// Release gives up ownership; a no-op if instance is not the holder.
	Release(ctx context.Context, matchID string, instance InstanceID) error

	// Lookup reports the current owner of matchID, if any.
	Lookup(ctx context.Context, matchID string) (owner InstanceID, ok bool, err error)

	// Publish pushes payload to every current subscriber of matchID.
	Publish(ctx context.Context, matchID string, payload []byte) error

	// Subscribe returns a receive channel of Messages for matchID and an
	// unsubscribe function the caller must invoke when done.
	Subscribe(ctx context.Context, matchID string) (<-chan Message, func(), error)

	// RegisterJoinCode atomically reserves code for matchID. ok is false
	// if the code is already taken by a different match (collision; the
	// caller should generate a new code and retry).
	RegisterJoinCode(ctx context.Context, code, matchID string, ttl time.Duration) (ok bool, err error)

	// ResolveJoinCode looks up the match_id registered for code.
	ResolveJoinCode(ctx context.Context, code string) (matchID string, ok bool, err error)

	// Close releases any background resources (sweep goroutines,
	// connections) held by the backend.
	Close() error
}

// DefaultLease is the claim lease duration (§5 "Claim lease"): renewed
// every ~DefaultLeaseRenew, auto-expires a crashed instance's matches.
const (
	DefaultLease         = 30 * time.Second
	DefaultLeaseRenew    = 10 * time.Second
	DefaultJoinCodeTTL   = 24 * time.Hour
)
