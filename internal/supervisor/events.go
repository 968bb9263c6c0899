// Package supervisor implements the per-match single-writer actor (§4.4):
// one goroutine owns a match.Match exclusively, draining a bounded FIFO
// command channel and fanning out broadcast events through a bounded
// ring-buffer pub/sub, exactly the "actor" shape described in §9.
package supervisor

import (
	"github.com/opengeoguess/core/internal/match"
)

// EventKind discriminates the payload carried by an Event (§6 outbound
// wire events).
type EventKind string

const (
	EventSnapshot      EventKind = "snapshot"
	EventRoundStart    EventKind = "round_start"
	EventPlayerGuessed EventKind = "player_guessed"
	EventRoundEnd      EventKind = "round_end"
	EventGameEnd       EventKind = "game_end"
	EventPlayerJoined  EventKind = "player_joined"
	EventPlayerLeft    EventKind = "player_left"
	EventLagged        EventKind = "lagged"
)

// RoundStartPayload mirrors §6 `round_start`.
type RoundStartPayload struct {
	RoundNumber int            `json:"round_number"`
	TotalRounds int            `json:"total_rounds"`
	Location    match.Location `json:"location"`
	TimeLimitMs *int64         `json:"time_limit_ms,omitempty"`
	StartedAt   int64          `json:"started_at"`
}

// PlayerGuessedPayload mirrors §6 `player_guessed` (no coordinates).
type PlayerGuessedPayload struct {
	PlayerID    match.PlayerID `json:"user_id"`
	DisplayName string         `json:"display_name"`
}

// RoundEndPayload mirrors §6 `round_end`.
type RoundEndPayload struct {
	RoundNumber     int                      `json:"round_number"`
	CorrectLocation match.Location           `json:"correct_location"`
	Results         []match.RoundResultEntry `json:"results"`
}

// GameEndPayload mirrors §6 `game_end`.
type GameEndPayload struct {
	MatchID        string               `json:"match_id"`
	FinalStandings []match.StandingEntry `json:"final_standings"`
}

// PlayerMembershipPayload backs both player_joined and player_left.
type PlayerMembershipPayload struct {
	PlayerID    match.PlayerID `json:"user_id"`
	DisplayName string         `json:"display_name"`
}

// Event is one broadcast or targeted message a subscriber receives.
// Exactly one payload field is populated, selected by Kind.
type Event struct {
	Kind           EventKind
	Snapshot       *match.Snapshot
	RoundStart     *RoundStartPayload
	PlayerGuessed  *PlayerGuessedPayload
	RoundEnd       *RoundEndPayload
	GameEnd        *GameEndPayload
	PlayerJoined   *PlayerMembershipPayload
	PlayerLeft     *PlayerMembershipPayload
}
