// Package gateway implements the realtime transport (§4.6): one
// WebSocket connection per client, routing inbound wire events to the
// Match Supervisor that owns the target match (calling it directly when
// this instance runs it, or forwarding to whichever instance owns it)
// and relaying that Supervisor's broadcast events back out as JSON
// frames. Supervisors are spawned only when a match is created; an
// event for a match that no instance has claimed fails with
// MATCH_NOT_FOUND rather than claiming and spawning it here.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/opengeoguess/core/internal/match"
	"github.com/opengeoguess/core/internal/supervisor"
)

// inboundKind discriminates the client->server wire envelope (§6).
type inboundKind string

const (
	inJoin           inboundKind = "join"
	inLeave          inboundKind = "leave"
	inStart          inboundKind = "start"
	inUpdateSettings inboundKind = "update_settings"
	inSubmitGuess    inboundKind = "submit_guess"
)

// inboundEnvelope is the raw shape read off the socket.
type inboundEnvelope struct {
	Type      inboundKind     `json:"type"`
	MatchID   string          `json:"match_id"`
	Payload   json.RawMessage `json:"payload"`
}

type joinPayload struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type updateSettingsPayload struct {
	Rounds           *int    `json:"rounds"`
	TimeLimitSeconds *int    `json:"time_limit_seconds"`
	MapID            *string `json:"map_id"`
	MovementAllowed  *bool   `json:"movement_allowed"`
	ZoomAllowed      *bool   `json:"zoom_allowed"`
	RotationAllowed  *bool   `json:"rotation_allowed"`
}

func (p updateSettingsPayload) toPatch() match.SettingsPatch {
	return match.SettingsPatch{
		Rounds:           p.Rounds,
		TimeLimitSeconds: p.TimeLimitSeconds,
		MapID:            p.MapID,
		MovementAllowed:  p.MovementAllowed,
		ZoomAllowed:      p.ZoomAllowed,
		RotationAllowed:  p.RotationAllowed,
	}
}

type submitGuessPayload struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	TimeTakenMs *int    `json:"time_taken_ms"`
}

// outboundKind discriminates the server->client wire envelope (§6).
type outboundKind string

const (
	outSnapshot      outboundKind = "snapshot"
	outRoundStart    outboundKind = "round_start"
	outPlayerGuessed outboundKind = "player_guessed"
	outRoundEnd      outboundKind = "round_end"
	outGameEnd       outboundKind = "game_end"
	outPlayerJoined  outboundKind = "player_joined"
	outPlayerLeft    outboundKind = "player_left"
	outError         outboundKind = "error"
)

type outboundEnvelope struct {
	Type    outboundKind `json:"type"`
	Payload interface{}  `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// encodeEvent translates a supervisor.Event into the wire envelope the
// client expects. EventLagged has no wire encoding: callers skip it and
// the client re-syncs from the next Snapshot the Supervisor publishes;
// no fresh snapshot is requested (§4.6).
func encodeEvent(ev supervisor.Event) ([]byte, error) {
	var env outboundEnvelope
	switch ev.Kind {
	case supervisor.EventSnapshot:
		env = outboundEnvelope{Type: outSnapshot, Payload: ev.Snapshot}
	case supervisor.EventRoundStart:
		env = outboundEnvelope{Type: outRoundStart, Payload: ev.RoundStart}
	case supervisor.EventPlayerGuessed:
		env = outboundEnvelope{Type: outPlayerGuessed, Payload: ev.PlayerGuessed}
	case supervisor.EventRoundEnd:
		env = outboundEnvelope{Type: outRoundEnd, Payload: ev.RoundEnd}
	case supervisor.EventGameEnd:
		env = outboundEnvelope{Type: outGameEnd, Payload: ev.GameEnd}
	case supervisor.EventPlayerJoined:
		env = outboundEnvelope{Type: outPlayerJoined, Payload: ev.PlayerJoined}
	case supervisor.EventPlayerLeft:
		env = outboundEnvelope{Type: outPlayerLeft, Payload: ev.PlayerLeft}
	default:
		return nil, fmt.Errorf("no wire encoding for event kind %q", ev.Kind)
	}
	return json.Marshal(env)
}

func encodeError(code, message string) []byte {
	b, _ := json.Marshal(outboundEnvelope{Type: outError, Payload: errorPayload{Code: code, Message: message}})
	return b
}
