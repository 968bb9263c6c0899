package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengeoguess/core/internal/match"
	"github.com/opengeoguess/core/internal/supervisor"
)

func TestEncodeEvent_Snapshot(t *testing.T) {
	snap := match.Snapshot{MatchID: "m1", Version: 3}
	frame, err := encodeEvent(supervisor.Event{Kind: supervisor.EventSnapshot, Snapshot: &snap})
	require.NoError(t, err)

	var env outboundEnvelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, outSnapshot, env.Type)
}

func TestEncodeEvent_Lagged_HasNoWireShape(t *testing.T) {
	_, err := encodeEvent(supervisor.Event{Kind: supervisor.EventLagged})
	require.Error(t, err)
}

func TestEncodeEvent_RoundStart_UsesSnakeCaseFieldNames(t *testing.T) {
	frame, err := encodeEvent(supervisor.Event{
		Kind: supervisor.EventRoundStart,
		RoundStart: &supervisor.RoundStartPayload{
			RoundNumber: 2,
			TotalRounds: 5,
			Location:    match.Location{LocationID: "loc1", Lat: 1, Lng: 2},
			StartedAt:   1700000000000,
		},
	})
	require.NoError(t, err)

	var env struct {
		Type    string
		Payload map[string]interface{}
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Contains(t, env.Payload, "round_number")
	assert.Contains(t, env.Payload, "total_rounds")
	assert.Contains(t, env.Payload, "location")
	assert.Contains(t, env.Payload, "started_at")
	assert.NotContains(t, env.Payload, "RoundNumber")
}

func TestEncodeEvent_PlayerGuessed_UsesUserIDNotPlayerID(t *testing.T) {
	frame, err := encodeEvent(supervisor.Event{
		Kind: supervisor.EventPlayerGuessed,
		PlayerGuessed: &supervisor.PlayerGuessedPayload{
			PlayerID:    match.PlayerID("p1"),
			DisplayName: "Alice",
		},
	})
	require.NoError(t, err)

	var env struct {
		Type    string
		Payload map[string]interface{}
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "p1", env.Payload["user_id"])
	assert.Equal(t, "Alice", env.Payload["display_name"])
	assert.NotContains(t, env.Payload, "player_id")
	assert.NotContains(t, env.Payload, "PlayerID")
}

func TestEncodeEvent_RoundEnd_ResultsUseUserID(t *testing.T) {
	frame, err := encodeEvent(supervisor.Event{
		Kind: supervisor.EventRoundEnd,
		RoundEnd: &supervisor.RoundEndPayload{
			RoundNumber:     3,
			CorrectLocation: match.Location{LocationID: "loc1", Lat: 1, Lng: 2},
			Results: []match.RoundResultEntry{
				{PlayerID: match.PlayerID("p1"), DisplayName: "Alice", TotalScore: 4500},
			},
		},
	})
	require.NoError(t, err)

	var env struct {
		Type    string
		Payload map[string]interface{}
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	results, ok := env.Payload["results"].([]interface{})
	require.True(t, ok)
	require.Len(t, results, 1)
	entry, ok := results[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "p1", entry["user_id"])
	assert.Contains(t, entry, "total_score")
	assert.NotContains(t, entry, "PlayerID")
}

func TestEncodeEvent_GameEnd_StandingsUseUserID(t *testing.T) {
	frame, err := encodeEvent(supervisor.Event{
		Kind: supervisor.EventGameEnd,
		GameEnd: &supervisor.GameEndPayload{
			MatchID: "m1",
			FinalStandings: []match.StandingEntry{
				{Rank: 1, PlayerID: match.PlayerID("p1"), DisplayName: "Alice", TotalScore: 9000},
			},
		},
	})
	require.NoError(t, err)

	var env struct {
		Type    string
		Payload map[string]interface{}
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "m1", env.Payload["match_id"])
	standings, ok := env.Payload["final_standings"].([]interface{})
	require.True(t, ok)
	require.Len(t, standings, 1)
	entry, ok := standings[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "p1", entry["user_id"])
	assert.NotContains(t, entry, "PlayerID")
}

func TestInboundEnvelope_DecodesUpdateSettingsPayload(t *testing.T) {
	raw := []byte(`{"type":"update_settings","match_id":"m1","payload":{"rounds":5,"map_id":"world"}}`)
	var env inboundEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, inUpdateSettings, env.Type)

	var p updateSettingsPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	patch := p.toPatch()
	require.NotNil(t, patch.Rounds)
	assert.Equal(t, 5, *patch.Rounds)
	require.NotNil(t, patch.MapID)
	assert.Equal(t, "world", *patch.MapID)
	assert.Nil(t, patch.TimeLimitSeconds)
}

func TestInboundEnvelope_DecodesSubmitGuessPayload(t *testing.T) {
	raw := []byte(`{"type":"submit_guess","match_id":"m1","payload":{"lat":1.5,"lng":2.5,"time_taken_ms":4200}}`)
	var env inboundEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))

	var p submitGuessPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 1.5, p.Lat)
	assert.Equal(t, 2.5, p.Lng)
	require.NotNil(t, p.TimeTakenMs)
	assert.Equal(t, 4200, *p.TimeTakenMs)
}

func TestEncodeError(t *testing.T) {
	frame := encodeError("INVALID_STATE", "bad")
	var env outboundEnvelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, outError, env.Type)
}
