package match

import "time"

// PlayerSnapshot is one player's externally-visible state (§6 `snapshot`).
type PlayerSnapshot struct {
	ID              PlayerID `json:"user_id"`
	DisplayName     string   `json:"display_name"`
	AvatarURL       string   `json:"avatar_url,omitempty"`
	IsConnected     bool     `json:"is_connected"`
	CumulativeScore int      `json:"cumulative_score"`
}

// RoundSnapshot is the externally-visible state of the in-progress round,
// if any.
type RoundSnapshot struct {
	Index       int       `json:"index"`
	Location    Location  `json:"location"`
	StartedAt   time.Time `json:"started_at"`
	TimeLimitMs *int64    `json:"time_limit_ms,omitempty"`
}

// Snapshot is a versioned, fully-reifiable view of a Match (§4.4, §9),
// used to re-sync a lagged or newly-joined subscriber without replaying
// the whole command history.
type Snapshot struct {
	Version           uint64           `json:"version"`
	MatchID           string           `json:"match_id"`
	Mode              Mode             `json:"mode"`
	State             State            `json:"state"`
	Settings          Settings         `json:"settings"`
	JoinCode          string           `json:"join_code,omitempty"`
	HostPlayer        PlayerID         `json:"host_player_id"`
	Players           []PlayerSnapshot `json:"players"`
	CurrentRoundIndex int              `json:"current_round_index"`
	CurrentRound      *RoundSnapshot   `json:"current_round,omitempty"`
	TotalRounds       int              `json:"total_rounds"`
}

// Snapshot reifies the current Match state. version is supplied by the
// caller (the supervisor owns the monotonic counter).
func (m *Match) Snapshot(version uint64) Snapshot {
	players := make([]PlayerSnapshot, 0, len(m.Players))
	for _, id := range m.playerOrder {
		p, ok := m.Players[id]
		if !ok {
			continue
		}
		players = append(players, PlayerSnapshot{
			ID:              p.ID,
			DisplayName:     p.DisplayName,
			AvatarURL:       p.AvatarURL,
			IsConnected:     p.IsConnected,
			CumulativeScore: p.CumulativeScore,
		})
	}

	snap := Snapshot{
		Version:           version,
		MatchID:           m.ID,
		Mode:              m.Mode,
		State:             m.State,
		Settings:          m.Settings,
		JoinCode:          m.JoinCode,
		HostPlayer:        m.HostPlayer,
		Players:           players,
		CurrentRoundIndex: m.CurrentRoundIndex,
		TotalRounds:       m.Settings.Rounds,
	}

	if round := m.CurrentRound(); round != nil && m.State == StateActive {
		snap.CurrentRound = &RoundSnapshot{
			Index:       round.Index,
			Location:    round.Location,
			StartedAt:   round.StartedAt,
			TimeLimitMs: round.TimeLimitMs,
		}
	}
	return snap
}
