package match

import (
	"sort"
	"time"

	"github.com/opengeoguess/core/internal/apierr"
	"github.com/opengeoguess/core/internal/geo"
)

// SettingsPatch carries the optional fields UpdateSettings may change;
// nil fields are left unchanged (§6 `update_settings`).
type SettingsPatch struct {
	Rounds           *int
	TimeLimitSeconds *int
	MapID            *string
	MovementAllowed  *bool
	ZoomAllowed      *bool
	RotationAllowed  *bool
}

// Join adds a player to a Lobby match, or reconnects an existing one in
// Active/RoundEnd (§4.3 "a returning disconnected player").
func (m *Match) Join(player PlayerInfo, now time.Time) error {
	if existing, ok := m.Players[player.ID]; ok {
		existing.IsConnected = true
		if m.HostPlayer == "" {
			m.HostPlayer = player.ID
		}
		return nil
	}

	if m.State != StateLobby {
		if m.State == StateFinished || m.State == StateAbandoned {
			return apierr.New(apierr.CodeInvalidState, "match is not accepting new players")
		}
		// Active/RoundEnd: allow a brand-new player to join mid-match is
		// out of scope; only reconnection (handled above) is allowed here.
		return apierr.New(apierr.CodeInvalidState, "match already started")
	}

	player.JoinedAt = now
	player.IsConnected = true
	m.Players[player.ID] = &player
	m.playerOrder = append(m.playerOrder, player.ID)

	if m.HostPlayer == "" {
		m.HostPlayer = player.ID
	}
	return nil
}

// Leave marks a player disconnected, reassigning host if needed (§4.3
// "host leaves").
func (m *Match) Leave(playerID PlayerID) error {
	p, ok := m.Players[playerID]
	if !ok {
		return apierr.New(apierr.CodeForbiddenNotPlayer, "player not in match")
	}
	p.IsConnected = false

	if m.HostPlayer == playerID {
		m.reassignHost()
	}
	return nil
}

// reassignHost picks the earliest-joined still-connected player as the
// new host (§4.3). Leaves HostPlayer unset if nobody is connected.
func (m *Match) reassignHost() {
	for _, id := range m.playerOrder {
		p, ok := m.Players[id]
		if ok && p.IsConnected && id != m.HostPlayer {
			m.HostPlayer = id
			return
		}
	}
	m.HostPlayer = ""
}

// UpdateSettings applies a patch while in Lobby, host-only, clamping
// out-of-range values (§4.3).
func (m *Match) UpdateSettings(requester PlayerID, patch SettingsPatch) error {
	if m.State != StateLobby {
		return apierr.New(apierr.CodeInvalidState, "settings can only change in lobby")
	}
	if requester != m.HostPlayer {
		return apierr.New(apierr.CodeForbiddenNotHost, "only the host may update settings")
	}

	next := m.Settings
	if patch.Rounds != nil {
		next.Rounds = *patch.Rounds
	}
	if patch.TimeLimitSeconds != nil {
		next.TimeLimitSeconds = *patch.TimeLimitSeconds
	}
	if patch.MapID != nil {
		next.MapID = *patch.MapID
	}
	if patch.MovementAllowed != nil {
		next.MovementAllowed = *patch.MovementAllowed
	}
	if patch.ZoomAllowed != nil {
		next.ZoomAllowed = *patch.ZoomAllowed
	}
	if patch.RotationAllowed != nil {
		next.RotationAllowed = *patch.RotationAllowed
	}

	clamped := geo.MatchSettings{
		Rounds:           next.Rounds,
		TimeLimitSeconds: next.TimeLimitSeconds,
		MapID:            next.MapID,
	}.Clamp()

	m.Settings = Settings{
		Rounds:           clamped.Rounds,
		TimeLimitSeconds: clamped.TimeLimitSeconds,
		MapID:            clamped.MapID,
		MovementAllowed:  next.MovementAllowed,
		ZoomAllowed:      next.ZoomAllowed,
		RotationAllowed:  next.RotationAllowed,
	}
	return nil
}

// Start transitions Lobby -> Active(1), requiring a location the caller
// has already picked (§4.3, §4.2 boundary).
func (m *Match) Start(requester PlayerID, loc Location, timeLimitMs *int64, now time.Time) error {
	if m.State != StateLobby {
		return apierr.New(apierr.CodeAlreadyStarted, "match already started")
	}
	if requester != m.HostPlayer {
		return apierr.New(apierr.CodeForbiddenNotHost, "only the host may start the match")
	}

	minPlayers := 2
	if m.Mode == ModeSolo {
		minPlayers = 1
	}
	if m.connectedPlayerCount() < minPlayers {
		return apierr.New(apierr.CodeInvalidState, "not enough players to start")
	}

	m.StartedAt = &now
	return m.beginRound(loc, timeLimitMs, now)
}

// beginRound appends a new Round and transitions to Active, shared by
// Start and the RoundEnd->Active advance.
func (m *Match) beginRound(loc Location, timeLimitMs *int64, now time.Time) error {
	connected := make(map[PlayerID]bool, len(m.Players))
	for id, p := range m.Players {
		if p.IsConnected {
			connected[id] = true
		}
	}

	round := &Round{
		Index:            m.CurrentRoundIndex + 1,
		Location:         loc,
		StartedAt:        now,
		TimeLimitMs:      timeLimitMs,
		Guesses:          make(map[PlayerID]*GuessRecord),
		ConnectedAtStart: connected,
	}

	m.Rounds = append(m.Rounds, round)
	m.CurrentRoundIndex = round.Index
	m.State = StateActive
	return nil
}

// SubmitGuess records a player's guess for the current round (§4.3
// Active). Returns the recorded guess and whether the round is now
// complete (every player connected at round start has guessed).
func (m *Match) SubmitGuess(playerID PlayerID, lat, lng float64, timeTakenMs *int, now time.Time, scoring geo.ScoringConfig) (GuessRecord, bool, error) {
	if m.State != StateActive {
		return GuessRecord{}, false, apierr.New(apierr.CodeInvalidState, "no active round")
	}
	if _, ok := m.Players[playerID]; !ok {
		return GuessRecord{}, false, apierr.New(apierr.CodeForbiddenNotPlayer, "player not in match")
	}

	round := m.CurrentRound()
	if round == nil {
		return GuessRecord{}, false, apierr.New(apierr.CodeInvalidState, "no active round")
	}
	if _, ok := round.Guesses[playerID]; ok {
		return GuessRecord{}, false, apierr.New(apierr.CodeAlreadyGuessed, "player already guessed this round")
	}

	guessCoord := geo.Coordinate{Lat: lat, Lng: lng}
	if !guessCoord.Valid() {
		return GuessRecord{}, false, apierr.New(apierr.CodeInvalidCoords, "guess coordinates out of range")
	}

	if round.TimeLimitMs != nil {
		elapsed := now.Sub(round.StartedAt).Milliseconds()
		if elapsed > *round.TimeLimitMs {
			return GuessRecord{}, false, apierr.New(apierr.CodeTimeExpired, "round time limit exceeded")
		}
	}

	dist := geo.DistanceMeters(guessCoord, geo.Coordinate{Lat: round.Location.Lat, Lng: round.Location.Lng})
	score := scoring.Score(dist)

	rec := &GuessRecord{
		PlayerID:       playerID,
		Lat:            lat,
		Lng:            lng,
		DistanceMeters: dist,
		Score:          score,
		SubmittedAt:    now,
		TimeTakenMs:    timeTakenMs,
	}
	round.Guesses[playerID] = rec
	m.Players[playerID].CumulativeScore += score

	return *rec, m.roundComplete(round), nil
}

// roundComplete reports whether every player who was connected at round
// start AND remains currently connected has submitted a guess (§4.3: "all
// players guessed" considers only currently-connected players who were
// connected at round start — a disconnected player's missing guess never
// blocks advance; if they reconnect before the round otherwise completes,
// they become required again).
func (m *Match) roundComplete(round *Round) bool {
	for id := range round.ConnectedAtStart {
		p, ok := m.Players[id]
		if !ok || !p.IsConnected {
			continue
		}
		if _, guessed := round.Guesses[id]; !guessed {
			return false
		}
	}
	return true
}

// RoundResultEntry is one player's outcome within a finished round.
type RoundResultEntry struct {
	PlayerID       PlayerID  `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	GuessLat       float64   `json:"guess_lat"`
	GuessLng       float64   `json:"guess_lng"`
	DistanceMeters float64   `json:"distance_meters"`
	Score          int       `json:"score"`
	SubmittedAt    time.Time `json:"submitted_at"`
	TotalScore     int       `json:"total_score"`
	Forfeited      bool      `json:"forfeited"`
}

// EndRound closes the current round — forfeiting any required player who
// never guessed — and either advances to the next round or to Finished
// (§4.3 RoundEnd). Call this both when every player has guessed and when
// the round timer expires.
func (m *Match) EndRound(now time.Time) ([]RoundResultEntry, bool, error) {
	if m.State != StateActive {
		return nil, false, apierr.New(apierr.CodeInvalidState, "no active round to end")
	}
	round := m.CurrentRound()
	if round == nil {
		return nil, false, apierr.New(apierr.CodeInvalidState, "no active round to end")
	}

	for id := range round.ConnectedAtStart {
		if _, ok := round.Guesses[id]; !ok {
			round.Guesses[id] = &GuessRecord{
				PlayerID:       id,
				DistanceMeters: -1,
				Score:          0,
				SubmittedAt:    now,
				Forfeited:      true,
			}
		}
	}

	round.EndedAt = &now
	m.State = StateRoundEnd

	results := make([]RoundResultEntry, 0, len(round.Guesses))
	for id, g := range round.Guesses {
		p := m.Players[id]
		results = append(results, RoundResultEntry{
			PlayerID:       id,
			DisplayName:    p.DisplayName,
			GuessLat:       g.Lat,
			GuessLng:       g.Lng,
			DistanceMeters: g.DistanceMeters,
			Score:          g.Score,
			SubmittedAt:    g.SubmittedAt,
			TotalScore:     p.CumulativeScore,
			Forfeited:      g.Forfeited,
		})
	}
	sortResults(results)

	finished := round.Index >= m.Settings.Rounds
	return results, finished, nil
}

// sortResults orders by score desc, ties broken by submission time asc
// (§4.3: "ties broken by submission time", earlier submitted_at ranks
// higher).
func sortResults(results []RoundResultEntry) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SubmittedAt.Before(results[j].SubmittedAt)
	})
}

// AdvanceRound starts the next round after a RoundEnd (§4.3).
func (m *Match) AdvanceRound(loc Location, timeLimitMs *int64, now time.Time) error {
	if m.State != StateRoundEnd {
		return apierr.New(apierr.CodeInvalidState, "not between rounds")
	}
	if m.CurrentRoundIndex >= m.Settings.Rounds {
		return apierr.New(apierr.CodeInvalidState, "all rounds already played")
	}
	return m.beginRound(loc, timeLimitMs, now)
}

// StandingEntry is one player's place in the final leaderboard (§4.3
// Finished, §6 `game_end`).
type StandingEntry struct {
	Rank        int      `json:"rank"`
	PlayerID    PlayerID `json:"user_id"`
	DisplayName string   `json:"display_name"`
	TotalScore  int      `json:"total_score"`
}

// Finish transitions RoundEnd -> Finished and computes final standings.
func (m *Match) Finish(now time.Time) ([]StandingEntry, error) {
	if m.State != StateRoundEnd {
		return nil, apierr.New(apierr.CodeInvalidState, "match not ready to finish")
	}
	m.State = StateFinished
	m.EndedAt = &now

	standings := make([]StandingEntry, 0, len(m.Players))
	for id, p := range m.Players {
		standings = append(standings, StandingEntry{
			PlayerID:    id,
			DisplayName: p.DisplayName,
			TotalScore:  p.CumulativeScore,
		})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].TotalScore != standings[j].TotalScore {
			return standings[i].TotalScore > standings[j].TotalScore
		}
		return earliestBestRound(m, standings[i].PlayerID) < earliestBestRound(m, standings[j].PlayerID)
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings, nil
}

// earliestBestRound returns the index of the round in which playerID
// achieved their single highest-scoring guess, the Finished tie-break
// (§4.3 "ties by earliest-best-round").
func earliestBestRound(m *Match, playerID PlayerID) int {
	best := -1
	bestRound := len(m.Rounds) + 1
	for _, r := range m.Rounds {
		g, ok := r.Guesses[playerID]
		if !ok {
			continue
		}
		if g.Score > best {
			best = g.Score
			bestRound = r.Index
		}
	}
	return bestRound
}

// Abandon transitions to the terminal Abandoned state (§4.3). Not
// reachable from Finished.
func (m *Match) Abandon(now time.Time) error {
	if m.State == StateFinished || m.State == StateAbandoned {
		return apierr.New(apierr.CodeInvalidState, "match already terminal")
	}
	m.State = StateAbandoned
	m.EndedAt = &now
	return nil
}
