package match

// FinalGuessRecord is one persisted guess within a finished match.
type FinalGuessRecord struct {
	RoundIndex     int
	PlayerID       PlayerID
	GuessLat       float64
	GuessLng       float64
	DistanceMeters float64
	Score          int
	SubmittedAt    int64 // unix millis
	TimeTakenMs    *int
}

// FinalRoundRecord is one persisted round within a finished match.
type FinalRoundRecord struct {
	Index      int
	Lat        float64
	Lng        float64
	LocationID string
	StartedAt  int64 // unix millis
	EndedAt    int64
}

// FinalPlayerRecord is one persisted player's final placement.
type FinalPlayerRecord struct {
	PlayerID        PlayerID
	DisplayName     string
	FinalRank       int
	CumulativeScore int
}

// FinalRecord is the durable shape handed to the persistence collaborator
// (§6 `persist_finished_match`) once a Match reaches Finished.
type FinalRecord struct {
	MatchID          string
	Mode             Mode
	JoinCode         string
	MapID            string
	Rounds           int
	TimeLimitSeconds int
	StartedAt        int64
	EndedAt          int64
	HostPlayer       PlayerID
	Players          []FinalPlayerRecord
	RoundRecords     []FinalRoundRecord
	Guesses          []FinalGuessRecord
}

// ToFinalRecord builds the persistence payload from a Finished match and
// its computed standings.
func (m *Match) ToFinalRecord(standings []StandingEntry) FinalRecord {
	rec := FinalRecord{
		MatchID:          m.ID,
		Mode:             m.Mode,
		JoinCode:         m.JoinCode,
		MapID:            m.Settings.MapID,
		Rounds:           m.Settings.Rounds,
		TimeLimitSeconds: m.Settings.TimeLimitSeconds,
		HostPlayer:       m.HostPlayer,
	}
	if m.StartedAt != nil {
		rec.StartedAt = m.StartedAt.UnixMilli()
	}
	if m.EndedAt != nil {
		rec.EndedAt = m.EndedAt.UnixMilli()
	}

	for _, s := range standings {
		rec.Players = append(rec.Players, FinalPlayerRecord{
			PlayerID:        s.PlayerID,
			DisplayName:     s.DisplayName,
			FinalRank:       s.Rank,
			CumulativeScore: s.TotalScore,
		})
	}

	for _, r := range m.Rounds {
		rr := FinalRoundRecord{
			Index:      r.Index,
			Lat:        r.Location.Lat,
			Lng:        r.Location.Lng,
			LocationID: r.Location.LocationID,
			StartedAt:  r.StartedAt.UnixMilli(),
		}
		if r.EndedAt != nil {
			rr.EndedAt = r.EndedAt.UnixMilli()
		}
		rec.RoundRecords = append(rec.RoundRecords, rr)

		for _, g := range r.Guesses {
			rec.Guesses = append(rec.Guesses, FinalGuessRecord{
				RoundIndex:     r.Index,
				PlayerID:       g.PlayerID,
				GuessLat:       g.Lat,
				GuessLng:       g.Lng,
				DistanceMeters: g.DistanceMeters,
				Score:          g.Score,
				SubmittedAt:    g.SubmittedAt.UnixMilli(),
				TimeTakenMs:    g.TimeTakenMs,
			})
		}
	}

	return rec
}
