// Package db is the durable-storage collaborator: persisting finished
// matches and bad-location reports to PostgreSQL via pgx (§6). Grounded on
// the teacher's internal/db/db.go pool wrapper and internal/db/persistence.go
// transactional multi-table save (tx.Begin -> sequential inserts -> Commit).
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opengeoguess/core/internal/match"
)

// Store wraps a pgx connection pool and implements both
// supervisor.MatchPersister and locationstore.ReportStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a Store handle.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying pgx pool. RunMigrations does not use it; it
// opens its own database/sql connection from the DSN.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// PersistFinishedMatch durably writes a match's final standings, rounds,
// and per-guess details in a single transaction (§6 `persist_finished_match`).
func (s *Store) PersistFinishedMatch(ctx context.Context, rec match.FinalRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for match %s: %w", rec.MatchID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO finished_matches
		 (match_id, mode, join_code, map_id, rounds, time_limit_seconds, started_at, ended_at, host_player_id)
		 VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7 / 1000.0), to_timestamp($8 / 1000.0), $9)`,
		rec.MatchID, string(rec.Mode), rec.JoinCode, rec.MapID, rec.Rounds, rec.TimeLimitSeconds,
		rec.StartedAt, rec.EndedAt, string(rec.HostPlayer),
	); err != nil {
		return fmt.Errorf("inserting finished_matches for %s: %w", rec.MatchID, err)
	}

	for _, p := range rec.Players {
		if _, err := tx.Exec(ctx,
			`INSERT INTO finished_match_players (match_id, player_id, display_name, final_rank, cumulative_score)
			 VALUES ($1, $2, $3, $4, $5)`,
			rec.MatchID, string(p.PlayerID), p.DisplayName, p.FinalRank, p.CumulativeScore,
		); err != nil {
			return fmt.Errorf("inserting finished_match_players for %s/%s: %w", rec.MatchID, p.PlayerID, err)
		}
	}

	for _, r := range rec.RoundRecords {
		if _, err := tx.Exec(ctx,
			`INSERT INTO finished_match_rounds (match_id, round_index, lat, lng, location_id, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5, to_timestamp($6 / 1000.0), to_timestamp($7 / 1000.0))`,
			rec.MatchID, r.Index, r.Lat, r.Lng, r.LocationID, r.StartedAt, r.EndedAt,
		); err != nil {
			return fmt.Errorf("inserting finished_match_rounds for %s round %d: %w", rec.MatchID, r.Index, err)
		}
	}

	for _, g := range rec.Guesses {
		if _, err := tx.Exec(ctx,
			`INSERT INTO finished_match_guesses
			 (match_id, round_index, player_id, guess_lat, guess_lng, distance_meters, score, submitted_at, time_taken_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, to_timestamp($8 / 1000.0), $9)`,
			rec.MatchID, g.RoundIndex, string(g.PlayerID), g.GuessLat, g.GuessLng, g.DistanceMeters,
			g.Score, g.SubmittedAt, g.TimeTakenMs,
		); err != nil {
			return fmt.Errorf("inserting finished_match_guesses for %s round %d: %w", rec.MatchID, g.RoundIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction for match %s: %w", rec.MatchID, err)
	}
	return nil
}

// RecordReport adds a bad-location report (§6 `record_report`).
func (s *Store) RecordReport(ctx context.Context, locationID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO location_reports (location_id, reason, reported_at) VALUES ($1, $2, now())`,
		locationID, reason,
	)
	if err != nil {
		return fmt.Errorf("recording report for %s: %w", locationID, err)
	}
	return nil
}

// LoadRecentReports warm-loads the disabled-set cache with the most
// recently reported location ids (§6 `load_recent_reports`).
func (s *Store) LoadRecentReports(ctx context.Context, maxCount int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT location_id FROM location_reports ORDER BY reported_at DESC LIMIT $1`, maxCount,
	)
	if err != nil {
		return nil, fmt.Errorf("loading recent reports: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, maxCount)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
