package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opengeoguess/core/internal/match"
)

// testDSN is set up once for the whole package by TestMain, grounded on
// the teacher's internal/db/testhelpers_test.go postgres testcontainer.
var testDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("starting postgres container: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("getting container port: %v", err)
	}
	testDSN = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	if err := RunMigrations(ctx, testDSN); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), testDSN)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func sampleFinalRecord(matchID string) match.FinalRecord {
	return match.FinalRecord{
		MatchID:          matchID,
		Mode:             match.ModeMultiplayer,
		JoinCode:         "ABC123",
		MapID:            "world",
		Rounds:           1,
		TimeLimitSeconds: 60,
		StartedAt:        1_700_000_000_000,
		EndedAt:          1_700_000_060_000,
		HostPlayer:       "p1",
		Players: []match.FinalPlayerRecord{
			{PlayerID: "p1", DisplayName: "Alice", FinalRank: 1, CumulativeScore: 4800},
		},
		RoundRecords: []match.FinalRoundRecord{
			{Index: 1, Lat: 51.5, Lng: -0.1, LocationID: "loc-1", StartedAt: 1_700_000_000_000, EndedAt: 1_700_000_030_000},
		},
		Guesses: []match.FinalGuessRecord{
			{RoundIndex: 1, PlayerID: "p1", GuessLat: 51.5, GuessLng: -0.1, DistanceMeters: 0, Score: 4800, SubmittedAt: 1_700_000_025_000},
		},
	}
}

func TestStore_PersistFinishedMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleFinalRecord("match-persist-1")
	require.NoError(t, store.PersistFinishedMatch(ctx, rec))

	var count int
	err := store.pool.QueryRow(ctx, `SELECT count(*) FROM finished_matches WHERE match_id = $1`, rec.MatchID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = store.pool.QueryRow(ctx, `SELECT count(*) FROM finished_match_guesses WHERE match_id = $1`, rec.MatchID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_RecordAndLoadRecentReports(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordReport(ctx, "loc-a", "wrong country"))
	require.NoError(t, store.RecordReport(ctx, "loc-b", "blurry"))

	ids, err := store.LoadRecentReports(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, ids, "loc-a")
	assert.Contains(t, ids, "loc-b")
}
