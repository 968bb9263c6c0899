package locationstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opengeoguess/core/internal/packfmt"
)

type fakeReportStore struct {
	reported map[string]string
	recent   []string
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reported: make(map[string]string)}
}

func (f *fakeReportStore) RecordReport(ctx context.Context, locationID, reason string) error {
	f.reported[locationID] = reason
	return nil
}

func (f *fakeReportStore) LoadRecentReports(ctx context.Context, maxCount int) ([]string, error) {
	return f.recent, nil
}

// writeFixturePack lays out a minimal version/manifest/index/pack tree
// under dir, with two records in one bucket so tests can target the
// second by pre-disabling the first's location id.
func writeFixturePack(t *testing.T, dir, version string) (firstID, secondID string) {
	t.Helper()

	recFirst := packfmt.Record{Lat: 10, Lng: 10, Country: "US", PanoramaID: "first"}
	copy(recFirst.LocationID[:], []byte("first-location-id"))
	recSecond := packfmt.Record{Lat: 20, Lng: 20, Country: "US", PanoramaID: "second"}
	copy(recSecond.LocationID[:], []byte("second-location-id"))

	packBytes := append(recFirst.Encode(), recSecond.Encode()...)

	countryDir := filepath.Join(dir, version, "countries", "US")
	require.NoError(t, os.MkdirAll(countryDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(countryDir, "US_bucket0.pack"), packBytes, 0o644))

	idx := packfmt.CountryIndex{
		Country:    "US",
		Version:    version,
		RecordSize: packfmt.RecordSize,
		Buckets: map[string]packfmt.BucketEntry{
			"bucket0": {Count: 2, Object: "US/US_bucket0.pack"},
		},
	}
	idxBytes, err := json.Marshal(idx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(countryDir, "index.json"), idxBytes, 0o644))

	manifest := packfmt.Manifest{
		SchemaVersion: 1,
		Version:       version,
		Countries: map[string]packfmt.CountryEntry{
			"US": {Count: 2},
		},
	}
	manifestBytes, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, version, "manifest.json"), manifestBytes, 0o644))

	return hex.EncodeToString(recFirst.LocationID[:]), hex.EncodeToString(recSecond.LocationID[:])
}

func TestStore_PickLocation_FiltersDisabled(t *testing.T) {
	// S6: first sampled record has a disabled location id; the store
	// must retry and return the second.
	dir := t.TempDir()
	firstID, secondID := writeFixturePack(t, dir, "v1")

	objects := NewFSObjectStore(dir)
	reports := newFakeReportStore()
	disabled, err := NewDisabledSet(100, reports, 1)
	require.NoError(t, err)
	require.NoError(t, disabled.Report(context.Background(), firstID, "test"))

	store, err := New(objects, disabled, Config{Version: "v1", MaxRetries: 20})
	require.NoError(t, err)

	seenSecond := false
	for i := 0; i < 50; i++ {
		loc, err := store.PickLocation(context.Background(), "world")
		require.NoError(t, err)
		require.NotEqual(t, firstID, loc.LocationID)
		if loc.LocationID == secondID {
			seenSecond = true
		}
	}
	require.True(t, seenSecond, "expected to eventually sample the non-disabled record")
}

func TestStore_PickLocation_NoCoverage(t *testing.T) {
	dir := t.TempDir()
	writeFixturePack(t, dir, "v1")

	objects := NewFSObjectStore(dir)
	reports := newFakeReportStore()
	disabled, err := NewDisabledSet(100, reports, 1)
	require.NoError(t, err)

	store, err := New(objects, disabled, Config{Version: "v1"})
	require.NoError(t, err)

	_, err = store.PickLocation(context.Background(), "nowhere")
	require.Error(t, err)
}

func TestStore_ReportLocation_Disables(t *testing.T) {
	dir := t.TempDir()
	_, secondID := writeFixturePack(t, dir, "v1")
	_ = secondID

	objects := NewFSObjectStore(dir)
	reports := newFakeReportStore()
	disabled, err := NewDisabledSet(100, reports, 1)
	require.NoError(t, err)

	store, err := New(objects, disabled, Config{Version: "v1"})
	require.NoError(t, err)

	loc, err := store.PickLocation(context.Background(), "world")
	require.NoError(t, err)

	require.NoError(t, store.ReportLocation(context.Background(), loc.LocationID, "wrong_location"))
	require.True(t, disabled.IsDisabled(loc.LocationID))
	require.Equal(t, "wrong_location", reports.reported[loc.LocationID])
}
