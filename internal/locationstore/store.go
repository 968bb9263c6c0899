package locationstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/opengeoguess/core/internal/apierr"
	"github.com/opengeoguess/core/internal/metrics"
	"github.com/opengeoguess/core/internal/packfmt"
)

// Location is a picked round location, ready to hand to a Round (§3).
type Location struct {
	LocationID string
	Country    string
	Lat        float64
	Lng        float64
	PanoramaID string
	Heading    *float32 // nil when the pack record's heading is unknown (NaN)
}

// bucketKey identifies one (country, bucket) partition within a map.
type bucketKey struct {
	Country string
	Bucket  string
}

// Config parameterizes a Store.
type Config struct {
	Version     string
	MaxRetries  int            // default 8, per §4.2
	MapCatalog  map[string][]string // map_id -> list of country codes; "world" covers every manifest country if absent
	Metrics     *metrics.Collectors // optional; nil disables instrumentation
}

// Store resolves map_ids to weighted location picks, backed by an
// ObjectStore for pack/manifest/index data and a DisabledSet filter.
type Store struct {
	objects  ObjectStore
	indexes  *indexCache
	disabled *DisabledSet
	cfg      Config

	mu       sync.RWMutex
	manifest *packfmt.Manifest
}

// New builds a Store. It does not fetch the manifest; call Warmup for that.
func New(objects ObjectStore, disabled *DisabledSet, cfg Config) (*Store, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	idx, err := newIndexCache(objects, 256)
	if err != nil {
		return nil, err
	}
	return &Store{objects: objects, indexes: idx, disabled: disabled, cfg: cfg}, nil
}

// Warmup preloads the manifest and the country index for mapID's primary
// country set (§4.2).
func (s *Store) Warmup(ctx context.Context, mapID string) error {
	if err := s.ensureManifest(ctx); err != nil {
		return err
	}
	countries, err := s.countriesForMap(mapID)
	if err != nil {
		return err
	}
	for _, c := range countries {
		if _, err := s.indexes.Get(ctx, s.cfg.Version, c); err != nil {
			return fmt.Errorf("warming up %s: %w", c, err)
		}
	}
	return nil
}

func (s *Store) ensureManifest(ctx context.Context) error {
	s.mu.RLock()
	if s.manifest != nil {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	raw, err := s.objects.FetchJSON(ctx, s.cfg.Version, "manifest.json")
	if err != nil {
		return apierr.Wrap(apierr.CodeStoreUnavailable, "fetching manifest", err)
	}
	var m packfmt.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return apierr.Wrap(apierr.CodeStoreUnavailable, "parsing manifest", err)
	}

	s.mu.Lock()
	s.manifest = &m
	s.mu.Unlock()
	return nil
}

func (s *Store) countriesForMap(mapID string) ([]string, error) {
	if set, ok := s.cfg.MapCatalog[mapID]; ok {
		return set, nil
	}
	if mapID == "world" {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.manifest == nil {
			return nil, fmt.Errorf("manifest not loaded")
		}
		countries := make([]string, 0, len(s.manifest.Countries))
		for c := range s.manifest.Countries {
			countries = append(countries, c)
		}
		return countries, nil
	}
	return nil, fmt.Errorf("unknown map_id %q", mapID)
}

// weightedBuckets builds the weighted (country,bucket) key set for mapID,
// weights proportional to each bucket's record count (§4.2 step 1).
func (s *Store) weightedBuckets(ctx context.Context, mapID string) ([]bucketKey, []uint64, error) {
	countries, err := s.countriesForMap(mapID)
	if err != nil {
		return nil, nil, err
	}

	var keys []bucketKey
	var weights []uint64
	for _, country := range countries {
		idx, err := s.indexes.Get(ctx, s.cfg.Version, country)
		if err != nil {
			continue // skip unavailable countries; other countries still usable
		}
		for bucket, entry := range idx.Buckets {
			if entry.Count == 0 {
				continue
			}
			keys = append(keys, bucketKey{Country: country, Bucket: bucket})
			weights = append(weights, uint64(entry.Count))
		}
	}
	if len(keys) == 0 {
		return nil, nil, apierr.New(apierr.CodeStoreUnavailable, "no coverage for map "+mapID)
	}
	return keys, weights, nil
}

// PickLocation implements §4.2's pick_location algorithm.
func (s *Store) PickLocation(ctx context.Context, mapID string) (Location, error) {
	if err := s.ensureManifest(ctx); err != nil {
		return Location{}, err
	}

	keys, weights, err := s.weightedBuckets(ctx, mapID)
	if err != nil {
		return Location{}, err
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 && s.cfg.Metrics != nil {
			s.cfg.Metrics.PackReadRetries.Inc()
		}

		key, err := sampleWeighted(keys, weights)
		if err != nil {
			lastErr = err
			continue
		}

		idx, err := s.indexes.Get(ctx, s.cfg.Version, key.Country)
		if err != nil {
			lastErr = err
			continue
		}
		bucket, ok := idx.Buckets[key.Bucket]
		if !ok || bucket.Count == 0 {
			lastErr = fmt.Errorf("bucket %s/%s has no records", key.Country, key.Bucket)
			continue
		}

		offsetIdx, err := randUint32(bucket.Count)
		if err != nil {
			lastErr = err
			continue
		}
		offset := int64(offsetIdx) * packfmt.RecordSize

		raw, err := s.objects.FetchRange(ctx, s.cfg.Version, bucket.Object, offset, packfmt.RecordSize)
		if err != nil {
			lastErr = err
			continue
		}

		rec, err := packfmt.DecodeRecord(raw)
		if err != nil {
			lastErr = err
			continue
		}

		locID := hex.EncodeToString(rec.LocationID[:])
		if s.disabled != nil && s.disabled.IsDisabled(locID) {
			lastErr = fmt.Errorf("location %s is disabled", locID)
			continue
		}

		loc := Location{
			LocationID: locID,
			Country:    rec.Country,
			Lat:        rec.Lat,
			Lng:        rec.Lng,
			PanoramaID: rec.PanoramaID,
		}
		if !isNaN32(rec.Heading) {
			h := rec.Heading
			loc.Heading = &h
		}
		return loc, nil
	}

	if lastErr != nil {
		return Location{}, apierr.Wrap(apierr.CodeStoreUnavailable, "no coverage after retries", lastErr)
	}
	return Location{}, apierr.New(apierr.CodeStoreUnavailable, "no coverage after retries")
}

// ReportLocation forwards to the disabled-set write-through cache.
func (s *Store) ReportLocation(ctx context.Context, locationID, reason string) error {
	if s.disabled == nil {
		return nil
	}
	return s.disabled.Report(ctx, locationID, reason)
}

func isNaN32(f float32) bool { return f != f }

// sampleWeighted picks one key proportional to its weight using a
// cryptographically seeded RNG per call (§4.2 step 2a).
func sampleWeighted(keys []bucketKey, weights []uint64) (bucketKey, error) {
	var total uint64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return bucketKey{}, fmt.Errorf("zero total weight")
	}
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(total))
	if err != nil {
		return bucketKey{}, fmt.Errorf("sampling weighted bucket: %w", err)
	}
	target := n.Uint64()
	var cum uint64
	for i, w := range weights {
		cum += w
		if target < cum {
			return keys[i], nil
		}
	}
	return keys[len(keys)-1], nil
}

// randUint32 returns a cryptographically random value in [0, n).
func randUint32(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("randUint32: n must be > 0")
	}
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(uint64(n)))
	if err != nil {
		return 0, err
	}
	return uint32(v.Uint64()), nil
}

