package locationstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/opengeoguess/core/internal/packfmt"
)

// indexEntry caches either a parsed CountryIndex or a short-TTL "poisoned"
// marker recording that the last parse attempt failed, so repeated picks
// don't hammer a broken backend object.
type indexEntry struct {
	index       *packfmt.CountryIndex
	poisoned    bool
	poisonUntil time.Time
}

// indexCache loads and caches per-country indexes, deduplicating
// concurrent misses for the same key with a singleflight.Group — the
// precise fit spec §4.2/§5 calls for ("only one concurrent fetch per
// missing key").
type indexCache struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, *indexEntry]
	sf        singleflight.Group
	store     ObjectStore
	poisonTTL time.Duration
}

func newIndexCache(store ObjectStore, capacity int) (*indexCache, error) {
	c, err := lru.New[string, *indexEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("building index cache: %w", err)
	}
	return &indexCache{cache: c, store: store, poisonTTL: 30 * time.Second}, nil
}

func cacheKey(version, country string) string {
	return version + "/" + country
}

// Get returns the CountryIndex for (version, country), loading and caching
// it on first use.
func (c *indexCache) Get(ctx context.Context, version, country string) (*packfmt.CountryIndex, error) {
	key := cacheKey(version, country)

	c.mu.Lock()
	if entry, ok := c.cache.Get(key); ok {
		if entry.index != nil {
			c.mu.Unlock()
			return entry.index, nil
		}
		if entry.poisoned && time.Now().Before(entry.poisonUntil) {
			c.mu.Unlock()
			return nil, fmt.Errorf("country index %s is poisoned until %s", key, entry.poisonUntil)
		}
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		raw, err := c.store.FetchJSON(ctx, version, path.Join("countries", country, "index.json"))
		if err != nil {
			c.mu.Lock()
			c.cache.Add(key, &indexEntry{poisoned: true, poisonUntil: time.Now().Add(c.poisonTTL)})
			c.mu.Unlock()
			return nil, fmt.Errorf("fetching index for %s: %w", country, err)
		}

		var idx packfmt.CountryIndex
		if err := json.Unmarshal(raw, &idx); err != nil {
			c.mu.Lock()
			c.cache.Add(key, &indexEntry{poisoned: true, poisonUntil: time.Now().Add(c.poisonTTL)})
			c.mu.Unlock()
			return nil, fmt.Errorf("parsing index for %s: %w", country, err)
		}

		c.mu.Lock()
		c.cache.Add(key, &indexEntry{index: &idx})
		c.mu.Unlock()
		return &idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*packfmt.CountryIndex), nil
}
