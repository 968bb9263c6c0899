package locationstore

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ReportStore is the persistence collaborator (§6) behind the disabled-
// location set: it durably records reports and lets the set warm-load the
// most recently reported ids on startup.
type ReportStore interface {
	RecordReport(ctx context.Context, locationID string, reason string) error
	LoadRecentReports(ctx context.Context, maxCount int) ([]string, error)
}

// DisabledSet is a process-local, bounded, write-through cache of
// location ids that have been reported enough times to be filtered from
// random picks (§3, §4.2).
type DisabledSet struct {
	cache     *lru.Cache[string, struct{}]
	store     ReportStore
	threshold int

	mu      sync.Mutex
	counts  map[string]int
}

// NewDisabledSet builds a DisabledSet with the given capacity (default
// 200,000 per spec) and report threshold before an id is disabled.
func NewDisabledSet(capacity int, store ReportStore, threshold int) (*DisabledSet, error) {
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("locationstore: building disabled-set LRU: %w", err)
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &DisabledSet{
		cache:     c,
		store:     store,
		threshold: threshold,
		counts:    make(map[string]int),
	}, nil
}

// Warmup loads the most recently reported ids from durable storage,
// bypassing the report-count threshold: every id LoadRecentReports
// returns is disabled, however many reports it has.
func (d *DisabledSet) Warmup(ctx context.Context, maxCount int) error {
	ids, err := d.store.LoadRecentReports(ctx, maxCount)
	if err != nil {
		return fmt.Errorf("warming disabled set: %w", err)
	}
	for _, id := range ids {
		d.cache.Add(id, struct{}{})
	}
	return nil
}

// IsDisabled reports whether locationID has been filtered out.
func (d *DisabledSet) IsDisabled(locationID string) bool {
	_, ok := d.cache.Get(locationID)
	return ok
}

// Report records a report against locationID, persisting it first (write-
// through) and only then updating the in-memory set once the threshold is
// crossed.
func (d *DisabledSet) Report(ctx context.Context, locationID, reason string) error {
	if err := d.store.RecordReport(ctx, locationID, reason); err != nil {
		return fmt.Errorf("recording report for %s: %w", locationID, err)
	}

	d.mu.Lock()
	d.counts[locationID]++
	count := d.counts[locationID]
	d.mu.Unlock()

	if count >= d.threshold {
		d.cache.Add(locationID, struct{}{})
	}
	return nil
}
