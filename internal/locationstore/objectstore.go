// Package locationstore serves random panorama locations from a versioned,
// country-sharded binary pack (§4.2), with retrying byte-range reads,
// bounded caching of country indexes, singleflight deduplication of
// concurrent misses, and a disabled-location filter.
package locationstore

import "context"

// ObjectStore abstracts the pack's backing transport (§9 "dynamic dispatch
// for storage backends"). httpObjectStore is the production implementation
// (HTTPS range GETs); fsObjectStore mirrors the same layout on local disk
// for tests and single-box deployments.
type ObjectStore interface {
	// FetchRange returns exactly `length` bytes starting at `offset`
	// within the named object (e.g. "<CC>_<bucket>.pack").
	FetchRange(ctx context.Context, version, objectKey string, offset, length int64) ([]byte, error)
	// FetchJSON returns the raw bytes of a whole JSON object (manifest.json
	// or a country's index.json).
	FetchJSON(ctx context.Context, version, path string) ([]byte, error)
}
