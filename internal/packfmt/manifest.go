package packfmt

// Manifest is the top-level `<base>/<version>/manifest.json` document.
type Manifest struct {
	SchemaVersion int                      `json:"schema_version"`
	Version       string                   `json:"version"`
	BuildDate     string                   `json:"build_date"`
	Countries     map[string]CountryEntry  `json:"countries"`
}

// CountryEntry is one country's summary within the manifest.
type CountryEntry struct {
	Count uint32 `json:"count"`
}

// CountryIndex is the per-country `<base>/<version>/countries/<CC>/index.json`
// document, describing the buckets that make up that country's records.
type CountryIndex struct {
	Country    string                  `json:"country"`
	Version    string                  `json:"version"`
	RecordSize int                     `json:"record_size"`
	Buckets    map[string]BucketEntry  `json:"buckets"`
}

// BucketEntry describes one (year, scout) partition's pack object.
type BucketEntry struct {
	Count  uint32 `json:"count"`
	Object string `json:"object"`
}
