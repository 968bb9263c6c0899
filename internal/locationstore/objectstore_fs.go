package locationstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// fsObjectStore mirrors the HTTPS object-store layout on local disk:
// <root>/<version>/countries/<CC>_<bucket>.pack and
// <root>/<version>/<path-to-json>. Used in tests and single-box
// deployments where a full object-store backend would be overkill.
type fsObjectStore struct {
	root string
}

// NewFSObjectStore builds an ObjectStore rooted at a local directory.
func NewFSObjectStore(root string) ObjectStore {
	return &fsObjectStore{root: root}
}

func (s *fsObjectStore) FetchRange(ctx context.Context, version, objectKey string, offset, length int64) ([]byte, error) {
	path := filepath.Join(s.root, version, "countries", objectKey)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("reading range %s@%d+%d: %w", path, offset, length, err)
	}
	if int64(n) != length {
		return nil, fmt.Errorf("short read %s@%d: wanted %d got %d", path, offset, length, n)
	}
	return buf, nil
}

func (s *fsObjectStore) FetchJSON(ctx context.Context, version, path string) ([]byte, error) {
	full := filepath.Join(s.root, version, path)
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", full, err)
	}
	return b, nil
}
