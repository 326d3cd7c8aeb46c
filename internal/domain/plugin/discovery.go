package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
)

// Scanner discovers plugin directories under a list of roots.
type Scanner struct {
	// Roots are searched in order; the first root to provide an id wins.
	Roots []string
	now   func() time.Time
}

// NewScanner creates a scanner over roots.
func NewScanner(roots ...string) *Scanner {
	return &Scanner{Roots: roots, now: time.Now}
}

// Discover reads the manifest of every subdirectory of every root. Bad
// directories are reported in the result and never stop the scan. Missing
// roots are skipped. The context is checked between directories.
func (s *Scanner) Discover(ctx context.Context) (*DiscoveryResult, error) {
	result := &DiscoveryResult{
		Entries: make([]*Entry, 0),
		Errors:  make([]DiscoveryError, 0),
	}
	seen := make(map[string]string)

	for _, root := range s.Roots {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entries, errs, err := s.discoverInRoot(ctx, root)
		if err != nil {
			return nil, err
		}
		result.Errors = append(result.Errors, errs...)
		for _, e := range entries {
			if first, dup := seen[e.ID]; dup {
				result.Errors = append(result.Errors, DiscoveryError{
					Path: e.Path,
					Err:  fmt.Errorf("duplicate plugin id %q, already provided by %s", e.ID, first),
				})
				continue
			}
			seen[e.ID] = e.Path
			result.Entries = append(result.Entries, e)
		}
	}
	return result, nil
}

func (s *Scanner) discoverInRoot(ctx context.Context, root string) ([]*Entry, []DiscoveryError, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, []DiscoveryError{{Path: root, Err: err}}, nil
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name() < dirents[j].Name() })

	var entries []*Entry
	var errs []DiscoveryError
	for _, d := range dirents {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		e, err := s.LoadFromPath(dir)
		if err != nil {
			errs = append(errs, DiscoveryError{Path: dir, Err: err})
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs, nil
}

// LoadFromPath reads and validates the manifest of one plugin directory.
func (s *Scanner) LoadFromPath(dir string) (*Entry, error) {
	m, path, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return &Entry{
		ID:           m.ID,
		Path:         dir,
		ManifestPath: path,
		Manifest:     m,
		Status:       StatusDiscovered,
		DiscoveredAt: now(),
	}, nil
}
