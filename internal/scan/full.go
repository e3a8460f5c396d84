// Package scan refreshes the metadata index from the live filesystem.
//
// Two strategies: FullScanner re-observes every entry unconditionally;
// QuickScanner is time-boxed and prunes subtrees whose metadata is unchanged.
// Both walk iteratively with an explicit directory stack, so pathologically
// deep trees cannot exhaust the call stack and the quick scan's deadline
// check is a plain loop condition.
package scan

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentic-research/reclaim/internal/index"
	"github.com/rs/zerolog"
)

// FullScanner rebuilds the index for a tree by re-observing everything under
// the root, regardless of what the index currently holds.
type FullScanner struct {
	store *index.Store
	log   zerolog.Logger
}

func NewFullScanner(store *index.Store, logger zerolog.Logger) *FullScanner {
	return &FullScanner{store: store, log: logger}
}

// Scan walks the whole tree under root, upserting a record for every entry it
// can lstat. Entries that vanish or refuse a stat mid-walk are skipped
// silently — the tree is mutated by other processes at all times and a scan
// must never abort over one entry. Returns the growth of the index (paths
// added that were not known before), the caller's "did rescanning help"
// signal.
func (s *FullScanner) Scan(root string) (int64, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", root, err)
	}
	root = resolved

	before, err := s.store.Count()
	if err != nil {
		return 0, err
	}

	batch, err := s.store.BeginBulk()
	if err != nil {
		return 0, err
	}

	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			// Directory vanished or is unreadable; its subtree is simply not
			// re-observed this pass.
			continue
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			rec, err := index.Lstat(full)
			if err != nil {
				continue
			}
			if err := batch.Upsert(rec); err != nil {
				return 0, err
			}
			if rec.IsDir {
				stack = append(stack, full)
			}
		}
	}

	if err := batch.Commit(); err != nil {
		return 0, err
	}

	after, err := s.store.Count()
	if err != nil {
		return 0, err
	}

	added := after - before
	s.log.Info().
		Str("path", root).
		Int64("added", added).
		Int64("indexed", after).
		Msg("full scan complete")
	return added, nil
}
