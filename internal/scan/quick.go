package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentic-research/reclaim/internal/index"
	"github.com/rs/zerolog"
)

// DefaultQuickScanBudget keeps a quick scan comfortably inside a short
// periodic invocation window.
const DefaultQuickScanBudget = 40 * time.Second

// QuickScanner keeps the index warm between full scans at a fraction of the
// cost. It trades precision for speed twice over: the walk stops entering
// new entries once its wall-clock budget runs out, and within a directory it
// stops at the first entry whose stored record still matches the live
// attributes — skipping that entry's subtree and every later sibling. New
// files deep under an unchanged directory are missed until the next full
// scan; that is the accepted deal.
type QuickScanner struct {
	store *index.Store
	log   zerolog.Logger

	// now is the clock, swappable in tests.
	now func() time.Time
}

func NewQuickScanner(store *index.Store, logger zerolog.Logger) *QuickScanner {
	return &QuickScanner{store: store, log: logger, now: time.Now}
}

// QuickScan walks the tree under root until budget expires. Every new or
// changed entry is upserted as it is seen; all of it commits together at the
// end, including on deadline expiry — the time box abandons further descent,
// never work already done.
func (s *QuickScanner) QuickScan(root string, budget time.Duration) (int64, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", root, err)
	}
	root = resolved

	start := s.now()
	deadline := start.Add(budget)

	batch, err := s.store.Begin()
	if err != nil {
		return 0, err
	}

	var updated int64
	expired := false

	stack := []string{root}
walk:
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if s.now().After(deadline) {
				expired = true
				break walk
			}

			full := filepath.Join(dir, entry.Name())
			live, err := index.Lstat(full)
			if err != nil {
				continue
			}

			stored, ok, err := s.store.Lookup(full)
			if err != nil {
				return updated, err
			}
			if ok && !index.NeedsUpdate(stored, live) {
				// First unchanged entry ends this directory: neither its
				// subtree nor the remaining siblings are revisited.
				break
			}

			if err := batch.Upsert(live); err != nil {
				return updated, err
			}
			updated++
			if live.IsDir {
				stack = append(stack, full)
			}
		}
	}

	if err := batch.Commit(); err != nil {
		return updated, err
	}

	s.log.Info().
		Str("path", root).
		Int64("updated", updated).
		Bool("budget_expired", expired).
		Dur("elapsed", s.now().Sub(start)).
		Msg("quick scan complete")
	return updated, nil
}
