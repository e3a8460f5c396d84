// Package evict removes the least-recently-accessed indexed entries from
// disk until a byte target is met.
//
// The index is a stale snapshot, so every candidate is re-verified against
// the live filesystem immediately before anything destructive happens:
// vanished entries are counted as already reclaimed, entries that changed
// since indexing are refreshed instead of deleted, and only entries whose
// snapshot still matches reality are physically removed. No locks — external
// mutation of the tree is resolved by treating "gone" and "changed" as
// ordinary outcomes.
package evict

import (
	"path/filepath"
	"time"

	"github.com/agentic-research/reclaim/internal/index"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// outcome classifies what happened to a single candidate. Per-entry failures
// never abort the pass; they are aggregated here so callers and tests can
// still see them.
type outcome int

const (
	outcomeReclaimed outcome = iota // deleted now, or already gone
	outcomeRefreshed                // changed since snapshot; record updated instead
	outcomeFailed                   // deletion failed; left on disk and in index
)

// Result summarizes one eviction pass.
type Result struct {
	EntriesRemoved int
	BytesFreed     int64

	// Oldest/newest access time among removed entries; zero when nothing was
	// removed.
	OldestAccess time.Time
	NewestAccess time.Time

	Refreshed int
	Failed    int
}

// Evictor deletes stale entries in ascending access-time order.
type Evictor struct {
	store *index.Store
	log   zerolog.Logger

	// cleanupParents controls the opportunistic removal of a file's parent
	// directory after unlinking. A policy knob, not a correctness
	// requirement: failure is always ignored.
	cleanupParents bool
}

func New(store *index.Store, cleanupParents bool, logger zerolog.Logger) *Evictor {
	return &Evictor{store: store, cleanupParents: cleanupParents, log: logger}
}

// Reclaim examines up to maxCandidates entries oldest-access-first and
// removes them until at least target bytes are freed or candidates run out.
// Bytes freed may overshoot target by at most the size of the last entry
// removed. All index mutations from the pass commit together at the end.
func (e *Evictor) Reclaim(target int64, maxCandidates int) (Result, error) {
	candidates, err := e.store.OldestFirst(maxCandidates)
	if err != nil {
		return Result{}, err
	}

	var (
		res      Result
		removals []string
		updates  []index.FileRecord
	)

	for _, rec := range candidates {
		switch o, live := e.reclaimOne(rec); o {
		case outcomeReclaimed:
			removals = append(removals, rec.Path)
			res.EntriesRemoved++
			res.BytesFreed += rec.Size
			if res.OldestAccess.IsZero() || rec.AccessTime.Before(res.OldestAccess) {
				res.OldestAccess = rec.AccessTime
			}
			if rec.AccessTime.After(res.NewestAccess) {
				res.NewestAccess = rec.AccessTime
			}
		case outcomeRefreshed:
			updates = append(updates, live)
			res.Refreshed++
		case outcomeFailed:
			res.Failed++
		}

		if res.BytesFreed >= target {
			break
		}
	}

	batch, err := e.store.Begin()
	if err != nil {
		return res, err
	}
	for _, rec := range updates {
		if err := batch.Upsert(rec); err != nil {
			return res, err
		}
	}
	for _, path := range removals {
		if err := batch.Delete(path); err != nil {
			return res, err
		}
	}
	if err := batch.Commit(); err != nil {
		return res, err
	}

	e.log.Info().
		Int("removed", res.EntriesRemoved).
		Int("refreshed", res.Refreshed).
		Int("failed", res.Failed).
		Str("freed", humanize.IBytes(uint64(res.BytesFreed))).
		Str("target", humanize.IBytes(uint64(max(target, 0)))).
		Msg("eviction pass complete")
	return res, nil
}

// reclaimOne verifies one candidate against the live filesystem and acts on
// it. For outcomeRefreshed the returned record is the fresh snapshot to
// store.
func (e *Evictor) reclaimOne(rec index.FileRecord) (outcome, index.FileRecord) {
	live, err := index.Lstat(rec.Path)
	if err != nil {
		// Already gone (or unstattable, which we treat the same way): the
		// space is no longer ours to free, drop the record.
		return outcomeReclaimed, index.FileRecord{}
	}

	if index.NeedsUpdate(rec, live) {
		// Touched since we indexed it; deleting now could destroy live data.
		e.log.Debug().Str("path", rec.Path).Msg("entry changed since indexing, refreshing")
		return outcomeRefreshed, live
	}

	if rec.IsDir {
		err = unix.Rmdir(rec.Path)
	} else {
		err = unix.Unlink(rec.Path)
		if err == nil && e.cleanupParents {
			// The parent may now be empty; removing it is best-effort.
			_ = unix.Rmdir(filepath.Dir(rec.Path))
		}
	}

	switch err {
	case nil, unix.ENOENT, unix.ENOTEMPTY:
		// Vanished underneath us, or a directory that gained content after
		// we stat'ed it: both expected under concurrent mutation.
		return outcomeReclaimed, index.FileRecord{}
	default:
		e.log.Warn().Str("path", rec.Path).Err(err).Msg("cannot remove entry")
		return outcomeFailed, index.FileRecord{}
	}
}
