// Package usage measures mount-point utilization and drives the janitor's
// top-level loop: evict while above the low-water mark, rescan when eviction
// stalls, and keep the index warm with quick scans when there is nothing to
// reclaim.
package usage

import (
	"fmt"
	"time"

	"github.com/agentic-research/reclaim/internal/evict"
	"github.com/agentic-research/reclaim/internal/index"
	"github.com/agentic-research/reclaim/internal/scan"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Stats is one utilization measurement for a mount.
type Stats struct {
	UsedPercent int
	TotalBytes  uint64
}

// Utilization measures the filesystem containing path. Used percent is
// computed from Bavail (what an unprivileged process could still write), not
// Bfree, mirroring what df reports to ordinary users.
func Utilization(path string) (Stats, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return Stats{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	if fs.Blocks == 0 {
		return Stats{}, fmt.Errorf("statfs %s: zero-block filesystem", path)
	}
	used := int((1.0-float64(fs.Bavail)/float64(fs.Blocks))*100 + 0.5)
	return Stats{
		UsedPercent: used,
		TotalBytes:  fs.Blocks * uint64(fs.Bsize),
	}, nil
}

// Options carries the tunables for one controller, resolved from config and
// flags by the caller.
type Options struct {
	HighWaterPercent int
	LowWaterPercent  int
	MaxCandidates    int
	QuickScanBudget  time.Duration
	DatabaseDir      string

	// CleanupEmptyParents enables the evictor's best-effort removal of a
	// deleted file's parent directory.
	CleanupEmptyParents bool
}

// Controller owns the per-invocation state machine: idle maintenance when
// utilization is acceptable, reclaiming when it is not.
type Controller struct {
	opts Options
	log  zerolog.Logger

	// measure is the utilization probe, swappable in tests.
	measure func(path string) (Stats, error)
}

func NewController(opts Options, logger zerolog.Logger) *Controller {
	return &Controller{opts: opts, log: logger, measure: Utilization}
}

// openStore resolves root's mount point and opens its metadata store.
func (c *Controller) openStore(root string) (*index.Store, error) {
	mount, err := MountPoint(root)
	if err != nil {
		return nil, err
	}
	return index.Open(index.StorePath(c.opts.DatabaseDir, mount), c.log)
}

// Scan runs one unconditional full scan of root, the --scan mode.
func (c *Controller) Scan(root string) (int64, error) {
	store, err := c.openStore(root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = store.Close() }()

	return scan.NewFullScanner(store, c.log).Scan(root)
}

// Process measures utilization under root and acts on it.
//
// At or below the high-water mark the only work is one quick scan to keep
// the index warm. Above it, the controller loops: pick a byte target
// proportional to the overshoot past the low-water mark, evict, and
// re-measure. A round that evicts nothing falls back to a full scan in case
// deletable files exist that the index has never seen; when that also turns
// up nothing the loop stops — no progress is possible this invocation, a
// future one will retry. No-progress is a reported state, not an error.
func (c *Controller) Process(root string) error {
	store, err := c.openStore(root)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	st, err := c.measure(root)
	if err != nil {
		return err
	}

	if st.UsedPercent <= c.opts.HighWaterPercent {
		_, err := scan.NewQuickScanner(store, c.log).QuickScan(root, c.opts.QuickScanBudget)
		return err
	}

	c.log.Info().
		Str("path", root).
		Int("used_percent", st.UsedPercent).
		Str("total", humanize.IBytes(st.TotalBytes)).
		Int("high_water", c.opts.HighWaterPercent).
		Msg("above high-water mark, reclaiming")

	evictor := evict.New(store, c.opts.CleanupEmptyParents, c.log)
	scanner := scan.NewFullScanner(store, c.log)

	for st.UsedPercent > c.opts.LowWaterPercent {
		target := int64(st.TotalBytes) * int64(st.UsedPercent-c.opts.LowWaterPercent) / 100

		res, err := evictor.Reclaim(target, c.opts.MaxCandidates)
		if err != nil {
			return err
		}
		if res.EntriesRemoved > 0 {
			c.log.Info().
				Str("path", root).
				Int("removed", res.EntriesRemoved).
				Str("freed", humanize.IBytes(uint64(res.BytesFreed))).
				Str("oldest_access", humanize.Time(res.OldestAccess)).
				Str("newest_access", humanize.Time(res.NewestAccess)).
				Msg("reclaimed")
		} else {
			// The index offered nothing deletable; maybe it has never seen
			// files that now exist. One full rescan gets them in.
			added, err := scanner.Scan(root)
			if err != nil {
				return err
			}
			if added == 0 {
				c.log.Warn().
					Str("path", root).
					Int("used_percent", st.UsedPercent).
					Msg("nothing deleted and rescan found no new candidates, giving up for now")
				return nil
			}
		}

		st, err = c.measure(root)
		if err != nil {
			return err
		}
		c.log.Info().Str("path", root).Int("used_percent", st.UsedPercent).Msg("re-measured")
	}

	return nil
}
