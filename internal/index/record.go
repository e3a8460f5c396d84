package index

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FileRecord is the last-known snapshot of one path's attributes. It is a
// point-in-time observation, not a live view: the real file may have changed
// or vanished since the record was written. Every destructive decision made
// from a record must therefore be re-verified against the live filesystem
// first (see evict.Evictor).
//
// Path is the primary key. A rename shows up as delete+insert, never as a
// mutated Path. Size is whatever lstat reported and carries no meaning for
// directories.
type FileRecord struct {
	Path       string
	IsDir      bool
	AccessTime time.Time
	ChangeTime time.Time
	ModifyTime time.Time
	Size       int64
}

// NeedsUpdate reports whether the live attributes have diverged from the
// stored snapshot.
//
// Directories get a narrower rule: only mtime/ctime count. Merely listing a
// directory bumps its atime, so including atime would mark every directory
// dirty on every pass and defeat unchanged-subtree pruning.
func NeedsUpdate(old, live FileRecord) bool {
	if old.IsDir != live.IsDir {
		return true
	}
	if old.IsDir {
		return !old.ModifyTime.Equal(live.ModifyTime) || !old.ChangeTime.Equal(live.ChangeTime)
	}
	return !old.AccessTime.Equal(live.AccessTime) ||
		!old.ChangeTime.Equal(live.ChangeTime) ||
		!old.ModifyTime.Equal(live.ModifyTime) ||
		old.Size != live.Size
}

// Lstat observes path without following symlinks and returns its snapshot.
// Timestamps keep the full nanosecond precision the filesystem reports, so
// records survive a database round trip bit-exact and NeedsUpdate can compare
// with time.Equal.
func Lstat(path string) (FileRecord, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return FileRecord{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return FileRecord{
		Path:       path,
		IsDir:      st.Mode&unix.S_IFMT == unix.S_IFDIR,
		AccessTime: time.Unix(st.Atim.Unix()),
		ChangeTime: time.Unix(st.Ctim.Unix()),
		ModifyTime: time.Unix(st.Mtim.Unix()),
		Size:       st.Size,
	}, nil
}
