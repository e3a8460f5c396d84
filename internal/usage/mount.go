package usage

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MountPoint canonicalizes path (symlinks resolved) and walks up until it
// finds the root of the filesystem containing it. The mount point is the
// unit of disk-usage measurement and the key under which the metadata store
// lives.
func MountPoint(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	p, err = filepath.EvalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	for {
		mount, err := isMountPoint(p)
		if err != nil {
			return "", err
		}
		if mount {
			return p, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p, nil
		}
		p = parent
	}
}

// isMountPoint reports whether dir is the root of a filesystem: its parent
// lives on a different device, or dir is its own parent (filesystem root).
func isMountPoint(dir string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Lstat(dir, &st); err != nil {
		return false, fmt.Errorf("lstat %s: %w", dir, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return false, nil
	}
	if err := unix.Lstat(filepath.Dir(dir), &parent); err != nil {
		return false, fmt.Errorf("lstat %s: %w", filepath.Dir(dir), err)
	}
	return st.Dev != parent.Dev || st.Ino == parent.Ino, nil
}
