package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(isDir bool) FileRecord {
	base := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	return FileRecord{
		Path:       "/data/cache/blob",
		IsDir:      isDir,
		AccessTime: base,
		ChangeTime: base.Add(-time.Hour),
		ModifyTime: base.Add(-2 * time.Hour),
		Size:       4096,
	}
}

func TestNeedsUpdate_IdenticalIsClean(t *testing.T) {
	rec := sampleRecord(false)
	assert.False(t, NeedsUpdate(rec, rec))

	dir := sampleRecord(true)
	assert.False(t, NeedsUpdate(dir, dir))
}

func TestNeedsUpdate_TypeFlip(t *testing.T) {
	old := sampleRecord(false)
	live := old
	live.IsDir = true
	assert.True(t, NeedsUpdate(old, live))
}

func TestNeedsUpdate_DirectoryAccessTimeOnly(t *testing.T) {
	// Listing a directory bumps only its atime; that must not count as a
	// change or every traversal would dirty the whole tree.
	old := sampleRecord(true)
	live := old
	live.AccessTime = old.AccessTime.Add(time.Minute)
	assert.False(t, NeedsUpdate(old, live))
}

func TestNeedsUpdate_DirectoryContentChange(t *testing.T) {
	old := sampleRecord(true)

	live := old
	live.ModifyTime = old.ModifyTime.Add(time.Second)
	assert.True(t, NeedsUpdate(old, live))

	live = old
	live.ChangeTime = old.ChangeTime.Add(time.Second)
	assert.True(t, NeedsUpdate(old, live))
}

func TestNeedsUpdate_FileAnyFieldCounts(t *testing.T) {
	old := sampleRecord(false)

	live := old
	live.AccessTime = old.AccessTime.Add(time.Second)
	assert.True(t, NeedsUpdate(old, live), "file atime change is a change")

	live = old
	live.Size += 1
	assert.True(t, NeedsUpdate(old, live))

	live = old
	live.ModifyTime = old.ModifyTime.Add(time.Nanosecond)
	assert.True(t, NeedsUpdate(old, live), "sub-second drift must be visible")
}

func TestLstat(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(file, []byte("0123456789"), 0o644))

	rec, err := Lstat(file)
	require.NoError(t, err)
	assert.Equal(t, file, rec.Path)
	assert.False(t, rec.IsDir)
	assert.EqualValues(t, 10, rec.Size)
	assert.False(t, rec.ModifyTime.IsZero())

	dirRec, err := Lstat(dir)
	require.NoError(t, err)
	assert.True(t, dirRec.IsDir)
}

func TestLstat_DoesNotFollowSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(target, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	rec, err := Lstat(link)
	require.NoError(t, err)
	assert.False(t, rec.IsDir, "symlink to a directory must be observed as the link itself")
}

func TestLstat_Vanished(t *testing.T) {
	_, err := Lstat(filepath.Join(t.TempDir(), "never-existed"))
	require.Error(t, err)
}
