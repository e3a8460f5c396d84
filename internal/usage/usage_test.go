package usage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentic-research/reclaim/internal/index"
	"github.com/agentic-research/reclaim/internal/scan"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtilization(t *testing.T) {
	st, err := Utilization(t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.UsedPercent, 0)
	assert.LessOrEqual(t, st.UsedPercent, 100)
	assert.Positive(t, st.TotalBytes)
}

func TestMountPoint(t *testing.T) {
	dir := t.TempDir()
	mount, err := MountPoint(dir)
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resolved, mount),
		"mount point %s must be an ancestor of %s", mount, resolved)

	isMount, err := isMountPoint(mount)
	require.NoError(t, err)
	assert.True(t, isMount)

	// Stable across calls: the same mount always maps to the same store.
	again, err := MountPoint(dir)
	require.NoError(t, err)
	assert.Equal(t, mount, again)
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		HighWaterPercent: 70,
		LowWaterPercent:  50,
		MaxCandidates:    10000,
		QuickScanBudget:  scan.DefaultQuickScanBudget,
		DatabaseDir:      t.TempDir(),
	}
}

// storeFor opens the same per-mount store Process would use for root.
func storeFor(t *testing.T, opts Options, root string) *index.Store {
	t.Helper()
	mount, err := MountPoint(root)
	require.NoError(t, err)
	store, err := index.Open(index.StorePath(opts.DatabaseDir, mount), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestProcess_IdleMaintenanceRunsQuickScan(t *testing.T) {
	opts := testOptions(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "warm.txt"), []byte("data"), 0o644))

	ctrl := NewController(opts, zerolog.Nop())
	ctrl.measure = func(string) (Stats, error) {
		return Stats{UsedPercent: 10, TotalBytes: 1 << 30}, nil
	}

	require.NoError(t, ctrl.Process(root))

	store := storeFor(t, opts, root)
	n, err := store.Count()
	require.NoError(t, err)
	assert.Positive(t, n, "below high water the index is still kept warm")

	// File must not be evicted in idle maintenance.
	assert.FileExists(t, filepath.Join(root, "warm.txt"))
}

func TestProcess_ReclaimsDownToLowWater(t *testing.T) {
	opts := testOptions(t)
	root := t.TempDir()

	// Two ancient files the index knows about, cold1 strictly older.
	for i, name := range []string{"cold1", "cold2"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, make([]byte, 512), 0o644))
		old := time.Now().Add(-24*time.Hour + time.Duration(i)*time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))
	}
	store := storeFor(t, opts, root)
	_, err := scan.NewFullScanner(store, zerolog.Nop()).Scan(root)
	require.NoError(t, err)

	// First measurement says 90% used; after one eviction round the stub
	// reports the low-water mark reached.
	measurements := []int{90, 50}
	ctrl := NewController(opts, zerolog.Nop())
	ctrl.measure = func(string) (Stats, error) {
		used := measurements[0]
		if len(measurements) > 1 {
			measurements = measurements[1:]
		}
		return Stats{UsedPercent: used, TotalBytes: 1000}, nil
	}

	require.NoError(t, ctrl.Process(root))

	// Target was 1000 * (90-50)/100 = 400 bytes: the oldest 512-byte file
	// alone satisfies it, the newer one survives.
	assert.NoFileExists(t, filepath.Join(root, "cold1"))
	assert.FileExists(t, filepath.Join(root, "cold2"))
}

func TestProcess_NoProgressTerminates(t *testing.T) {
	opts := testOptions(t)
	root := t.TempDir() // empty tree, empty index: nothing to evict, nothing to find

	ctrl := NewController(opts, zerolog.Nop())
	ctrl.measure = func(string) (Stats, error) {
		// Permanently over the high-water mark; only the no-progress rule
		// can end the loop.
		return Stats{UsedPercent: 90, TotalBytes: 1000}, nil
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Process(root) }()

	select {
	case err := <-done:
		require.NoError(t, err, "no-progress is a reported state, not an error")
	case <-time.After(30 * time.Second):
		t.Fatal("reclaiming loop did not terminate without progress")
	}
}

func TestProcess_StoreOpenFailureIsFatal(t *testing.T) {
	opts := testOptions(t)
	// A database "directory" that is actually a file.
	bogus := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(bogus, []byte("x"), 0o644))
	opts.DatabaseDir = filepath.Join(bogus, "sub")

	ctrl := NewController(opts, zerolog.Nop())
	require.Error(t, ctrl.Process(t.TempDir()))
}

func TestScan_ScanOnlyMode(t *testing.T) {
	opts := testOptions(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("abc"), 0o644))

	ctrl := NewController(opts, zerolog.Nop())
	added, err := ctrl.Scan(root)
	require.NoError(t, err)
	assert.EqualValues(t, 1, added)

	// Second scan with no changes adds nothing.
	added, err = ctrl.Scan(root)
	require.NoError(t, err)
	assert.Zero(t, added)
}
