package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// flushThreshold bounds how many pending rows a full-scan batch holds before
// it is committed and a fresh transaction begun.
const flushThreshold = 10000

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	is_dir INTEGER NOT NULL,
	atime INTEGER NOT NULL,
	ctime INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	size INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_atime ON files(atime);
`

// Store persists FileRecords for a single mount point in a SQLite database.
//
// The store is an index, not the source of truth: the filesystem is. Readers
// must treat every row as possibly stale. Supported access patterns are
// exactly the ones the janitor needs — point lookup, ordered scan by access
// time, and bulk upsert/delete through a Batch — nothing more.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// StorePath returns the deterministic database location for a mount point:
// path separators are replaced with underscores so the same mount always maps
// to the same file under dir. The original index always survives across
// invocations.
func StorePath(dir, mountPoint string) string {
	mangled := strings.ReplaceAll(mountPoint, string(os.PathSeparator), "_")
	return filepath.Join(dir, "reclaim"+mangled+".sqlite3")
}

// Open creates or reuses the database at dbPath and ensures the schema
// exists. Open failure is fatal for the calling operation.
func Open(dbPath string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// WAL keeps the half-committed pass invariant: a crash mid-pass loses at
	// most the uncommitted transaction, never corrupts committed rows.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Debug().Str("db", dbPath).Msg("metadata store open")

	return &Store{db: db, path: dbPath, log: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the number of indexed paths.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

// Lookup fetches the record for path. Absence is a normal result, reported
// via ok, not an error.
func (s *Store) Lookup(path string) (FileRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT path, is_dir, atime, ctime, mtime, size FROM files WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, false, nil
	}
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("lookup %s: %w", path, err)
	}
	return rec, true, nil
}

// OldestFirst returns up to limit records in ascending access-time order,
// the eviction candidate ordering.
func (s *Store) OldestFirst(limit int) ([]FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT path, is_dir, atime, ctime, mtime, size FROM files ORDER BY atime LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord is the single place rows become FileRecords; nothing outside
// this file depends on column order.
func scanRecord(row rowScanner) (FileRecord, error) {
	var (
		rec                 FileRecord
		isDir               int
		atime, ctime, mtime int64
	)
	if err := row.Scan(&rec.Path, &isDir, &atime, &ctime, &mtime, &rec.Size); err != nil {
		return FileRecord{}, err
	}
	rec.IsDir = isDir != 0
	rec.AccessTime = time.Unix(0, atime)
	rec.ChangeTime = time.Unix(0, ctime)
	rec.ModifyTime = time.Unix(0, mtime)
	return rec, nil
}

// Batch accumulates index mutations for one logical pass (a scan or an
// eviction round) inside a transaction. Commit applies everything at once;
// an abandoned batch (process crash) leaves the previous committed state
// intact.
//
// A batch opened with a flush threshold commits and re-begins automatically
// every flushThreshold mutations, so very large full scans bound their
// memory and transaction size.
type Batch struct {
	store     *Store
	tx        *sql.Tx
	upsert    *sql.Stmt
	del       *sql.Stmt
	pending   int
	threshold int // 0 = commit only when Commit is called
}

// Begin opens a pass-scoped batch that commits only on Commit.
func (s *Store) Begin() (*Batch, error) {
	return s.begin(0)
}

// BeginBulk opens a batch that additionally auto-flushes every
// flushThreshold mutations, for full scans.
func (s *Store) BeginBulk() (*Batch, error) {
	return s.begin(flushThreshold)
}

func (s *Store) begin(threshold int) (*Batch, error) {
	b := &Batch{store: s, threshold: threshold}
	if err := b.beginTx(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Batch) beginTx() error {
	tx, err := b.store.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	b.tx = tx

	b.upsert, err = tx.Prepare(`
		INSERT OR REPLACE INTO files (path, is_dir, atime, ctime, mtime, size)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	b.del, err = tx.Prepare(`DELETE FROM files WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the record keyed by rec.Path.
func (b *Batch) Upsert(rec FileRecord) error {
	isDir := 0
	if rec.IsDir {
		isDir = 1
	}
	_, err := b.upsert.Exec(
		rec.Path,
		isDir,
		rec.AccessTime.UnixNano(),
		rec.ChangeTime.UnixNano(),
		rec.ModifyTime.UnixNano(),
		rec.Size,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Path, err)
	}
	return b.bump()
}

// Delete removes the record for path; deleting an absent path is a no-op.
func (b *Batch) Delete(path string) error {
	if _, err := b.del.Exec(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return b.bump()
}

func (b *Batch) bump() error {
	b.pending++
	if b.threshold > 0 && b.pending >= b.threshold {
		if err := b.commitTx(); err != nil {
			return err
		}
		b.pending = 0
		return b.beginTx()
	}
	return nil
}

// Commit applies all pending mutations.
func (b *Batch) Commit() error {
	return b.commitTx()
}

func (b *Batch) commitTx() error {
	_ = b.upsert.Close()
	_ = b.del.Close()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
