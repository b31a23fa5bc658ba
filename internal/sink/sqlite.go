// SQLite reference sink: WAL journal mode for a single writer, a
// single-connection pool to avoid "database is locked" errors, and an
// idempotent CREATE TABLE IF NOT EXISTS schema applied at Open.
package sink

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const ddl = `
CREATE TABLE IF NOT EXISTS log_entries (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    path        TEXT    NOT NULL,
    line        TEXT    NOT NULL,
    observed_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_entries_path ON log_entries (path, id);
`

// SQLite is a reference Sink backed by a SQLite database. It is a
// demonstration adapter, not the downstream storage/index system the core
// spec treats as external: it has no query surface beyond what callers
// build themselves against the same database file.
type SQLite struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// NewSQLite opens (or creates) the SQLite database at path and applies the
// schema. Passing ":memory:" is useful for tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: open %q: %w", path, err)
	}

	// A single watched directory is drained by a single-threaded collector,
	// so a single connection is sufficient and avoids SQLite's
	// one-writer-at-a-time contention entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: apply schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO log_entries (path, line, observed_at) VALUES (?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: prepare insert: %w", err)
	}

	return &SQLite{db: db, stmt: stmt}, nil
}

// Accept inserts one row per call. The entry driver calls Accept once per
// LogEntry, so batching across entries is left to SQLite's own WAL
// buffering rather than an explicit transaction here.
func (s *SQLite) Accept(key, line string) error {
	_, err := s.stmt.Exec(key, line, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sink: insert: %w", err)
	}
	return nil
}

// Close releases the prepared statement and the underlying connection.
func (s *SQLite) Close() error {
	_ = s.stmt.Close()
	return s.db.Close()
}
