// Package debuglog persists per-invocation diagnostics to a local
// SQLite database when debug mode is enabled: which tool ran, what it
// asked for, how long each invocation took, the raw graph payload, and
// any failure text.
//
// The recorder sits off the request path. Every failure here is a
// logged warning — it never changes what the tool returns to the
// caller.
package debuglog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded tool invocation.
type Entry struct {
	ID        int64
	Tool      string
	Subject   string
	Duration  time.Duration
	Payload   string // raw graph payload JSON, empty when the fetch failed
	Error     string // empty on success
	CreatedAt string
}

// Recorder writes invocation diagnostics to SQLite. A nil *Recorder is
// valid and records nothing, so callers never need a debug-mode check.
type Recorder struct {
	db *sql.DB
}

// Open creates (or reopens) the diagnostics database at path, creating
// parent directories as needed.
func Open(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating diagnostics directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening diagnostics database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %s: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS invocations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			tool        TEXT NOT NULL,
			subject     TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			payload     TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL DEFAULT (datetime('now'))
		)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing diagnostics schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// Record persists one invocation. Best-effort: errors are logged, not
// returned.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	_, err := r.db.Exec(
		`INSERT INTO invocations (tool, subject, duration_ms, payload, error) VALUES (?, ?, ?, ?, ?)`,
		e.Tool, e.Subject, e.Duration.Milliseconds(), e.Payload, e.Error,
	)
	if err != nil {
		log.Printf("WARNING: debug recorder: %v", err)
	}
}

// Recent returns the newest n entries, newest first.
func (r *Recorder) Recent(n int) ([]Entry, error) {
	if r == nil {
		return nil, nil
	}
	rows, err := r.db.Query(
		`SELECT id, tool, subject, duration_ms, payload, error, created_at
		 FROM invocations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.Tool, &e.Subject, &ms, &e.Payload, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle. Safe on nil.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}
