// Package store provides the single embedded sqlite database shared by
// every other subsystem: agents, tasks, project context, the action
// log, indexed chunks, index metadata, and transport sessions. Reads
// and writes alike go through one connection; there are no separate
// read connections.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreUnavailable is returned when the database file cannot be
// opened or pinged.
var ErrStoreUnavailable = errors.New("store_unavailable")

// ErrConstraintViolation is returned when a write would breach one of
// the data model invariants.
var ErrConstraintViolation = errors.New("conflict")

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not_found")

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	token TEXT NOT NULL UNIQUE,
	capabilities TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	current_task TEXT,
	working_directory TEXT NOT NULL,
	color INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	terminated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	assigned_to TEXT,
	created_by TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'medium',
	parent_task TEXT,
	child_tasks TEXT NOT NULL DEFAULT '[]',
	depends_on_tasks TEXT NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);

CREATE TABLE IF NOT EXISTS project_context (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL,
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS action_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	task_id TEXT,
	timestamp TIMESTAMP NOT NULL,
	details TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_action_log_agent ON action_log(agent_id);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type TEXT NOT NULL,
	source_ref TEXT NOT NULL,
	chunk_text TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	indexed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_source_ref ON chunks(source_ref);

CREATE TABLE IF NOT EXISTS index_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transport_sessions (
	id TEXT PRIMARY KEY,
	bound_agent_id TEXT,
	created_at TIMESTAMP NOT NULL,
	last_heartbeat TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_state (
	session_id TEXT NOT NULL,
	key TEXT NOT NULL,
	data TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, key)
);
`

// Store is the single embedded database. VectorAvailable reports
// whether the paired vector index (chromem-go) opened successfully;
// when false the retriever runs keyword-only.
type Store struct {
	db              *sql.DB
	vectorAvailable bool
}

// Open opens (creating if absent) the sqlite file at path in WAL mode
// with a single connection: sqlite only supports one writer, so
// serializing all access through one connection avoids "database is
// locked" errors instead of fighting them with busy-retry logic.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		slog.Warn("failed to enable WAL mode", "error", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		slog.Warn("failed to enable foreign keys", "error", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: applying schema: %v", ErrStoreUnavailable, err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying *sql.DB for package-local query building
// in sibling packages (task, agent, transport, knowledge) that own
// their own statements but share this one connection.
func (s *Store) DB() *sql.DB { return s.db }

// SetVectorAvailable records whether the vector index opened. Called
// once at boot by the orchestrator after it attempts to open the
// chromem-go vector index.
func (s *Store) SetVectorAvailable(ok bool) { s.vectorAvailable = ok }

// VectorAvailable reports the last value set by SetVectorAvailable.
func (s *Store) VectorAvailable() bool { return s.vectorAvailable }

// Read runs fn against the shared connection. Since the pool holds a
// single connection, fn's queries wait while another caller holds it,
// including for the length of a write transaction.
func (s *Store) Read(ctx context.Context, fn func(db *sql.DB) error) error {
	return fn(s.db)
}

// Health reports row counts per table and vector-extension
// availability.
type Health struct {
	Tables          map[string]int64 `json:"tables"`
	VectorAvailable bool             `json:"vector_available"`
}

func (s *Store) Health(ctx context.Context) (Health, error) {
	tables := []string{"agents", "tasks", "project_context", "action_log", "chunks", "transport_sessions"}
	h := Health{Tables: make(map[string]int64, len(tables)), VectorAvailable: s.vectorAvailable}
	for _, t := range tables {
		var n int64
		row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t)
		if err := row.Scan(&n); err != nil {
			return Health{}, fmt.Errorf("%w: counting %s: %v", ErrStoreUnavailable, t, err)
		}
		h.Tables[t] = n
	}
	return h, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
