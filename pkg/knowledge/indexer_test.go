package knowledge

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const indexerTestSchema = `
CREATE TABLE chunks (
	chunk_id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type TEXT NOT NULL,
	source_ref TEXT NOT NULL,
	chunk_text TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	indexed_at TIMESTAMP NOT NULL
);
CREATE TABLE index_metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE project_context (
	key TEXT PRIMARY KEY, value TEXT NOT NULL, description TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL, last_updated TIMESTAMP NOT NULL
);
CREATE TABLE tasks (
	id TEXT PRIMARY KEY, title TEXT NOT NULL, description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending', updated_at TIMESTAMP NOT NULL
);
`

func newIndexerTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/knowledge.db?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(indexerTestSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCycleIndexesMarkdownFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# Notes\nhello world"), 0o644))

	db := newIndexerTestDB(t)
	ix := NewIndexer(db, nil, nil, IndexerConfig{ProjectDir: dir})

	stats, err := ix.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SourcesChanged)
	require.Equal(t, 1, stats.ChunksWritten)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&count))
	require.Equal(t, 1, count)
}

func TestRunCycleSkipsUnchangedSourceOnSecondPass(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("content"), 0o644))

	db := newIndexerTestDB(t)
	ix := NewIndexer(db, nil, nil, IndexerConfig{ProjectDir: dir})

	_, err := ix.RunCycle(context.Background())
	require.NoError(t, err)

	var countAfterFirst int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&countAfterFirst))

	stats, err := ix.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.SourcesChanged)

	var countAfterSecond int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&countAfterSecond))
	require.Equal(t, countAfterFirst, countAfterSecond)
}

func TestRunCycleCoalescesConcurrentCalls(t *testing.T) {
	db := newIndexerTestDB(t)
	ix := NewIndexer(db, nil, nil, IndexerConfig{})
	ix.running = true

	stats, err := ix.RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, stats.Skipped)
}

func TestLastCycleReportsMostRecentStats(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# Notes\nhello"), 0o644))

	db := newIndexerTestDB(t)
	ix := NewIndexer(db, nil, nil, IndexerConfig{ProjectDir: dir})

	stats, lastRun := ix.LastCycle()
	require.True(t, lastRun.IsZero())
	require.Equal(t, CycleStats{}, stats)

	_, err := ix.RunCycle(context.Background())
	require.NoError(t, err)

	stats, lastRun = ix.LastCycle()
	require.False(t, lastRun.IsZero())
	require.Equal(t, 1, stats.SourcesChanged)
}

func TestDeniedDirectorySkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "lib.js"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	db := newIndexerTestDB(t)
	ix := NewIndexer(db, nil, nil, IndexerConfig{ProjectDir: dir})

	stats, err := ix.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SourcesChanged)
}
