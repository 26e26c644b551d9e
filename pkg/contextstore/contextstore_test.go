package contextstore

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE project_context (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL,
	last_updated TIMESTAMP NOT NULL
);
`

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/context.db?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func TestUpdateThenViewReturnsMostRecentValue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "k", `"v1"`, "", "admin"))
	require.NoError(t, s.Update(ctx, "k", `"v2"`, "", "admin"))

	entries, err := s.View(ctx, "k")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, `"v2"`, entries[0].Value)
}

func TestBackupDeleteRestoreRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "k", `"v1"`, "", "admin"))
	backupID, err := s.Backup(ctx, "admin")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.View(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RestoreFrom(ctx, backupID))
	entries, err := s.View(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, `"v1"`, entries[0].Value)
}

func TestUpdateRejectsReservedBackupKey(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Update(context.Background(), "__backup__foo", "v", "", "admin")
	require.ErrorIs(t, err, ErrReservedKey)
}

func TestBulkUpdateIsAtomic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.BulkUpdate(ctx, []Entry{
		{Key: "a", Value: `"1"`},
		{Key: "__backup__bad", Value: `"2"`},
	}, "admin")
	require.ErrorIs(t, err, ErrReservedKey)

	entries, err := s.View(ctx, "")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestValidateConsistencyFlagsInvalidJSON(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "good", `{"a":1}`, "", "admin"))
	_, err := db.ExecContext(ctx,
		"INSERT INTO project_context (key, value, description, updated_by, last_updated) VALUES ('bad', 'not json', '', 'admin', CURRENT_TIMESTAMP)")
	require.NoError(t, err)

	issues, err := s.ValidateConsistency(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, "bad", issues[0].Key)
}
