package auth

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/auth.db?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE agents (id TEXT PRIMARY KEY, token TEXT UNIQUE);
		CREATE TABLE index_metadata (key TEXT PRIMARY KEY, value TEXT);
	`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureAdminTokenIsStable(t *testing.T) {
	db := newTestDB(t)
	a := New(db)

	t1, err := a.EnsureAdminToken(context.Background())
	require.NoError(t, err)
	require.Len(t, t1, 32)

	t2, err := a.EnsureAdminToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, t1, t2)
}

func TestVerifyAdmin(t *testing.T) {
	db := newTestDB(t)
	a := New(db)

	token, err := a.EnsureAdminToken(context.Background())
	require.NoError(t, err)

	id, err := a.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, id.Role)
}

func TestVerifyAgent(t *testing.T) {
	db := newTestDB(t)
	a := New(db)

	token, err := IssueAgentToken()
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO agents (id, token) VALUES (?, ?)", "worker-1", token)
	require.NoError(t, err)

	id, err := a.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, RoleAgent, id.Role)
	require.Equal(t, "worker-1", id.AgentID)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	db := newTestDB(t)
	a := New(db)

	_, err := a.Verify(context.Background(), "too-short")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnknownToken(t *testing.T) {
	db := newTestDB(t)
	a := New(db)
	_, _ = a.EnsureAdminToken(context.Background())

	unknown, err := GenerateToken()
	require.NoError(t, err)

	_, err = a.Verify(context.Background(), unknown)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestFingerprintMasksToken(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)

	fp := Fingerprint(token)
	require.NotEqual(t, token, fp)
	require.Contains(t, fp, "…")
}
