package transport

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE transport_sessions (
	id TEXT PRIMARY KEY,
	bound_agent_id TEXT,
	created_at TIMESTAMP NOT NULL,
	last_heartbeat TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL
);
CREATE TABLE session_state (
	session_id TEXT NOT NULL,
	key TEXT NOT NULL,
	data TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, key)
);
`

func newTestSessionStore(t *testing.T, grace, idle time.Duration) (*SessionStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/transport.db?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db, grace, idle), db
}

func TestOpenThenHeartbeatSlidesExpiry(t *testing.T) {
	s, _ := newTestSessionStore(t, time.Minute, time.Minute)
	ctx := context.Background()

	sess, err := s.Open(ctx, "", nil)
	require.NoError(t, err)
	first := sess.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	sess2, err := s.Heartbeat(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, sess2.ExpiresAt.After(first) || sess2.ExpiresAt.Equal(first))
}

func TestReconnectWithinGraceRebindsSameSession(t *testing.T) {
	s, _ := newTestSessionStore(t, time.Minute, time.Minute)
	ctx := context.Background()

	sess, err := s.Open(ctx, "", nil)
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx, sess.ID))

	reopened, err := s.Open(ctx, sess.ID, nil)
	require.NoError(t, err)
	require.Equal(t, sess.ID, reopened.ID)
	require.Equal(t, StatusLive, reopened.Status)
}

func TestSweepPurgesExpiredSessionsAndState(t *testing.T) {
	s, db := newTestSessionStore(t, time.Minute, time.Minute)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	_, err := db.ExecContext(ctx,
		"INSERT INTO transport_sessions (id, bound_agent_id, created_at, last_heartbeat, expires_at, status) VALUES (?, NULL, ?, ?, ?, ?)",
		"expired-1", past, past, past, string(StatusLive))
	require.NoError(t, err)
	require.NoError(t, s.SaveState(ctx, "expired-1", "k", "v", time.Hour))

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(ctx, "expired-1")
	require.ErrorIs(t, err, ErrNotFound)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM session_state WHERE session_id = 'expired-1'").Scan(&count))
	require.Equal(t, 0, count)
}

func TestStateSaveLoadListClearRoundTrips(t *testing.T) {
	s, _ := newTestSessionStore(t, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "s1", "ctx", `{"k":1}`, time.Hour))
	data, err := s.LoadState(ctx, "s1", "ctx")
	require.NoError(t, err)
	require.Equal(t, `{"k":1}`, data)

	entries, err := s.ListState(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, s.ClearState(ctx, "s1", "ctx"))
	_, err = s.LoadState(ctx, "s1", "ctx")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadStateExpiredReturnsNotFound(t *testing.T) {
	s, _ := newTestSessionStore(t, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "s1", "k", "v", -time.Second))
	_, err := s.LoadState(ctx, "s1", "k")
	require.ErrorIs(t, err, ErrNotFound)
}
