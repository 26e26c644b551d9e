package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesSchemaAndIsPingable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir()+"/agentmcp.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.DB().PingContext(ctx))
	require.False(t, s.VectorAvailable())

	s.SetVectorAvailable(true)
	require.True(t, s.VectorAvailable())
}

func TestHealthReportsZeroRowCountsOnFreshStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir()+"/agentmcp.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h, err := s.Health(ctx)
	require.NoError(t, err)
	require.False(t, h.VectorAvailable)
	require.Contains(t, h.Tables, "agents")
	require.Equal(t, int64(0), h.Tables["agents"])
}

func TestReadRunsAgainstSharedConnection(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir()+"/agentmcp.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.DB().ExecContext(ctx,
		"INSERT INTO agents (id, token, capabilities, status, working_directory, color, created_at, updated_at) VALUES (?, ?, '[]', 'created', '/tmp', 0, datetime('now'), datetime('now'))",
		"agent-1", "tok")
	require.NoError(t, err)

	var count int
	err = s.Read(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents").Scan(&count)
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestOpenRejectsUnwritablePath(t *testing.T) {
	_, err := Open(context.Background(), "/nonexistent-directory/agentmcp.db")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}
