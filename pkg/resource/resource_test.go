package resource

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/agent-mcp/agentmcp/pkg/agent"
	"github.com/agent-mcp/agentmcp/pkg/mux"
	"github.com/agent-mcp/agentmcp/pkg/task"
)

const testSchema = `
CREATE TABLE agents (
	id TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	capabilities TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	current_task TEXT,
	working_directory TEXT NOT NULL,
	color INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	terminated_at TIMESTAMP
);
CREATE TABLE tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	assigned_to TEXT,
	created_by TEXT NOT NULL DEFAULT 'admin',
	status TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'medium',
	parent_task TEXT,
	child_tasks TEXT NOT NULL DEFAULT '[]',
	depends_on_tasks TEXT NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE action_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	task_id TEXT,
	timestamp TIMESTAMP NOT NULL,
	details TEXT NOT NULL DEFAULT '{}'
);
`

func newTestSurface(t *testing.T) (*Surface, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/resource.db?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sup := agent.NewSupervisor(db, mux.New("agentmcp-test-nonexistent-binary"))
	tasks := task.New(db)
	return New(db, sup, tasks), db
}

func TestListIncludesAgentTokenAndAuditURIs(t *testing.T) {
	s, db := newTestSurface(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		"INSERT INTO tasks (id, title, status, created_at, updated_at) VALUES ('t1', 't', 'unassigned', datetime('now'), datetime('now'))")
	require.NoError(t, err)
	_, err = s.agents.CreateAgent(ctx, agent.CreateRequest{AgentID: "a1", TaskIDs: []string{"t1"}, WorkingDirectory: "/tmp"})
	require.NoError(t, err)

	items, err := s.List(ctx)
	require.NoError(t, err)

	var sawAgent, sawToken, sawAudit bool
	for _, it := range items {
		switch it.URI {
		case "agent://a1":
			sawAgent = true
		case "token://a1":
			sawToken = true
		case "audit://a1":
			sawAudit = true
		}
	}
	require.True(t, sawAgent)
	require.True(t, sawToken)
	require.True(t, sawAudit)
}

func TestReadTokenMasksValue(t *testing.T) {
	s, db := newTestSurface(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		"INSERT INTO tasks (id, title, status, created_at, updated_at) VALUES ('t1', 't', 'unassigned', datetime('now'), datetime('now'))")
	require.NoError(t, err)
	a, err := s.agents.CreateAgent(ctx, agent.CreateRequest{AgentID: "a1", TaskIDs: []string{"t1"}, WorkingDirectory: "/tmp"})
	require.NoError(t, err)

	got, err := s.Read(ctx, "token://a1")
	require.NoError(t, err)
	view, ok := got.(map[string]any)
	require.True(t, ok)
	require.NotContains(t, view["fingerprint"], a.Token)
}

func TestReadUnknownAgentReturnsNotFound(t *testing.T) {
	s, _ := newTestSurface(t)
	_, err := s.Read(context.Background(), "agent://nope")
	require.Error(t, err)
}

func TestReadAuditLogReturnsRecordedActions(t *testing.T) {
	s, db := newTestSurface(t)
	ctx := context.Background()

	// the agent row is inserted directly so that the only action_log
	// row for a1 is the one this test records.
	_, err := db.ExecContext(ctx,
		"INSERT INTO agents (id, token, status, working_directory, color, created_at, updated_at) VALUES ('a1', 'fixture-token-a1', 'created', '/tmp', 0, datetime('now'), datetime('now'))")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		"INSERT INTO action_log (agent_id, action_type, timestamp, details) VALUES (?, ?, datetime('now'), ?)",
		"a1", "created", "{}")
	require.NoError(t, err)

	got, err := s.Read(ctx, "audit://a1")
	require.NoError(t, err)
	entries, ok := got.([]AuditEntry)
	require.True(t, ok)
	require.Len(t, entries, 1)
	require.Equal(t, "created", entries[0].ActionType)
}

func TestReadMalformedURIReturnsNotFound(t *testing.T) {
	s, _ := newTestSurface(t)
	_, err := s.Read(context.Background(), "not-a-uri")
	require.Error(t, err)
}

func TestReadUnsupportedSchemeReturnsNotFound(t *testing.T) {
	s, _ := newTestSurface(t)
	_, err := s.Read(context.Background(), "bogus://x")
	require.Error(t, err)
}
