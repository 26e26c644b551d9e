package agent

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/agent-mcp/agentmcp/pkg/mux"
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
	assigned_to TEXT,
	status TEXT NOT NULL,
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

func newTestSupervisor(t *testing.T) (*Supervisor, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/agents.db?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// a nonexistent binary keeps Available() false so tests never shell out.
	return NewSupervisor(db, mux.New("agentmcp-test-nonexistent-binary")), db
}

func insertPendingTask(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec("INSERT INTO tasks (id, title, status, updated_at) VALUES (?, ?, 'unassigned', datetime('now'))", id, "t-"+id)
	require.NoError(t, err)
}

func TestCreateAgentAssignsTasksAndToken(t *testing.T) {
	s, db := newTestSupervisor(t)
	ctx := context.Background()
	insertPendingTask(t, db, "task-1")

	a, err := s.CreateAgent(ctx, CreateRequest{
		AgentID: "agent-1", TaskIDs: []string{"task-1"}, WorkingDirectory: "/tmp/work",
	})
	require.NoError(t, err)
	require.NotEmpty(t, a.Token)
	require.Equal(t, "task-1", *a.CurrentTask)

	var status, assignedTo string
	require.NoError(t, db.QueryRow("SELECT status, assigned_to FROM tasks WHERE id = ?", "task-1").Scan(&status, &assignedTo))
	require.Equal(t, "pending", status)
	require.Equal(t, "agent-1", assignedTo)
}

func TestCreateAgentRejectsDuplicateID(t *testing.T) {
	s, db := newTestSupervisor(t)
	ctx := context.Background()
	insertPendingTask(t, db, "task-1")
	insertPendingTask(t, db, "task-2")

	_, err := s.CreateAgent(ctx, CreateRequest{AgentID: "agent-1", TaskIDs: []string{"task-1"}, WorkingDirectory: "/tmp"})
	require.NoError(t, err)

	_, err = s.CreateAgent(ctx, CreateRequest{AgentID: "agent-1", TaskIDs: []string{"task-2"}, WorkingDirectory: "/tmp"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestCreateAgentRejectsAlreadyAssignedTask(t *testing.T) {
	s, db := newTestSupervisor(t)
	ctx := context.Background()
	insertPendingTask(t, db, "task-1")
	_, err := db.Exec("UPDATE tasks SET status = 'pending', assigned_to = 'someone' WHERE id = ?", "task-1")
	require.NoError(t, err)

	_, err = s.CreateAgent(ctx, CreateRequest{AgentID: "agent-1", TaskIDs: []string{"task-1"}, WorkingDirectory: "/tmp"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestCreateBackgroundAgentRequiresNoTasks(t *testing.T) {
	s, _ := newTestSupervisor(t)
	ctx := context.Background()

	a, err := s.CreateBackgroundAgent(ctx, BackgroundCreateRequest{AgentID: "bg-1", WorkingDirectory: "/tmp"})
	require.NoError(t, err)
	require.True(t, a.Background)
	require.Nil(t, a.CurrentTask)
}

func TestTerminateUnassignsOwnedTasks(t *testing.T) {
	s, db := newTestSupervisor(t)
	ctx := context.Background()
	insertPendingTask(t, db, "task-1")

	_, err := s.CreateAgent(ctx, CreateRequest{AgentID: "agent-1", TaskIDs: []string{"task-1"}, WorkingDirectory: "/tmp"})
	require.NoError(t, err)

	require.NoError(t, s.Terminate(ctx, "admin", "agent-1"))

	var status string
	var assignedTo sql.NullString
	require.NoError(t, db.QueryRow("SELECT status, assigned_to FROM tasks WHERE id = ?", "task-1").Scan(&status, &assignedTo))
	require.Equal(t, "pending", status)
	require.False(t, assignedTo.Valid)

	got, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, StatusTerminated, got.Status)
	require.Nil(t, got.CurrentTask)
}

func TestTerminateUnknownAgentReturnsNotFound(t *testing.T) {
	s, _ := newTestSupervisor(t)
	err := s.Terminate(context.Background(), "admin", "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckWorkerHealthPropagatesListFailure(t *testing.T) {
	s, db := newTestSupervisor(t)
	ctx := context.Background()
	insertPendingTask(t, db, "task-1")
	_, err := s.CreateAgent(ctx, CreateRequest{AgentID: "agent-1", TaskIDs: []string{"task-1"}, WorkingDirectory: "/tmp"})
	require.NoError(t, err)

	// the fixture's multiplexer binary doesn't exist, so List() fails
	// rather than reporting a session as dead; CheckWorkerHealth should
	// surface that instead of silently marking agent-1 failed.
	err = s.CheckWorkerHealth(ctx)
	require.Error(t, err)

	got, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, StatusCreated, got.Status)
}

func TestCaptureOutputRejectsUnknownAgent(t *testing.T) {
	s, _ := newTestSupervisor(t)
	_, err := s.CaptureOutput(context.Background(), "no-such-agent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCaptureOutputPropagatesMultiplexerFailure(t *testing.T) {
	s, db := newTestSupervisor(t)
	ctx := context.Background()
	insertPendingTask(t, db, "task-1")
	_, err := s.CreateAgent(ctx, CreateRequest{AgentID: "agent-1", TaskIDs: []string{"task-1"}, WorkingDirectory: "/tmp"})
	require.NoError(t, err)

	// the fixture's multiplexer binary doesn't exist, so capture-pane
	// fails rather than returning a buffer.
	_, err = s.CaptureOutput(ctx, "agent-1")
	require.Error(t, err)
}

func TestColorAllocationRoundRobins(t *testing.T) {
	s, db := newTestSupervisor(t)
	ctx := context.Background()
	for i := 0; i < colorPaletteSize+1; i++ {
		id := "agent-" + string(rune('a'+i))
		_, err := db.Exec("DELETE FROM tasks")
		require.NoError(t, err)
		insertPendingTask(t, db, id+"-task")
		_, err = s.CreateAgent(ctx, CreateRequest{AgentID: id, TaskIDs: []string{id + "-task"}, WorkingDirectory: "/tmp"})
		require.NoError(t, err)
	}
	first, err := s.Get(ctx, "agent-a")
	require.NoError(t, err)
	wrapped, err := s.Get(ctx, "agent-"+string(rune('a'+colorPaletteSize)))
	require.NoError(t, err)
	require.Equal(t, first.Color, wrapped.Color)
}
