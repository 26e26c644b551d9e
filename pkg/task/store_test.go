package task

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE tasks (
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
CREATE TABLE action_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	task_id TEXT,
	timestamp TIMESTAMP NOT NULL,
	details TEXT NOT NULL DEFAULT '{}'
);
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/tasks.db?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestCreateSelfTaskRootBecomesPhase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 1"})
	require.NoError(t, err)
	require.True(t, root.IsRoot())
}

func TestCreateSelfTaskRefusesSecondRootWhilePhaseActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 1"})
	require.NoError(t, err)

	// root is unassigned -> active, so a second root is refused.
	_, err = s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 2"})
	require.Error(t, err)
	var conflict *PhaseConflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, root.ID, conflict.ActivePhaseID)
}

func TestCreateSelfTaskAllowsNewRootAfterPhaseCompletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 1"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTaskStatus(ctx, "admin", true, []string{root.ID}, StatusCompleted, ""))

	_, err = s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 2"})
	require.NoError(t, err)
}

func TestCreateSelfTaskNonAdminRequiresParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSelfTask(ctx, "agent-1", false, nil, CreateTaskRequest{Title: "orphan"})
	require.Error(t, err)
	var conflict *PhaseConflict
	require.ErrorAs(t, err, &conflict)
}

func TestChildTasksBidirectionalConsistency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 1"})
	require.NoError(t, err)

	child, err := s.CreateSelfTask(ctx, "admin", true, &root.ID, CreateTaskRequest{Title: "Child", ParentTask: &root.ID})
	require.NoError(t, err)

	updated, err := s.Get(ctx, root.ID)
	require.NoError(t, err)
	require.Contains(t, updated.ChildTasks, child.ID)
}

func TestAssignTaskModeA(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tasks, err := s.AssignTask(ctx, "admin", false, AssignTaskRequest{
		AgentID: "agent-1", TaskTitle: "Bootstrap indexer", TaskDescription: "desc", Priority: PriorityHigh,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, StatusPending, tasks[0].Status)
	require.Equal(t, "agent-1", *tasks[0].AssignedTo)
}

func TestAssignTaskRefusesAdminTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AssignTask(ctx, "admin", true, AssignTaskRequest{AgentID: "admin", TaskTitle: "x"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpdateTaskStatusDeniesNonOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tasks, err := s.AssignTask(ctx, "admin", false, AssignTaskRequest{AgentID: "agent-1", TaskTitle: "t"})
	require.NoError(t, err)

	err = s.UpdateTaskStatus(ctx, "agent-2", false, []string{tasks[0].ID}, StatusInProgress, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestBulkTaskOperationsAtomicRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tasks, err := s.AssignTask(ctx, "admin", false, AssignTaskRequest{AgentID: "agent-1", TaskTitle: "t1"})
	require.NoError(t, err)

	err = s.BulkTaskOperations(ctx, "admin", true, []BulkOperation{
		{TaskID: tasks[0].ID, Kind: "update_status", Status: StatusInProgress},
		{TaskID: "nonexistent", Kind: "update_status", Status: StatusCompleted},
	})
	require.Error(t, err)

	reloaded, err := s.Get(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, reloaded.Status)
}

func TestDeleteTaskOrphansChildrenWithoutCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 1"})
	require.NoError(t, err)
	child, err := s.CreateSelfTask(ctx, "admin", true, &root.ID, CreateTaskRequest{Title: "Child", ParentTask: &root.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, "admin", root.ID, true, false))

	reloadedChild, err := s.Get(ctx, child.ID)
	require.NoError(t, err)
	require.Nil(t, reloadedChild.ParentTask)
}

func TestDeleteTaskCascadesChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.CreateSelfTask(ctx, "admin", true, nil, CreateTaskRequest{Title: "Phase 1"})
	require.NoError(t, err)
	child, err := s.CreateSelfTask(ctx, "admin", true, &root.ID, CreateTaskRequest{Title: "Child", ParentTask: &root.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, "admin", root.ID, true, true))

	_, err = s.Get(ctx, child.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchTasksRanksTitleOverDescription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AssignTask(ctx, "admin", false, AssignTaskRequest{AgentID: "agent-1", TaskTitle: "indexer work", TaskDescription: "unrelated"})
	require.NoError(t, err)
	_, err = s.AssignTask(ctx, "admin", false, AssignTaskRequest{AgentID: "agent-1", TaskTitle: "other", TaskDescription: "mentions indexer here"})
	require.NoError(t, err)

	results, err := s.SearchTasks(ctx, "admin", true, "indexer", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "indexer work", results[0].Task.Title)
}

func TestWorkloadScore(t *testing.T) {
	tasks := []*Task{
		{Status: StatusPending, Priority: PriorityHigh},
		{Status: StatusInProgress, Priority: PriorityLow},
		{Status: StatusCompleted, Priority: PriorityHigh},
	}
	require.Equal(t, 4, WorkloadScore(tasks)) // (1+2) + 1 ; completed excluded
}
