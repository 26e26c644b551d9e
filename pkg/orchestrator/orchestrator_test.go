package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agent-mcp/agentmcp/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir()+"/orchestrator.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRefuseDuplicateActivePhaseAllowsOneActivePhase(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.DB().ExecContext(ctx,
		"INSERT INTO tasks (id, title, created_by, status, updated_at, created_at) VALUES (?, ?, 'admin', 'in_progress', datetime('now'), datetime('now'))",
		"phase-1", "Phase 1")
	require.NoError(t, err)

	require.NoError(t, refuseDuplicateActivePhase(ctx, st))
}

func TestRefuseDuplicateActivePhaseRejectsTwoActivePhases(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"phase-1", "phase-2"} {
		_, err := st.DB().ExecContext(ctx,
			"INSERT INTO tasks (id, title, created_by, status, updated_at, created_at) VALUES (?, ?, 'admin', 'in_progress', datetime('now'), datetime('now'))",
			id, "Phase "+id)
		require.NoError(t, err)
	}

	err := refuseDuplicateActivePhase(ctx, st)
	require.ErrorIs(t, err, ErrDuplicateActivePhase)
}

func TestRefuseDuplicateActivePhaseIgnoresSubtasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.DB().ExecContext(ctx,
		"INSERT INTO tasks (id, title, created_by, status, updated_at, created_at) VALUES (?, ?, 'admin', 'in_progress', datetime('now'), datetime('now'))",
		"phase-1", "Phase 1")
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx,
		"INSERT INTO tasks (id, title, created_by, status, parent_task, updated_at, created_at) VALUES (?, ?, 'admin', 'in_progress', ?, datetime('now'), datetime('now'))",
		"sub-1", "Subtask 1", "phase-1")
	require.NoError(t, err)

	require.NoError(t, refuseDuplicateActivePhase(ctx, st))
}

func TestErrorsIsCancelRecognizesContextCancellation(t *testing.T) {
	require.True(t, errorsIsCancel(context.Canceled))
	require.True(t, errorsIsCancel(context.DeadlineExceeded))
	require.False(t, errorsIsCancel(nil))
}
