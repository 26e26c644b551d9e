package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/mux"
)

// Supervisor owns agent lifecycle and the in-memory worker-session
// bookkeeping: the session name and working directory per agent,
// guarded by a single mutex.
type Supervisor struct {
	db  *sql.DB
	mux *mux.Adapter

	mu          sync.Mutex
	sessionName map[string]string // agent id -> worker session name
	workingDir  map[string]string // agent id -> working directory
	nextColor   int
}

func NewSupervisor(db *sql.DB, m *mux.Adapter) *Supervisor {
	return &Supervisor{
		db:          db,
		mux:         m,
		sessionName: make(map[string]string),
		workingDir:  make(map[string]string),
	}
}

// CreateRequest is the payload for CreateAgent.
type CreateRequest struct {
	AgentID          string
	TaskIDs          []string
	WorkingDirectory string
	Capabilities     []string
}

// CreateAgent validates inputs, issues a fresh token and color, writes
// the agent row and task assignment in one transaction, then spawns
// the worker session.
func (s *Supervisor) CreateAgent(ctx context.Context, req CreateRequest) (*Agent, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrBadRequest)
	}
	if len(req.TaskIDs) == 0 {
		return nil, fmt.Errorf("%w: task_ids must be non-empty", ErrConflict)
	}
	if req.WorkingDirectory == "" {
		return nil, fmt.Errorf("%w: working_directory is required", ErrBadRequest)
	}

	token, err := auth.IssueAgentToken()
	if err != nil {
		return nil, err
	}

	var created *Agent
	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents WHERE id = ?", req.AgentID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: agent %s already exists", ErrConflict, req.AgentID)
		}

		for _, id := range req.TaskIDs {
			var status string
			row := tx.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", id)
			if err := row.Scan(&status); err != nil {
				if err == sql.ErrNoRows {
					return fmt.Errorf("%w: task %s", ErrNotFound, id)
				}
				return err
			}
			if status != "unassigned" {
				return fmt.Errorf("%w: task %s is not unassigned", ErrConflict, id)
			}
		}

		color := s.allocateColor()
		now := time.Now().UTC()
		a := &Agent{
			ID:               req.AgentID,
			Token:            token,
			Capabilities:     req.Capabilities,
			Status:           StatusCreated,
			CurrentTask:      &req.TaskIDs[0],
			WorkingDirectory: req.WorkingDirectory,
			Color:            color,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := insertAgent(ctx, tx, a); err != nil {
			return err
		}

		for _, id := range req.TaskIDs {
			if _, err := tx.ExecContext(ctx,
				"UPDATE tasks SET assigned_to = ?, status = 'pending', updated_at = ? WHERE id = ?",
				req.AgentID, now, id); err != nil {
				return err
			}
		}

		if err := logAction(ctx, tx, req.AgentID, "create_agent", nil, map[string]interface{}{"task_ids": req.TaskIDs}); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sessionName := req.AgentID
	s.sessionName[req.AgentID] = sessionName
	s.workingDir[req.AgentID] = req.WorkingDirectory
	s.mu.Unlock()

	s.spawnWorker(ctx, created, sessionName)

	return created, nil
}

// BackgroundCreateRequest is the reduced creation path for agents that
// carry no task assignment and create no hierarchical relationships.
// Still gets a token to authenticate, but no task ownership.
type BackgroundCreateRequest struct {
	AgentID          string
	WorkingDirectory string
	Capabilities     []string
}

// CreateBackgroundAgent implements the background-agent variant.
func (s *Supervisor) CreateBackgroundAgent(ctx context.Context, req BackgroundCreateRequest) (*Agent, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrBadRequest)
	}
	token, err := auth.IssueAgentToken()
	if err != nil {
		return nil, err
	}

	var created *Agent
	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents WHERE id = ?", req.AgentID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: agent %s already exists", ErrConflict, req.AgentID)
		}
		color := s.allocateColor()
		now := time.Now().UTC()
		a := &Agent{
			ID: req.AgentID, Token: token, Capabilities: req.Capabilities,
			Status: StatusCreated, WorkingDirectory: req.WorkingDirectory,
			Color: color, CreatedAt: now, UpdatedAt: now, Background: true,
		}
		if err := insertAgent(ctx, tx, a); err != nil {
			return err
		}
		created = a
		return logAction(ctx, tx, req.AgentID, "create_background_agent", nil, nil)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessionName[req.AgentID] = req.AgentID
	s.workingDir[req.AgentID] = req.WorkingDirectory
	s.mu.Unlock()

	s.spawnWorker(ctx, created, req.AgentID)
	return created, nil
}

// spawnWorker creates the multiplexer session and delivers the
// bootstrap prompt through the single-sourced template. A missing
// multiplexer is a warning only.
func (s *Supervisor) spawnWorker(ctx context.Context, a *Agent, sessionName string) {
	if !s.mux.Available(ctx) {
		slog.Warn("multiplexer unavailable, agent created for external attachment only", "agent_id", a.ID)
		return
	}
	if err := s.mux.Create(ctx, sessionName, a.WorkingDirectory); err != nil {
		slog.Warn("failed to create worker session", "agent_id", a.ID, "error", err)
		return
	}

	prompt := RenderBootstrapPrompt(a.ID, a.Token, a.WorkingDirectory, a.Capabilities, a.Background)
	if err := s.mux.SendKeys(ctx, sessionName, prompt); err != nil {
		slog.Warn("failed to deliver bootstrap prompt", "agent_id", a.ID, "error", err)
	}
}

// Activate transitions an agent to active on its first successful
// tool call.
func (s *Supervisor) Activate(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = 'active', updated_at = ? WHERE id = ? AND status = 'created'",
		time.Now().UTC(), agentID)
	return err
}

// Terminate runs one transaction that sets status=terminated, clears
// current_task, and unassigns owned tasks back to pending. Killing the
// worker session is best-effort; failure is a warning.
func (s *Supervisor) Terminate(ctx context.Context, adminID, agentID string) error {
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		var status string
		row := tx.QueryRowContext(ctx, "SELECT status FROM agents WHERE id = ?", agentID)
		if err := row.Scan(&status); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
			}
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE agents SET status = 'terminated', current_task = NULL, updated_at = ?, terminated_at = ? WHERE id = ?",
			now, now, agentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET assigned_to = NULL, status = 'pending', updated_at = ? WHERE assigned_to = ? AND status NOT IN ('completed','cancelled')",
			now, agentID); err != nil {
			return err
		}
		return logAction(ctx, tx, adminID, "terminate_agent", nil, map[string]interface{}{"agent_id": agentID})
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	sessionName, ok := s.sessionName[agentID]
	delete(s.sessionName, agentID)
	delete(s.workingDir, agentID)
	s.mu.Unlock()

	if ok {
		if err := s.mux.Kill(ctx, sessionName); err != nil {
			slog.Warn("failed to kill worker session", "agent_id", agentID, "error", err)
		}
	}
	return nil
}

// CheckWorkerHealth marks an agent failed and unassigns its tasks,
// identically to termination, whenever its worker session is found
// gone while the agent is not already terminated or completed.
func (s *Supervisor) CheckWorkerHealth(ctx context.Context) error {
	live, err := s.mux.List(ctx)
	if err != nil {
		return err
	}
	liveSet := make(map[string]bool, len(live))
	for _, name := range live {
		liveSet[name] = true
	}

	s.mu.Lock()
	toCheck := make(map[string]string, len(s.sessionName))
	for agentID, session := range s.sessionName {
		toCheck[agentID] = session
	}
	s.mu.Unlock()

	for agentID, session := range toCheck {
		if liveSet[mux.SanitizeSessionName(session)] {
			continue
		}
		if err := s.markFailed(ctx, agentID); err != nil {
			slog.Warn("failed to mark agent failed", "agent_id", agentID, "error", err)
		}
	}
	return nil
}

func (s *Supervisor) markFailed(ctx context.Context, agentID string) error {
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		var status string
		row := tx.QueryRowContext(ctx, "SELECT status FROM agents WHERE id = ?", agentID)
		if err := row.Scan(&status); err != nil {
			return err
		}
		if status == "terminated" || status == "completed" {
			return nil
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE agents SET status = 'failed', current_task = NULL, updated_at = ? WHERE id = ?", now, agentID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE tasks SET assigned_to = NULL, status = 'pending', updated_at = ? WHERE assigned_to = ? AND status NOT IN ('completed','cancelled')",
			now, agentID)
		return err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessionName, agentID)
	delete(s.workingDir, agentID)
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) allocateColor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := colorForOrdinal(s.nextColor)
	s.nextColor++
	return c
}

// SessionName returns the worker session name for an agent, if any.
func (s *Supervisor) SessionName(agentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.sessionName[agentID]
	return name, ok
}

// CaptureOutput returns the worker session's current visible text
// buffer for an agent, for operator visibility into a running worker.
func (s *Supervisor) CaptureOutput(ctx context.Context, agentID string) (string, error) {
	name, ok := s.SessionName(agentID)
	if !ok {
		return "", fmt.Errorf("%w: agent %q has no worker session", ErrNotFound, agentID)
	}
	return s.mux.Capture(ctx, name)
}

// Get returns a single agent by id.
func (s *Supervisor) Get(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, selectQuery+" WHERE id = ?", id)
	a, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// List returns every agent, newest first.
func (s *Supervisor) List(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, selectQuery+" ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const selectQuery = `SELECT id, token, capabilities, status, current_task, working_directory,
	color, created_at, updated_at, terminated_at FROM agents`

func scanAgent(s interface{ Scan(...interface{}) error }) (*Agent, error) {
	var (
		id, token, capsJSON, status, workingDir string
		currentTask, terminatedAt               sql.NullString
		color                                   int
		createdAt, updatedAt                    time.Time
	)
	if err := s.Scan(&id, &token, &capsJSON, &status, &currentTask, &workingDir,
		&color, &createdAt, &updatedAt, &terminatedAt); err != nil {
		return nil, err
	}
	a := &Agent{
		ID: id, Token: token, Status: Status(status), WorkingDirectory: workingDir,
		Color: color, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}
	if err := json.Unmarshal([]byte(capsJSON), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	if currentTask.Valid {
		v := currentTask.String
		a.CurrentTask = &v
	}
	return a, nil
}

func insertAgent(ctx context.Context, tx *sql.Tx, a *Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, token, capabilities, status, current_task, working_directory,
			color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Token, string(caps), string(a.Status), nullableString(a.CurrentTask),
		a.WorkingDirectory, a.Color, a.CreatedAt, a.UpdatedAt)
	return err
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func logAction(ctx context.Context, tx *sql.Tx, agentID, actionType string, taskID *string, details map[string]interface{}) error {
	data, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO action_log (agent_id, action_type, task_id, timestamp, details) VALUES (?, ?, ?, ?, ?)",
		agentID, actionType, nullableString(taskID), time.Now().UTC(), string(data))
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
