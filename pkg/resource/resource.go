// Package resource implements the read-only addressable surface:
// agent://, task://, tmux://, token://, and audit:// URIs, derived
// fresh from store and supervisor state on every call — nothing here
// caches beyond the single request that asked for it.
package resource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agent-mcp/agentmcp/pkg/agent"
	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/mux"
	"github.com/agent-mcp/agentmcp/pkg/task"
)

// Item is one addressable resource: its URI and a short
// status-oriented description, never implementation detail.
type Item struct {
	URI         string `json:"uri"`
	Description string `json:"description"`
}

// ErrNotFound is returned when a URI names an entity that does not
// exist in current store/supervisor state.
var ErrNotFound = fmt.Errorf("not_found")

// Surface renders the resource surface on top of the agent supervisor,
// the task store, and the action_log table of the shared database.
type Surface struct {
	db     *sql.DB
	agents *agent.Supervisor
	tasks  *task.Store
}

func New(db *sql.DB, agents *agent.Supervisor, tasks *task.Store) *Surface {
	return &Surface{db: db, agents: agents, tasks: tasks}
}

// List enumerates every currently addressable resource.
func (s *Surface) List(ctx context.Context) ([]Item, error) {
	var items []Item

	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		items = append(items, Item{URI: "agent://" + a.ID, Description: fmt.Sprintf("%s agent, status %s", a.ID, a.Status)})
		items = append(items, Item{URI: "token://" + a.ID, Description: "masked agent token"})
		items = append(items, Item{URI: "audit://" + a.ID, Description: "action log for " + a.ID})
		if name, ok := s.agents.SessionName(a.ID); ok {
			items = append(items, Item{URI: "tmux://" + mux.SanitizeSessionName(name), Description: "worker session for " + a.ID})
		}
	}

	visible, err := s.tasks.ListVisible(ctx, "admin", true)
	if err != nil {
		return nil, err
	}
	for _, t := range visible {
		items = append(items, Item{URI: "task://" + t.ID, Description: fmt.Sprintf("%s, status %s", t.Title, t.Status)})
	}

	return items, nil
}

// Read resolves one URI to its current rendering.
func (s *Surface) Read(ctx context.Context, uri string) (any, error) {
	scheme, id, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "agent":
		return s.agents.Get(ctx, id)
	case "task":
		return s.readTask(ctx, id)
	case "tmux":
		return s.readTmuxSession(ctx, id)
	case "token":
		return s.readMaskedToken(ctx, id)
	case "audit":
		return s.readAuditLog(ctx, id)
	default:
		return nil, fmt.Errorf("%w: unsupported resource scheme %q", ErrNotFound, scheme)
	}
}

func (s *Surface) readTask(ctx context.Context, id string) (any, error) {
	visible, err := s.tasks.ListVisible(ctx, "admin", true)
	if err != nil {
		return nil, err
	}
	for _, t := range visible {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: task %q", ErrNotFound, id)
}

func (s *Surface) readTmuxSession(ctx context.Context, sessionName string) (any, error) {
	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		name, ok := s.agents.SessionName(a.ID)
		if ok && mux.SanitizeSessionName(name) == sessionName {
			return map[string]any{"uri": "tmux://" + sessionName, "bound_agent_id": a.ID, "status": a.Status}, nil
		}
	}
	return nil, fmt.Errorf("%w: tmux session %q", ErrNotFound, sessionName)
}

// readMaskedToken shows only a short fingerprint, matching the tokens'
// masking invariant everywhere they cross the wire.
func (s *Surface) readMaskedToken(ctx context.Context, agentID string) (any, error) {
	a, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"uri": "token://" + agentID, "fingerprint": auth.Fingerprint(a.Token)}, nil
}

// AuditEntry is one action_log row rendered for the audit:// surface.
type AuditEntry struct {
	ActionType string  `json:"action_type"`
	TaskID     *string `json:"task_id,omitempty"`
	Timestamp  string  `json:"timestamp"`
	Details    string  `json:"details"`
}

func (s *Surface) readAuditLog(ctx context.Context, agentID string) (any, error) {
	if _, err := s.agents.Get(ctx, agentID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT action_type, task_id, timestamp, details FROM action_log WHERE agent_id = ? ORDER BY timestamp DESC LIMIT 200",
		agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ActionType, &e.TaskID, &e.Timestamp, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func splitURI(uri string) (scheme, id string, err error) {
	for i := 0; i+2 < len(uri); i++ {
		if uri[i] == ':' && uri[i+1] == '/' && uri[i+2] == '/' {
			return uri[:i], uri[i+3:], nil
		}
	}
	return "", "", fmt.Errorf("%w: malformed resource uri %q", ErrNotFound, uri)
}
