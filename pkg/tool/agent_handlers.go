package tool

import (
	"context"
	"fmt"

	"github.com/agent-mcp/agentmcp/pkg/agent"
	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/metrics"
	"github.com/agent-mcp/agentmcp/pkg/mux"
	"github.com/agent-mcp/agentmcp/pkg/task"
)

// CreateAgentArgs is the create_agent argument shape.
type CreateAgentArgs struct {
	AgentID          string   `mapstructure:"agent_id" jsonschema:"required,description=Unique id for the new agent"`
	TaskIDs          []string `mapstructure:"task_ids" jsonschema:"description=Existing unassigned task ids to hand to the agent"`
	WorkingDirectory string   `mapstructure:"working_directory" jsonschema:"required"`
	Capabilities     []string `mapstructure:"capabilities"`
	Background       bool     `mapstructure:"background" jsonschema:"description=Create a reduced background worker instead"`
}

func registerAgentTools(r *Registry, sup *Supervisors, tasks *task.Store, m *metrics.Metrics) error {
	createSchema, err := generateSchema[CreateAgentArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name:        "create_agent",
		Description: "Create a new worker agent, optionally owning a set of existing tasks.",
		Category:    config.CategoryAgentManagement,
		Schema:      createSchema,
		AdminOnly:   true,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req CreateAgentArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", agent.ErrBadRequest, err)
			}
			if req.Background {
				a, err := sup.Agents.CreateBackgroundAgent(ctx, agent.BackgroundCreateRequest{
					AgentID: req.AgentID, WorkingDirectory: req.WorkingDirectory, Capabilities: req.Capabilities,
				})
				if err != nil {
					return nil, err
				}
				m.RecordAgentSpawned(true)
				return agentView(sup, a), nil
			}
			a, err := sup.Agents.CreateAgent(ctx, agent.CreateRequest{
				AgentID: req.AgentID, TaskIDs: req.TaskIDs, WorkingDirectory: req.WorkingDirectory, Capabilities: req.Capabilities,
			})
			if err != nil {
				return nil, err
			}
			m.RecordAgentSpawned(false)
			return agentView(sup, a), nil
		},
	}); err != nil {
		return err
	}

	type terminateArgs struct {
		AgentID string `mapstructure:"agent_id" jsonschema:"required"`
	}
	terminateSchema, err := generateSchema[terminateArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name:        "terminate_agent",
		Description: "Terminate an agent and return its owned tasks to pending.",
		Category:    config.CategoryAgentManagement,
		Schema:      terminateSchema,
		AdminOnly:   true,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req terminateArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", agent.ErrBadRequest, err)
			}
			callerID, _ := callerOf(identity)
			if err := sup.Agents.Terminate(ctx, callerID, req.AgentID); err != nil {
				return nil, err
			}
			return map[string]string{"status": "terminated"}, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Tool{
		Name:        "list_agents",
		Description: "List every known agent and its current status.",
		Category:    config.CategoryBasic,
		Schema:      emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			agents, err := sup.Agents.List(ctx)
			if err != nil {
				return nil, err
			}
			views := make([]map[string]any, 0, len(agents))
			for _, a := range agents {
				views = append(views, agentView(sup, a))
			}
			return views, nil
		},
	}); err != nil {
		return err
	}

	type viewStatusArgs struct {
		AgentID string `mapstructure:"agent_id" jsonschema:"required"`
	}
	statusSchema, err := generateSchema[viewStatusArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name:        "view_status",
		Description: "View one agent's status, including its current workload score.",
		Category:    config.CategoryBasic,
		Schema:      statusSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req viewStatusArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", agent.ErrBadRequest, err)
			}
			a, err := sup.Agents.Get(ctx, req.AgentID)
			if err != nil {
				return nil, err
			}
			owned, err := tasks.ListVisible(ctx, req.AgentID, false)
			if err != nil {
				return nil, err
			}
			view := agentView(sup, a)
			view["workload_score"] = task.WorkloadScore(owned)
			return view, nil
		},
	}); err != nil {
		return err
	}

	type viewWorkerOutputArgs struct {
		AgentID string `mapstructure:"agent_id" jsonschema:"required"`
	}
	workerOutputSchema, err := generateSchema[viewWorkerOutputArgs]()
	if err != nil {
		return err
	}
	return r.Register(Tool{
		Name:        "view_worker_output",
		Description: "Capture the current visible text buffer of an agent's worker session.",
		Category:    config.CategoryAgentManagement,
		Schema:      workerOutputSchema,
		AdminOnly:   true,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req viewWorkerOutputArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", agent.ErrBadRequest, err)
			}
			output, err := sup.Agents.CaptureOutput(ctx, req.AgentID)
			if err != nil {
				return nil, err
			}
			return map[string]string{"agent_id": req.AgentID, "output": output}, nil
		},
	})
}

func agentView(sup *Supervisors, a *agent.Agent) map[string]any {
	view := map[string]any{
		"id":                a.ID,
		"status":            a.Status,
		"capabilities":      a.Capabilities,
		"current_task":      a.CurrentTask,
		"working_directory": a.WorkingDirectory,
		"color":             a.Color,
		"background":        a.Background,
		"token_fingerprint": auth.Fingerprint(a.Token),
	}
	if name, ok := sup.Agents.SessionName(a.ID); ok {
		view["worker_session"] = "tmux://" + mux.SanitizeSessionName(name)
	}
	return view
}

func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
}
