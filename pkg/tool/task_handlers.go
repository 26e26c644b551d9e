package tool

import (
	"context"
	"fmt"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/metrics"
	"github.com/agent-mcp/agentmcp/pkg/task"
)

func callerOf(identity auth.Identity) (id string, isAdmin bool) {
	if identity.Role == auth.RoleAdmin {
		return "admin", true
	}
	return identity.AgentID, false
}

type createSelfTaskArgs struct {
	Title       string   `mapstructure:"title" jsonschema:"required"`
	Description string   `mapstructure:"description"`
	Priority    string   `mapstructure:"priority" jsonschema:"enum=low|medium|high"`
	ParentTask  *string  `mapstructure:"parent_task_id"`
	DependsOn   []string `mapstructure:"depends_on"`
}

type assignTaskArgs struct {
	AgentID             string               `mapstructure:"agent_id" jsonschema:"required"`
	TaskTitle           string               `mapstructure:"task_title"`
	TaskDescription     string               `mapstructure:"task_description"`
	Priority            string               `mapstructure:"priority"`
	Tasks               []createSelfTaskArgs `mapstructure:"tasks"`
	TaskIDs             []string             `mapstructure:"task_ids"`
	EnforceWorkloadGate bool                 `mapstructure:"enforce_workload_gate"`
}

type updateTaskStatusArgs struct {
	TaskIDs   []string `mapstructure:"task_ids" jsonschema:"required"`
	NewStatus string   `mapstructure:"new_status" jsonschema:"required"`
	Note      string   `mapstructure:"note"`
}

type deleteTaskArgs struct {
	TaskID          string `mapstructure:"task_id" jsonschema:"required"`
	ForceDelete     bool   `mapstructure:"force_delete"`
	CascadeChildren bool   `mapstructure:"cascade_children"`
}

type searchTasksArgs struct {
	Query             string   `mapstructure:"query" jsonschema:"required"`
	MinRelevanceScore float64  `mapstructure:"min_relevance_score"`
	SearchFields      []string `mapstructure:"search_fields"`
}

type bulkOpArgs struct {
	TaskID   string `mapstructure:"task_id" jsonschema:"required"`
	Kind     string `mapstructure:"kind" jsonschema:"required"`
	Status   string `mapstructure:"status"`
	Priority string `mapstructure:"priority"`
	Note     string `mapstructure:"note"`
	AgentID  string `mapstructure:"agent_id"`
}

type bulkTaskOperationsArgs struct {
	Operations []bulkOpArgs `mapstructure:"operations" jsonschema:"required"`
}

func registerTaskTools(r *Registry, tasks *task.Store, sup *Supervisors, m *metrics.Metrics) error {
	selfSchema, err := generateSchema[createSelfTaskArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "create_self_task", Description: "Create a task on behalf of the caller, subject to the single-active-phase gate.",
		Category: config.CategoryTaskManagement, Schema: selfSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req createSelfTaskArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", task.ErrBadRequest, err)
			}
			callerID, isAdmin := callerOf(identity)
			var currentTask *string
			if !isAdmin {
				a, err := sup.Agents.Get(ctx, callerID)
				if err == nil {
					currentTask = a.CurrentTask
				}
			}
			t, err := tasks.CreateSelfTask(ctx, callerID, isAdmin, currentTask, task.CreateTaskRequest{
				Title: req.Title, Description: req.Description, Priority: task.Priority(req.Priority),
				ParentTask: req.ParentTask, DependsOn: req.DependsOn,
			})
			if err != nil {
				return nil, err
			}
			m.RecordTaskCreated(string(t.Priority))
			return t, nil
		},
	}); err != nil {
		return err
	}

	assignSchema, err := generateSchema[assignTaskArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "assign_task", Description: "Assign one new task, a batch of new tasks, or existing unassigned task ids to an agent.",
		Category: config.CategoryTaskManagement, Schema: assignSchema, AdminOnly: true,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req assignTaskArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", task.ErrBadRequest, err)
			}
			defs := make([]task.CreateTaskRequest, 0, len(req.Tasks))
			for _, d := range req.Tasks {
				defs = append(defs, task.CreateTaskRequest{
					Title: d.Title, Description: d.Description, Priority: task.Priority(d.Priority),
					ParentTask: d.ParentTask, DependsOn: d.DependsOn,
				})
			}
			callerID, _ := callerOf(identity)
			assigned, err := tasks.AssignTask(ctx, callerID, false, task.AssignTaskRequest{
				AgentID: req.AgentID, TaskTitle: req.TaskTitle, TaskDescription: req.TaskDescription,
				Priority: task.Priority(req.Priority), Tasks: defs, TaskIDs: req.TaskIDs,
				EnforceWorkloadGate: req.EnforceWorkloadGate,
			})
			if err != nil {
				return nil, err
			}
			for _, a := range assigned {
				m.RecordTaskCreated(string(a.Priority))
			}
			return assigned, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Tool{
		Name: "view_tasks", Description: "List tasks visible to the caller.",
		Category: config.CategoryBasic, Schema: emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			callerID, isAdmin := callerOf(identity)
			return tasks.ListVisible(ctx, callerID, isAdmin)
		},
	}); err != nil {
		return err
	}

	statusSchema, err := generateSchema[updateTaskStatusArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "update_task_status", Description: "Transition a set of tasks to a new status, optionally appending a note.",
		Category: config.CategoryTaskManagement, Schema: statusSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req updateTaskStatusArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", task.ErrBadRequest, err)
			}
			callerID, isAdmin := callerOf(identity)
			if err := tasks.UpdateTaskStatus(ctx, callerID, isAdmin, req.TaskIDs, task.Status(req.NewStatus), req.Note); err != nil {
				return nil, err
			}
			return map[string]string{"status": "updated"}, nil
		},
	}); err != nil {
		return err
	}

	searchSchema, err := generateSchema[searchTasksArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "search_tasks", Description: "Search visible tasks by field-weighted term frequency.",
		Category: config.CategoryBasic, Schema: searchSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req searchTasksArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", task.ErrBadRequest, err)
			}
			callerID, isAdmin := callerOf(identity)
			return tasks.SearchTasks(ctx, callerID, isAdmin, req.Query, task.SearchOptions{
				MinRelevanceScore: req.MinRelevanceScore, SearchFields: req.SearchFields,
			})
		},
	}); err != nil {
		return err
	}

	deleteSchema, err := generateSchema[deleteTaskArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "delete_task", Description: "Delete a task, refusing when dependents exist unless force_delete is set.",
		Category: config.CategoryTaskManagement, Schema: deleteSchema, AdminOnly: true,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req deleteTaskArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", task.ErrBadRequest, err)
			}
			callerID, _ := callerOf(identity)
			if err := tasks.DeleteTask(ctx, callerID, req.TaskID, req.ForceDelete, req.CascadeChildren); err != nil {
				return nil, err
			}
			return map[string]string{"status": "deleted"}, nil
		},
	}); err != nil {
		return err
	}

	bulkSchema, err := generateSchema[bulkTaskOperationsArgs]()
	if err != nil {
		return err
	}
	return r.Register(Tool{
		Name: "bulk_task_operations", Description: "Apply a batch of task operations in one transaction; any failure aborts the whole batch.",
		Category: config.CategoryTaskManagement, Schema: bulkSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req bulkTaskOperationsArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", task.ErrBadRequest, err)
			}
			ops := make([]task.BulkOperation, 0, len(req.Operations))
			for _, o := range req.Operations {
				ops = append(ops, task.BulkOperation{
					TaskID: o.TaskID, Kind: o.Kind, Status: task.Status(o.Status),
					Priority: task.Priority(o.Priority), Note: o.Note, AgentID: o.AgentID,
				})
			}
			callerID, isAdmin := callerOf(identity)
			if err := tasks.BulkTaskOperations(ctx, callerID, isAdmin, ops); err != nil {
				return nil, err
			}
			return map[string]string{"status": "applied"}, nil
		},
	})
}
