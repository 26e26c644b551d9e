package tool

import (
	"context"
	"fmt"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/contextstore"
)

type viewProjectContextArgs struct {
	Key string `mapstructure:"key"`
}

type updateProjectContextArgs struct {
	Key         string `mapstructure:"key" jsonschema:"required"`
	Value       string `mapstructure:"value" jsonschema:"required"`
	Description string `mapstructure:"description"`
}

type bulkUpdateEntryArgs struct {
	Key         string `mapstructure:"key" jsonschema:"required"`
	Value       string `mapstructure:"value" jsonschema:"required"`
	Description string `mapstructure:"description"`
}

type bulkUpdateProjectContextArgs struct {
	Entries []bulkUpdateEntryArgs `mapstructure:"entries" jsonschema:"required"`
}

type deleteProjectContextArgs struct {
	Key string `mapstructure:"key" jsonschema:"required"`
}

type restoreProjectContextArgs struct {
	BackupID string `mapstructure:"backup_id" jsonschema:"required"`
}

func registerContextTools(r *Registry, ctxStore *contextstore.Store) error {
	viewSchema, err := generateSchema[viewProjectContextArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "view_project_context", Description: "View one context entry by key, or every entry ordered by last-updated when key is omitted.",
		Category: config.CategoryMemory, Schema: viewSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req viewProjectContextArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", contextstore.ErrReservedKey, err)
			}
			return ctxStore.View(ctx, req.Key)
		},
	}); err != nil {
		return err
	}

	updateSchema, err := generateSchema[updateProjectContextArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "update_project_context", Description: "Create or overwrite a context entry.",
		Category: config.CategoryMemory, Schema: updateSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req updateProjectContextArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", contextstore.ErrReservedKey, err)
			}
			callerID, _ := callerOf(identity)
			if err := ctxStore.Update(ctx, req.Key, req.Value, req.Description, callerID); err != nil {
				return nil, err
			}
			return map[string]string{"status": "updated"}, nil
		},
	}); err != nil {
		return err
	}

	bulkSchema, err := generateSchema[bulkUpdateProjectContextArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "bulk_update_project_context", Description: "Update many context entries in one transaction.",
		Category: config.CategoryMemory, Schema: bulkSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req bulkUpdateProjectContextArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", contextstore.ErrReservedKey, err)
			}
			entries := make([]contextstore.Entry, 0, len(req.Entries))
			for _, e := range req.Entries {
				entries = append(entries, contextstore.Entry{Key: e.Key, Value: e.Value, Description: e.Description})
			}
			callerID, _ := callerOf(identity)
			if err := ctxStore.BulkUpdate(ctx, entries, callerID); err != nil {
				return nil, err
			}
			return map[string]string{"status": "updated"}, nil
		},
	}); err != nil {
		return err
	}

	deleteSchema, err := generateSchema[deleteProjectContextArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "delete_project_context", Description: "Delete a non-backup context entry.",
		Category: config.CategoryMemory, Schema: deleteSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req deleteProjectContextArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", contextstore.ErrReservedKey, err)
			}
			if err := ctxStore.Delete(ctx, req.Key); err != nil {
				return nil, err
			}
			return map[string]string{"status": "deleted"}, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Tool{
		Name: "backup_project_context", Description: "Snapshot every current context entry into a reserved __backup__ row.",
		Category: config.CategoryMemory, Schema: emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			callerID, _ := callerOf(identity)
			id, err := ctxStore.Backup(ctx, callerID)
			if err != nil {
				return nil, err
			}
			return map[string]string{"backup_id": id}, nil
		},
	}); err != nil {
		return err
	}

	restoreSchema, err := generateSchema[restoreProjectContextArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "restore_project_context", Description: "Restore every entry captured by a prior backup.",
		Category: config.CategoryMemory, Schema: restoreSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req restoreProjectContextArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", contextstore.ErrReservedKey, err)
			}
			if err := ctxStore.RestoreFrom(ctx, req.BackupID); err != nil {
				return nil, err
			}
			return map[string]string{"status": "restored"}, nil
		},
	}); err != nil {
		return err
	}

	return r.Register(Tool{
		Name: "validate_context_consistency", Description: "Report context entries whose stored value fails to parse as the JSON blob the data model requires.",
		Category: config.CategoryMemory, Schema: emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			return ctxStore.ValidateConsistency(ctx)
		},
	})
}
