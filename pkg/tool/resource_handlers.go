package tool

import (
	"context"
	"fmt"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/resource"
)

type readResourceArgs struct {
	URI string `mapstructure:"uri" jsonschema:"required"`
}

// registerResourceTools exposes the read-only resource surface as two
// tools: an enumeration and a read-by-uri, so a caller never needs to
// already know which agent:// or task:// ids exist.
func registerResourceTools(r *Registry, surface *resource.Surface) error {
	if err := r.Register(Tool{
		Name: "list_resources", Description: "List addressable resources (agents, tasks, tmux sessions, tokens, audit logs) visible to the caller.",
		Category: config.CategoryBasic, Schema: emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			return surface.List(ctx)
		},
	}); err != nil {
		return err
	}

	readSchema, err := generateSchema[readResourceArgs]()
	if err != nil {
		return err
	}
	return r.Register(Tool{
		Name: "read_resource", Description: "Read one resource by its URI (agent://, task://, tmux://, token://, or audit://).",
		Category: config.CategoryBasic, Schema: readSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req readResourceArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", resource.ErrNotFound, err)
			}
			return surface.Read(ctx, req.URI)
		},
	})
}
