package tool

import (
	"context"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
)

func registerHealthTool(r *Registry, cfg *config.Config) error {
	return r.Register(Tool{
		Name: "health", Description: "Report the enabled tool categories and the count of tools advertised under them.",
		Category: config.CategoryBasic, Schema: emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			return map[string]any{
				"status":             "ok",
				"enabled_categories": cfg.Tools.EnabledCategories,
				"tool_count":         len(r.List()),
			}, nil
		},
	})
}
