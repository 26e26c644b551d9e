package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
)

func echoTool(name string, category config.ToolCategory, adminOnly bool) Tool {
	return Tool{
		Name: name, Category: category, Schema: emptySchema(), AdminOnly: adminOnly,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestListOnlyAdvertisesEnabledCategories(t *testing.T) {
	r := NewRegistry([]config.ToolCategory{config.CategoryBasic})
	require.NoError(t, r.Register(echoTool("visible", config.CategoryBasic, false)))
	require.NoError(t, r.Register(echoTool("hidden", config.CategoryRAG, false)))

	names := make([]string, 0)
	for _, tl := range r.List() {
		names = append(names, tl.Name)
	}
	assert.Equal(t, []string{"visible"}, names)
}

func TestDispatchRejectsDisabledCategory(t *testing.T) {
	r := NewRegistry([]config.ToolCategory{config.CategoryBasic})
	require.NoError(t, r.Register(echoTool("hidden", config.CategoryRAG, false)))

	_, err := r.Dispatch(context.Background(), auth.Identity{Role: auth.RoleAgent, AgentID: "a1"}, "hidden", nil)
	assert.ErrorIs(t, err, ErrCategoryDisabled)
}

func TestDispatchRejectsNonAdminForAdminOnlyTool(t *testing.T) {
	r := NewRegistry([]config.ToolCategory{config.CategoryAgentManagement})
	require.NoError(t, r.Register(echoTool("admin_thing", config.CategoryAgentManagement, true)))

	_, err := r.Dispatch(context.Background(), auth.Identity{Role: auth.RoleAgent, AgentID: "a1"}, "admin_thing", nil)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.Dispatch(context.Background(), auth.Identity{Role: auth.RoleAdmin}, "admin_thing", nil)
	assert.NoError(t, err)
}

func TestDispatchUnknownToolReturnsNotFound(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Dispatch(context.Background(), auth.Identity{Role: auth.RoleAdmin}, "missing", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := NewRegistry([]config.ToolCategory{config.CategoryBasic})
	require.NoError(t, r.Register(echoTool("dup", config.CategoryBasic, false)))
	assert.Error(t, r.Register(echoTool("dup", config.CategoryBasic, false)))
}

func TestSetEnabledCategoriesRetargetsAtRuntime(t *testing.T) {
	r := NewRegistry([]config.ToolCategory{config.CategoryBasic})
	require.NoError(t, r.Register(echoTool("basic_thing", config.CategoryBasic, false)))
	require.NoError(t, r.Register(echoTool("rag_thing", config.CategoryRAG, false)))

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []config.ToolCategory{config.CategoryBasic}, r.EnabledCategories())

	r.SetEnabledCategories([]config.ToolCategory{config.CategoryRAG})

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []config.ToolCategory{config.CategoryRAG}, r.EnabledCategories())
	assert.False(t, r.Enabled(echoTool("basic_thing", config.CategoryBasic, false)))
}
