package tool

import (
	"github.com/agent-mcp/agentmcp/pkg/agent"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/contextstore"
	"github.com/agent-mcp/agentmcp/pkg/knowledge"
	"github.com/agent-mcp/agentmcp/pkg/metrics"
	"github.com/agent-mcp/agentmcp/pkg/resource"
	"github.com/agent-mcp/agentmcp/pkg/task"
	"github.com/agent-mcp/agentmcp/pkg/transport"
)

// Supervisors groups the agent supervisor alongside the components
// its tool handlers need to render a view (currently just itself;
// named for symmetry with the other Build* dependency groups and room
// to grow without changing every handler's signature).
type Supervisors struct {
	Agents *agent.Supervisor
}

// BuildRegistry wires every tool handler declared across this package
// into one registry scoped to cfg's enabled categories.
func BuildRegistry(cfg *config.Config, sup *Supervisors, tasks *task.Store, ctxStore *contextstore.Store, retriever *knowledge.Retriever, indexer *knowledge.Indexer, sessions *transport.SessionStore, surface *resource.Surface, m *metrics.Metrics) (*Registry, error) {
	r := NewRegistry(cfg.Tools.EnabledCategories)
	r.SetMetrics(m)

	if err := registerAgentTools(r, sup, tasks, m); err != nil {
		return nil, err
	}
	if err := registerTaskTools(r, tasks, sup, m); err != nil {
		return nil, err
	}
	if err := registerContextTools(r, ctxStore); err != nil {
		return nil, err
	}
	if err := registerRAGTools(r, retriever, indexer); err != nil {
		return nil, err
	}
	if err := registerSessionTools(r, sessions); err != nil {
		return nil, err
	}
	if err := registerResourceTools(r, surface); err != nil {
		return nil, err
	}
	if err := registerHealthTool(r, cfg); err != nil {
		return nil, err
	}
	return r, nil
}
