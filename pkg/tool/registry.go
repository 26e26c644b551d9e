package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/metrics"
	"github.com/agent-mcp/agentmcp/pkg/registry"
)

var tracer = otel.Tracer("github.com/agent-mcp/agentmcp/pkg/tool")

// Handler executes one tool call for a resolved identity.
type Handler func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error)

// Tool is one registry entry: its schema, handler, owning category,
// and whether it requires the admin role.
type Tool struct {
	Name        string
	Description string
	Category    config.ToolCategory
	Schema      map[string]any
	Handler     Handler
	AdminOnly   bool
}

// Registry is the name-keyed table of enabled tools. Each name can be
// registered once; tools of disabled categories are registered but
// not advertised or invocable.
type Registry struct {
	*registry.BaseRegistry[Tool]

	mu      sync.RWMutex
	enabled map[config.ToolCategory]bool
	metrics *metrics.Metrics
}

func NewRegistry(enabledCategories []config.ToolCategory) *Registry {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
	r.SetEnabledCategories(enabledCategories)
	return r
}

// SetMetrics attaches the Prometheus recorder Dispatch reports to. Left
// unset, Dispatch records nothing (Metrics is nil-safe).
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Register adds a tool. Returns an error on a duplicate name.
func (r *Registry) Register(t Tool) error {
	return r.BaseRegistry.Register(t.Name, t)
}

// SetEnabledCategories replaces the advertised/invocable category set,
// backing the runtime config toggle on the admin HTTP surface.
func (r *Registry) SetEnabledCategories(cats []config.ToolCategory) {
	enabled := make(map[config.ToolCategory]bool, len(cats))
	for _, c := range cats {
		enabled[c] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// EnabledCategories lists the currently enabled categories, sorted for
// stable /config responses.
func (r *Registry) EnabledCategories() []config.ToolCategory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.ToolCategory, 0, len(r.enabled))
	for c := range r.enabled {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Enabled reports whether t's category is advertised/invocable under
// the current configuration.
func (r *Registry) Enabled(t Tool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[t.Category]
}

// List returns every enabled tool, for advertisement to a caller.
func (r *Registry) List() []Tool {
	var out []Tool
	for _, t := range r.BaseRegistry.List() {
		if r.Enabled(t) {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of currently enabled tools, for the /health
// and /stats admin endpoints.
func (r *Registry) Count() int {
	return len(r.List())
}

// ErrUnknownTool is returned when a caller names a tool the registry
// has never registered.
var ErrUnknownTool = fmt.Errorf("not_found")

// ErrCategoryDisabled is returned when a caller invokes a tool whose
// category is not in the currently enabled set.
var ErrCategoryDisabled = fmt.Errorf("not_found")

// ErrForbidden is returned when a non-admin identity calls an
// admin-only tool.
var ErrForbidden = fmt.Errorf("unauthorized")

// Dispatch resolves and runs a tool call, recording a trace span for
// every invocation. It satisfies the transport package's Dispatcher
// interface structurally.
func (r *Registry) Dispatch(ctx context.Context, identity auth.Identity, method string, params map[string]any) (any, error) {
	ctx, span := tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool.name", method),
		attribute.String("caller.role", string(identity.Role)),
	))
	defer span.End()
	start := time.Now()

	t, ok := r.Get(method)
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		r.metrics.RecordToolCall(method, time.Since(start), "not_found")
		return nil, fmt.Errorf("%w: tool %q is not registered", ErrUnknownTool, method)
	}
	if !r.Enabled(t) {
		span.SetStatus(codes.Error, "category disabled")
		r.metrics.RecordToolCall(method, time.Since(start), "not_found")
		return nil, fmt.Errorf("%w: tool %q is in a disabled category", ErrCategoryDisabled, method)
	}
	if t.AdminOnly && identity.Role != auth.RoleAdmin {
		span.SetStatus(codes.Error, "forbidden")
		r.metrics.RecordToolCall(method, time.Since(start), "unauthorized")
		return nil, fmt.Errorf("%w: tool %q requires the admin role", ErrForbidden, method)
	}

	result, err := t.Handler(ctx, identity, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordToolCall(method, time.Since(start), "error")
		return nil, err
	}
	r.metrics.RecordToolCall(method, time.Since(start), "")
	return result, nil
}
