package transport

import (
	"context"
	"errors"

	"github.com/agent-mcp/agentmcp/pkg/agent"
	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/contextstore"
	"github.com/agent-mcp/agentmcp/pkg/provider"
	"github.com/agent-mcp/agentmcp/pkg/resource"
	"github.com/agent-mcp/agentmcp/pkg/store"
	"github.com/agent-mcp/agentmcp/pkg/task"
)

// WireError is the structured error body every failed response
// carries: {code, message, details?}.
type WireError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// errorCode is the single translation function from a package's
// sentinel error to the stable wire code. Handlers never hand-
// construct this mapping themselves.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, task.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, auth.ErrInvalidToken):
		return "unauthorized"
	case errors.Is(err, task.ErrNotFound), errors.Is(err, store.ErrNotFound),
		errors.Is(err, contextstore.ErrNotFound), errors.Is(err, agent.ErrNotFound),
		errors.Is(err, resource.ErrNotFound):
		return "not_found"
	case errors.Is(err, task.ErrConflict), errors.Is(err, store.ErrConstraintViolation),
		errors.Is(err, agent.ErrConflict):
		return "conflict"
	case errors.Is(err, task.ErrBadRequest), errors.Is(err, contextstore.ErrReservedKey),
		errors.Is(err, agent.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, task.ErrDependencyMissing):
		return "dependency_missing"
	case errors.Is(err, provider.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, store.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
