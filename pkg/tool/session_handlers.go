package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/transport"
)

var errNoTransportSession = fmt.Errorf("bad_request: no transport session bound to this call")

type saveSessionStateArgs struct {
	Key        string `mapstructure:"key" jsonschema:"required"`
	Data       string `mapstructure:"data" jsonschema:"required"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type loadSessionStateArgs struct {
	Key string `mapstructure:"key" jsonschema:"required"`
}

type clearSessionStateArgs struct {
	Key string `mapstructure:"key"`
}

func registerSessionTools(r *Registry, sessions *transport.SessionStore) error {
	saveSchema, err := generateSchema[saveSessionStateArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "save_session_state", Description: "Persist a key/value pair scoped to the calling transport session, with an optional TTL.",
		Category: config.CategorySessionState, Schema: saveSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			sessionID, ok := transport.SessionIDFromContext(ctx)
			if !ok {
				return nil, errNoTransportSession
			}
			var req saveSessionStateArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("bad_request: %v", err)
			}
			ttl := time.Duration(req.TTLSeconds) * time.Second
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			if err := sessions.SaveState(ctx, sessionID, req.Key, req.Data, ttl); err != nil {
				return nil, err
			}
			return map[string]string{"status": "saved"}, nil
		},
	}); err != nil {
		return err
	}

	loadSchema, err := generateSchema[loadSessionStateArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "load_session_state", Description: "Load a previously saved session-state value.",
		Category: config.CategorySessionState, Schema: loadSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			sessionID, ok := transport.SessionIDFromContext(ctx)
			if !ok {
				return nil, errNoTransportSession
			}
			var req loadSessionStateArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("bad_request: %v", err)
			}
			data, err := sessions.LoadState(ctx, sessionID, req.Key)
			if err != nil {
				return nil, err
			}
			return map[string]string{"data": data}, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Tool{
		Name: "list_session_states", Description: "List every unexpired state key saved by the calling session.",
		Category: config.CategorySessionState, Schema: emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			sessionID, ok := transport.SessionIDFromContext(ctx)
			if !ok {
				return nil, errNoTransportSession
			}
			return sessions.ListState(ctx, sessionID)
		},
	}); err != nil {
		return err
	}

	clearSchema, err := generateSchema[clearSessionStateArgs]()
	if err != nil {
		return err
	}
	return r.Register(Tool{
		Name: "clear_session_state", Description: "Clear one state key, or every key for the calling session when key is omitted.",
		Category: config.CategorySessionState, Schema: clearSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			sessionID, ok := transport.SessionIDFromContext(ctx)
			if !ok {
				return nil, errNoTransportSession
			}
			var req clearSessionStateArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("bad_request: %v", err)
			}
			if err := sessions.ClearState(ctx, sessionID, req.Key); err != nil {
				return nil, err
			}
			return map[string]string{"status": "cleared"}, nil
		},
	})
}
