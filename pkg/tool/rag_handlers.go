package tool

import (
	"context"
	"fmt"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/knowledge"
	"github.com/agent-mcp/agentmcp/pkg/task"
)

type askProjectRAGArgs struct {
	Query string `mapstructure:"query" jsonschema:"required"`
}

func registerRAGTools(r *Registry, retriever *knowledge.Retriever, indexer *knowledge.Indexer) error {
	askSchema, err := generateSchema[askProjectRAGArgs]()
	if err != nil {
		return err
	}
	if err := r.Register(Tool{
		Name: "ask_project_rag", Description: "Answer a question by merging live project context, matching tasks, and retrieved code/document chunks.",
		Category: config.CategoryRAG, Schema: askSchema,
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			var req askProjectRAGArgs
			if err := decodeArgs(args, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", task.ErrBadRequest, err)
			}
			answer, err := retriever.Answer(ctx, req.Query)
			if err != nil {
				return nil, err
			}
			return answer, nil
		},
	}); err != nil {
		return err
	}

	return r.Register(Tool{
		Name: "get_rag_status", Description: "Trigger an indexing cycle and report what it scanned and wrote.",
		Category: config.CategoryRAG, Schema: emptySchema(),
		Handler: func(ctx context.Context, identity auth.Identity, args map[string]any) (any, error) {
			stats, err := indexer.RunCycle(ctx)
			if err != nil {
				return nil, err
			}
			return stats, nil
		},
	})
}
