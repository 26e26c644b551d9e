package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/agent-mcp/agentmcp/pkg/provider"
)

// RetrieverConfig bounds the hybrid merge.
type RetrieverConfig struct {
	K                int
	MaxContextTokens int
}

// Retriever answers project questions by merging live context rows,
// keyword-matched tasks, and vector top-k chunk hits under a token
// budget.
type Retriever struct {
	db       *sql.DB
	vector   *VectorIndex
	provider *provider.Adapter
	cfg      RetrieverConfig

	vectorAvailable func() bool
}

func NewRetriever(db *sql.DB, vector *VectorIndex, p *provider.Adapter, cfg RetrieverConfig, vectorAvailable func() bool) *Retriever {
	if cfg.K <= 0 {
		cfg.K = 13
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 8000
	}
	return &Retriever{db: db, vector: vector, provider: p, cfg: cfg, vectorAvailable: vectorAvailable}
}

// Answer is the result of a retrieval query.
type Answer struct {
	Text             string
	Chunks           []ChunkRow
	Truncated        bool
	DegradedNoVector bool
}

// Answer merges the three lookups in order (live context, live tasks,
// retrieved chunks), stopping once the approximate token budget
// (character count / 4 as a cheap proxy) would be exceeded.
func (r *Retriever) Answer(ctx context.Context, query string) (Answer, error) {
	var sections []string
	var chunks []ChunkRow
	budget := r.cfg.MaxContextTokens * 4 // characters
	used := 0
	truncated := false

	appendSection := func(header, body string) bool {
		if body == "" {
			return true
		}
		text := "## " + header + "\n" + body + "\n"
		if used+len(text) > budget {
			truncated = true
			return false
		}
		sections = append(sections, text)
		used += len(text)
		return true
	}

	liveContext, err := r.liveContext(ctx)
	if err != nil {
		return Answer{}, fmt.Errorf("live context: %w", err)
	}
	if !appendSection("Live project context", liveContext) {
		return r.finish(sections, chunks, truncated, false), nil
	}

	liveTasks, err := r.keywordTasks(ctx, query)
	if err != nil {
		return Answer{}, fmt.Errorf("keyword tasks: %w", err)
	}
	if !appendSection("Matching tasks", liveTasks) {
		return r.finish(sections, chunks, truncated, false), nil
	}

	degraded := r.vectorAvailable != nil && !r.vectorAvailable()
	if !degraded && r.vector != nil && r.provider != nil {
		hits, hitChunks, err := r.vectorTopK(ctx, query)
		if err != nil {
			return Answer{}, fmt.Errorf("vector top-k: %w", err)
		}
		chunks = hitChunks
		appendSection("Retrieved chunks", hits)
	}

	return r.finish(sections, chunks, truncated, degraded), nil
}

func (r *Retriever) finish(sections []string, chunks []ChunkRow, truncated, degraded bool) Answer {
	text := strings.Join(sections, "\n")
	if truncated {
		text += "\n[truncated: token budget exceeded]"
	}
	return Answer{Text: text, Chunks: chunks, Truncated: truncated, DegradedNoVector: degraded}
}

func (r *Retriever) liveContext(ctx context.Context) (string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT key, value FROM project_context ORDER BY last_updated DESC LIMIT 5")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var b strings.Builder
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "- %s: %s\n", key, value)
	}
	return b.String(), rows.Err()
}

func (r *Retriever) keywordTasks(ctx context.Context, query string) (string, error) {
	words := significantWords(query)
	if len(words) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(words)*2)
	args := make([]any, 0, len(words)*2)
	for _, w := range words {
		clauses = append(clauses, "LOWER(title) LIKE ? OR LOWER(description) LIKE ?")
		args = append(args, "%"+w+"%", "%"+w+"%")
	}
	q := "SELECT title, description FROM tasks WHERE (" + strings.Join(clauses, ") OR (") +
		") ORDER BY updated_at DESC LIMIT 5"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var b strings.Builder
	for rows.Next() {
		var title, desc string
		if err := rows.Scan(&title, &desc); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "- %s: %s\n", title, desc)
	}
	return b.String(), rows.Err()
}

func significantWords(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

func (r *Retriever) vectorTopK(ctx context.Context, query string) (string, []ChunkRow, error) {
	vecs, err := r.provider.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return "", nil, err
	}
	hits, err := r.vector.Query(ctx, vecs[0], r.cfg.K)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	var chunks []ChunkRow
	for _, h := range hits {
		var id int64
		if _, err := fmt.Sscanf(h.ChunkID, "%d", &id); err != nil {
			continue
		}
		c, err := getChunk(ctx, r.db, id)
		if err != nil {
			continue
		}
		chunks = append(chunks, *c)
		fmt.Fprintf(&b, "- [%s] %s\n", c.SourceRef, c.Text)
	}
	return b.String(), chunks, nil
}
