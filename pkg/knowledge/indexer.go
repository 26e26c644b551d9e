package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agent-mcp/agentmcp/pkg/provider"
)

var defaultDenylist = []string{".git", "node_modules", "vendor", "dist", "build", ".agentmcp"}

var indexableExtensions = map[string]bool{
	".md": true, ".markdown": true, ".go": true, ".py": true, ".js": true,
	".ts": true, ".java": true, ".rs": true, ".rb": true, ".c": true, ".cpp": true,
	".h": true, ".yaml": true, ".yml": true, ".json": true, ".txt": true,
}

// IndexerConfig mirrors config.IndexingConfig without importing the
// config package, keeping knowledge free of a dependency on CLI wiring.
type IndexerConfig struct {
	ProjectDir      string
	ChunkWindow     int
	ChunkOverlap    int
	MaxBatchSources int
	AdvancedCode    bool
	Denylist        []string
}

// Indexer runs the scan/hash/chunk/embed/upsert cycle described for
// markdown, code, project-context, and task sources.
type Indexer struct {
	db       *sql.DB
	vector   *VectorIndex
	provider *provider.Adapter
	cfg      IndexerConfig

	mu        sync.Mutex
	running   bool
	lastStats CycleStats
	lastRun   time.Time
}

func NewIndexer(db *sql.DB, vector *VectorIndex, p *provider.Adapter, cfg IndexerConfig) *Indexer {
	if cfg.ChunkWindow <= 0 {
		cfg.ChunkWindow = 800
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 100
	}
	if cfg.MaxBatchSources <= 0 {
		cfg.MaxBatchSources = 10
	}
	if len(cfg.Denylist) == 0 {
		cfg.Denylist = defaultDenylist
	}
	return &Indexer{db: db, vector: vector, provider: p, cfg: cfg}
}

// CycleStats summarizes one run of RunCycle.
type CycleStats struct {
	SourcesScanned int
	SourcesChanged int
	ChunksWritten  int
	Skipped        bool
}

// RunCycle performs one indexing pass. Concurrent calls while a cycle
// is already running are coalesced: the new request is dropped rather
// than queued, since the next scheduled cycle will pick up any writes
// that happened in the meantime.
func (ix *Indexer) RunCycle(ctx context.Context) (CycleStats, error) {
	ix.mu.Lock()
	if ix.running {
		ix.mu.Unlock()
		return CycleStats{Skipped: true}, nil
	}
	ix.running = true
	ix.mu.Unlock()
	defer func() {
		ix.mu.Lock()
		ix.running = false
		ix.mu.Unlock()
	}()

	var stats CycleStats
	defer func() {
		ix.mu.Lock()
		ix.lastStats = stats
		ix.lastRun = time.Now()
		ix.mu.Unlock()
	}()

	fileSources, err := ix.scanFiles(ctx)
	if err != nil {
		return stats, fmt.Errorf("scanning files: %w", err)
	}
	contextSources, err := ix.scanContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("scanning project context: %w", err)
	}
	taskSources, err := ix.scanTasks(ctx)
	if err != nil {
		return stats, fmt.Errorf("scanning tasks: %w", err)
	}

	all := append(append(fileSources, contextSources...), taskSources...)
	stats.SourcesScanned = len(all)

	for i := 0; i < len(all); i += ix.cfg.MaxBatchSources {
		end := i + ix.cfg.MaxBatchSources
		if end > len(all) {
			end = len(all)
		}
		changed, chunksWritten, err := ix.indexBatch(ctx, all[i:end])
		if err != nil {
			return stats, err
		}
		stats.SourcesChanged += changed
		stats.ChunksWritten += chunksWritten
	}

	now := time.Now().UTC().Format(time.RFC3339)
	err = withTx(ctx, ix.db, func(tx *sql.Tx) error {
		for _, t := range []string{"markdown", "code", "context", "task"} {
			if err := setMetadata(ctx, tx, "last_indexed_"+t, now); err != nil {
				return err
			}
		}
		return nil
	})
	return stats, err
}

// LastCycle reports the stats and completion time of the most recent
// RunCycle, for the /stats admin endpoint. The zero time means no
// cycle has completed yet.
func (ix *Indexer) LastCycle() (CycleStats, time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastStats, ix.lastRun
}

type rawSource struct {
	sourceType string
	sourceRef  string
	content    string
}

func (ix *Indexer) scanFiles(ctx context.Context) ([]rawSource, error) {
	if ix.cfg.ProjectDir == "" {
		return nil, nil
	}
	lastMarkdown, err := lastIndexedTime(ctx, ix.db, "markdown")
	if err != nil {
		return nil, err
	}
	lastCode, err := lastIndexedTime(ctx, ix.db, "code")
	if err != nil {
		return nil, err
	}

	var out []rawSource
	err = filepath.Walk(ix.cfg.ProjectDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if ix.denied(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !indexableExtensions[ext] {
			return nil
		}
		sourceType := "code"
		if ext == ".md" || ext == ".markdown" {
			sourceType = "markdown"
		}
		threshold := lastCode
		if sourceType == "markdown" {
			threshold = lastMarkdown
		}
		if info.ModTime().Before(threshold) || info.ModTime().Equal(threshold) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable source", "path", path, "error", err)
			return nil
		}
		rel, _ := filepath.Rel(ix.cfg.ProjectDir, path)
		out = append(out, rawSource{sourceType: sourceType, sourceRef: rel, content: string(data)})
		return nil
	})
	return out, err
}

func (ix *Indexer) denied(name string) bool {
	for _, d := range ix.cfg.Denylist {
		if name == d {
			return true
		}
	}
	return false
}

// walkDirs visits root and every non-denied subdirectory, invoking fn
// once per directory. Used to register an fsnotify watch on each
// directory, since fsnotify has no built-in recursive mode.
func walkDirs(root string, denied map[string]bool, fn func(dir string) error) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if denied[info.Name()] {
			return filepath.SkipDir
		}
		return fn(path)
	})
}

func (ix *Indexer) scanContext(ctx context.Context) ([]rawSource, error) {
	last, err := lastIndexedTime(ctx, ix.db, "context")
	if err != nil {
		return nil, err
	}
	rows, err := ix.db.QueryContext(ctx,
		"SELECT key, value, description FROM project_context WHERE last_updated > ?", last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rawSource
	for rows.Next() {
		var key, value, desc string
		if err := rows.Scan(&key, &value, &desc); err != nil {
			return nil, err
		}
		out = append(out, rawSource{sourceType: "context", sourceRef: "context:" + key, content: desc + "\n" + value})
	}
	return out, rows.Err()
}

func (ix *Indexer) scanTasks(ctx context.Context) ([]rawSource, error) {
	last, err := lastIndexedTime(ctx, ix.db, "task")
	if err != nil {
		return nil, err
	}
	rows, err := ix.db.QueryContext(ctx,
		"SELECT id, title, description FROM tasks WHERE updated_at > ?", last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rawSource
	for rows.Next() {
		var id, title, desc string
		if err := rows.Scan(&id, &title, &desc); err != nil {
			return nil, err
		}
		out = append(out, rawSource{sourceType: "task", sourceRef: "task:" + id, content: title + "\n" + desc})
	}
	return out, rows.Err()
}

// indexBatch re-chunks and re-embeds every source in the batch whose
// content hash changed since the last cycle. The batch's chunk rows are
// written in one transaction; embeddings are upserted into the vector
// index under the same chunk ids only after that commit and are not
// part of it: an upsert failure is logged and leaves its chunk without
// an embedding, and nothing is upserted when the vector index is
// absent or the embedding count differs from the chunk count.
func (ix *Indexer) indexBatch(ctx context.Context, batch []rawSource) (changed int, chunksWritten int, err error) {
	var toEmbed []rawSource
	for _, src := range batch {
		hash := sourceHash(src.content)
		prev, err := storedHash(ctx, ix.db, src.sourceRef)
		if err != nil {
			return changed, chunksWritten, err
		}
		if prev == hash {
			continue
		}
		toEmbed = append(toEmbed, src)
	}
	if len(toEmbed) == 0 {
		return 0, 0, nil
	}

	type pending struct {
		source rawSource
		chunks []Chunk
	}
	var plan []pending
	var texts []string
	for _, src := range toEmbed {
		chunks := ChunkText(src.content, ChunkerConfig{Window: ix.cfg.ChunkWindow, Overlap: ix.cfg.ChunkOverlap})
		plan = append(plan, pending{source: src, chunks: chunks})
		for _, c := range chunks {
			texts = append(texts, c.Text)
		}
	}

	var vectors [][]float32
	if ix.provider != nil && len(texts) > 0 {
		vectors, err = ix.provider.Embed(ctx, texts)
		if err != nil {
			return changed, chunksWritten, fmt.Errorf("embedding batch: %w", err)
		}
	}

	type insertedChunk struct {
		id   int64
		text string
	}
	var inserted []insertedChunk

	err = withTx(ctx, ix.db, func(tx *sql.Tx) error {
		vi := 0
		for _, p := range plan {
			deletedIDs, err := deleteChunksForSource(ctx, tx, p.source.sourceRef)
			if err != nil {
				return err
			}
			for _, id := range deletedIDs {
				if ix.vector != nil {
					if delErr := ix.vector.Delete(ctx, fmt.Sprintf("%d", id)); delErr != nil {
						slog.Warn("failed to delete stale embedding", "chunk_id", id, "error", delErr)
					}
				}
			}
			if err := setMetadata(ctx, tx, "hash_"+p.source.sourceRef, sourceHash(p.source.content)); err != nil {
				return err
			}
			for _, c := range p.chunks {
				id, err := insertChunk(ctx, tx, chunkInsert{
					sourceType: p.source.sourceType,
					sourceRef:  p.source.sourceRef,
					text:       c.Text,
					metadata:   map[string]any{"index": c.Index, "total": c.Total},
				})
				if err != nil {
					return err
				}
				inserted = append(inserted, insertedChunk{id: id, text: c.Text})
				vi++
			}
		}
		changed = len(toEmbed)
		chunksWritten = len(inserted)
		return nil
	})
	if err != nil {
		return changed, chunksWritten, err
	}

	if ix.vector != nil && len(vectors) == len(inserted) {
		for i, c := range inserted {
			meta := map[string]string{}
			if err := ix.vector.Upsert(ctx, fmt.Sprintf("%d", c.id), vectors[i], c.text, meta); err != nil {
				slog.Warn("failed to upsert embedding", "chunk_id", c.id, "error", err)
			}
		}
	}
	return changed, chunksWritten, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
