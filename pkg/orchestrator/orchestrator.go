// Package orchestrator sequences the server's boot and shutdown:
// store, duplicate-phase check, provider, vector index, indexer,
// session store, tool registry, transport, in that order, with the
// background tasks sharing one cancellation signal via errgroup.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agent-mcp/agentmcp/pkg/agent"
	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/contextstore"
	"github.com/agent-mcp/agentmcp/pkg/knowledge"
	"github.com/agent-mcp/agentmcp/pkg/metrics"
	"github.com/agent-mcp/agentmcp/pkg/mux"
	"github.com/agent-mcp/agentmcp/pkg/provider"
	"github.com/agent-mcp/agentmcp/pkg/resource"
	"github.com/agent-mcp/agentmcp/pkg/store"
	"github.com/agent-mcp/agentmcp/pkg/task"
	"github.com/agent-mcp/agentmcp/pkg/tool"
	"github.com/agent-mcp/agentmcp/pkg/transport"
)

// ErrDuplicateActivePhase is returned at boot when more than one root
// task is simultaneously in_progress, rather than silently picking one.
var ErrDuplicateActivePhase = fmt.Errorf("store: more than one phase is active")

// Orchestrator owns every long-lived component and the background
// tasks running against them.
type Orchestrator struct {
	cfg *config.Config

	store     *store.Store
	auth      *auth.Auth
	sup       *agent.Supervisor
	tasks     *task.Store
	ctxStore  *contextstore.Store
	providers *provider.Adapter
	vector    *knowledge.VectorIndex
	indexer   *knowledge.Indexer
	retriever *knowledge.Retriever
	sessions  *transport.SessionStore
	registry  *tool.Registry
	server    *transport.Server
	resources *resource.Surface
	metrics   *metrics.Metrics

	shutdownTracer func(context.Context) error
}

// Boot builds every component from the already loaded cfg, in this
// order: tracing, store, duplicate-active-phase check, auth/supervisor/
// task/context stores, provider chain, vector index, indexer and
// retriever, session store, resource surface, tool registry, transport
// server. Run starts accepting requests.
func Boot(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	shutdownTracer, err := initTracer(ctx, cfg.Trace)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	dbPath := cfg.ProjectDir + "/.agentmcp/agentmcp.db"
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := refuseDuplicateActivePhase(ctx, st); err != nil {
		st.Close()
		return nil, err
	}

	db := st.DB()
	a := auth.New(db)
	m := mux.New(cfg.MultiplexerBin)
	sup := agent.NewSupervisor(db, m)
	tasks := task.New(db)
	ctxStore := contextstore.New(db)

	chain, err := buildProviderChain(cfg.Provider)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening provider: %w", err)
	}
	adapter := provider.NewAdapter(chain, cfg.Provider.TargetDim)

	vectorPath := cfg.ProjectDir + "/.agentmcp/vectors"
	vector, err := knowledge.OpenVectorIndex(vectorPath)
	vectorAvailable := err == nil
	st.SetVectorAvailable(vectorAvailable)
	if err != nil {
		slog.Warn("vector index unavailable, retriever degrades to keyword-only", "error", err)
	}

	indexer := knowledge.NewIndexer(db, vector, adapter, knowledge.IndexerConfig{
		ProjectDir:      cfg.ProjectDir,
		ChunkWindow:     cfg.Indexing.ChunkWindow,
		ChunkOverlap:    cfg.Indexing.ChunkOverlap,
		MaxBatchSources: cfg.Indexing.MaxBatchSources,
		AdvancedCode:    cfg.Indexing.AdvancedCode,
	})
	retriever := knowledge.NewRetriever(db, vector, adapter, knowledge.RetrieverConfig{
		K: cfg.Retrieval.K, MaxContextTokens: cfg.Retrieval.MaxContextTokens,
	}, st.VectorAvailable)

	sessions := transport.NewSessionStore(db,
		time.Duration(cfg.Transport.GracePeriodMinutes)*time.Minute,
		time.Duration(cfg.Transport.IdleAfterSeconds)*time.Second)

	metricsRegistry := metrics.New("agentmcp")
	surface := resource.New(db, sup, tasks)

	registry, err := tool.BuildRegistry(cfg, &tool.Supervisors{Agents: sup}, tasks, ctxStore, retriever, indexer, sessions, surface, metricsRegistry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	server := transport.NewServer(transport.Config{
		Address:       fmt.Sprintf(":%d", cfg.Port),
		GracePeriod:   time.Duration(cfg.Transport.GracePeriodMinutes) * time.Minute,
		SweepInterval: time.Duration(cfg.Transport.SweepIntervalSeconds) * time.Second,
		IdleAfter:     time.Duration(cfg.Transport.IdleAfterSeconds) * time.Second,
	}, a, sessions, registry)
	server.SetAdmin(transport.AdminDeps{Store: st, Indexer: indexer, Tools: registry, Provider: adapter})
	server.SetMetricsHandler(metricsRegistry.Handler())
	server.SetMetrics(metricsRegistry)

	return &Orchestrator{
		cfg: cfg, store: st, auth: a, sup: sup, tasks: tasks, ctxStore: ctxStore,
		providers: adapter, vector: vector, indexer: indexer, retriever: retriever,
		sessions: sessions, registry: registry, server: server, resources: surface,
		metrics: metricsRegistry, shutdownTracer: shutdownTracer,
	}, nil
}

// Resources exposes the read-only surface built during Boot, for the
// admin endpoints to render.
func (o *Orchestrator) Resources() *resource.Surface { return o.resources }

// Metrics exposes the registry built during Boot, for the /metrics
// admin endpoint to serve.
func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }

// Store exposes the opened store, for the /health admin endpoint.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Sessions exposes the session store, for the /sessions admin endpoint.
func (o *Orchestrator) Sessions() *transport.SessionStore { return o.sessions }

// Run starts every background task and the transport server under one
// shared cancellation signal, and blocks until ctx is cancelled or any
// task fails. On return, the store is already closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.store.Close()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.shutdownTracer(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if o.cfg.Indexing.Enabled {
		g.Go(func() error { return o.runIndexTimer(gctx) })
		if o.cfg.Indexing.WatchProjectDir {
			g.Go(func() error { return o.indexer.WatchProjectDir(gctx, 2*time.Second) })
		}
	}

	g.Go(func() error { return o.runWorkerHealthTimer(gctx) })
	g.Go(func() error { return o.server.RunSweeper(gctx) })
	g.Go(func() error { return o.server.Start(gctx) })

	err := g.Wait()
	if err != nil && (errorsIsCancel(err)) {
		return nil
	}
	return err
}

func errorsIsCancel(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

func (o *Orchestrator) runIndexTimer(ctx context.Context) error {
	if o.cfg.Indexing.WarmupSeconds > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(o.cfg.Indexing.WarmupSeconds) * time.Second):
		}
	}

	ticker := time.NewTicker(time.Duration(o.cfg.Indexing.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	runOnce := func() {
		start := time.Now()
		stats, err := o.indexer.RunCycle(ctx)
		if err != nil {
			slog.Warn("index cycle failed", "error", err)
			return
		}
		o.metrics.RecordIndexCycle(time.Since(start), stats.Skipped)
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

// runWorkerHealthTimer periodically reconciles agent status against the
// multiplexer's live session list, marking agents failed whose worker
// session has disappeared out from under them.
func (o *Orchestrator) runWorkerHealthTimer(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(o.cfg.Agent.HealthCheckIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.sup.CheckWorkerHealth(ctx); err != nil {
				slog.Warn("worker health check failed", "error", err)
			}
		}
	}
}

func buildProviderChain(cfg config.ProviderConfig) ([]provider.Provider, error) {
	primary, err := provider.New(cfg.Variant)
	if err != nil {
		return nil, err
	}
	chain := []provider.Provider{primary}
	for _, variant := range cfg.FallbackTo {
		p, err := provider.New(variant)
		if err != nil {
			return nil, fmt.Errorf("fallback provider %q: %w", variant, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// refuseDuplicateActivePhase scans for more than one root task
// in_progress at once and refuses to boot rather than silently
// compacting state an operator may still be relying on.
func refuseDuplicateActivePhase(ctx context.Context, st *store.Store) error {
	var ids []string
	err := st.Read(ctx, func(db *sql.DB) error {
		rows, qerr := db.QueryContext(ctx,
			"SELECT id FROM tasks WHERE parent_task IS NULL AND status = 'in_progress'")
		if qerr != nil {
			return fmt.Errorf("checking active phases: %w", qerr)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return err
	}

	if len(ids) > 1 {
		slog.Error("refusing to boot: multiple active phases", "phase_ids", ids)
		return fmt.Errorf("%w: %v", ErrDuplicateActivePhase, ids)
	}
	return nil
}
