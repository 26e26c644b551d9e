package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/knowledge"
	"github.com/agent-mcp/agentmcp/pkg/provider"
	"github.com/agent-mcp/agentmcp/pkg/store"
)

// ToolInfo narrows the tool registry to what the admin endpoints need.
// transport depends on this interface rather than pkg/tool directly,
// since pkg/tool already imports transport for session/dependency
// wiring and a direct import back would cycle.
type ToolInfo interface {
	EnabledCategories() []config.ToolCategory
	SetEnabledCategories([]config.ToolCategory)
	Count() int
}

// Indexer narrows the knowledge indexer to what /stats reports.
type Indexer interface {
	LastCycle() (knowledge.CycleStats, time.Time)
}

// AdminDeps wires the read-only surfaces the /health, /stats,
// /sessions, and /config endpoints report on. The routes are always
// mounted; a nil dep only leaves out what it would have reported (with
// no Tools, /config reports no categories and refuses updates).
type AdminDeps struct {
	Store    *store.Store
	Indexer  Indexer
	Tools    ToolInfo
	Provider *provider.Adapter
}

// SetAdmin attaches the admin surface the admin routes report on. Call
// before Start.
func (s *Server) SetAdmin(deps AdminDeps) {
	s.admin = deps
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if s.admin.Store != nil {
		h, err := s.admin.Store.Health(r.Context())
		if err != nil {
			writeError(w, nil, "", err)
			return
		}
		resp["vector_available"] = h.VectorAvailable
	}
	if s.admin.Tools != nil {
		resp["enabled_categories"] = s.admin.Tools.EnabledCategories()
		resp["tool_count"] = s.admin.Tools.Count()
	}
	writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}
	if s.admin.Store != nil {
		h, err := s.admin.Store.Health(r.Context())
		if err != nil {
			writeError(w, nil, "", err)
			return
		}
		resp["tables"] = h.Tables
		resp["vector_available"] = h.VectorAvailable
	}
	if s.admin.Indexer != nil {
		stats, lastRun := s.admin.Indexer.LastCycle()
		indexing := map[string]interface{}{
			"sources_scanned": stats.SourcesScanned,
			"sources_changed": stats.SourcesChanged,
			"chunks_written":  stats.ChunksWritten,
			"skipped":         stats.Skipped,
		}
		if !lastRun.IsZero() {
			indexing["last_run"] = lastRun.UTC().Format(time.RFC3339)
		}
		resp["indexing"] = indexing
	}
	if s.admin.Provider != nil {
		resp["embedding_dimension"] = s.admin.Provider.TargetDimension()
	}
	if s.admin.Tools != nil {
		resp["enabled_categories"] = s.admin.Tools.EnabledCategories()
		resp["tool_count"] = s.admin.Tools.Count()
	}
	writeJSON(w, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	counts, err := s.sessions.Counts(r.Context())
	if err != nil {
		writeError(w, nil, "", err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"live":    counts.Live,
		"idle":    counts.Idle,
		"expired": counts.Expired,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.admin.Tools == nil {
		writeJSON(w, map[string]interface{}{"enabled_categories": []config.ToolCategory{}})
		return
	}
	writeJSON(w, map[string]interface{}{"enabled_categories": s.admin.Tools.EnabledCategories()})
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolveIdentity(r)
	if err != nil {
		writeError(w, nil, "", err)
		return
	}
	if identity.Role != auth.RoleAdmin {
		writeError(w, nil, "", auth.ErrUnauthorized)
		return
	}
	if s.admin.Tools == nil {
		writeBadRequest(w, nil, "", "tool registry not available")
		return
	}

	var body struct {
		EnabledCategories []config.ToolCategory `json:"enabled_categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, nil, "", "invalid request body")
		return
	}

	s.admin.Tools.SetEnabledCategories(body.EnabledCategories)
	writeJSON(w, map[string]interface{}{"enabled_categories": s.admin.Tools.EnabledCategories()})
}
