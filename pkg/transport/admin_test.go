package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/knowledge"
	"github.com/agent-mcp/agentmcp/pkg/provider"
	"github.com/agent-mcp/agentmcp/pkg/store"
)

type fakeTools struct {
	enabled []config.ToolCategory
	count   int
}

func (f *fakeTools) EnabledCategories() []config.ToolCategory        { return f.enabled }
func (f *fakeTools) SetEnabledCategories(cats []config.ToolCategory) { f.enabled = cats }
func (f *fakeTools) Count() int                                      { return f.count }

type fakeIndexer struct {
	stats   knowledge.CycleStats
	lastRun time.Time
}

func (f *fakeIndexer) LastCycle() (knowledge.CycleStats, time.Time) { return f.stats, f.lastRun }

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeTools, string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir()+"/admin.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	a := auth.New(st.DB())
	adminToken, err := a.EnsureAdminToken(ctx)
	require.NoError(t, err)

	sessions := NewSessionStore(st.DB(), time.Minute, time.Minute)
	tools := &fakeTools{enabled: []config.ToolCategory{config.CategoryBasic}, count: 3}

	s := NewServer(Config{}, a, sessions, nil)
	s.SetAdmin(AdminDeps{
		Store:    st,
		Indexer:  &fakeIndexer{stats: knowledge.CycleStats{SourcesScanned: 5}, lastRun: time.Now()},
		Tools:    tools,
		Provider: provider.NewAdapter(nil, 1536),
	})
	return s, st, tools, adminToken
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthReportsToolsAndVector(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(3), body["tool_count"])
}

func TestHandleStatsReportsIndexerAndTables(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	indexing, ok := body["indexing"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(5), indexing["sources_scanned"])
	require.Equal(t, float64(1536), body["embedding_dimension"])
}

func TestHandleSessionsReportsCounts(t *testing.T) {
	s, st, _, _ := newTestServer(t)
	_, err := NewSessionStore(st.DB(), time.Minute, time.Minute).Open(context.Background(), "", nil)
	require.NoError(t, err)

	rec := doRequest(s, http.MethodGet, "/sessions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["live"])
}

func TestHandlePostConfigRequiresAdmin(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/config", "", `{"enabled_categories":["rag"]}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlePostConfigUpdatesEnabledCategories(t *testing.T) {
	s, _, tools, adminToken := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/config", adminToken, `{"enabled_categories":["rag","memory"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.ElementsMatch(t, []config.ToolCategory{config.CategoryRAG, config.CategoryMemory}, tools.enabled)

	rec = doRequest(s, http.MethodGet, "/config", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body["enabled_categories"], 2)
}
