package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agent-mcp/agentmcp/pkg/auth"
	"github.com/agent-mcp/agentmcp/pkg/metrics"
)

// Dispatcher executes one named tool call on behalf of a resolved
// identity. The tool registry implements this; transport depends only
// on the interface so the wire layer never imports tool handlers
// directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, identity auth.Identity, method string, params map[string]interface{}) (interface{}, error)
}

// Config configures the HTTP server.
type Config struct {
	Address       string
	GracePeriod   time.Duration
	SweepInterval time.Duration
	IdleAfter     time.Duration
	ShutdownDrain time.Duration
}

func (c *Config) setDefaults() {
	if c.Address == "" {
		c.Address = ":3001"
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 5 * time.Minute
	}
	if c.ShutdownDrain <= 0 {
		c.ShutdownDrain = 10 * time.Second
	}
}

// Server is the streamable HTTP endpoint plus legacy SSE fallback.
type Server struct {
	cfg        Config
	auth       *auth.Auth
	sessions   *SessionStore
	dispatcher Dispatcher
	httpServer *http.Server
	metricsH   http.Handler
	metrics    *metrics.Metrics
	admin      AdminDeps
}

func NewServer(cfg Config, a *auth.Auth, sessions *SessionStore, dispatcher Dispatcher) *Server {
	cfg.setDefaults()
	return &Server{cfg: cfg, auth: a, sessions: sessions, dispatcher: dispatcher}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/stream", s.handleCreateStream)
	r.Post("/message", s.handlePostMessage)
	r.Post("/close", s.handleClose)
	r.Get("/sse", s.handleLegacySSE)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/sessions", s.handleSessions)
	r.Get("/config", s.handleGetConfig)
	r.Post("/config", s.handlePostConfig)

	if s.metricsH != nil {
		r.Handle("/metrics", s.metricsH)
	}
	return r
}

// SetMetricsHandler mounts the Prometheus handler at /metrics. Call
// before Start.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metricsH = h
}

// SetMetrics attaches the recorder RunSweeper reports session counts
// to. Nil-safe on both sides: an unset recorder means no gauges move.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Request is the single wire envelope: a correlation id, a method
// name, a parameters object matching the tool schema, and an optional
// session id.
type Request struct {
	ID        interface{}            `json:"id"`
	Method    string                 `json:"method"`
	Params    map[string]interface{} `json:"params,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// Response is either a success payload or a structured error.
type Response struct {
	ID        interface{} `json:"id"`
	SessionID string      `json:"session_id"`
	Result    interface{} `json:"result,omitempty"`
	Error     *WireError  `json:"error,omitempty"`
}

// Start runs the HTTP server until ctx is cancelled, then drains and
// shuts down within the configured deadline.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.cfg.Address, Handler: s.router()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("transport listening", "address", s.cfg.Address)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownDrain)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("transport shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// RunSweeper runs the background session sweeper every SweepInterval
// until ctx is cancelled.
func (s *Server) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.sessions.Sweep(ctx)
			if err != nil {
				slog.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("session sweep purged expired sessions", "count", n)
			}
			if counts, err := s.sessions.Counts(ctx); err == nil {
				s.metrics.SetSessionCounts(counts.Live, counts.Idle, counts.Expired)
			}
		}
	}
}

func (s *Server) resolveIdentity(r *http.Request) (auth.Identity, error) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	}
	return s.auth.Verify(r.Context(), token)
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolveIdentity(r)
	if err != nil {
		writeError(w, nil, "", err)
		return
	}
	var body struct {
		SessionID string `json:"session_id,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var bound *string
	if identity.Role == auth.RoleAgent {
		bound = &identity.AgentID
	}
	sess, err := s.sessions.Open(r.Context(), body.SessionID, bound)
	if err != nil {
		writeError(w, nil, body.SessionID, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"session_id": sess.ID,
		"expires_at": sess.ExpiresAt,
	})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	identity, err := s.resolveIdentity(r)
	if err != nil {
		writeError(w, nil, "", err)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, nil, "", "invalid request body")
		return
	}
	if _, err := s.sessions.Heartbeat(r.Context(), req.SessionID); err != nil {
		writeError(w, req.ID, req.SessionID, err)
		return
	}

	ctx := WithSessionID(r.Context(), req.SessionID)
	result, err := s.dispatcher.Dispatch(ctx, identity, req.Method, req.Params)
	if err != nil {
		writeError(w, req.ID, req.SessionID, err)
		return
	}
	writeJSON(w, Response{ID: req.ID, SessionID: req.SessionID, Result: result})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, nil, "", "invalid request body")
		return
	}
	if err := s.sessions.Close(r.Context(), body.SessionID); err != nil {
		writeError(w, nil, body.SessionID, err)
		return
	}
	writeJSON(w, map[string]string{"status": "closed"})
}

// handleLegacySSE is the server-pushed-event-stream fallback: one
// request carries its method and session id as query parameters, and
// the response streams a single event before closing. The tool is
// dispatched with nil params; this route passes no tool arguments.
func (s *Server) handleLegacySSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	identity, err := s.resolveIdentity(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	method := r.URL.Query().Get("method")
	sessionID := r.URL.Query().Get("session_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := s.sessions.Heartbeat(r.Context(), sessionID); err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", mustJSON(WireError{Code: errorCode(err), Message: err.Error()}))
		flusher.Flush()
		return
	}

	ctx := WithSessionID(r.Context(), sessionID)
	result, err := s.dispatcher.Dispatch(ctx, identity, method, nil)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", mustJSON(WireError{Code: errorCode(err), Message: err.Error()}))
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", mustJSON(result))
	flusher.Flush()
}

func writeBadRequest(w http.ResponseWriter, id interface{}, sessionID, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(Response{
		ID:        id,
		SessionID: sessionID,
		Error:     &WireError{Code: "bad_request", Message: message},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, id interface{}, sessionID string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(errorCode(err)))
	_ = json.NewEncoder(w).Encode(Response{
		ID:        id,
		SessionID: sessionID,
		Error:     &WireError{Code: errorCode(err), Message: err.Error()},
	})
}

func statusFor(code string) int {
	switch code {
	case "unauthorized":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "bad_request", "dependency_missing":
		return http.StatusBadRequest
	case "provider_unavailable", "store_unavailable":
		return http.StatusServiceUnavailable
	case "cancelled":
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"encoding failure"}`)
	}
	return data
}
