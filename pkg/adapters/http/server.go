package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/aretw0/mcpecho/pkg/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Registry is the registry surface the admin API reads from.
type Registry interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Remove(ctx context.Context, sessionID string) (bool, error)
	List(ctx context.Context) ([]*domain.Session, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Len(ctx context.Context) int
}

// Server implements ServerInterface over the session registry.
type Server struct {
	registry Registry
	logger   *slog.Logger
	version  string
	now      func() time.Time

	mcpPath    string
	mcpHandler http.Handler
	metrics    http.Handler
}

// Ensure Server implements ServerInterface
var _ ServerInterface = (*Server)(nil)

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMCP mounts the MCP transport at path.
func WithMCP(path string, h http.Handler) Option {
	return func(s *Server) {
		s.mcpPath = path
		s.mcpHandler = h
	}
}

// WithMetrics exposes h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewHandler creates the HTTP handler: MCP transport, admin API, health,
// metrics and the OpenAPI document.
func NewHandler(registry Registry, opts ...Option) http.Handler {
	s := &Server{
		registry: registry,
		logger:   logging.NewNop(),
		version:  "dev",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		spec, err := rawSpec()
		if err != nil {
			http.Error(w, "Failed to load spec", http.StatusInternalServerError)
			s.logger.Error("Failed to load OpenAPI spec", "err", err)
			return
		}
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(spec)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.mcpHandler != nil {
		r.Handle(s.mcpPath, s.mcpHandler)
	}

	handler := HandlerFromMux(s, r)
	return enableCORS(handler)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Mcp-Session-Id, Mcp-Protocol-Version")
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	AgeSeconds   float64   `json:"age_seconds"`
	IdleSeconds  float64   `json:"idle_seconds"`
	RequestCount int       `json:"request_count"`
	Initialized  bool      `json:"initialized"`
	Client       string    `json:"client,omitempty"`
	StateKeys    int       `json:"state_keys"`
}

// StatsResponse is the registry summary.
type StatsResponse struct {
	Count            int     `json:"count"`
	TotalRequests    int     `json:"total_requests"`
	Initialized      int     `json:"initialized"`
	OldestAgeSeconds float64 `json:"oldest_age_seconds"`
	NewestAgeSeconds float64 `json:"newest_age_seconds"`
}

// SessionList is the body of GET /admin/sessions.
type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
	Stats    StatsResponse    `json:"stats"`
}

// SessionDetail is the body of GET /admin/sessions/{id}.
type SessionDetail struct {
	SessionSummary
	ProtocolVersion string         `json:"protocol_version,omitempty"`
	Pattern         string         `json:"pattern"`
	State           map[string]any `json:"state"`
	Metadata        map[string]any `json:"metadata"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) summarize(sess *domain.Session, now time.Time) SessionSummary {
	out := SessionSummary{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		AgeSeconds:   sess.Age(now).Seconds(),
		IdleSeconds:  sess.Idle(now).Seconds(),
		RequestCount: sess.RequestCount,
		Initialized:  sess.Initialized,
		StateKeys:    len(sess.State),
	}
	if sess.ClientInfo != nil {
		out.Client = sess.ClientInfo.Name
		if sess.ClientInfo.Version != "" {
			out.Client += "/" + sess.ClientInfo.Version
		}
	}
	return out
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(r.Context()),
	})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "mcpecho",
		"version":     s.version,
		"api_version": apiVersion,
	})
}

// ListSessions handles the GET /admin/sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		s.logger.Error("ListSessions failed", "err", err)
		return
	}
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		s.logger.Error("Stats failed", "err", err)
		return
	}

	now := s.now()
	resp := SessionList{
		Sessions: make([]SessionSummary, 0, len(sessions)),
		Stats: StatsResponse{
			Count:            stats.Count,
			TotalRequests:    stats.TotalRequests,
			Initialized:      stats.Initialized,
			OldestAgeSeconds: stats.OldestAge.Seconds(),
			NewestAgeSeconds: stats.NewestAge.Seconds(),
		},
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, s.summarize(sess, now))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles the GET /admin/sessions/{id} request.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request, id string, params GetSessionParams) {
	raw := ""
	if params.Pattern != nil {
		raw = *params.Pattern
	}
	pattern, err := state.CompilePattern(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		s.logger.Error("GetSession failed", "session_id", id, "err", err)
		return
	}

	filtered := make(map[string]any)
	for k, v := range sess.State {
		if pattern.Match(k) {
			filtered[k] = v
		}
	}

	writeJSON(w, http.StatusOK, SessionDetail{
		SessionSummary:  s.summarize(sess, s.now()),
		ProtocolVersion: sess.ProtocolVersion,
		Pattern:         pattern.String(),
		State:           filtered,
		Metadata:        sess.Metadata,
	})
}

// DeleteSession handles the DELETE /admin/sessions/{id} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request, id string) {
	removed, err := s.registry.Remove(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove session")
		s.logger.Error("DeleteSession failed", "session_id", id, "err", err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Info("Session removed via admin API", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
