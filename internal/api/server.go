// Package api implements the HTTP API: chat, session management, key
// issuance, usage reporting, media ingestion, and the event stream.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parley-agent/parley/internal/agent"
	"github.com/parley-agent/parley/internal/auth"
	"github.com/parley-agent/parley/internal/buildinfo"
	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/media"
	"github.com/parley-agent/parley/internal/session"
	"github.com/parley-agent/parley/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address    string
	port       int
	loop       *agent.Loop
	sessions   *session.Store
	keys       *auth.Store
	usageStore *usage.Store
	mediaStore *media.Store
	bus        *events.Bus
	adminKey   string
	authOff    bool
	logger     *slog.Logger
	server     *http.Server
}

// Options configures optional server dependencies.
type Options struct {
	Keys       *auth.Store
	UsageStore *usage.Store
	MediaStore *media.Store
	Bus        *events.Bus

	// AdminKey, when set, is accepted for any scope. Intended for
	// local operation and bootstrapping the first real key.
	AdminKey string

	// DisableAuth skips key checks entirely. Only sensible for
	// development.
	DisableAuth bool
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, sessions *session.Store, logger *slog.Logger, opts Options) *Server {
	return &Server{
		address:    address,
		port:       port,
		loop:       loop,
		sessions:   sessions,
		keys:       opts.Keys,
		usageStore: opts.UsageStore,
		mediaStore: opts.MediaStore,
		bus:        opts.Bus,
		adminKey:   opts.AdminKey,
		authOff:    opts.DisableAuth,
		logger:     logger,
	}
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive the mux through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.withAuth(auth.ScopeChat, s.handleChat))

	mux.HandleFunc("GET /v1/sessions/{id}", s.withAuth(auth.ScopeSessions, s.handleSessionGet))
	mux.HandleFunc("PATCH /v1/sessions/{id}/config", s.withAuth(auth.ScopeSessions, s.handleSessionConfig))
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.withAuth(auth.ScopeSessions, s.handleSessionDelete))

	mux.HandleFunc("POST /v1/media/load", s.withAuth(auth.ScopeChat, s.handleMediaLoad))
	mux.HandleFunc("GET /v1/media/list", s.withAuth(auth.ScopeChat, s.handleMediaList))
	mux.HandleFunc("GET /v1/media/{id}", s.withAuth(auth.ScopeChat, s.handleMediaGet))
	mux.HandleFunc("POST /v1/media/cleanup", s.withAuth(auth.ScopeAdmin, s.handleMediaCleanup))

	mux.HandleFunc("POST /v1/auth/keys", s.withAuth(auth.ScopeAdmin, s.handleKeyCreate))
	mux.HandleFunc("GET /v1/auth/keys", s.withAuth(auth.ScopeAdmin, s.handleKeyList))
	mux.HandleFunc("DELETE /v1/auth/keys/{id}", s.withAuth(auth.ScopeAdmin, s.handleKeyRevoke))

	mux.HandleFunc("GET /v1/usage/summary", s.withAuth(auth.ScopeAdmin, s.handleUsageSummary))

	mux.HandleFunc("GET /v1/events", s.withAuth(auth.ScopeAdmin, s.handleEvents))

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // chat exchanges and event streams run long
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withAuth enforces the bearer-key check for a scope. Requests pass
// when auth is disabled, when the configured admin key is presented,
// or when the key store validates the presented key for the scope.
func (s *Server) withAuth(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authOff {
			next(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.errorResponse(w, http.StatusUnauthorized, "missing API key")
			return
		}

		if s.adminKey != "" && token == s.adminKey {
			next(w, r)
			return
		}

		if s.keys == nil {
			s.errorResponse(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		_, err := s.keys.Validate(r.Context(), token, scope)
		switch {
		case err == nil:
			next(w, r)
		case errors.Is(err, auth.ErrScopeDenied):
			s.errorResponse(w, http.StatusForbidden, err.Error())
		case errors.Is(err, auth.ErrRateLimited):
			s.errorResponse(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, auth.ErrInvalidKey), errors.Is(err, auth.ErrKeyExpired):
			s.errorResponse(w, http.StatusUnauthorized, err.Error())
		default:
			s.logger.Error("key validation failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "auth check failed")
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Parley",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":   "healthy",
		"sessions": s.sessions.Len(),
	}, s.logger)
}

// ChatRequest is the inbound chat message. Optional fields override
// session configuration for this exchange only.
type ChatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Tools       []string `json:"tools,omitempty"`

	// Persist writes the overrides above back to the session
	// configuration instead of applying them to this exchange only.
	Persist bool `json:"persist,omitempty"`

	// Media lists URLs to ingest and attach to this message.
	Media []string `json:"media,omitempty"`
}

// ChatResponse is the completed exchange.
type ChatResponse struct {
	Reply      string        `json:"reply"`
	SessionID  string        `json:"session_id"`
	Model      string        `json:"model"`
	Iterations int           `json:"iterations"`
	Usage      agent.Usage   `json:"usage"`
	Media      []*media.Item `json:"media,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	message := req.Message
	var attached []*media.Item
	if len(req.Media) > 0 {
		if s.mediaStore == nil {
			s.errorResponse(w, http.StatusBadRequest, "media ingestion is not configured")
			return
		}
		block, items, err := s.ingestMedia(r.Context(), req.Media, req.SessionID)
		if err != nil {
			s.errorResponse(w, http.StatusBadGateway, err.Error())
			return
		}
		attached = items
		message += block
	}

	result, err := s.loop.Run(r.Context(), &agent.Request{
		Message:     message,
		SessionID:   req.SessionID,
		Model:       req.Model,
		Temperature: req.Temperature,
		Tools:       req.Tools,
		Persist:     req.Persist,
	})
	if err != nil {
		s.logger.Error("chat exchange failed", "error", err)
		var budget *agent.IterationBudgetError
		if errors.As(err, &budget) {
			// Include the uncommitted trace so the caller can see how
			// the budget was spent before retrying.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			writeJSON(w, map[string]any{
				"error": map[string]any{
					"message":    err.Error(),
					"code":       http.StatusUnprocessableEntity,
					"iterations": budget.Iterations,
					"trace":      budget.Trace,
				},
			}, s.logger)
			return
		}
		s.errorResponse(w, http.StatusBadGateway, "agent error: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Reply:      result.Reply,
		SessionID:  result.SessionID,
		Model:      result.Model,
		Iterations: result.Iterations,
		Usage:      result.Usage,
		Media:      attached,
	}, s.logger)
}

// maxInlineMedia caps how much extracted text from one attachment is
// inlined into the user message.
const maxInlineMedia = 4000

// ingestMedia fetches each URL and renders an attachment block to
// append to the user message.
func (s *Server) ingestMedia(ctx context.Context, urls []string, sessionID string) (string, []*media.Item, error) {
	var b strings.Builder
	var items []*media.Item
	for _, u := range urls {
		item, err := s.mediaStore.Ingest(ctx, u, sessionID)
		if err != nil {
			return "", nil, fmt.Errorf("ingest media %s: %w", u, err)
		}
		items = append(items, item)

		title := item.Title
		if title == "" {
			title = item.URL
		}
		text := item.ExtractedText
		if len(text) > maxInlineMedia {
			text = text[:maxInlineMedia] + "\n[content truncated]"
		}
		fmt.Fprintf(&b, "\n\n[Attached: %s]\n%s", title, text)
	}
	return b.String(), items, nil
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Snapshot(r.PathValue("id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

func (s *Server) handleSessionConfig(w http.ResponseWriter, r *http.Request) {
	var update session.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := s.sessions.ApplyConfigUpdate(r.Context(), r.PathValue("id"), update)
	if err != nil {
		var notFound *session.NotFoundError
		if errors.As(err, &notFound) {
			s.sessionError(w, err)
			return
		}
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, cfg, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		s.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	var notFound *session.NotFoundError
	if errors.As(err, &notFound) {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	s.errorResponse(w, http.StatusInternalServerError, err.Error())
}

// MediaLoadRequest asks the server to ingest one URL.
type MediaLoadRequest struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleMediaLoad(w http.ResponseWriter, r *http.Request) {
	if s.mediaStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "media ingestion is not configured")
		return
	}
	var req MediaLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		s.errorResponse(w, http.StatusBadRequest, "url is required")
		return
	}

	item, err := s.mediaStore.Ingest(r.Context(), req.URL, req.SessionID)
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, item, s.logger)
}

func (s *Server) handleMediaList(w http.ResponseWriter, r *http.Request) {
	if s.mediaStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "media ingestion is not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	items, err := s.mediaStore.List(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, items, s.logger)
}

func (s *Server) handleMediaGet(w http.ResponseWriter, r *http.Request) {
	if s.mediaStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "media ingestion is not configured")
		return
	}
	item, err := s.mediaStore.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.errorResponse(w, http.StatusNotFound, "media item not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, item, s.logger)
}

// MediaCleanupRequest removes ingested items older than MaxAgeHours.
type MediaCleanupRequest struct {
	MaxAgeHours int `json:"max_age_hours"`
}

func (s *Server) handleMediaCleanup(w http.ResponseWriter, r *http.Request) {
	if s.mediaStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "media ingestion is not configured")
		return
	}
	var req MediaCleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxAgeHours <= 0 {
		req.MaxAgeHours = 24
	}

	cutoff := time.Now().Add(-time.Duration(req.MaxAgeHours) * time.Hour)
	removed, err := s.mediaStore.DeleteOlderThan(r.Context(), cutoff)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"removed": removed}, s.logger)
}

// KeyCreateRequest issues a new API key.
type KeyCreateRequest struct {
	Scopes    []string `json:"scopes,omitempty"`
	TTLDays   int      `json:"ttl_days,omitempty"`
	RateLimit int      `json:"rate_limit,omitempty"`
}

// KeyCreateResponse carries the full key exactly once.
type KeyCreateResponse struct {
	APIKey string    `json:"api_key"`
	Key    *auth.Key `json:"key"`
}

func (s *Server) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "key store is not configured")
		return
	}
	var req KeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	apiKey, key, err := s.keys.Create(r.Context(), req.Scopes,
		time.Duration(req.TTLDays)*24*time.Hour, req.RateLimit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, KeyCreateResponse{APIKey: apiKey, Key: key}, s.logger)
}

func (s *Server) handleKeyList(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "key store is not configured")
		return
	}
	keys, err := s.keys.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, keys, s.logger)
}

func (s *Server) handleKeyRevoke(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "key store is not configured")
		return
	}
	if err := s.keys.Revoke(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, auth.ErrInvalidKey) {
			s.errorResponse(w, http.StatusNotFound, "key not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.usageStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage store is not configured")
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "end must be RFC 3339")
			return
		}
		end = t
	}

	w.Header().Set("Content-Type", "application/json")
	switch by := q.Get("by"); by {
	case "":
		summary, err := s.usageStore.Summary(start, end)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, summary, s.logger)
	case "model":
		grouped, err := s.usageStore.SummaryByModel(start, end)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, grouped, s.logger)
	case "session":
		grouped, err := s.usageStore.SummaryBySession(start, end)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, grouped, s.logger)
	default:
		s.errorResponse(w, http.StatusBadRequest, "by must be model or session")
	}
}
