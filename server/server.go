package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/council"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/persistence"
)

// Runner starts council runs. *runner.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, req council.Request) (string, <-chan core.Event, <-chan error, error)
}

// Options configures a Server.
type Options struct {
	// RequestsPerSecond is the sustained per-client rate for stream requests;
	// 0 disables limiting.
	RequestsPerSecond float64
	// Burst is the per-client burst size.
	Burst int
	// HistoryLimit caps GET /api/sessions/{id}/messages; 0 returns everything.
	HistoryLimit int
	// InsecureSkipVerify disables the WebSocket origin check.
	InsecureSkipVerify bool
	// Logging services.
	Logger logging.Logger
	// Now is the clock used for health responses and limiter bookkeeping.
	Now func() time.Time
}

// Server exposes council runs over WebSocket and session management over
// JSON HTTP.
type Server struct {
	runner  Runner
	store   *persistence.Facade
	limiter *clientLimiter
	opts    Options
	logger  logging.Logger
}

// New creates a Server.
func New(r Runner, store *persistence.Facade, optFns ...func(o *Options)) *Server {
	opts := Options{
		RequestsPerSecond:  0.5,
		Burst:              3,
		InsecureSkipVerify: true,
		Now:                time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		runner:  r,
		store:   store,
		limiter: newClientLimiter(opts.RequestsPerSecond, opts.Burst, opts.Now),
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/council/stream", s.handleStream)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": s.opts.Now().UTC()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	writeJSON(w, http.StatusOK, s.store.GetSessions(r.Context(), userID))
}

type createSessionRequest struct {
	Title  string `json:"title"`
	Theme  string `json:"theme,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title == "" {
		req.Title = "New session"
	}
	id := s.store.CreateSession(r.Context(), req.Title, req.Theme, req.UserID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    id,
		"title": req.Title,
		"local": persistence.IsLocal(id),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := parseInt(r.URL.Query().Get("limit"), s.opts.HistoryLimit)
	writeJSON(w, http.StatusOK, s.store.GetHistory(r.Context(), id, limit))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.store.DeleteSession(r.Context(), id) {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
