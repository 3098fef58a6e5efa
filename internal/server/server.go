// ABOUTME: chi-based HTTP server with health, status, SSE events and webhook routes
// ABOUTME: Runs until the context is cancelled, then shuts down gracefully

package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nscnavi/leadbridge/internal/conversation"
	"github.com/nscnavi/leadbridge/internal/session"
	"github.com/nscnavi/leadbridge/internal/store"
)

const shutdownTimeout = 5 * time.Second

// SessionStats reports registry counters.
type SessionStats interface {
	Stats() session.Stats
}

// LedgerStats reports tool-call totals.
type LedgerStats interface {
	Ping(ctx context.Context) error
	GetToolCallStats(ctx context.Context, since *time.Time) (*store.ToolCallStats, error)
}

// Config wires the server to the rest of the process. Sessions, Ledger and
// Events are optional. The event stream is mounted only when both Events
// and EventsToken are set.
type Config struct {
	Addr        string
	Frontends   []string
	Tools       []string
	Webhooks    map[string]http.Handler // path -> handler, POST only
	Sessions    SessionStats
	Ledger      LedgerStats
	Events      *conversation.EventBroadcaster
	EventsToken string
	Logger      *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	cfg     Config
	router  chi.Router
	started time.Time
	logger  *slog.Logger
}

// New builds the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		started: time.Now(),
		logger:  logger.With("component", "server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Get("/status", s.handleStatus)
	if cfg.Events != nil && cfg.EventsToken != "" {
		r.With(requireToken(cfg.EventsToken)).Get("/events", s.handleEvents)
	}
	for path, h := range cfg.Webhooks {
		r.Method(http.MethodPost, path, h)
		s.logger.Info("webhook route mounted", "path", path)
	}

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails. Request
// contexts are cancelled when shutdown begins so open event streams end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down HTTP server")
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	// ctx is already cancelled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status    string               `json:"status"`
	Uptime    string               `json:"uptime"`
	Frontends []string             `json:"frontends"`
	Tools     []string             `json:"tools"`
	Sessions  *session.Stats       `json:"sessions,omitempty"`
	ToolCalls *store.ToolCallStats `json:"tool_calls,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    "ok",
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		Frontends: s.cfg.Frontends,
	}
	if resp.Frontends == nil {
		resp.Frontends = []string{}
	}
	resp.Tools = s.cfg.Tools
	if resp.Tools == nil {
		resp.Tools = []string{}
	}
	if s.cfg.Sessions != nil {
		st := s.cfg.Sessions.Stats()
		resp.Sessions = &st
	}
	if s.cfg.Ledger != nil {
		if err := s.cfg.Ledger.Ping(r.Context()); err != nil {
			s.logger.Error("ledger unreachable", "error", err)
			resp.Status = "degraded"
		} else if stats, err := s.cfg.Ledger.GetToolCallStats(r.Context(), nil); err != nil {
			s.logger.Error("failed to read ledger stats", "error", err)
			resp.Status = "degraded"
		} else {
			resp.ToolCalls = stats
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams every RunEvent as SSE until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		user = conversation.AllUsers
	}
	events, _ := s.cfg.Events.Subscribe(r.Context(), user)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, string(ev.Type), ev); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// requireToken rejects requests without "Authorization: Bearer <token>".
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeSSEEvent(w http.ResponseWriter, name string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
