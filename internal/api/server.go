// Package api implements the gateway HTTP API: health and version
// probes, a direct chat endpoint, a status summary, the operational
// event stream and the WebSocket chat channel.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/santosobot/santoso/internal/buildinfo"
	"github.com/santosobot/santoso/internal/bus"
	"github.com/santosobot/santoso/internal/connwatch"
	"github.com/santosobot/santoso/internal/events"
)

// maxChatBody caps POST /v1/chat request bodies.
const maxChatBody = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// DirectProcessor handles one message outside the message bus.
type DirectProcessor interface {
	ProcessDirect(ctx context.Context, content, sessionKey string) (string, error)
}

// Lister reports names shown in the status output.
type Lister interface {
	Names() []string
}

// SessionLister reports the keys of live conversations.
type SessionLister interface {
	Keys() []string
}

// StatusSource reports the state of watched services.
type StatusSource interface {
	Statuses() []connwatch.Status
}

// Deps are the collaborators the server reads from. Any of them may be
// nil; /v1/chat answers 503 without an agent.
type Deps struct {
	Agent    DirectProcessor
	Sessions SessionLister
	Tools    Lister
	Channels Lister
	Watch    StatusSource
	Events   *events.Bus
	// Chat serves the WebSocket chat channel at /v1/ws.
	Chat   http.Handler
	Model  string
	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server listening on address:port.
func NewServer(address string, port int, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger.With("component", "api"),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/status", s.handleStatus)

	// WebSocket endpoints
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	if s.deps.Chat != nil {
		mux.Handle("GET /v1/ws", s.deps.Chat)
	}

	return s.withLogging(mux)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.address, strconv.Itoa(s.port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /v1/chat waits on the agent and the
		// WebSocket endpoints are long-lived.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	shown := s.address
	if shown == "" {
		shown = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", shown, "port", s.port)

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API server shutdown", "error", err)
		}
		return nil
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Santoso",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

// apiChannel is the channel name of sessions created through /v1/chat.
const apiChannel = "api"

// handleChat runs one message through the agent.
// POST /v1/chat {"message": "what's on my calendar?"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Agent == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	content, err := s.deps.Agent.ProcessDirect(r.Context(), req.Message, bus.SessionKey(apiChannel, sessionID))
	if err != nil {
		s.logger.Error("agent failed", "session", sessionID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response:  content,
		SessionID: sessionID,
		Model:     s.deps.Model,
	}, s.logger)
}

// StatusResponse is the reply to GET /v1/status.
type StatusResponse struct {
	Version  string             `json:"version"`
	Uptime   string             `json:"uptime"`
	Model    string             `json:"model,omitempty"`
	Services []connwatch.Status `json:"services"`
	Sessions []string           `json:"sessions"`
	Tools    []string           `json:"tools"`
	Channels []string           `json:"channels"`
	// Subscribers counts open /v1/events streams.
	Subscribers int `json:"event_subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:     buildinfo.Version,
		Uptime:      buildinfo.Uptime().String(),
		Model:       s.deps.Model,
		Services:    []connwatch.Status{},
		Sessions:    []string{},
		Tools:       names(s.deps.Tools),
		Channels:    names(s.deps.Channels),
		Subscribers: s.deps.Events.SubscriberCount(),
	}
	if s.deps.Watch != nil {
		resp.Services = s.deps.Watch.Statuses()
	}
	if s.deps.Sessions != nil {
		if keys := s.deps.Sessions.Keys(); keys != nil {
			resp.Sessions = keys
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func names(l Lister) []string {
	if l == nil {
		return []string{}
	}
	if n := l.Names(); n != nil {
		return n
	}
	return []string{}
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
