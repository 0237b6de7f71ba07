// Package web implements the HTTP surface: the chat endpoint, the
// WebSocket event stream, and health/version probes.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marlowe/recall-agent/internal/agent"
	"github.com/marlowe/recall-agent/internal/buildinfo"
	"github.com/marlowe/recall-agent/internal/events"
	"github.com/marlowe/recall-agent/internal/thread"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server. Each chat request runs the profile
// fetch node and the conversation node against the thread container.
type Server struct {
	address     string
	port        int
	profileNode *agent.ProfileFetchNode
	convNode    *agent.ConversationNode
	threads     thread.Container
	bus         *events.Bus
	logger      *slog.Logger
	server      *http.Server
	upgrader    websocket.Upgrader
}

// NewServer creates the API server. profileNode may be nil (no profile
// source configured); bus may be nil (event stream disabled).
func NewServer(address string, port int, profileNode *agent.ProfileFetchNode, convNode *agent.ConversationNode, threads thread.Container, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:     address,
		port:        port,
		profileNode: profileNode,
		convNode:    convNode,
		threads:     threads,
		bus:         bus,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the routed handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleThreadGet)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)
	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or [Server.Shutdown] is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // model calls can be slow
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

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

// ChatRequest is the POST /v1/chat request body.
type ChatRequest struct {
	// ThreadID selects the conversation thread. Empty starts a new one.
	ThreadID string `json:"thread_id,omitempty"`
	// Message is the user's message for this turn.
	Message string `json:"message"`
	// ClientID selects the memory namespace and profile record.
	ClientID string `json:"client_id,omitempty"`
	// Model overrides the configured default model.
	Model string `json:"model,omitempty"`
	// SystemPrompt overrides the configured base instruction.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ChatResponse is the POST /v1/chat response body.
type ChatResponse struct {
	ThreadID string `json:"thread_id"`
	Reply    string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	ctx := r.Context()
	cfg := agent.Config{
		ClientID:     req.ClientID,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	}

	// Append the user message to the thread before the turn.
	state, err := s.threads.Apply(ctx, threadID, thread.Delta{
		Messages: []thread.Message{{Role: thread.RoleUser, Content: req.Message}},
	})
	if err != nil {
		s.logger.Error("thread apply failed", "thread", threadID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "thread store error")
		return
	}

	if s.profileNode != nil {
		if delta := s.profileNode.Run(ctx, state, cfg); delta.Profile != nil {
			state, err = s.threads.Apply(ctx, threadID, delta)
			if err != nil {
				s.logger.Error("thread apply failed", "thread", threadID, "error", err)
				s.errorResponse(w, http.StatusInternalServerError, "thread store error")
				return
			}
		}
	}

	delta, err := s.convNode.Run(ctx, state, cfg)
	if err != nil {
		s.logger.Error("turn failed", "thread", threadID, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "chat error: "+err.Error())
		return
	}

	if _, err := s.threads.Apply(ctx, threadID, delta); err != nil {
		s.logger.Error("thread apply failed", "thread", threadID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "thread store error")
		return
	}

	var reply string
	if len(delta.Messages) > 0 {
		reply = delta.Messages[len(delta.Messages)-1].Content
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{ThreadID: threadID, Reply: reply}, s.logger)
}

// ThreadResponse is the GET /v1/threads/{id} response body.
type ThreadResponse struct {
	ThreadID string           `json:"thread_id"`
	Messages []thread.Message `json:"messages"`
}

func (s *Server) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	state, err := s.threads.Load(r.Context(), threadID)
	if err != nil {
		s.logger.Error("thread load failed", "thread", threadID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "thread store error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ThreadResponse{ThreadID: threadID, Messages: state.Messages}, s.logger)
}

// handleEvents streams bus events over a WebSocket connection. The
// subscription is dropped when the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: detect client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Recall",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}
