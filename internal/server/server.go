// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the duochat HTTP API consumed by the browser client.
//
// Endpoints:
//   - POST   /chat            - Send a message to the selected backend
//   - GET    /backend/status  - Probe local daemon availability and models
//   - GET    /conversations   - List conversations, or load one by sessionId
//   - POST   /conversations   - Save a conversation transcript
//   - DELETE /conversations   - Delete a conversation by sessionId
//   - GET    /health          - Health check
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/duochat/internal/chat"
	"github.com/jeranaias/duochat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length for a chat message.
	MaxMessageLength = 100000

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string

	// Dispatcher routes chat requests to backends. Required.
	Dispatcher *chat.Dispatcher

	// Store persists conversations. Required.
	Store *storage.Store

	// DefaultMode is used when a chat request omits a mode.
	DefaultMode chat.Mode

	// Auth configures bearer token authentication. Nil disables auth.
	Auth *AuthConfig

	// CORS configures allowed origins. Nil disables cross-origin access.
	CORS *CORSConfig

	// RateLimiter limits requests per client IP. Nil disables limiting.
	RateLimiter *RateLimiter

	// Logger receives request logs. Defaults to the standard logger.
	Logger *log.Logger
}

// Server is the duochat HTTP API server.
type Server struct {
	dispatcher  *chat.Dispatcher
	store       *storage.Store
	defaultMode chat.Mode
	logger      *log.Logger
	router      *http.ServeMux
	server      *http.Server
}

// New creates a Server from opts, filling in defaults for zero values.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = chat.ModeOnline
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Auth == nil {
		opts.Auth = &AuthConfig{}
	}
	if opts.CORS == nil {
		opts.CORS = &CORSConfig{}
	}

	s := &Server{
		dispatcher:  opts.Dispatcher,
		store:       opts.Store,
		defaultMode: opts.DefaultMode,
		logger:      opts.Logger,
		router:      http.NewServeMux(),
	}
	s.registerRoutes()

	chain := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(opts.CORS),
		LoggingMiddleware(opts.Logger),
		RateLimitMiddleware(opts.RateLimiter),
		AuthMiddleware(opts.Auth),
	)

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           chain(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// registerRoutes wires the API endpoints.
func (s *Server) registerRoutes() {
	s.router.HandleFunc("POST /chat", s.handleChat)
	s.router.HandleFunc("GET /backend/status", s.handleBackendStatus)
	s.router.HandleFunc("GET /conversations", s.handleGetConversations)
	s.router.HandleFunc("POST /conversations", s.handleSaveConversation)
	s.router.HandleFunc("DELETE /conversations", s.handleDeleteConversation)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the server's handler with middleware applied, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe starts serving. Blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("SERVER_START | addr=%s version=%s", s.server.Addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Printf("SERVER_SHUTDOWN | addr=%s", s.server.Addr)
	return s.server.Shutdown(ctx)
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
	Model   string `json:"model,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required and must be a string")
		return
	}
	if len(req.Message) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "Message too long")
		return
	}

	mode := s.defaultMode
	if req.Mode != "" {
		parsed, err := chat.ParseMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid mode: must be \"online\" or \"offline\"")
			return
		}
		mode = parsed
	}

	result, err := s.dispatcher.Dispatch(r.Context(), req.Message, mode, req.Model)
	if err != nil {
		s.writeChatError(w, mode, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeChatError maps dispatch failures to client-facing responses.
func (s *Server) writeChatError(w http.ResponseWriter, mode chat.Mode, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message is required and must be a string")
	case chat.IsBackendUnavailable(err):
		if mode == chat.ModeOffline {
			writeError(w, http.StatusServiceUnavailable,
				"Local model not available. Please start Ollama or switch to online mode.")
		} else {
			writeError(w, http.StatusServiceUnavailable,
				"Online service not available. Please check your connection or switch to offline mode.")
		}
	default:
		s.logger.Printf("CHAT_ERROR | mode=%s error=%v", mode, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ============================================================================
// BACKEND STATUS HANDLER
// ============================================================================

func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	status := s.dispatcher.Probe(r.Context())
	writeJSON(w, http.StatusOK, status)
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// SaveConversationRequest is the body of POST /conversations.
type SaveConversationRequest struct {
	SessionID string            `json:"sessionId"`
	Messages  []storage.Message `json:"messages"`
	Title     string            `json:"title,omitempty"`
}

// conversationView is the GET /conversations?sessionId= response shape.
type conversationView struct {
	SessionID string            `json:"sessionId"`
	Title     string            `json:"title"`
	Messages  []storage.Message `json:"messages"`
}

func (s *Server) handleGetConversations(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	if sessionID == "" {
		summaries, err := s.store.List(r.Context())
		if err != nil {
			s.logger.Printf("STORE_ERROR | op=list error=%v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
		return
	}

	conv, err := s.store.GetBySession(r.Context(), sessionID)
	if errors.Is(err, storage.ErrConversationNotFound) || errors.Is(err, storage.ErrInvalidSessionID) {
		// Unknown or malformed sessions resolve to an empty transcript,
		// not an error.
		writeJSON(w, http.StatusOK, map[string]any{"messages": []storage.Message{}})
		return
	}
	if err != nil {
		s.logger.Printf("STORE_ERROR | op=get session=%s error=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, conversationView{
		SessionID: conv.SessionID,
		Title:     conv.Title,
		Messages:  conv.Messages,
	})
}

func (s *Server) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req SaveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	conv, err := s.store.Upsert(r.Context(), req.SessionID, req.Messages, req.Title)
	if err != nil {
		s.logger.Printf("STORE_ERROR | op=upsert session=%s error=%v", req.SessionID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if strings.TrimSpace(sessionID) == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	if _, err := s.store.DeleteBySession(r.Context(), sessionID); err != nil {
		s.logger.Printf("STORE_ERROR | op=delete session=%s error=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a flat error string, matching
// what the browser client expects.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
