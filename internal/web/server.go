// Package web exposes the agent over a small JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mymeta/agent/internal/agent"
	"github.com/mymeta/agent/internal/buildinfo"
	"github.com/mymeta/agent/internal/history"
	"github.com/mymeta/agent/internal/llm"
)

// Runner executes one agent task. Satisfied by *agent.Agent.
type Runner interface {
	Run(ctx context.Context, task string, opts agent.RunOptions) *agent.Result
}

// Server routes chat and session requests to an agent and an optional
// history store. With a nil store, sessions are not persisted and every
// chat request stands alone.
type Server struct {
	runner Runner
	store  *history.Store
	logger *slog.Logger

	// historyWindow caps how many stored turns are replayed into a
	// session-bound chat request.
	historyWindow int
}

// NewServer wires the HTTP layer. The runner is injected rather than
// constructed here so callers control the model client and tool set.
func NewServer(runner Runner, store *history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:        runner,
		store:         store,
		logger:        logger.With("component", "web"),
		historyWindow: 20,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	return mux
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  buildinfo.BuildInfo(),
	})
}

type chatRequest struct {
	Task      string `json:"task"`
	Context   string `json:"context,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	SessionID string       `json:"session_id,omitempty"`
	Response  string       `json:"response"`
	Steps     []agent.Step `json:"steps"`
	Error     string       `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	opts := agent.RunOptions{Context: req.Context}

	var sessionID string
	if s.store != nil {
		sess, msgs, err := s.resolveSession(r.Context(), req)
		if err != nil {
			if errors.Is(err, history.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
			} else {
				s.logger.Error("session lookup failed", "error", err)
				writeError(w, http.StatusInternalServerError, "session lookup failed")
			}
			return
		}
		sessionID = sess.ID
		opts.History = msgs
	}

	result := s.runner.Run(r.Context(), req.Task, opts)

	if s.store != nil && sessionID != "" {
		s.persistTurn(r.Context(), sessionID, req.Task, result)
	}

	// Backend failures surface as unavailability; everything else is a
	// completed (if unsuccessful) run.
	status := http.StatusOK
	if result.ErrorKind == agent.ErrorKindBackend {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, chatResponse{
		SessionID: sessionID,
		Response:  result.FinalAnswer,
		Steps:     result.Steps,
		Error:     result.Error,
	})
}

// resolveSession loads an existing session's recent turns or creates a
// fresh session titled after the task.
func (s *Server) resolveSession(ctx context.Context, req chatRequest) (*history.Session, []llm.Message, error) {
	if req.SessionID == "" {
		sess, err := s.store.CreateSession(ctx, sessionTitle(req.Task))
		return sess, nil, err
	}

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, nil, err
	}
	stored, err := s.store.RecentMessages(ctx, sess.ID, s.historyWindow)
	if err != nil {
		return nil, nil, err
	}
	msgs := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return sess, msgs, nil
}

// persistTurn stores the user task and the assistant reply. Persistence
// failures are logged, not surfaced; the reply already exists.
func (s *Server) persistTurn(ctx context.Context, sessionID, task string, result *agent.Result) {
	if _, err := s.store.AppendMessage(ctx, sessionID, "user", task); err != nil {
		s.logger.Error("persist user turn failed", "session_id", sessionID, "error", err)
		return
	}
	if result.FinalAnswer == "" {
		return
	}
	if _, err := s.store.AppendMessage(ctx, sessionID, "assistant", result.FinalAnswer); err != nil {
		s.logger.Error("persist assistant turn failed", "session_id", sessionID, "error", err)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "session persistence is disabled")
		return
	}
	sessions, err := s.store.ListSessions(r.Context(), 50)
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "session persistence is disabled")
		return
	}
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			s.logger.Error("get session failed", "session_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "get session failed")
		}
		return
	}
	msgs, err := s.store.Messages(r.Context(), id)
	if err != nil {
		s.logger.Error("load session messages failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "load session messages failed")
		return
	}
	if msgs == nil {
		msgs = []history.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "messages": msgs})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "session persistence is disabled")
		return
	}
	id := r.PathValue("id")
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			s.logger.Error("delete session failed", "session_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "delete session failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// sessionTitle derives a short title from the first task.
func sessionTitle(task string) string {
	title := strings.TrimSpace(task)
	if r := []rune(title); len(r) > 40 {
		title = string(r[:40])
	}
	return title
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
