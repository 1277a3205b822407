// Package httpapi exposes the conversational boundary over HTTP for
// headless hosting: session listing and switching, history retrieval and
// prompt submission. It is intentionally thin; all behavior lives in the
// orchestrator and the session store.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/engine"
	"github.com/hupe1980/chatlink/logging"
)

// Querier runs one conversational turn. Satisfied by the engine orchestrator
// and the root façade.
type Querier interface {
	ProcessQuery(ctx context.Context, query string) error
}

// Options configure the HTTP server.
type Options struct {
	// Pool, when set, enables the tool server listing endpoint.
	Pool core.ToolServerPool
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Server serves the HTTP API.
type Server struct {
	querier Querier
	store   core.SessionStore
	pool    core.ToolServerPool
	logger  logging.Logger
	router  chi.Router
}

// New builds the server and its routes.
func New(querier Querier, store core.SessionStore, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		querier: querier,
		store:   store,
		pool:    opts.Pool,
		logger:  opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Get("/sessions", s.handleListSessions)
		api.Post("/sessions", s.handleCreateSession)
		api.Get("/sessions/active", s.handleActiveSession)
		api.Get("/sessions/{sessionID}/messages", s.handleHistory)
		api.Post("/sessions/{sessionID}/activate", s.handleActivate)
		api.Post("/query", s.handleQuery)
		api.Get("/tools", s.handleListTools)
	})

	s.router = r

	return s
}

// Handler returns the root http.Handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("httpapi.listen", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type activeSessionResponse struct {
	ID string `json:"id"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	SessionID string             `json:"session_id"`
	History   []core.ChatMessage `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.store.Sessions()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	id, err := s.store.CreateSession()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createSessionResponse{ID: id})
}

func (s *Server) handleActiveSession(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, activeSessionResponse{ID: s.store.ActiveID()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	history, err := s.store.History(sessionID)
	if err != nil {
		if errors.Is(err, core.ErrUnknownSession) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.store.SwitchActive(sessionID); err != nil {
		if errors.Is(err, core.ErrUnknownSession) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleQuery runs the turn synchronously and returns the updated history of
// the active session.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("query must not be empty"))
		return
	}

	if err := s.querier.ProcessQuery(r.Context(), req.Query); err != nil {
		if errors.Is(err, engine.ErrBusy) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		// The turn may still have committed a failure message; report the
		// error and let the client refetch history.
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	sessionID := s.store.ActiveID()

	history, err := s.store.History(sessionID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, queryResponse{SessionID: sessionID, History: history})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	if s.pool == nil {
		s.writeJSON(w, http.StatusOK, []core.ServerInfo{})
		return
	}

	s.writeJSON(w, http.StatusOK, s.pool.ListConnectedServers())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("httpapi.encode", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
