package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/callagent/internal/conversation"
	"github.com/ashureev/callagent/internal/domain"
	"github.com/ashureev/callagent/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (64KB).
const defaultMaxRequestBodySize = 64 << 10

// CallService is the conversation service consumed by the handlers.
type CallService interface {
	ProcessMessage(ctx context.Context, req conversation.Request) (*conversation.Result, error)
	StartSession(ctx context.Context, agentID string) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*conversation.Snapshot, error)
}

// CallHandler serves the call-message and session endpoints.
type CallHandler struct {
	svc         CallService
	repo        store.SessionStore
	maxBodySize int64
}

// NewCallHandler creates a handler. repo is only used for health checks.
func NewCallHandler(svc CallService, repo store.SessionStore, maxBodySize int64) *CallHandler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	return &CallHandler{svc: svc, repo: repo, maxBodySize: maxBodySize}
}

// RegisterRoutes registers call routes.
func (h *CallHandler) RegisterRoutes(r chi.Router) {
	r.Post("/process-call-message", h.ProcessCallMessage)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Get("/{sessionID}", h.GetSession)
	})
	r.Get("/healthz", h.Health)
}

// ProcessCallMessage handles POST /process-call-message.
func (h *CallHandler) ProcessCallMessage(w http.ResponseWriter, r *http.Request) {
	var req conversation.Request
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.ProcessMessage(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// StartSession handles POST /sessions.
func (h *CallHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agentId"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.svc.StartSession(r.Context(), req.AgentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId":   session.SessionID,
		"agentId":     session.AgentID,
		"currentStep": session.CurrentStep,
	})
}

// GetSession handles GET /sessions/{sessionID}.
func (h *CallHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Health reports whether the session store is reachable.
func (h *CallHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Error("Health check failed", "error", err)
			Error(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, rejecting unknown fields and trailing data.
func (h *CallHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body: unexpected trailing data")
		return false
	}
	return true
}

// writeServiceError maps conversation errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *conversation.ValidationError
	switch {
	case errors.As(err, &verr):
		Error(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, conversation.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, conversation.ErrUnknownAgent):
		Error(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, conversation.ErrConflict):
		w.Header().Set("Retry-After", "1")
		Error(w, http.StatusConflict, "session was updated concurrently, retry")
	case errors.Is(err, conversation.ErrPersistence):
		w.Header().Set("Retry-After", "1")
		Error(w, http.StatusServiceUnavailable, "failed to save session, retry")
	default:
		slog.Error("Unexpected call processing failure",
			"error", err,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"path", r.URL.Path,
		)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
