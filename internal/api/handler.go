// Package api exposes the session control plane over HTTP: creating and
// scheduling sessions, stopping them, inspecting status and history, and
// relaying chat commands.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"streamcast/internal/journal"
	"streamcast/internal/models"
	"streamcast/internal/orchestrator"
	"streamcast/internal/platform"
)

// Handler serves the /api/sessions surface.
type Handler struct {
	Manager *orchestrator.Manager
	Journal journal.Journal
	Logger  *slog.Logger
}

func NewHandler(manager *orchestrator.Manager, j journal.Journal, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Manager: manager, Journal: j, Logger: logger.With("component", "api")}
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sessions handles the collection route: POST creates and starts a session,
// GET lists all sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSession(w, r, false)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": h.Manager.List()})
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// ScheduleSession creates a session that starts at its scheduled time.
func (h *Handler) ScheduleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	h.createSession(w, r, true)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, scheduled bool) {
	var cfg models.SessionConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	var (
		id  string
		err error
	)
	if scheduled {
		id, err = h.Manager.Schedule(r.Context(), cfg)
	} else {
		id, err = h.Manager.Start(r.Context(), cfg)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// SessionByID routes /api/sessions/{ref} and its sub-resources.
func (h *Handler) SessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if rest == "" || strings.Contains(rest, "//") {
		writeError(w, http.StatusNotFound, errors.New("session reference required"))
		return
	}
	ref, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		h.sessionRoot(w, r, ref)
	case "stop":
		h.stopSession(w, r, ref)
	case "chat":
		h.sessionChat(w, r, ref)
	case "events":
		h.sessionEvents(w, r, ref)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown resource %q", sub))
	}
}

func (h *Handler) sessionRoot(w http.ResponseWriter, r *http.Request, ref string) {
	switch r.Method {
	case http.MethodGet:
		status, err := h.Manager.Status(r.Context(), ref)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		if err := h.Manager.Remove(ref); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request, ref string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := h.Manager.Stop(r.Context(), ref); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) sessionChat(w http.ResponseWriter, r *http.Request, ref string) {
	switch r.Method {
	case http.MethodPost:
		var req chatRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeError(w, http.StatusBadRequest, errors.New("message is required"))
			return
		}
		if err := h.Manager.SendChat(r.Context(), ref, req.Message); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, nil)
	case http.MethodDelete:
		if err := h.Manager.DisableChat(r.Context(), ref); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	default:
		methodNotAllowed(w, r, "POST, DELETE")
	}
}

func (h *Handler) sessionEvents(w http.ResponseWriter, r *http.Request, ref string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Journal == nil {
		writeError(w, http.StatusNotFound, errors.New("event journal not configured"))
		return
	}
	session, ok := h.Manager.Registry().Lookup(ref)
	if !ok {
		h.writeDomainError(w, orchestrator.ErrSessionNotFound)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	entries, err := h.Journal.List(r.Context(), session.ID(), limit)
	if err != nil {
		h.Logger.Error("journal list failed", "session_id", session.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load events"))
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

// writeDomainError maps orchestrator errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *models.ConfigError
	var apiErr *platform.APIError
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, orchestrator.ErrScheduleRequired):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, orchestrator.ErrDuplicateName),
		errors.Is(err, orchestrator.ErrSessionActive),
		errors.Is(err, orchestrator.ErrSessionTerminal),
		errors.Is(err, orchestrator.ErrChatUnavailable):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		h.Logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}
