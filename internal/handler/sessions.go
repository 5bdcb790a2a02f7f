package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/engine"
	"github.com/consilium-ai/orchestration-engine/internal/middleware"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
)

// SessionHandler exposes session snapshots and lifecycle operations.
type SessionHandler struct {
	store  *engine.Store
	logger *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *engine.Store, log *logger.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: log}
}

// sessionView is the API shape of a session snapshot.
type sessionView struct {
	Data            engine.SessionData `json:"data"`
	Loading         bool               `json:"loading"`
	Connected       bool               `json:"connected"`
	ConnectionError string             `json:"connection_error,omitempty"`
}

// Activate handles POST /api/v1/sessions/{id}/activate
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Activate(r.Context(), sessionID); err != nil {
		h.logger.Error("session activation failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to load session history")
		return
	}

	h.writeView(w, sessionID)
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeView(w, sessionID)
}

func (h *SessionHandler) writeView(w http.ResponseWriter, sessionID string) {
	data, ok := h.store.SessionData(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not active")
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		Data:            data,
		Loading:         h.store.Loading(sessionID),
		Connected:       h.store.Connected(sessionID),
		ConnectionError: h.store.ConnectionError(sessionID),
	})
}

// Clear handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.store.Clear(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// GetUIState handles GET /api/v1/sessions/{id}/ui
func (h *SessionHandler) GetUIState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.store.UIStateFor(sessionID))
}

// uiUpdate is a partial UI state mutation.
type uiUpdate struct {
	ToolCall *struct {
		ID       string `json:"id"`
		Expanded bool   `json:"expanded"`
	} `json:"tool_call,omitempty"`
	Agent *struct {
		ID       string `json:"id"`
		Expanded bool   `json:"expanded"`
	} `json:"agent,omitempty"`
	ShowThoughts *bool   `json:"show_thoughts,omitempty"`
	ArtifactSort *string `json:"artifact_sort,omitempty"`
}

// UpdateUIState handles PUT /api/v1/sessions/{id}/ui
func (h *SessionHandler) UpdateUIState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var update uiUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if update.ToolCall != nil {
		h.store.SetToolCallExpanded(sessionID, update.ToolCall.ID, update.ToolCall.Expanded)
	}
	if update.Agent != nil {
		h.store.SetAgentExpanded(sessionID, update.Agent.ID, update.Agent.Expanded)
	}
	if update.ShowThoughts != nil {
		h.store.SetShowThoughts(sessionID, *update.ShowThoughts)
	}
	if update.ArtifactSort != nil {
		h.store.SetArtifactSort(sessionID, *update.ArtifactSort)
	}

	writeJSON(w, http.StatusOK, h.store.UIStateFor(sessionID))
}

// ClearUIState handles DELETE /api/v1/sessions/{id}/ui
func (h *SessionHandler) ClearUIState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.store.ClearUIState(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// ThreadSessions handles GET /api/v1/threads/{id}/sessions
func (h *SessionHandler) ThreadSessions(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.store.LoadThread(r.Context(), threadID)
	if err != nil {
		h.logger.Error("thread lookup failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to query thread sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id": threadID,
		"sessions":  sessions,
	})
}
