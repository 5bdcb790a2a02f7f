package handler

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/contextwindow"
	"github.com/consilium-ai/orchestration-engine/internal/middleware"
	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
)

func validateMessages(messages []model.Message) error {
	for i, msg := range messages {
		if err := middleware.ValidateMessageContent(msg.Content); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// ContextHandler exposes context window selection and compression.
type ContextHandler struct {
	manager *contextwindow.Manager
	logger  *logger.Logger
}

// NewContextHandler creates a new context window handler.
func NewContextHandler(manager *contextwindow.Manager, log *logger.Logger) *ContextHandler {
	return &ContextHandler{manager: manager, logger: log}
}

type selectRequest struct {
	Messages       []model.Message `json:"messages"`
	ReservedTokens int             `json:"reserved_tokens"`
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
	Tokens   int             `json:"tokens"`
}

// Select handles POST /api/v1/context/select
func (h *ContextHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReservedTokens < 0 {
		writeError(w, http.StatusBadRequest, "reserved_tokens must be non-negative")
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	selected := h.manager.Select(req.Messages, req.ReservedTokens)
	writeJSON(w, http.StatusOK, messagesResponse{
		Messages: selected,
		Tokens:   h.manager.TotalTokens(selected),
	})
}

type compressRequest struct {
	Messages []model.Message `json:"messages"`
}

// Compress handles POST /api/v1/context/compress
func (h *ContextHandler) Compress(w http.ResponseWriter, r *http.Request) {
	var req compressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validateMessages(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	compressed, err := h.manager.Compress(r.Context(), req.Messages)
	if err != nil {
		h.logger.Error("context compression failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "compression failed")
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		Messages: compressed,
		Tokens:   h.manager.TotalTokens(compressed),
	})
}
