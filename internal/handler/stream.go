package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"

	"github.com/consilium-ai/orchestration-engine/internal/channel"
	"github.com/consilium-ai/orchestration-engine/internal/engine"
	"github.com/consilium-ai/orchestration-engine/internal/middleware"
	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
	"github.com/consilium-ai/orchestration-engine/pkg/metrics"
)

const heartbeatInterval = 30 * time.Second

// StreamHandler streams session events over SSE: stored history first,
// then live events as they arrive.
type StreamHandler struct {
	history engine.HistoryFetcher
	source  channel.Source
	logger  *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(history engine.HistoryFetcher, source channel.Source, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		history: history,
		source:  source,
		logger:  log,
	}
}

// Stream handles GET /api/v1/sessions/{id}/events/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	ctx := r.Context()

	history, err := h.history.FetchEvents(ctx, sessionID)
	if err != nil {
		h.logger.Error("event replay failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		h.sendEvent(w, flusher, "error", map[string]string{"error": "failed to replay events"})
		return
	}

	history = engine.MergeHistory(history)
	seen := make(map[string]struct{}, len(history))
	for _, ev := range history {
		seen[ev.ID] = struct{}{}
		h.sendEvent(w, flusher, "event", ev)
	}
	h.sendEvent(w, flusher, "replay_complete", map[string]int{"count": len(history)})

	live := make(chan model.Event, 64)
	errs := make(chan error, 1)
	sub, err := h.source.Subscribe(ctx, sessionID,
		func(ev model.Event) {
			select {
			case live <- ev:
			case <-ctx.Done():
			}
		},
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	)
	if err != nil {
		h.logger.Error("live subscription failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		h.sendEvent(w, flusher, "error", map[string]string{"error": "failed to subscribe to live events"})
		return
	}
	defer sub.Unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			h.logger.Warn("live stream error",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			h.sendEvent(w, flusher, "error", map[string]string{"error": "event stream interrupted"})
			return
		case ev := <-live:
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			h.sendEvent(w, flusher, "event", ev)
		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", map[string]int64{"ts": time.Now().Unix()})
		}
	}
}

func (h *StreamHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal SSE payload", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
