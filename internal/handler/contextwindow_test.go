package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consilium-ai/orchestration-engine/internal/contextwindow"
	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
)

func newContextHandler() *ContextHandler {
	m := contextwindow.New(contextwindow.Config{
		Model:                  "test-model",
		ContextWindow:          100,
		CompressionThreshold:   0.8,
		PreserveSystemPrompt:   true,
		PreserveRecentMessages: 1,
	}, contextwindow.TruncatingSummarizer{}, logger.NewNop())
	return NewContextHandler(m, logger.NewNop())
}

func TestContextSelect(t *testing.T) {
	h := newContextHandler()

	body := `{"messages":[
		{"role":"system","content":"sys","tokens":10},
		{"role":"user","content":"old","tokens":60},
		{"role":"user","content":"q","tokens":10},
		{"role":"assistant","content":"a","tokens":10}
	],"reserved_tokens":0}`

	w := httptest.NewRecorder()
	h.Select(w, httptest.NewRequest(http.MethodPost, "/api/v1/context/select", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []model.Message `json:"messages"`
		Tokens   int             `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, 30, resp.Tokens)
}

func TestContextSelectRejectsNegativeReservation(t *testing.T) {
	h := newContextHandler()

	w := httptest.NewRecorder()
	h.Select(w, httptest.NewRequest(http.MethodPost, "/api/v1/context/select",
		strings.NewReader(`{"messages":[],"reserved_tokens":-1}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContextSelectRejectsBadBody(t *testing.T) {
	h := newContextHandler()

	w := httptest.NewRecorder()
	h.Select(w, httptest.NewRequest(http.MethodPost, "/api/v1/context/select",
		strings.NewReader(`{"messages":`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContextCompress(t *testing.T) {
	h := newContextHandler()

	body := `{"messages":[
		{"role":"user","content":"old question","tokens":60},
		{"role":"assistant","content":"old answer","tokens":60},
		{"role":"user","content":"recent q","tokens":10},
		{"role":"assistant","content":"recent a","tokens":10}
	]}`

	w := httptest.NewRecorder()
	h.Compress(w, httptest.NewRequest(http.MethodPost, "/api/v1/context/compress", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, model.RoleSystem, resp.Messages[0].Role)
	assert.Contains(t, resp.Messages[0].Content, "[Conversation summary]")
}
