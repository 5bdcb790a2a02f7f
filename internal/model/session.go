package model

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of an orchestration session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionResuming  SessionStatus = "resuming"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Valid reports whether the string is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionRunning, SessionResuming, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

// Session is one externally-executed orchestration run tracked by the engine.
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// ToolCall is a request to an external tool invocation, keyed by ToolCallID.
type ToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ToolResult is the response from an external tool invocation. It joins its
// ToolCall by ToolCallID, not by storage order.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Summary    string          `json:"summary,omitempty"`
}

// AgentThought is one reasoning step emitted by a sub-agent.
type AgentThought struct {
	Thought   string    `json:"thought"`
	Timestamp time.Time `json:"timestamp"`
}

// Agent is a sub-agent created during the orchestration run. Agents are
// append-only within a session's lifetime.
type Agent struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Specification string         `json:"specification,omitempty"`
	Expertise     string         `json:"expertise,omitempty"`
	Persona       string         `json:"persona,omitempty"`
	Thoughts      []AgentThought `json:"thoughts,omitempty"`
}

// DiscussionTurn is one utterance by one agent within a discussion.
type DiscussionTurn struct {
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name"`
	Message   string    `json:"message"`
	Round     int       `json:"round,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Discussion groups an ordered list of turns. It is built either in bulk from
// a discussion tool result or incrementally from discussion_turn events; both
// paths converge to this shape.
type Discussion struct {
	ID    string           `json:"id"`
	Topic string           `json:"topic,omitempty"`
	Turns []DiscussionTurn `json:"turns"`
}
