// Package model defines data structures for the orchestration session engine.
package model

import (
	"encoding/json"
	"time"
)

// EventType represents the type of orchestration event.
type EventType string

const (
	EventTypeStatusUpdate   EventType = "status_update"
	EventTypeToolCall       EventType = "tool_call"
	EventTypeToolResult     EventType = "tool_result"
	EventTypeAgentCreated   EventType = "agent_created"
	EventTypeAgentThought   EventType = "agent_thought"
	EventTypeDiscussionTurn EventType = "discussion_turn"
	EventTypeError          EventType = "error"
	EventTypeHeartbeat      EventType = "heartbeat"
	EventTypeComplete       EventType = "complete"
)

// Event is one immutable fact appended to a session's log. Events are
// totally ordered by CreatedAt within a session; ID is the deduplication key.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	EventType EventType       `json:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatusUpdateData is the payload of a status_update event. Some producers
// write the new status under "status", others under "to".
type StatusUpdateData struct {
	Status      string     `json:"status,omitempty"`
	To          string     `json:"to,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewStatus returns the target status, whichever field carried it.
func (d *StatusUpdateData) NewStatus() string {
	if d.Status != "" {
		return d.Status
	}
	return d.To
}

// ToolCallData is the payload of a tool_call event.
type ToolCallData struct {
	ToolCallID string          `json:"tool_call_id"`
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultData is the payload of a tool_result event.
type ToolResultData struct {
	ToolCallID string          `json:"tool_call_id"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Summary    string          `json:"summary,omitempty"`
}

// AgentThoughtData is the payload of an agent_thought event.
type AgentThoughtData struct {
	AgentID string `json:"agent_id"`
	Thought string `json:"thought"`
}

// DiscussionTurnData is the payload of a discussion_turn event.
type DiscussionTurnData struct {
	DiscussionID string `json:"discussion_id"`
	AgentID      string `json:"agent_id,omitempty"`
	AgentName    string `json:"agent_name"`
	Message      string `json:"message"`
	Round        int    `json:"round,omitempty"`
}

// AgentResult is the shape of a successful agent-creation tool result.
type AgentResult struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Specification string `json:"specification,omitempty"`
	Expertise     string `json:"expertise,omitempty"`
	Persona       string `json:"persona,omitempty"`
}

// TranscriptTurn is one turn inside a discussion tool result's transcript.
type TranscriptTurn struct {
	AgentID   string     `json:"agent_id,omitempty"`
	AgentName string     `json:"agent_name"`
	Message   string     `json:"message"`
	Round     int        `json:"round,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// DiscussionResult is the shape of a successful discussion tool result.
type DiscussionResult struct {
	Topic string           `json:"topic,omitempty"`
	Turns []TranscriptTurn `json:"turns"`
}
