// Package engine reconstructs render-ready session state from the
// orchestration event log.
package engine

import (
	"github.com/consilium-ai/orchestration-engine/internal/model"
)

// SessionRecord holds all derived state for one session. A record is owned
// exclusively by the Store; readers get deep-copied snapshots.
type SessionRecord struct {
	session         model.Session
	events          []model.Event
	toolCalls       map[string]model.ToolCall
	toolResults     map[string]model.ToolResult
	agents          map[string]model.Agent
	agentOrder      []string
	discussions     map[string]model.Discussion
	discussionOrder []string
	artifacts       []model.Artifact

	applied  map[string]struct{} // event IDs already applied
	detected map[string]struct{} // tool_call_ids already run through detection
}

// NewSessionRecord creates an empty record for a session.
func NewSessionRecord(sessionID string) *SessionRecord {
	return &SessionRecord{
		session:     model.Session{ID: sessionID, Status: model.SessionPending},
		toolCalls:   make(map[string]model.ToolCall),
		toolResults: make(map[string]model.ToolResult),
		agents:      make(map[string]model.Agent),
		discussions: make(map[string]model.Discussion),
		applied:     make(map[string]struct{}),
		detected:    make(map[string]struct{}),
	}
}

// Session returns the current session row.
func (r *SessionRecord) Session() model.Session {
	return r.session
}

// SessionData is a read-only snapshot of a session's derived state.
type SessionData struct {
	Session     model.Session               `json:"session"`
	Events      []model.Event               `json:"events"`
	ToolCalls   map[string]model.ToolCall   `json:"tool_calls"`
	ToolResults map[string]model.ToolResult `json:"tool_results"`
	Agents      []model.Agent               `json:"agents"`
	Discussions []model.Discussion          `json:"discussions"`
	Artifacts   []model.Artifact            `json:"artifacts"`
}

// Snapshot returns a deep copy of the record. Mutating the snapshot never
// affects the record.
func (r *SessionRecord) Snapshot() SessionData {
	data := SessionData{
		Session:     r.session,
		Events:      append([]model.Event(nil), r.events...),
		ToolCalls:   make(map[string]model.ToolCall, len(r.toolCalls)),
		ToolResults: make(map[string]model.ToolResult, len(r.toolResults)),
		Agents:      make([]model.Agent, 0, len(r.agentOrder)),
		Discussions: make([]model.Discussion, 0, len(r.discussionOrder)),
		Artifacts:   append([]model.Artifact(nil), r.artifacts...),
	}
	for id, tc := range r.toolCalls {
		data.ToolCalls[id] = tc
	}
	for id, tr := range r.toolResults {
		data.ToolResults[id] = tr
	}
	for _, id := range r.agentOrder {
		agent := r.agents[id]
		agent.Thoughts = append([]model.AgentThought(nil), agent.Thoughts...)
		data.Agents = append(data.Agents, agent)
	}
	for _, id := range r.discussionOrder {
		disc := r.discussions[id]
		disc.Turns = append([]model.DiscussionTurn(nil), disc.Turns...)
		data.Discussions = append(data.Discussions, disc)
	}
	return data
}

// UIState is presentation-local session state. It lives in a separate
// keyspace from derived data so clearing it never requires re-deriving.
type UIState struct {
	ExpandedToolCalls map[string]bool `json:"expanded_tool_calls"`
	ExpandedAgents    map[string]bool `json:"expanded_agents"`
	ShowThoughts      bool            `json:"show_thoughts"`
	ArtifactSort      string          `json:"artifact_sort"`
}

// NewUIState returns an empty UI state.
func NewUIState() *UIState {
	return &UIState{
		ExpandedToolCalls: make(map[string]bool),
		ExpandedAgents:    make(map[string]bool),
	}
}

func (u *UIState) clone() UIState {
	out := UIState{
		ExpandedToolCalls: make(map[string]bool, len(u.ExpandedToolCalls)),
		ExpandedAgents:    make(map[string]bool, len(u.ExpandedAgents)),
		ShowThoughts:      u.ShowThoughts,
		ArtifactSort:      u.ArtifactSort,
	}
	for k, v := range u.ExpandedToolCalls {
		out.ExpandedToolCalls[k] = v
	}
	for k, v := range u.ExpandedAgents {
		out.ExpandedAgents[k] = v
	}
	return out
}
