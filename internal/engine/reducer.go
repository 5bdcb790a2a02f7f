package engine

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/artifact"
	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
	"github.com/consilium-ai/orchestration-engine/pkg/metrics"
)

// ToolEffect is a secondary effect a successful tool result triggers.
type ToolEffect string

const (
	EffectNone       ToolEffect = ""
	EffectAgent      ToolEffect = "agent"
	EffectDiscussion ToolEffect = "discussion"
)

// ToolEffects is the declared mapping from tool name to secondary effect.
// Keeping it explicit means renaming a tool is a one-line config change
// instead of a silent extraction breakage.
type ToolEffects map[string]ToolEffect

// DefaultToolEffects returns the standard worker tool mapping.
func DefaultToolEffects() ToolEffects {
	return ToolEffects{
		"create_agent":   EffectAgent,
		"run_discussion": EffectDiscussion,
	}
}

// Reducer applies events to session records. Application is idempotent per
// event ID: replaying the same event any number of times, in any order
// relative to other deliveries of it, converges to identical derived state.
type Reducer struct {
	effects ToolEffects
	log     *logger.Logger
}

// NewReducer creates a reducer with the given tool effect mapping.
func NewReducer(effects ToolEffects, log *logger.Logger) *Reducer {
	if effects == nil {
		effects = DefaultToolEffects()
	}
	return &Reducer{effects: effects, log: log}
}

// Apply folds one event into the record. Malformed events are dropped with a
// log line and never halt processing; a dropped event leaves the record
// exactly as it was.
func (r *Reducer) Apply(rec *SessionRecord, ev model.Event) {
	if ev.ID != "" {
		if _, dup := rec.applied[ev.ID]; dup {
			metrics.EventsDropped.WithLabelValues("duplicate").Inc()
			return
		}
	}

	if !r.dispatch(rec, ev) {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		r.log.Warn("dropping malformed event",
			zap.String("event_id", ev.ID),
			zap.String("session_id", ev.SessionID),
			zap.String("event_type", string(ev.EventType)),
		)
		return
	}

	if ev.ID != "" {
		rec.applied[ev.ID] = struct{}{}
	}
	rec.events = append(rec.events, ev)
	metrics.EventsApplied.WithLabelValues(string(ev.EventType)).Inc()
}

// dispatch returns false when the event is missing required fields.
func (r *Reducer) dispatch(rec *SessionRecord, ev model.Event) bool {
	switch ev.EventType {
	case model.EventTypeStatusUpdate:
		return r.applyStatusUpdate(rec, ev)
	case model.EventTypeComplete:
		r.transition(rec, model.SessionCompleted)
		at := ev.CreatedAt
		rec.session.CompletedAt = &at
		return true
	case model.EventTypeToolCall:
		return r.applyToolCall(rec, ev)
	case model.EventTypeToolResult:
		return r.applyToolResult(rec, ev)
	case model.EventTypeAgentCreated:
		return r.applyAgentCreated(rec, ev)
	case model.EventTypeAgentThought:
		return r.applyAgentThought(rec, ev)
	case model.EventTypeDiscussionTurn:
		return r.applyDiscussionTurn(rec, ev)
	default:
		// error, heartbeat, and unrecognized types are recorded for audit
		// but produce no other state change.
		return true
	}
}

func (r *Reducer) applyStatusUpdate(rec *SessionRecord, ev model.Event) bool {
	var data model.StatusUpdateData
	if err := json.Unmarshal(ev.EventData, &data); err != nil {
		return false
	}

	status := model.SessionStatus(data.NewStatus())
	if status == "" {
		// No target status: recorded, no transition.
		return true
	}
	if !status.Valid() {
		return false
	}

	r.transition(rec, status)
	if data.Error != "" {
		rec.session.Error = data.Error
	}
	if data.CompletedAt != nil {
		rec.session.CompletedAt = data.CompletedAt
	} else if status.Terminal() && rec.session.CompletedAt == nil {
		at := ev.CreatedAt
		rec.session.CompletedAt = &at
	}
	return true
}

// transition enforces monotonic status progression. The one sanctioned
// regression is reopening a pending/running session as resuming.
func (r *Reducer) transition(rec *SessionRecord, next model.SessionStatus) {
	cur := rec.session.Status
	if next == model.SessionResuming {
		if cur == model.SessionPending || cur == model.SessionRunning || cur == model.SessionResuming {
			rec.session.Status = next
		}
		return
	}
	if statusRank(next) >= statusRank(cur) {
		rec.session.Status = next
	}
}

func statusRank(s model.SessionStatus) int {
	switch s {
	case model.SessionPending:
		return 0
	case model.SessionResuming:
		return 1
	case model.SessionRunning:
		return 2
	case model.SessionCompleted, model.SessionFailed:
		return 3
	}
	return 0
}

func (r *Reducer) applyToolCall(rec *SessionRecord, ev model.Event) bool {
	var data model.ToolCallData
	if err := json.Unmarshal(ev.EventData, &data); err != nil {
		return false
	}
	if data.Tool == "" || data.ToolCallID == "" {
		return false
	}

	// Last write wins. A call ID should not logically repeat, but a repeated
	// key must upsert rather than duplicate.
	rec.toolCalls[data.ToolCallID] = model.ToolCall{
		ToolCallID: data.ToolCallID,
		Tool:       data.Tool,
		Arguments:  data.Arguments,
		Timestamp:  ev.CreatedAt,
	}
	return true
}

func (r *Reducer) applyToolResult(rec *SessionRecord, ev model.Event) bool {
	var data model.ToolResultData
	if err := json.Unmarshal(ev.EventData, &data); err != nil {
		return false
	}
	if data.ToolCallID == "" {
		return false
	}

	rec.toolResults[data.ToolCallID] = model.ToolResult{
		ToolCallID: data.ToolCallID,
		Success:    data.Success,
		Result:     data.Result,
		Error:      data.Error,
		DurationMs: data.DurationMs,
		Summary:    data.Summary,
	}

	// Secondary effects require the originating call; a result whose call was
	// lost still stores above but skips extraction.
	if call, ok := rec.toolCalls[data.ToolCallID]; ok && data.Success {
		switch r.effects[call.Tool] {
		case EffectAgent:
			r.extractAgent(rec, data)
		case EffectDiscussion:
			r.extractDiscussion(rec, data, ev)
		}
	}

	// At most one detection pass per tool_call_id: each pass mints fresh
	// artifact IDs, so a second pass would duplicate artifacts. A failed or
	// empty result does not count as a pass, so a later successful retry
	// still gets one.
	if _, done := rec.detected[data.ToolCallID]; !done && data.Success && len(data.Result) > 0 {
		rec.detected[data.ToolCallID] = struct{}{}
		found := artifact.Extract(data.Result, model.ArtifactSource{ToolCallID: data.ToolCallID})
		rec.artifacts = append(rec.artifacts, found...)
	}
	return true
}

func (r *Reducer) extractAgent(rec *SessionRecord, data model.ToolResultData) {
	var res model.AgentResult
	if err := json.Unmarshal(data.Result, &res); err != nil {
		return
	}
	id := res.ID
	if id == "" {
		id = data.ToolCallID
	}
	r.upsertAgent(rec, model.Agent{
		ID:            id,
		Name:          res.Name,
		Specification: res.Specification,
		Expertise:     res.Expertise,
		Persona:       res.Persona,
	})
}

func (r *Reducer) upsertAgent(rec *SessionRecord, agent model.Agent) {
	if existing, ok := rec.agents[agent.ID]; ok {
		agent.Thoughts = existing.Thoughts
	} else {
		rec.agentOrder = append(rec.agentOrder, agent.ID)
	}
	rec.agents[agent.ID] = agent
}

func (r *Reducer) extractDiscussion(rec *SessionRecord, data model.ToolResultData, ev model.Event) {
	var res model.DiscussionResult
	if err := json.Unmarshal(data.Result, &res); err != nil {
		return
	}
	if len(res.Turns) == 0 {
		return
	}

	disc := model.Discussion{
		ID:    data.ToolCallID,
		Topic: res.Topic,
		Turns: make([]model.DiscussionTurn, 0, len(res.Turns)),
	}
	for _, t := range res.Turns {
		at := ev.CreatedAt
		if t.Timestamp != nil {
			at = *t.Timestamp
		}
		disc.Turns = append(disc.Turns, model.DiscussionTurn{
			AgentID:   t.AgentID,
			AgentName: t.AgentName,
			Message:   t.Message,
			Round:     t.Round,
			Timestamp: at,
		})
	}
	if _, ok := rec.discussions[disc.ID]; !ok {
		rec.discussionOrder = append(rec.discussionOrder, disc.ID)
	}
	rec.discussions[disc.ID] = disc
}

func (r *Reducer) applyAgentCreated(rec *SessionRecord, ev model.Event) bool {
	var res model.AgentResult
	if err := json.Unmarshal(ev.EventData, &res); err != nil {
		return false
	}
	if res.ID == "" || res.Name == "" {
		return false
	}
	r.upsertAgent(rec, model.Agent{
		ID:            res.ID,
		Name:          res.Name,
		Specification: res.Specification,
		Expertise:     res.Expertise,
		Persona:       res.Persona,
	})
	return true
}

func (r *Reducer) applyAgentThought(rec *SessionRecord, ev model.Event) bool {
	var data model.AgentThoughtData
	if err := json.Unmarshal(ev.EventData, &data); err != nil {
		return false
	}
	if data.AgentID == "" || data.Thought == "" {
		return false
	}

	agent, ok := rec.agents[data.AgentID]
	if !ok {
		// Thought raced ahead of the creation event: record, skip the append.
		r.log.Debug("thought for unknown agent",
			zap.String("agent_id", data.AgentID),
			zap.String("session_id", ev.SessionID),
		)
		return true
	}
	agent.Thoughts = append(agent.Thoughts, model.AgentThought{
		Thought:   data.Thought,
		Timestamp: ev.CreatedAt,
	})
	rec.agents[data.AgentID] = agent
	return true
}

func (r *Reducer) applyDiscussionTurn(rec *SessionRecord, ev model.Event) bool {
	var data model.DiscussionTurnData
	if err := json.Unmarshal(ev.EventData, &data); err != nil {
		return false
	}
	if data.DiscussionID == "" || data.AgentName == "" || data.Message == "" {
		return false
	}

	disc, ok := rec.discussions[data.DiscussionID]
	if !ok {
		disc = model.Discussion{ID: data.DiscussionID}
		rec.discussionOrder = append(rec.discussionOrder, data.DiscussionID)
	}
	disc.Turns = append(disc.Turns, model.DiscussionTurn{
		AgentID:   data.AgentID,
		AgentName: data.AgentName,
		Message:   data.Message,
		Round:     data.Round,
		Timestamp: ev.CreatedAt,
	})
	rec.discussions[data.DiscussionID] = disc
	return true
}
