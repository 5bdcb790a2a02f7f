package engine

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func evt(id string, typ model.EventType, data string, offset time.Duration) model.Event {
	return model.Event{
		ID:        id,
		SessionID: "sess-1",
		EventType: typ,
		EventData: json.RawMessage(data),
		CreatedAt: testBase.Add(offset),
	}
}

func newTestReducer() *Reducer {
	return NewReducer(nil, logger.NewNop())
}

func TestReducerStatusLifecycle(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	assert.Equal(t, model.SessionPending, rec.Session().Status)

	r.Apply(rec, evt("e1", model.EventTypeStatusUpdate, `{"status":"running"}`, 0))
	assert.Equal(t, model.SessionRunning, rec.Session().Status)

	r.Apply(rec, evt("e2", model.EventTypeStatusUpdate, `{"status":"completed"}`, time.Second))
	assert.Equal(t, model.SessionCompleted, rec.Session().Status)
	require.NotNil(t, rec.Session().CompletedAt)
	assert.Equal(t, testBase.Add(time.Second), *rec.Session().CompletedAt)

	// A stale running update must not regress a terminal session.
	r.Apply(rec, evt("e3", model.EventTypeStatusUpdate, `{"status":"running"}`, 2*time.Second))
	assert.Equal(t, model.SessionCompleted, rec.Session().Status)
}

func TestReducerStatusAltField(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	// Some producers carry the target status under "to".
	r.Apply(rec, evt("e1", model.EventTypeStatusUpdate, `{"to":"running"}`, 0))
	assert.Equal(t, model.SessionRunning, rec.Session().Status)
}

func TestReducerResumingTransitions(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	// pending -> resuming is the sanctioned regression.
	r.Apply(rec, evt("e1", model.EventTypeStatusUpdate, `{"status":"resuming"}`, 0))
	assert.Equal(t, model.SessionResuming, rec.Session().Status)

	r.Apply(rec, evt("e2", model.EventTypeStatusUpdate, `{"status":"running"}`, time.Second))
	r.Apply(rec, evt("e3", model.EventTypeStatusUpdate, `{"status":"resuming"}`, 2*time.Second))
	assert.Equal(t, model.SessionResuming, rec.Session().Status)

	// completed -> resuming is not.
	r.Apply(rec, evt("e4", model.EventTypeStatusUpdate, `{"status":"completed"}`, 3*time.Second))
	r.Apply(rec, evt("e5", model.EventTypeStatusUpdate, `{"status":"resuming"}`, 4*time.Second))
	assert.Equal(t, model.SessionCompleted, rec.Session().Status)
}

func TestReducerCompleteEvent(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeComplete, `{}`, time.Minute))
	assert.Equal(t, model.SessionCompleted, rec.Session().Status)
	require.NotNil(t, rec.Session().CompletedAt)
}

func TestReducerFailureCarriesError(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeStatusUpdate, `{"status":"failed","error":"worker crashed"}`, 0))
	assert.Equal(t, model.SessionFailed, rec.Session().Status)
	assert.Equal(t, "worker crashed", rec.Session().Error)
}

func TestReducerIdempotence(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	events := []model.Event{
		evt("e1", model.EventTypeStatusUpdate, `{"status":"running"}`, 0),
		evt("e2", model.EventTypeToolCall, `{"tool_call_id":"tc1","tool":"create_agent"}`, time.Second),
		evt("e3", model.EventTypeToolResult, `{"tool_call_id":"tc1","success":true,"result":{"id":"agent-1","name":"Analyst"}}`, 2*time.Second),
	}
	for _, ev := range events {
		r.Apply(rec, ev)
	}
	first := rec.Snapshot()

	// Replaying the full log must converge to identical state.
	for _, ev := range events {
		r.Apply(rec, ev)
		r.Apply(rec, ev)
	}
	second := rec.Snapshot()

	assert.Equal(t, first.Session, second.Session)
	assert.Equal(t, first.ToolCalls, second.ToolCalls)
	assert.Equal(t, first.Agents, second.Agents)
	assert.Equal(t, len(first.Events), len(second.Events))
	assert.Equal(t, len(first.Artifacts), len(second.Artifacts))
}

func TestReducerAgentExtraction(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeToolCall, `{"tool_call_id":"tc1","tool":"create_agent","arguments":{"role":"analyst"}}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeToolResult, `{"tool_call_id":"tc1","success":true,"result":{"id":"agent-1","name":"Analyst","expertise":"finance"}}`, time.Second))

	snap := rec.Snapshot()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "agent-1", snap.Agents[0].ID)
	assert.Equal(t, "Analyst", snap.Agents[0].Name)
	assert.Equal(t, "finance", snap.Agents[0].Expertise)
}

func TestReducerAgentIDFallsBackToToolCallID(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeToolCall, `{"tool_call_id":"tc9","tool":"create_agent"}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeToolResult, `{"tool_call_id":"tc9","success":true,"result":{"name":"Unnamed"}}`, time.Second))

	snap := rec.Snapshot()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "tc9", snap.Agents[0].ID)
}

func TestReducerResultWithoutCallSkipsExtraction(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	// Late join: the result arrived but its call never did. The result is
	// stored; no agent is extracted.
	r.Apply(rec, evt("e1", model.EventTypeToolResult, `{"tool_call_id":"tc1","success":true,"result":{"id":"agent-1","name":"Analyst"}}`, 0))

	snap := rec.Snapshot()
	assert.Empty(t, snap.Agents)
	require.Contains(t, snap.ToolResults, "tc1")
	assert.True(t, snap.ToolResults["tc1"].Success)
}

func TestReducerFailedResultSkipsExtraction(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeToolCall, `{"tool_call_id":"tc1","tool":"create_agent"}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeToolResult, `{"tool_call_id":"tc1","success":false,"error":"quota exceeded"}`, time.Second))

	snap := rec.Snapshot()
	assert.Empty(t, snap.Agents)
	assert.Equal(t, "quota exceeded", snap.ToolResults["tc1"].Error)
}

func TestReducerDiscussionExtraction(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeToolCall, `{"tool_call_id":"tc2","tool":"run_discussion"}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeToolResult, `{"tool_call_id":"tc2","success":true,"result":{"topic":"pricing","turns":[{"agent_name":"Analyst","message":"raise it","round":1},{"agent_name":"Skeptic","message":"hold","round":1}]}}`, time.Second))

	snap := rec.Snapshot()
	require.Len(t, snap.Discussions, 1)
	assert.Equal(t, "tc2", snap.Discussions[0].ID)
	assert.Equal(t, "pricing", snap.Discussions[0].Topic)
	require.Len(t, snap.Discussions[0].Turns, 2)
	assert.Equal(t, "Analyst", snap.Discussions[0].Turns[0].AgentName)
}

func TestReducerDiscussionTurnEvents(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	// Incremental turns lazily create the discussion.
	r.Apply(rec, evt("e1", model.EventTypeDiscussionTurn, `{"discussion_id":"d1","agent_name":"Analyst","message":"first","round":1}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeDiscussionTurn, `{"discussion_id":"d1","agent_name":"Skeptic","message":"second","round":1}`, time.Second))

	snap := rec.Snapshot()
	require.Len(t, snap.Discussions, 1)
	require.Len(t, snap.Discussions[0].Turns, 2)
	assert.Equal(t, "first", snap.Discussions[0].Turns[0].Message)
	assert.Equal(t, "second", snap.Discussions[0].Turns[1].Message)
}

func TestReducerAgentThoughts(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	// A thought for an unknown agent is recorded but attaches nowhere.
	r.Apply(rec, evt("e1", model.EventTypeAgentThought, `{"agent_id":"agent-1","thought":"early"}`, 0))
	assert.Empty(t, rec.Snapshot().Agents)

	r.Apply(rec, evt("e2", model.EventTypeAgentCreated, `{"id":"agent-1","name":"Analyst"}`, time.Second))
	r.Apply(rec, evt("e3", model.EventTypeAgentThought, `{"agent_id":"agent-1","thought":"on time"}`, 2*time.Second))

	snap := rec.Snapshot()
	require.Len(t, snap.Agents, 1)
	require.Len(t, snap.Agents[0].Thoughts, 1)
	assert.Equal(t, "on time", snap.Agents[0].Thoughts[0].Thought)
}

func TestReducerMalformedEventsDropped(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	cases := []model.Event{
		evt("m1", model.EventTypeStatusUpdate, `{"status":`, 0),
		evt("m2", model.EventTypeStatusUpdate, `{"status":"launched"}`, 0),
		evt("m3", model.EventTypeToolCall, `{"tool_call_id":"tc1"}`, 0),
		evt("m4", model.EventTypeToolResult, `{"success":true}`, 0),
		evt("m5", model.EventTypeAgentThought, `{"agent_id":"a1"}`, 0),
		evt("m6", model.EventTypeDiscussionTurn, `{"discussion_id":"d1"}`, 0),
	}
	for _, ev := range cases {
		r.Apply(rec, ev)
	}

	snap := rec.Snapshot()
	assert.Empty(t, snap.Events, "malformed events must not be recorded")
	assert.Equal(t, model.SessionPending, snap.Session.Status)
	assert.Empty(t, snap.ToolCalls)
	assert.Empty(t, snap.ToolResults)

	// Processing continues after a drop.
	r.Apply(rec, evt("e1", model.EventTypeStatusUpdate, `{"status":"running"}`, time.Second))
	assert.Equal(t, model.SessionRunning, rec.Session().Status)
}

func TestReducerArtifactDetectionRunsOnce(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	result := `{"tool_call_id":"tc1","success":true,"result":"<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"}`
	r.Apply(rec, evt("e1", model.EventTypeToolCall, `{"tool_call_id":"tc1","tool":"render_chart"}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeToolResult, result, time.Second))
	// Same tool_call_id under a fresh event ID: upsert, but no second
	// detection pass.
	r.Apply(rec, evt("e3", model.EventTypeToolResult, result, 2*time.Second))

	snap := rec.Snapshot()
	require.Len(t, snap.Artifacts, 1)
	assert.Equal(t, model.ArtifactSVG, snap.Artifacts[0].Type)
	assert.Equal(t, "tc1", snap.Artifacts[0].Source.ToolCallID)
}

func TestReducerArtifactDetectionAfterFailedResult(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeToolCall, `{"tool_call_id":"tc1","tool":"render_chart"}`, 0))
	// A failed result carries no artifacts and must not consume the
	// detection pass for this tool_call_id.
	r.Apply(rec, evt("e2", model.EventTypeToolResult, `{"tool_call_id":"tc1","success":false,"error":"timeout"}`, time.Second))

	snap := rec.Snapshot()
	require.Empty(t, snap.Artifacts)

	result := `{"tool_call_id":"tc1","success":true,"result":"<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"}`
	r.Apply(rec, evt("e3", model.EventTypeToolResult, result, 2*time.Second))
	r.Apply(rec, evt("e4", model.EventTypeToolResult, result, 3*time.Second))

	snap = rec.Snapshot()
	require.Len(t, snap.Artifacts, 1)
	assert.Equal(t, model.ArtifactSVG, snap.Artifacts[0].Type)
}

func TestReducerAuditOnlyEvents(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeHeartbeat, `{}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeError, `{"message":"transient"}`, time.Second))

	snap := rec.Snapshot()
	assert.Len(t, snap.Events, 2)
	assert.Equal(t, model.SessionPending, snap.Session.Status)
}

func TestSnapshotIsolation(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeAgentCreated, `{"id":"agent-1","name":"Analyst"}`, 0))
	snap := rec.Snapshot()
	snap.Agents[0].Name = "Mutated"
	snap.ToolCalls["tc-x"] = model.ToolCall{ToolCallID: "tc-x"}

	fresh := rec.Snapshot()
	assert.Equal(t, "Analyst", fresh.Agents[0].Name)
	assert.NotContains(t, fresh.ToolCalls, "tc-x")
}

func TestReducerCustomToolEffects(t *testing.T) {
	effects := ToolEffects{"spawn_worker": EffectAgent}
	r := NewReducer(effects, logger.NewNop())
	rec := NewSessionRecord("sess-1")

	r.Apply(rec, evt("e1", model.EventTypeToolCall, `{"tool_call_id":"tc1","tool":"spawn_worker"}`, 0))
	r.Apply(rec, evt("e2", model.EventTypeToolResult, `{"tool_call_id":"tc1","success":true,"result":{"id":"w1","name":"Worker"}}`, time.Second))

	require.Len(t, rec.Snapshot().Agents, 1)
}

func TestReducerManyEventsStaysConsistent(t *testing.T) {
	r := newTestReducer()
	rec := NewSessionRecord("sess-1")

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("tc%d", i)
		r.Apply(rec, evt(fmt.Sprintf("c%d", i), model.EventTypeToolCall,
			fmt.Sprintf(`{"tool_call_id":%q,"tool":"search"}`, id), time.Duration(i)*time.Millisecond))
		r.Apply(rec, evt(fmt.Sprintf("r%d", i), model.EventTypeToolResult,
			fmt.Sprintf(`{"tool_call_id":%q,"success":true,"result":"plain text"}`, id), time.Duration(i)*time.Millisecond+time.Millisecond))
	}

	snap := rec.Snapshot()
	assert.Len(t, snap.ToolCalls, 200)
	assert.Len(t, snap.ToolResults, 200)
	assert.Len(t, snap.Events, 400)
}
