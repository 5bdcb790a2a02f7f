package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consilium-ai/orchestration-engine/internal/model"
)

func TestSortEvents(t *testing.T) {
	events := []model.Event{
		{ID: "c", CreatedAt: testBase.Add(2 * time.Second)},
		{ID: "b", CreatedAt: testBase.Add(time.Second)},
		{ID: "a", CreatedAt: testBase},
	}
	SortEvents(events)

	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestSortEventsTimestampTiebreak(t *testing.T) {
	events := []model.Event{
		{ID: "z", CreatedAt: testBase},
		{ID: "a", CreatedAt: testBase},
	}
	SortEvents(events)

	// Equal timestamps fall back to ID so replay order is deterministic.
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "z", events[1].ID)
}

func TestDedupeEvents(t *testing.T) {
	events := []model.Event{
		{ID: "a", CreatedAt: testBase},
		{ID: "b", CreatedAt: testBase.Add(time.Second)},
		{ID: "a", CreatedAt: testBase},
		{ID: "", CreatedAt: testBase},
		{ID: "", CreatedAt: testBase},
	}
	out := DedupeEvents(events)

	// Duplicate IDs collapse; events without IDs pass through untouched.
	require.Len(t, out, 4)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "", out[2].ID)
	assert.Equal(t, "", out[3].ID)
}

func TestMergeHistory(t *testing.T) {
	events := []model.Event{
		{ID: "b", CreatedAt: testBase.Add(time.Second)},
		{ID: "a", CreatedAt: testBase},
		{ID: "b", CreatedAt: testBase.Add(time.Second)},
	}
	out := MergeHistory(events)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestMergeHistoryEmpty(t *testing.T) {
	assert.Empty(t, MergeHistory(nil))
}
