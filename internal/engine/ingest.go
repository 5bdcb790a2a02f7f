package engine

import (
	"sort"

	"github.com/consilium-ai/orchestration-engine/internal/model"
)

// SortEvents orders events by created_at ascending, with the event ID as a
// stable tiebreak so equal timestamps still replay deterministically.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

// DedupeEvents drops events whose ID was already seen, keeping first
// occurrence order. Events without an ID are kept as-is.
func DedupeEvents(events []model.Event) []model.Event {
	seen := make(map[string]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		if ev.ID != "" {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
		}
		out = append(out, ev)
	}
	return out
}

// MergeHistory prepares a historical fetch for application: sorted by
// created_at ascending and deduplicated by event ID. The reducer's own
// id-idempotence then absorbs any overlap with the live channel.
func MergeHistory(events []model.Event) []model.Event {
	SortEvents(events)
	return DedupeEvents(events)
}
