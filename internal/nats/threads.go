package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/consilium-ai/orchestration-engine/internal/model"
)

// threadBucket is the JetStream KV bucket mapping thread IDs to the
// sessions recorded under them.
const threadBucket = "thread_sessions"

// ThreadDirectory resolves thread identifiers to their sessions via
// JetStream KV. The worker records sessions; the engine only reads.
type ThreadDirectory struct {
	kv jetstream.KeyValue
}

// NewThreadDirectory opens (or creates) the thread directory bucket.
func NewThreadDirectory(ctx context.Context, client *Client) (*ThreadDirectory, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, threadBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      threadBucket,
			Description: "thread id -> orchestration sessions",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open thread directory: %w", err)
	}

	return &ThreadDirectory{kv: kv}, nil
}

// Sessions returns the sessions recorded for a thread, most recent last.
// An unknown thread yields an empty list, not an error.
func (d *ThreadDirectory) Sessions(ctx context.Context, threadID string) ([]model.Session, error) {
	entry, err := d.kv.Get(ctx, threadID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %q: %w", threadID, err)
	}

	var sessions []model.Session
	if err := json.Unmarshal(entry.Value(), &sessions); err != nil {
		return nil, fmt.Errorf("decode thread %q: %w", threadID, err)
	}
	return sessions, nil
}

// RecordSession appends (or updates) a session under a thread. Worker-side
// and test helper.
func (d *ThreadDirectory) RecordSession(ctx context.Context, threadID string, session model.Session) error {
	sessions, err := d.Sessions(ctx, threadID)
	if err != nil {
		return err
	}

	replaced := false
	for i, s := range sessions {
		if s.ID == session.ID {
			sessions[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, session)
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode thread %q: %w", threadID, err)
	}
	if _, err := d.kv.Put(ctx, threadID, data); err != nil {
		return fmt.Errorf("put thread %q: %w", threadID, err)
	}
	return nil
}
