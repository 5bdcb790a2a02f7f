package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/channel"
	"github.com/consilium-ai/orchestration-engine/internal/model"
)

const (
	// StreamName is the name of the orchestration events stream.
	StreamName = "ORCHESTRATION"

	// SubjectPrefix is the prefix for all orchestration subjects.
	SubjectPrefix = "orc"

	// fetchBatchSize bounds one historical fetch round-trip.
	fetchBatchSize = 500
)

// StreamManager handles JetStream operations on the orchestration event log.
// It implements both the engine's historical fetch and the live channel
// source, the two delivery paths of the same event shape.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the orchestration stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		Description: "Append-only orchestration session event log",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a session event.
func EventSubject(sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.session.%s.event.%s", SubjectPrefix, sessionID, eventType)
}

// SessionFilter returns the filter subject for all of a session's events.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.session.%s.>", SubjectPrefix, sessionID)
}

// PublishEvent appends an event to the session's log. The external worker is
// the normal producer; the engine publishes only in tests and tooling.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = m.client.JetStream().Publish(ctx, EventSubject(event.SessionID, event.EventType), data)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// FetchEvents performs the one-shot historical fetch for a session,
// returning every stored event in stream order.
func (m *StreamManager) FetchEvents(ctx context.Context, sessionID string) ([]model.Event, error) {
	js := m.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     SessionFilter(sessionID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var events []model.Event
	for {
		batch, err := consumer.Fetch(fetchBatchSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch events: %w", err)
		}

		count := 0
		for msg := range batch.Messages() {
			count++
			var event model.Event
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				m.client.logger.Warn("skipping undecodable event",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				continue
			}
			events = append(events, event)
		}
		if batch.Error() != nil && !errors.Is(batch.Error(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", batch.Error())
		}
		if count < fetchBatchSize {
			break
		}
	}

	return events, nil
}

// subscription adapts a consume context to the channel package contract.
type subscription struct {
	cc jetstream.ConsumeContext
}

func (s *subscription) Unsubscribe() {
	s.cc.Stop()
}

// Subscribe opens the live push feed for a session. Delivery starts from the
// beginning of the session's log; the reducer's idempotence absorbs the
// overlap with the historical fetch.
func (m *StreamManager) Subscribe(ctx context.Context, sessionID string, onEvent func(model.Event), onError func(error)) (channel.Subscription, error) {
	js := m.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     SessionFilter(sessionID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create live consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var event model.Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			m.client.logger.Warn("skipping undecodable live event",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			return
		}
		onEvent(event)
	}, jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		if err != nil {
			onError(err)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to start consume: %w", err)
	}

	return &subscription{cc: cc}, nil
}
