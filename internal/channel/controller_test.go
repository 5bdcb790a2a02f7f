package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
)

type fakeSub struct {
	unsubscribed chan struct{}
	once         sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{unsubscribed: make(chan struct{})}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.unsubscribed) })
}

// fakeSource fails the first failFirst subscribe attempts, then succeeds and
// captures the callbacks so tests can push events and transport errors.
type fakeSource struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	onEvent   func(model.Event)
	onError   func(error)
	subs      []*fakeSub
}

func (f *fakeSource) Subscribe(_ context.Context, _ string, onEvent func(model.Event), onError func(error)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("connection refused")
	}
	f.onEvent = onEvent
	f.onError = onError
	sub := newFakeSub()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) pushError(err error) {
	f.mu.Lock()
	onError := f.onError
	f.mu.Unlock()
	onError(err)
}

func (f *fakeSource) pushEvent(ev model.Event) {
	f.mu.Lock()
	onEvent := f.onEvent
	f.mu.Unlock()
	onEvent(ev)
}

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestBackOffSchedule(t *testing.T) {
	bo := newBackOff(DefaultConfig())

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, bo.NextBackOff(), "delay %d", i)
	}
}

func TestConnectOpensAndDeliversEvents(t *testing.T) {
	src := &fakeSource{}
	var mu sync.Mutex
	var got []model.Event

	c := New(src, "sess-1", fastConfig(5), func(ev model.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}, nil, logger.NewNop())

	c.Connect(context.Background())
	require.Equal(t, StateOpen, c.State())

	src.pushEvent(model.Event{ID: "e1"})
	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	mu.Unlock()
}

func TestConnectIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	c := New(src, "sess-1", fastConfig(5), func(model.Event) {}, nil, logger.NewNop())

	c.Connect(context.Background())
	c.Connect(context.Background())
	assert.Equal(t, 1, src.callCount())
}

func TestReconnectAfterFailures(t *testing.T) {
	src := &fakeSource{failFirst: 2}
	c := New(src, "sess-1", fastConfig(5), func(model.Event) {}, nil, logger.NewNop())

	c.Connect(context.Background())

	require.Eventually(t, func() bool {
		return c.State() == StateOpen
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, src.callCount())
}

func TestTransportErrorTriggersReconnect(t *testing.T) {
	src := &fakeSource{}
	c := New(src, "sess-1", fastConfig(5), func(model.Event) {}, nil, logger.NewNop())

	c.Connect(context.Background())
	require.Equal(t, StateOpen, c.State())

	src.pushError(errors.New("stream reset"))

	require.Eventually(t, func() bool {
		return c.State() == StateOpen && src.callCount() == 2
	}, time.Second, time.Millisecond)

	// The failed subscription must have been released.
	select {
	case <-src.subs[0].unsubscribed:
	default:
		t.Fatal("first subscription was not unsubscribed")
	}
}

func TestTerminalAfterExhaustedRetries(t *testing.T) {
	src := &fakeSource{failFirst: 100}

	var mu sync.Mutex
	var downErrs []error
	c := New(src, "sess-1", fastConfig(3), func(model.Event) {}, func(err error) {
		mu.Lock()
		downErrs = append(downErrs, err)
		mu.Unlock()
	}, logger.NewNop())

	c.Connect(context.Background())

	require.Eventually(t, func() bool {
		return c.State() == StateError
	}, time.Second, time.Millisecond)

	assert.Equal(t, 3, src.callCount())

	mu.Lock()
	require.Len(t, downErrs, 1)
	assert.Contains(t, downErrs[0].Error(), "connection lost after 3 attempts")
	mu.Unlock()

	require.Error(t, c.LastError())

	// A terminal controller stays terminal.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, src.callCount())
	assert.Equal(t, StateError, c.State())
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	src := &fakeSource{failFirst: 100}
	c := New(src, "sess-1", Config{
		MaxAttempts:     5,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
	}, func(model.Event) {}, nil, logger.NewNop())

	c.Connect(context.Background())
	require.Equal(t, 1, src.callCount())

	c.Close()
	assert.Equal(t, StateClosed, c.State())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, src.callCount())
}

func TestCloseReleasesSubscription(t *testing.T) {
	src := &fakeSource{}
	c := New(src, "sess-1", fastConfig(5), func(model.Event) {}, nil, logger.NewNop())

	c.Connect(context.Background())
	c.Close()
	c.Close() // safe to repeat

	require.Len(t, src.subs, 1)
	select {
	case <-src.subs[0].unsubscribed:
	default:
		t.Fatal("subscription was not released on close")
	}
}

func TestAttemptsResetAfterOpen(t *testing.T) {
	src := &fakeSource{failFirst: 2}
	c := New(src, "sess-1", fastConfig(3), func(model.Event) {}, nil, logger.NewNop())

	c.Connect(context.Background())
	require.Eventually(t, func() bool {
		return c.State() == StateOpen
	}, time.Second, time.Millisecond)

	// Two attempts were burned connecting; a fresh transport error must get
	// a full budget again rather than going terminal on the next failure.
	src.pushError(errors.New("stream reset"))
	require.Eventually(t, func() bool {
		return c.State() == StateOpen && src.callCount() == 4
	}, time.Second, time.Millisecond)
}
