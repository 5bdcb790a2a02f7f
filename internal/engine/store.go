package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/channel"
	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
	"github.com/consilium-ai/orchestration-engine/pkg/metrics"
)

// liveQueueSize bounds the per-session buffer between the live channel
// callback and the single processing goroutine.
const liveQueueSize = 256

// HistoryFetcher performs the one-shot historical event fetch.
type HistoryFetcher interface {
	FetchEvents(ctx context.Context, sessionID string) ([]model.Event, error)
}

// ThreadDirectory resolves an external thread identifier to the sessions
// recorded under it in the durable store.
type ThreadDirectory interface {
	Sessions(ctx context.Context, threadID string) ([]model.Session, error)
}

// Store owns all per-session derived state. It is an explicit registry:
// construct one per application scope, pass it by reference, and call
// Dispose when done.
type Store struct {
	reducer    *Reducer
	history    HistoryFetcher
	source     channel.Source
	directory  ThreadDirectory
	channelCfg channel.Config
	log        *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
	ui       map[string]*UIState
	threads  map[string][]string
	disposed bool
}

type entry struct {
	record   *SessionRecord
	ctrl     *channel.Controller
	queue    chan model.Event
	stop     chan struct{}
	stopOnce sync.Once
	loading  bool
	connErr  string

	// liveCtx outlives the Activate call: the live channel reconnects long
	// after the activating request is gone. Canceled on Clear/Dispose.
	liveCtx context.Context
	cancel  context.CancelFunc
}

func (e *entry) shutdown() {
	if e.ctrl != nil {
		e.ctrl.Close()
	}
	e.cancel()
	e.stopOnce.Do(func() { close(e.stop) })
}

// StoreDeps are the collaborators a Store needs.
type StoreDeps struct {
	Reducer    *Reducer
	History    HistoryFetcher
	Source     channel.Source
	Directory  ThreadDirectory
	ChannelCfg channel.Config
	Logger     *logger.Logger
}

// NewStore creates a session registry.
func NewStore(deps StoreDeps) *Store {
	cfg := deps.ChannelCfg
	if cfg.MaxAttempts <= 0 {
		cfg = channel.DefaultConfig()
	}
	return &Store{
		reducer:    deps.Reducer,
		history:    deps.History,
		source:     deps.Source,
		directory:  deps.Directory,
		channelCfg: cfg,
		log:        deps.Logger,
		sessions:   make(map[string]*entry),
		ui:         make(map[string]*UIState),
		threads:    make(map[string][]string),
	}
}

// Activate loads a session: historical fetch, reduce in order, then open the
// live channel. Idempotent: a session already loading or loaded returns
// immediately. A failed historical fetch leaves the session inactive, and
// Activate may simply be called again. ctx bounds the historical fetch only;
// the live channel runs on its own lifetime until Clear or Dispose.
func (s *Store) Activate(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errors.New("store is disposed")
	}
	if _, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return nil
	}
	liveCtx, cancel := context.WithCancel(context.Background())
	e := &entry{
		record:  NewSessionRecord(sessionID),
		queue:   make(chan model.Event, liveQueueSize),
		stop:    make(chan struct{}),
		loading: true,
		liveCtx: liveCtx,
		cancel:  cancel,
	}
	s.sessions[sessionID] = e
	metrics.SessionsActive.Inc()
	s.mu.Unlock()

	events, err := s.history.FetchEvents(ctx, sessionID)
	if err != nil {
		s.mu.Lock()
		if s.sessions[sessionID] == e {
			delete(s.sessions, sessionID)
			metrics.SessionsActive.Dec()
		}
		s.mu.Unlock()
		e.cancel()
		return fmt.Errorf("fetch session history: %w", err)
	}

	events = MergeHistory(events)

	s.mu.Lock()
	if s.sessions[sessionID] != e {
		// Cleared while the fetch was in flight.
		s.mu.Unlock()
		return nil
	}
	for _, ev := range events {
		s.reducer.Apply(e.record, ev)
	}
	e.loading = false
	terminal := e.record.session.Status.Terminal()
	s.mu.Unlock()

	s.log.Info("session activated",
		zap.String("session_id", sessionID),
		zap.Int("history_events", len(events)),
	)

	if terminal {
		// Nothing more will arrive; skip the live channel entirely.
		e.cancel()
		return nil
	}

	go s.consume(e)

	ctrl := channel.New(
		s.source,
		sessionID,
		s.channelCfg,
		func(ev model.Event) {
			select {
			case e.queue <- ev:
			case <-e.stop:
			}
		},
		func(err error) {
			s.mu.Lock()
			e.connErr = err.Error()
			s.mu.Unlock()
		},
		s.log.WithSession(sessionID),
	)

	s.mu.Lock()
	if s.sessions[sessionID] != e {
		s.mu.Unlock()
		e.shutdown()
		return nil
	}
	e.ctrl = ctrl
	s.mu.Unlock()

	ctrl.Connect(e.liveCtx)
	return nil
}

// consume is the single processing task for one session's live feed. All
// reducer applications for the session happen either here or during the
// historical replay, never concurrently.
func (s *Store) consume(e *entry) {
	for {
		select {
		case <-e.stop:
			return
		case ev := <-e.queue:
			s.mu.Lock()
			s.reducer.Apply(e.record, ev)
			terminal := e.record.session.Status.Terminal()
			ctrl := e.ctrl
			s.mu.Unlock()

			// A terminal status (or explicit complete event) closes the
			// channel immediately, regardless of backoff state.
			if terminal && ctrl != nil {
				ctrl.Close()
			}
		}
	}
}

// Clear tears down the live channel and discards all derived and UI state
// for the session. Idempotent, including for sessions never activated.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	e := s.sessions[sessionID]
	if e != nil {
		delete(s.sessions, sessionID)
		metrics.SessionsActive.Dec()
	}
	delete(s.ui, sessionID)
	s.mu.Unlock()

	if e != nil {
		e.shutdown()
	}
}

// Dispose tears down every session and renders the store unusable.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	entries := make([]*entry, 0, len(s.sessions))
	for id, e := range s.sessions {
		entries = append(entries, e)
		delete(s.sessions, id)
	}
	s.ui = make(map[string]*UIState)
	s.threads = make(map[string][]string)
	metrics.SessionsActive.Sub(float64(len(entries)))
	s.mu.Unlock()

	for _, e := range entries {
		e.shutdown()
	}
}

// SessionData returns a snapshot of the session's derived state.
func (s *Store) SessionData(sessionID string) (SessionData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return SessionData{}, false
	}
	return e.record.Snapshot(), true
}

// Loading reports whether the session is still replaying history.
func (s *Store) Loading(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	return ok && e.loading
}

// Connected reports whether the session's live channel is open.
func (s *Store) Connected(sessionID string) bool {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	var ctrl *channel.Controller
	if ok {
		ctrl = e.ctrl
	}
	s.mu.RUnlock()
	if ctrl == nil {
		return false
	}
	return ctrl.State() == channel.StateOpen
}

// ConnectionError returns the surfaced "connection lost" message, if the
// live channel exhausted its retries.
func (s *Store) ConnectionError(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.sessions[sessionID]; ok {
		return e.connErr
	}
	return ""
}

// UI state accessors. UI state is keyed independently of derived data.

// UIStateFor returns a copy of the session's UI state.
func (s *Store) UIStateFor(sessionID string) UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.ui[sessionID]; ok {
		return u.clone()
	}
	return *NewUIState()
}

func (s *Store) mutateUI(sessionID string, fn func(*UIState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.ui[sessionID]
	if !ok {
		u = NewUIState()
		s.ui[sessionID] = u
	}
	fn(u)
}

// SetToolCallExpanded toggles a tool call's expansion in the UI.
func (s *Store) SetToolCallExpanded(sessionID, toolCallID string, expanded bool) {
	s.mutateUI(sessionID, func(u *UIState) { u.ExpandedToolCalls[toolCallID] = expanded })
}

// SetAgentExpanded toggles an agent's expansion in the UI.
func (s *Store) SetAgentExpanded(sessionID, agentID string, expanded bool) {
	s.mutateUI(sessionID, func(u *UIState) { u.ExpandedAgents[agentID] = expanded })
}

// SetShowThoughts toggles agent thought visibility.
func (s *Store) SetShowThoughts(sessionID string, show bool) {
	s.mutateUI(sessionID, func(u *UIState) { u.ShowThoughts = show })
}

// SetArtifactSort sets the artifact sort order.
func (s *Store) SetArtifactSort(sessionID, sortOrder string) {
	s.mutateUI(sessionID, func(u *UIState) { u.ArtifactSort = sortOrder })
}

// ClearUIState discards the session's UI state without touching derived data.
func (s *Store) ClearUIState(sessionID string) {
	s.mu.Lock()
	delete(s.ui, sessionID)
	s.mu.Unlock()
}

// LoadThread queries the durable store for the sessions grouped under a
// thread, records the grouping, and auto-activates the first session still
// in a non-terminal status.
func (s *Store) LoadThread(ctx context.Context, threadID string) ([]model.Session, error) {
	if s.directory == nil {
		return nil, errors.New("no thread directory configured")
	}
	sessions, err := s.directory.Sessions(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("query thread sessions: %w", err)
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	s.mu.Lock()
	s.threads[threadID] = ids
	s.mu.Unlock()

	for _, sess := range sessions {
		if !sess.Status.Terminal() {
			if err := s.Activate(ctx, sess.ID); err != nil {
				s.log.Warn("auto-activate failed",
					zap.String("thread_id", threadID),
					zap.String("session_id", sess.ID),
					zap.Error(err),
				)
			}
			break
		}
	}
	return sessions, nil
}

// ThreadSessions returns the recorded session IDs for a thread.
func (s *Store) ThreadSessions(threadID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.threads[threadID]...)
}
