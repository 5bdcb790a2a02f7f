// Package channel manages the live push subscription lifecycle per session.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
	"github.com/consilium-ai/orchestration-engine/pkg/metrics"
)

// State is the connection state of a controller.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// Subscription is a handle to an open live subscription.
type Subscription interface {
	Unsubscribe()
}

// Source opens live event subscriptions. Delivery is at-most-once and not
// necessarily ordered; consumers rely on event identity, not arrival order.
type Source interface {
	Subscribe(ctx context.Context, sessionID string, onEvent func(model.Event), onError func(error)) (Subscription, error)
}

// Config controls reconnect behavior.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns the production reconnect policy: 5 attempts,
// 1s initial delay doubling up to a 30s cap.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// newBackOff builds the deterministic exponential schedule for a config.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Controller drives one session's live subscription through the state
// machine idle → connecting → open → (closed|error), reconnecting with
// exponential backoff on transport errors.
type Controller struct {
	source    Source
	sessionID string
	cfg       Config
	onEvent   func(model.Event)
	onDown    func(error)
	log       *logger.Logger

	mu       sync.Mutex
	state    State
	attempts int
	bo       *backoff.ExponentialBackOff
	timer    *time.Timer
	sub      Subscription
	lastErr  error
	ctx      context.Context
}

// New creates a controller for the given session. onEvent receives every
// pushed event; onDown fires once if the channel reaches the terminal error
// state after exhausting retries.
func New(source Source, sessionID string, cfg Config, onEvent func(model.Event), onDown func(error), log *logger.Logger) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Controller{
		source:    source,
		sessionID: sessionID,
		cfg:       cfg,
		onEvent:   onEvent,
		onDown:    onDown,
		log:       log,
		state:     StateIdle,
	}
}

// Connect opens the subscription. It is a no-op unless the controller is idle.
func (c *Controller) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.ctx = ctx
	c.bo = newBackOff(c.cfg)
	c.mu.Unlock()

	c.connect()
}

func (c *Controller) connect() {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateError {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	ctx := c.ctx
	c.mu.Unlock()

	sub, err := c.source.Subscribe(ctx, c.sessionID, c.onEvent, c.handleError)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.handleError(err)
		return
	}
	c.sub = sub
	c.state = StateOpen
	c.attempts = 0
	c.bo.Reset()
	c.mu.Unlock()

	c.log.Debug("live channel open", zap.String("session_id", c.sessionID))
}

// handleError runs for both synchronous subscribe failures and asynchronous
// transport errors. It schedules a reconnect, or goes terminal once the
// attempt budget is spent.
func (c *Controller) handleError(err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateError {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}

	delay := c.bo.NextBackOff()
	c.attempts++

	if c.attempts >= c.cfg.MaxAttempts {
		c.state = StateError
		attempts := c.attempts
		c.mu.Unlock()

		metrics.ChannelFailures.Inc()
		c.log.Error("live channel lost, retries exhausted",
			zap.String("session_id", c.sessionID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if c.onDown != nil {
			c.onDown(fmt.Errorf("connection lost after %d attempts: %w", attempts, err))
		}
		return
	}

	c.state = StateConnecting
	c.timer = time.AfterFunc(delay, c.connect)
	attempt := c.attempts
	c.mu.Unlock()

	metrics.ChannelReconnects.Inc()
	c.log.Warn("live channel error, reconnecting",
		zap.String("session_id", c.sessionID),
		zap.Duration("backoff", delay),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
}

// Close tears the subscription down and cancels any pending backoff timer.
// Safe to call multiple times and on a controller that never connected.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent transport error, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
