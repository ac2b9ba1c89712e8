// Package connector owns the lifecycle of the push channel: connecting,
// bounded reconnection, fallback polling when the channel stays down, and
// fan-out of connection-status, fallback-mode, and record events to
// registered observers.
package connector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teamoflifebox/erp-analytics/pkg/feed"
	"github.com/teamoflifebox/erp-analytics/pkg/logger"
	"github.com/teamoflifebox/erp-analytics/pkg/telemetry"
)

var (
	// ErrNoIdentity is returned by Connect when no identity is supplied.
	// The connector fails closed rather than opening an anonymous channel.
	ErrNoIdentity = errors.New("connector: identity required")

	// ErrSessionActive is returned when Connect is called for a different
	// identity while a session is running. The previous session must be
	// torn down first.
	ErrSessionActive = errors.New("connector: another identity's session is active")
)

// State is the connection lifecycle state. It is orthogonal to fallback
// mode: a disconnected connector can still serve data via polling.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// Handlers receives the connector's three observable event kinds. Nil
// fields are skipped.
type Handlers struct {
	ConnectionStatus func(connected bool)
	FallbackMode     func(active bool)
	Record           func(rec feed.Record)
}

// Registration is the handle returned by Register. Unregistering before
// disconnecting is what makes session teardown ordering enforceable.
type Registration struct {
	id   string
	c    *Connector
	once sync.Once
}

// Unregister removes the handlers. Safe to call more than once.
func (r *Registration) Unregister() {
	r.once.Do(func() {
		r.c.obsMu.Lock()
		delete(r.c.observers, r.id)
		r.c.obsMu.Unlock()
	})
}

// Option configures a Connector.
type Option func(*Connector)

// WithRetryer replaces the reconnection policy.
func WithRetryer(r Retryer) Option {
	return func(c *Connector) { c.retryer = r }
}

// WithCheckInterval sets how often the established channel is checked
// for liveness.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Connector) { c.checkInterval = d }
}

// WithPollInterval sets the fallback polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Connector) { c.pollInterval = d }
}

// WithPollLimit sets how many records each fallback poll requests.
func WithPollLimit(n int) Option {
	return func(c *Connector) { c.pollLimit = n }
}

// WithLogger sets the connector logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Connector) { c.log = logger.OrNop(log) }
}

// WithTelemetry wires prometheus counters.
func WithTelemetry(tel *telemetry.Metrics) Option {
	return func(c *Connector) { c.tel = tel }
}

// Connector manages the push channel for one named feed channel.
type Connector struct {
	client        feed.Client
	channel       string
	retryer       Retryer
	checkInterval time.Duration
	pollInterval  time.Duration
	pollLimit     int
	log           logger.Logger
	tel           *telemetry.Metrics

	mu         sync.Mutex
	state      State
	fallback   bool
	identity   string
	running    bool
	sub        feed.Subscription
	stopCh     chan struct{}
	doneCh     chan struct{}
	lastPolled time.Time
	// polledIDs are the record ids delivered at the lastPolled instant.
	// Commit timestamps have second resolution, so ids disambiguate
	// records sharing the cursor's instant across poll ticks.
	polledIDs map[string]struct{}

	obsMu     sync.RWMutex
	observers map[string]Handlers
}

// New creates a connector for the named channel. The channel doubles as
// the table polled while in fallback mode.
func New(client feed.Client, channel string, opts ...Option) *Connector {
	c := &Connector{
		client:        client,
		channel:       channel,
		retryer:       NewExponentialBackoff(),
		checkInterval: time.Second,
		pollInterval:  10 * time.Second,
		pollLimit:     20,
		log:           logger.Nop{},
		state:         StateDisconnected,
		observers:     make(map[string]Handlers),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds an observer and returns its removal handle.
func (c *Connector) Register(h Handlers) *Registration {
	id := uuid.NewString()

	c.obsMu.Lock()
	c.observers[id] = h
	c.obsMu.Unlock()

	return &Registration{id: id, c: c}
}

// Connect starts the connection lifecycle for the given identity.
// Calling it again for the same identity while running is a no-op; an
// absent identity fails closed with an immediate disconnected status
// event.
func (c *Connector) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		c.emitConnectionStatus(false)
		return ErrNoIdentity
	}

	c.mu.Lock()
	if c.running {
		same := c.identity == identity
		c.mu.Unlock()
		if same {
			return nil
		}
		return ErrSessionActive
	}
	c.identity = identity
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.lastPolled = time.Time{}
	c.polledIDs = nil
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Disconnect tears down the channel subscription and all retry or poll
// loops. The terminal disconnected status event is emitted exactly once
// per call, even when already disconnected, so observers can rely on
// receiving it.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	running := c.running
	c.running = false
	c.identity = ""
	stopCh := c.stopCh
	doneCh := c.doneCh
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if running {
		close(stopCh)
		<-doneCh
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if err := c.client.Close(); err != nil {
		c.log.Debug("feed close failed during disconnect", "error", err)
	}

	c.setState(StateDisconnected)
	c.tel.SetConnected(false)
	c.emitConnectionStatus(false)
}

// Publish writes an update record to the backing store. The boolean is
// write acceptance only; propagation comes back through the inbound path
// so the author observes the same canonicalization as everyone else.
func (c *Connector) Publish(ctx context.Context, rec feed.Record) (bool, error) {
	ok, err := c.client.Insert(ctx, c.channel, rec)
	if err != nil {
		return false, err
	}
	if !ok {
		c.tel.IncPublishRejections()
	}
	return ok, nil
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFallback reports whether the connector is relying on point-in-time
// queries instead of push delivery.
func (c *Connector) InFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

func (c *Connector) run(ctx context.Context) {
	c.mu.Lock()
	doneCh := c.doneCh
	c.mu.Unlock()
	defer close(doneCh)

	attempt := 0
	for {
		if c.stopped(ctx) {
			return
		}
		c.setState(StateConnecting)

		if err := c.establish(ctx); err != nil {
			c.setState(StateError)
			c.tel.IncReconnectAttempts()
			c.log.Warn("push channel attempt failed", "attempt", attempt, "error", err)

			delay, retry := c.retryer.NextDelay(attempt)
			attempt++
			if retry {
				if !c.wait(ctx, delay) {
					return
				}
				continue
			}

			c.enterFallback()
			if !c.pollUntilReconnect(ctx) {
				return
			}
			// pollUntilReconnect only returns true after a fresh
			// establish succeeded.
		}

		attempt = 0
		c.retryer.Reset()
		c.exitFallback()
		c.setState(StateConnected)
		c.tel.SetConnected(true)
		c.emitConnectionStatus(true)
		c.log.Info("push channel established", "channel", c.channel)

		if !c.watch(ctx) {
			return
		}

		c.tel.SetConnected(false)
		c.setState(StateDisconnected)
		c.emitConnectionStatus(false)
		c.log.Warn("push channel dropped", "channel", c.channel)
	}
}

func (c *Connector) establish(ctx context.Context) error {
	if err := c.client.Connect(ctx); err != nil {
		return err
	}

	sub, err := c.client.Subscribe(ctx, c.channel, c.deliver)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// watch blocks while the channel is healthy. It returns true when the
// channel dropped and false when the session is stopping.
func (c *Connector) watch(ctx context.Context) bool {
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan():
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.client.IsClosed() {
				return true
			}
		}
	}
}

// pollUntilReconnect substitutes periodic point-in-time queries for push
// delivery. It returns true once a fresh channel establishment succeeds
// (the only way out of fallback) and false when the session is stopping.
func (c *Connector) pollUntilReconnect(ctx context.Context) bool {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan():
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		c.pollOnce(ctx)

		err := c.establish(ctx)
		if err == nil {
			return true
		}
		c.tel.IncReconnectAttempts()
		c.log.Debug("reconnect attempt from fallback failed", "error", err)
	}
}

func (c *Connector) pollOnce(ctx context.Context) {
	// The push subscription is what is broken; the request path may
	// still work, possibly after a reconnect of the transport.
	if err := c.client.Connect(ctx); err != nil {
		c.log.Debug("fallback poll skipped, transport down", "error", err)
		return
	}

	records, err := c.client.QueryRecent(ctx, c.channel, c.pollLimit)
	if err != nil {
		c.log.Debug("fallback poll failed", "error", err)
		return
	}

	c.mu.Lock()
	watermark := c.lastPolled
	seen := c.polledIDs
	c.mu.Unlock()

	// Most-recent-first from the store; deliver the unseen tail in
	// commit order. A record at the cursor's exact instant is only a
	// duplicate if its id was already delivered.
	newest := watermark
	newestIDs := make(map[string]struct{}, len(seen))
	for id := range seen {
		newestIDs[id] = struct{}{}
	}
	for i := len(records) - 1; i >= 0; i-- {
		t := recordTime(records[i])
		if t.IsZero() {
			c.log.Debug("fallback poll skipped record without timestamp")
			continue
		}
		if t.Before(watermark) {
			continue
		}
		id, _ := records[i]["id"].(string)
		if t.Equal(watermark) {
			if id == "" {
				c.log.Debug("fallback poll skipped id-less record at the cursor instant")
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
		}
		c.deliver(records[i])
		if t.After(newest) {
			newest = t
			newestIDs = make(map[string]struct{})
		}
		if t.Equal(newest) && id != "" {
			newestIDs[id] = struct{}{}
		}
	}

	c.mu.Lock()
	c.lastPolled = newest
	c.polledIDs = newestIDs
	c.mu.Unlock()
}

// recordTime extracts the store commit timestamp of a raw record.
func recordTime(rec feed.Record) time.Time {
	v, ok := rec["createdAt"]
	if !ok {
		v, ok = rec["timestamp"]
	}
	if !ok {
		return time.Time{}
	}

	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func (c *Connector) enterFallback() {
	c.mu.Lock()
	if c.fallback {
		c.mu.Unlock()
		return
	}
	c.fallback = true
	c.mu.Unlock()

	c.tel.IncFallbackTransitions()
	c.log.Warn("entering fallback mode", "channel", c.channel, "poll_interval", c.pollInterval)
	c.emitFallback(true)
}

func (c *Connector) exitFallback() {
	c.mu.Lock()
	if !c.fallback {
		c.mu.Unlock()
		return
	}
	c.fallback = false
	c.mu.Unlock()

	c.log.Info("leaving fallback mode", "channel", c.channel)
	c.emitFallback(false)
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debug("connection state changed", "state", s.String())
}

func (c *Connector) stopChan() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCh
}

func (c *Connector) stopped(ctx context.Context) bool {
	select {
	case <-c.stopChan():
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Connector) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-c.stopChan():
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Connector) deliver(rec feed.Record) {
	for _, h := range c.handlers() {
		if h.Record != nil {
			h.Record(rec)
		}
	}
}

func (c *Connector) emitConnectionStatus(connected bool) {
	for _, h := range c.handlers() {
		if h.ConnectionStatus != nil {
			h.ConnectionStatus(connected)
		}
	}
}

func (c *Connector) emitFallback(active bool) {
	for _, h := range c.handlers() {
		if h.FallbackMode != nil {
			h.FallbackMode(active)
		}
	}
}

func (c *Connector) handlers() []Handlers {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()

	out := make([]Handlers, 0, len(c.observers))
	for _, h := range c.observers {
		out = append(out, h)
	}
	return out
}
