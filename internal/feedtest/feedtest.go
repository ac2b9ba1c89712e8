// Package feedtest provides an in-memory feed.Client for tests: inserts
// round-trip to subscribers the way a real change feed would, and
// connection failures are scriptable.
package feedtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teamoflifebox/erp-analytics/internal/rand"
	"github.com/teamoflifebox/erp-analytics/pkg/feed"
)

// ErrConnectRefused is returned while scripted connect failures remain.
var ErrConnectRefused = errors.New("feedtest: connect refused")

// ErrSubscribeRefused is returned while scripted subscribe failures remain.
var ErrSubscribeRefused = errors.New("feedtest: subscribe refused")

// Client is a scriptable in-memory change feed.
type Client struct {
	mu             sync.Mutex
	queryGate      chan struct{}
	connected      bool
	failConnects   int
	failSubscribes int
	rejectInserts  bool
	records        []feed.Record // oldest first
	subs           map[string]map[string]func(feed.Record)
	connectCalls   int
	queryCalls     int
}

// New creates a disconnected fake feed.
func New() *Client {
	return &Client{
		subs: make(map[string]map[string]func(feed.Record)),
	}
}

// SetQueryGate installs a gate channel: QueryRecent blocks until the
// gate is closed or the caller's context ends. Used to exercise
// hydration cancellation. A nil gate removes the block.
func (c *Client) SetQueryGate(gate chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryGate = gate
}

// FailConnects makes the next n Connect calls fail.
func (c *Client) FailConnects(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failConnects = n
}

// FailSubscribes makes the next n Subscribe calls fail.
func (c *Client) FailSubscribes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSubscribes = n
}

// RejectInserts makes Insert report write rejection.
func (c *Client) RejectInserts(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectInserts = reject
}

// Drop simulates a lost connection.
func (c *Client) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// ConnectCalls reports how many times Connect was attempted.
func (c *Client) ConnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectCalls
}

// QueryCalls reports how many QueryRecent calls completed or blocked.
func (c *Client) QueryCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryCalls
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connectCalls++
	if c.failConnects > 0 {
		c.failConnects--
		return ErrConnectRefused
	}
	c.connected = true
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.connected
}

func (c *Client) Subscribe(ctx context.Context, channel string, onInsert func(feed.Record)) (feed.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, feed.ErrClosed
	}
	if c.failSubscribes > 0 {
		c.failSubscribes--
		return nil, ErrSubscribeRefused
	}

	id := rand.String(8)
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[string]func(feed.Record))
	}
	c.subs[channel][id] = onInsert

	return &subscription{client: c, channel: channel, id: id}, nil
}

func (c *Client) QueryRecent(ctx context.Context, table string, limit int) ([]feed.Record, error) {
	c.mu.Lock()
	gate := c.queryGate
	c.queryCalls++
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, feed.ErrClosed
	}

	n := len(c.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]feed.Record, 0, n)
	for i := len(c.records) - 1; i >= len(c.records)-n; i-- {
		out = append(out, c.records[i])
	}
	return out, nil
}

func (c *Client) Insert(ctx context.Context, table string, rec feed.Record) (bool, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false, feed.ErrClosed
	}
	if c.rejectInserts {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	c.Emit(table, rec)
	return true, nil
}

// Emit commits a record out of band and pushes it to the table's
// subscribers, simulating another client's accepted write.
func (c *Client) Emit(channel string, rec feed.Record) {
	stamped := feed.Record{}
	for k, v := range rec {
		stamped[k] = v
	}
	if _, ok := stamped["createdAt"]; !ok {
		stamped["createdAt"] = time.Now().UTC().Format(time.RFC3339)
	}

	c.mu.Lock()
	c.records = append(c.records, stamped)
	callbacks := make([]func(feed.Record), 0, len(c.subs[channel]))
	for _, fn := range c.subs[channel] {
		callbacks = append(callbacks, fn)
	}
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(stamped)
	}
}

// Seed commits a record without notifying subscribers, for pre-loading
// hydration history.
func (c *Client) Seed(rec feed.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

type subscription struct {
	client  *Client
	channel string
	id      string
	once    sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.mu.Lock()
		defer s.client.mu.Unlock()
		if subs, ok := s.client.subs[s.channel]; ok {
			delete(subs, s.id)
		}
	})
}
