package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamoflifebox/erp-analytics/internal/rand"
	"github.com/teamoflifebox/erp-analytics/pkg/logger"
)

const (
	requestIDLength = 16
	defaultTimeout  = 30 * time.Second
)

// WebSocketClient implements Client over a websocket JSON-RPC connection.
// Responses are matched to requests by id; push notifications are fanned
// out to channel subscribers from the reader goroutine.
type WebSocketClient struct {
	url     string
	timeout time.Duration
	log     logger.Logger

	connMu   sync.Mutex
	conn     *websocket.Conn
	closed   bool
	done     chan struct{}
	doneOnce *sync.Once

	writeMu sync.Mutex

	respMu  sync.Mutex
	pending map[string]chan RPCResponse

	subMu sync.RWMutex
	subs  map[string]map[string]func(Record)
	// announced tracks the channels the current socket has asked the
	// store to push. A fresh socket pushes nothing until the subscribe
	// frames are re-sent, so this is cleared whenever the socket dies.
	announced map[string]bool
}

// Option configures a WebSocketClient.
type Option func(*WebSocketClient)

// WithLogger sets the logger. Nil means silent.
func WithLogger(log logger.Logger) Option {
	return func(c *WebSocketClient) {
		c.log = logger.OrNop(log)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *WebSocketClient) {
		c.timeout = d
	}
}

// NewWebSocketClient creates a client for the given websocket URL.
// The connection is not established until Connect is called.
func NewWebSocketClient(url string, opts ...Option) *WebSocketClient {
	c := &WebSocketClient{
		url:       url,
		timeout:   defaultTimeout,
		log:       logger.Nop{},
		closed:    true,
		pending:   make(map[string]chan RPCResponse),
		subs:      make(map[string]map[string]func(Record)),
		announced: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WebSocketClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn != nil && !c.closed {
		c.connMu.Unlock()
		return nil
	}

	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("feed: dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.closed = false
	c.done = make(chan struct{})
	c.doneOnce = new(sync.Once)

	go c.readLoop(conn)
	c.connMu.Unlock()

	c.log.Debug("feed connection established", "url", c.url)

	if err := c.resubscribe(ctx); err != nil {
		// Leave the socket closed so the next Connect re-dials and
		// runs the restoration again.
		_ = c.Close()
		return err
	}
	return nil
}

// resubscribe re-announces every channel that still has local
// subscribers. The store scopes push state to a connection, so without
// this a reconnected socket would answer requests but never push
// inserts again.
func (c *WebSocketClient) resubscribe(ctx context.Context) error {
	c.subMu.RLock()
	channels := make([]string, 0, len(c.subs))
	for channel := range c.subs {
		channels = append(channels, channel)
	}
	c.subMu.RUnlock()

	for _, channel := range channels {
		if _, err := c.send(ctx, methodSubscribe, subscribeParams{Channel: channel}); err != nil {
			return fmt.Errorf("feed: resubscribe %s: %w", channel, err)
		}
		c.subMu.Lock()
		c.announced[channel] = true
		c.subMu.Unlock()
		c.log.Debug("feed subscription restored", "channel", channel)
	}
	return nil
}

func (c *WebSocketClient) Close() error {
	c.connMu.Lock()
	conn := c.conn
	already := c.closed
	c.closed = true
	once := c.doneOnce
	done := c.done
	c.connMu.Unlock()

	if once != nil {
		once.Do(func() { close(done) })
	}
	c.clearAnnounced()
	if conn == nil || already {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	c.writeMu.Unlock()

	return conn.Close()
}

func (c *WebSocketClient) IsClosed() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn == nil || c.closed
}

func (c *WebSocketClient) Subscribe(ctx context.Context, channel string, onInsert func(Record)) (Subscription, error) {
	id := rand.String(requestIDLength)

	// Register before asking the store to start pushing, so the first
	// notification cannot race past a missing callback. The announce
	// guard is per socket, not per subscriber map: surviving local
	// subscribers mean nothing to a freshly dialed connection.
	c.subMu.Lock()
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[string]func(Record))
	}
	c.subs[channel][id] = onInsert
	announce := !c.announced[channel]
	if announce {
		c.announced[channel] = true
	}
	c.subMu.Unlock()

	if announce {
		if _, err := c.send(ctx, methodSubscribe, subscribeParams{Channel: channel}); err != nil {
			c.dropSubscriber(channel, id)
			c.subMu.Lock()
			delete(c.announced, channel)
			c.subMu.Unlock()
			return nil, fmt.Errorf("feed: subscribe %s: %w", channel, err)
		}
	}

	return &wsSubscription{client: c, channel: channel, id: id}, nil
}

func (c *WebSocketClient) QueryRecent(ctx context.Context, table string, limit int) ([]Record, error) {
	resp, err := c.send(ctx, methodQuery, queryParams{
		Table:   table,
		OrderBy: "createdAt",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("feed: query %s: %w", table, err)
	}

	var records []Record
	if err := json.Unmarshal(resp.Result, &records); err != nil {
		return nil, fmt.Errorf("feed: decode query result: %w", err)
	}
	return records, nil
}

func (c *WebSocketClient) Insert(ctx context.Context, table string, rec Record) (bool, error) {
	resp, err := c.send(ctx, methodWrite, insertParams{Table: table, Record: rec})
	if err != nil {
		// A store-level rejection is an acceptance failure, not a
		// transport error.
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			c.log.Warn("feed insert rejected", "table", table, "error", rpcErr.Message)
			return false, nil
		}
		return false, fmt.Errorf("feed: insert into %s: %w", table, err)
	}

	var result insertResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return false, fmt.Errorf("feed: decode insert result: %w", err)
	}
	return result.Success, nil
}

func (c *WebSocketClient) send(ctx context.Context, method string, params any) (RPCResponse, error) {
	c.connMu.Lock()
	conn := c.conn
	done := c.done
	closed := c.closed
	c.connMu.Unlock()

	if conn == nil || closed {
		return RPCResponse{}, ErrClosed
	}

	id := rand.String(requestIDLength)
	ch := make(chan RPCResponse, 1)

	c.respMu.Lock()
	c.pending[id] = ch
	c.respMu.Unlock()
	defer func() {
		c.respMu.Lock()
		delete(c.pending, id)
		c.respMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(RPCRequest{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.markClosed(err)
		return RPCResponse{}, fmt.Errorf("feed: write %s request: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-done:
		return RPCResponse{}, ErrClosed
	case <-ctx.Done():
		return RPCResponse{}, ctx.Err()
	case <-time.After(c.timeout):
		return RPCResponse{}, ErrTimeout
	}
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.markClosed(err)
			return
		}
		c.dispatch(f)
	}
}

// dispatch routes one inbound frame: push notifications go to channel
// subscribers, everything else is matched to a pending request by id.
func (c *WebSocketClient) dispatch(f frame) {
	if f.Method == methodInsert {
		var n insertNotification
		if err := json.Unmarshal(f.Params, &n); err != nil {
			c.log.Warn("feed dropped undecodable notification", "error", err)
			return
		}

		c.subMu.RLock()
		callbacks := make([]func(Record), 0, len(c.subs[n.Channel]))
		for _, fn := range c.subs[n.Channel] {
			callbacks = append(callbacks, fn)
		}
		c.subMu.RUnlock()

		for _, fn := range callbacks {
			fn(n.Record)
		}
		return
	}

	if f.ID == "" {
		c.log.Debug("feed dropped frame without id or method")
		return
	}

	c.respMu.Lock()
	ch, ok := c.pending[f.ID]
	c.respMu.Unlock()
	if !ok {
		// Late response for a request that already timed out.
		c.log.Debug("feed dropped orphan response", "id", f.ID)
		return
	}

	select {
	case ch <- RPCResponse{ID: f.ID, Error: f.Error, Result: f.Result}:
	default:
	}
}

func (c *WebSocketClient) markClosed(err error) {
	c.connMu.Lock()
	already := c.closed
	c.closed = true
	once := c.doneOnce
	done := c.done
	c.connMu.Unlock()

	if once != nil {
		once.Do(func() { close(done) })
	}
	c.clearAnnounced()
	if !already {
		c.log.Warn("feed connection lost", "error", err)
	}
}

func (c *WebSocketClient) clearAnnounced() {
	c.subMu.Lock()
	c.announced = make(map[string]bool)
	c.subMu.Unlock()
}

func (c *WebSocketClient) dropSubscriber(channel, id string) (last bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if subs, ok := c.subs[channel]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(c.subs, channel)
			delete(c.announced, channel)
			return true
		}
	}
	return false
}

type wsSubscription struct {
	client  *WebSocketClient
	channel string
	id      string
	once    sync.Once
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		last := s.client.dropSubscriber(s.channel, s.id)
		if !last || s.client.IsClosed() {
			return
		}

		// Best effort: the local callback is already gone, a failed
		// unsubscribe only means the store keeps pushing into the void.
		ctx, cancel := context.WithTimeout(context.Background(), s.client.timeout)
		defer cancel()
		if _, err := s.client.send(ctx, methodUnsubscribe, subscribeParams{Channel: s.channel}); err != nil {
			s.client.log.Debug("feed unsubscribe failed", "channel", s.channel, "error", err)
		}
	})
}
