// Package feed defines the change-feed boundary: a client that can
// subscribe to inserts on a named channel, query the most recent records
// of a table, and insert new records. The canonical implementation speaks
// JSON-RPC over a websocket; tests substitute an in-memory fake.
package feed

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when an operation is attempted on a client
	// whose underlying connection has been closed.
	ErrClosed = errors.New("feed: connection closed")

	// ErrTimeout is returned when the backing store does not answer a
	// request within the configured timeout.
	ErrTimeout = errors.New("feed: request timed out")
)

// Record is a raw change-feed payload. Field naming and typing are owned
// by the backing store; normalization into domain types happens at the
// consumer's boundary, not here.
type Record map[string]any

// Subscription is a handle for one channel subscription.
type Subscription interface {
	// Unsubscribe stops delivery to this subscription's callback.
	// It is safe to call more than once.
	Unsubscribe()
}

// Client is the request/response and push surface of the backing store.
type Client interface {
	// Connect establishes the underlying connection. Calling Connect on
	// an already-open client is a no-op.
	Connect(ctx context.Context) error

	// Close tears down the connection. Pending requests fail with ErrClosed.
	Close() error

	// IsClosed reports whether the connection is currently unusable.
	IsClosed() bool

	// Subscribe registers onInsert to be invoked for every record inserted
	// on the named channel.
	Subscribe(ctx context.Context, channel string, onInsert func(Record)) (Subscription, error)

	// QueryRecent returns up to limit records from the table, most recent
	// first by the store's commit timestamp.
	QueryRecent(ctx context.Context, table string, limit int) ([]Record, error)

	// Insert persists the record. The boolean reports write acceptance;
	// downstream propagation is observed via the subscription.
	Insert(ctx context.Context, table string, rec Record) (bool, error)
}
