// Package analytics implements the real-time synchronization layer for
// institutional dashboard metrics. A Syncer wires the realtime connector
// and the change-feed client to a session-scoped metric store: it
// hydrates the audit log from a one-shot historical query, normalizes
// every pushed record into the canonical Update shape, folds updates
// into the current metric snapshot, and derives transient notifications
// from the same stream.
//
// The backing store is abstracted behind feed.Client; the canonical
// implementation speaks JSON-RPC over a websocket, and tests run against
// an in-memory fake.
package analytics
