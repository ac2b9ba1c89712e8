package feed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDispatchRoutesResponseByID verifies that inbound frames with an id
// reach the pending request that issued them.
func TestDispatchRoutesResponseByID(t *testing.T) {
	c := NewWebSocketClient("ws://unused")

	ch := make(chan RPCResponse, 1)
	c.respMu.Lock()
	c.pending["req-1"] = ch
	c.respMu.Unlock()

	c.dispatch(frame{ID: "req-1", Result: json.RawMessage(`[{"metricName":"totalStudents"}]`)})

	select {
	case resp := <-ch:
		assert.Equal(t, "req-1", resp.ID)
		assert.Nil(t, resp.Error)
		assert.JSONEq(t, `[{"metricName":"totalStudents"}]`, string(resp.Result))
	default:
		t.Fatal("response was not delivered")
	}
}

// TestDispatchCarriesError verifies that store-level errors travel with
// the matched response.
func TestDispatchCarriesError(t *testing.T) {
	c := NewWebSocketClient("ws://unused")

	ch := make(chan RPCResponse, 1)
	c.respMu.Lock()
	c.pending["req-1"] = ch
	c.respMu.Unlock()

	c.dispatch(frame{ID: "req-1", Error: &RPCError{Code: -32000, Message: "table missing"}})

	resp := <-ch
	require.NotNil(t, resp.Error)
	assert.Equal(t, "table missing", resp.Error.Message)
}

// TestDispatchFansOutInserts verifies push notifications reach every
// subscriber of the named channel and no one else.
func TestDispatchFansOutInserts(t *testing.T) {
	c := NewWebSocketClient("ws://unused")

	var got []Record
	c.subMu.Lock()
	c.subs["analytics_updates"] = map[string]func(Record){
		"s1": func(rec Record) { got = append(got, rec) },
	}
	c.subs["other"] = map[string]func(Record){
		"s2": func(Record) { t.Error("wrong channel received the record") },
	}
	c.subMu.Unlock()

	c.dispatch(frame{
		Method: methodInsert,
		Params: json.RawMessage(`{"channel":"analytics_updates","record":{"metricName":"totalStudents"}}`),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "totalStudents", got[0]["metricName"])
}

// TestDispatchDropsGarbage verifies that orphan responses and
// undecodable notifications are dropped without breaking the reader.
func TestDispatchDropsGarbage(t *testing.T) {
	c := NewWebSocketClient("ws://unused")

	c.dispatch(frame{ID: "never-sent", Result: json.RawMessage(`[]`)})
	c.dispatch(frame{Method: methodInsert, Params: json.RawMessage(`not json`)})
	c.dispatch(frame{})
}

// TestRequestsFailClosedWithoutConnection verifies every request path
// reports ErrClosed before Connect.
func TestRequestsFailClosedWithoutConnection(t *testing.T) {
	c := NewWebSocketClient("ws://unused")

	assert.True(t, c.IsClosed())

	_, err := c.QueryRecent(context.Background(), "analytics_updates", 10)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = c.Insert(context.Background(), "analytics_updates", Record{"metricName": "x"})
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, c.Close(), "closing a never-opened client is a no-op")
}

// TestDropSubscriber verifies the last subscriber removal empties the
// channel entry.
func TestDropSubscriber(t *testing.T) {
	c := NewWebSocketClient("ws://unused")

	c.subMu.Lock()
	c.subs["analytics_updates"] = map[string]func(Record){
		"s1": func(Record) {},
		"s2": func(Record) {},
	}
	c.subMu.Unlock()

	assert.False(t, c.dropSubscriber("analytics_updates", "s1"))
	assert.True(t, c.dropSubscriber("analytics_updates", "s2"))
	assert.False(t, c.dropSubscriber("analytics_updates", "s2"), "already gone")
	assert.False(t, c.dropSubscriber("never-seen", "s1"))
}
