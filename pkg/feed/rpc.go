package feed

import "encoding/json"

// RPCError represents a JSON-RPC error returned by the backing store.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (r *RPCError) Error() string {
	return r.Message
}

// RPCRequest represents an outgoing JSON-RPC request.
type RPCRequest struct {
	ID     string `json:"id"`
	Method string `json:"method,omitempty"`
	Params any    `json:"params,omitempty"`
}

// RPCResponse represents an inbound JSON-RPC response.
type RPCResponse struct {
	ID     string          `json:"id"`
	Error  *RPCError       `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// frame is the superset of everything the store sends on the socket:
// responses carry an ID and Result/Error, push notifications carry a
// Method and Params instead.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// insertNotification is the params shape of a push-delivered insert.
type insertNotification struct {
	Channel string `json:"channel"`
	Record  Record `json:"record"`
}

// methodInsert is the push notification method for channel inserts.
const methodInsert = "insert"

const (
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
	methodQuery       = "query"
	methodWrite       = "insert"
)

// subscribeParams is the params shape for subscribe/unsubscribe requests.
type subscribeParams struct {
	Channel string `json:"channel"`
}

// queryParams requests the most recent records of a table.
type queryParams struct {
	Table   string `json:"table"`
	OrderBy string `json:"orderBy"`
	Desc    bool   `json:"desc"`
	Limit   int    `json:"limit"`
}

// insertParams persists one record into a table.
type insertParams struct {
	Table  string `json:"table"`
	Record Record `json:"record"`
}

// insertResult is the acceptance result of a write.
type insertResult struct {
	Success bool `json:"success"`
}
