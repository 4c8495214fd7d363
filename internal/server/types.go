// Package server defines the wire envelope exchanged with websocket clients
// and utility helpers that are reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// Client to server event names.
const (
	EventJoin     = "join"
	EventSendText = "send-text"
	EventSendFile = "send-file"
	EventTyping   = "typing"
	EventLeave    = "leave"
)

// Server to client error event names. Regular events use chat.EventType.
const (
	EventJoinError   = "joinError"
	EventRoomFull    = "roomFull"
	EventRateLimited = "rateLimited"
	EventSendError   = "sendError"
)

// Envelope is one JSON text frame: {"event": ..., "data": ...}. Data is kept
// raw until the event name selects its payload type.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the data of every error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// inboundFrame carries a raw frame from a client's read pump to the hub.
type inboundFrame struct {
	client  *Client
	payload []byte
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
