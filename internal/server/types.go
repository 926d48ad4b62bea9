// Package server defines shared message payload types, connection states and
// utility helpers that are reused across connection and hub logic.
package server

import (
	"errors"
	"strings"

	"github.com/gorilla/websocket"
)

var (
	// ErrConnectionClosed is returned when a message is queued on a connection
	// that is no longer open.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a connection's outbound queue cannot
	// accept another message without blocking.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrInvalidState is returned when a lifecycle transition is requested from
	// a state that does not allow it.
	ErrInvalidState = errors.New("invalid connection state")
)

// Message is an opaque frame relayed by the hub. Type is the WebSocket frame
// type (websocket.TextMessage or websocket.BinaryMessage); Payload is never
// inspected or modified.
type Message struct {
	Type    int
	Payload []byte
}

// TextMessage wraps s in a text frame.
func TextMessage(s string) Message {
	return Message{Type: websocket.TextMessage, Payload: []byte(s)}
}

// State is the lifecycle position of a Connection.
type State int32

// Connection states. A connection only ever moves forward through them and
// StateClosed is terminal.
const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
