// Package server manages individual WebSocket connections, handling read/write
// pumps and lifecycle state for each client.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection is one client's persistent WebSocket channel. Outbound messages
// are queued on send and written by the connection's write pump; the queue is
// closed exactly once when the connection leaves StateOpen.
type Connection struct {
	id   uuid.UUID
	conn *websocket.Conn
	hub  *Hub
	addr string

	mu    sync.Mutex
	state State
	send  chan Message
}

// NewConnection creates a Connection in StateConnecting for the given
// WebSocket connection, hub and client address. The send queue is sized from
// the hub's configuration.
func NewConnection(conn *websocket.Conn, hub *Hub, addr string) *Connection {
	size := defaultSendBufferSize
	if hub != nil {
		size = hub.cfg.SendBufferSize
	}
	return &Connection{
		id:    uuid.New(),
		conn:  conn,
		hub:   hub,
		addr:  addr,
		state: StateConnecting,
		send:  make(chan Message, size),
	}
}

// ID returns the connection's unique identity.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Addr returns the remote address the connection was accepted from.
func (c *Connection) Addr() string {
	return c.addr
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetSendChan returns the connection's outbound queue for reading.
func (c *Connection) GetSendChan() <-chan Message {
	return c.send
}

// Send queues msg for delivery without blocking. It fails with
// ErrConnectionClosed once the connection has left StateOpen and with
// ErrSendBufferFull when the outbound queue is full.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return ErrConnectionClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		return ErrInvalidState
	}
	c.state = StateOpen
	return nil
}

// beginClose moves the connection to StateClosing and closes the send queue.
// It reports false if the connection was already closing or closed.
func (c *Connection) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosing || c.state == StateClosed {
		return false
	}
	c.state = StateClosing
	close(c.send)
	return true
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnecting || c.state == StateOpen {
		c.state = StateClosing
		close(c.send)
	}
	c.state = StateClosed
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Connection) setupReadConnection() {
	pongWait := c.hub.cfg.PongWait
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.log.Warn("Error setting initial read deadline", "addr", c.addr, "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.hub.log.Warn("Error setting read deadline in pong handler", "addr", c.addr, "err", err)
		}
		return nil
	})
}

// logReadError logs the reason the read loop stopped.
func (c *Connection) logReadError(err error) {
	log := c.hub.log.With("id", c.id, "addr", c.addr)

	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		log.Debug("Client closed connection", "err", err)
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		log.Debug("Client connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		log.Warn("Unexpected WebSocket close", "err", err)
	default:
		log.Warn("WebSocket read error", "err", err)
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.closeConnection("readPump")
	}()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.hub.Broadcast(c, Message{Type: messageType, Payload: payload})
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.hub.Disconnect(c)
		c.closeConnection("writePump")
		c.markClosed()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Connection) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case msg, ok := <-c.send:
		if !ok {
			return c.writeCloseMessage()
		}
		return c.writeMessage(msg)
	case <-ticker.C:
		return c.writePing()
	}
}

// closeConnection closes the underlying WebSocket, logging only unexpected errors.
func (c *Connection) closeConnection(pump string) {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.hub.log.Debug("Error closing connection", "pump", pump, "addr", c.addr, "err", err)
	}
}

// writeCloseMessage sends a close frame to the client
func (c *Connection) writeCloseMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		return false
	}
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.hub.log.Debug("Error writing close message", "addr", c.addr, "err", err)
	}
	return false
}

// writeMessage writes one queued frame. Frames still queued once the
// connection has begun closing are dropped.
func (c *Connection) writeMessage(msg Message) bool {
	if c.State() != StateOpen {
		return true
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		c.hub.log.Warn("Error setting write deadline", "addr", c.addr, "err", err)
		return false
	}
	if err := c.conn.WriteMessage(msg.Type, msg.Payload); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Info("Send failed, removing client", "id", c.id, "addr", c.addr, "err", err)
		}
		return false
	}
	c.hub.metrics.Incr("conn.send", 1)
	return true
}

// writePing sends a ping message to keep the connection alive
func (c *Connection) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		c.hub.log.Warn("Error setting write deadline for ping", "addr", c.addr, "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.hub.log.Debug("Error writing ping message", "addr", c.addr, "err", err)
		return false
	}
	return true
}
